package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"CampaignPulse/internal/models"
)

const uniqueViolation = "23505"

var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

func New(conn string) (*Store, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ------------------------------------------------
// Accounts
// ------------------------------------------------

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	var username, name sql.NullString

	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, username, full_name, plan
		 FROM users
		 WHERE id=$1`,
		id,
	).Scan(&u.ID, &u.Email, &username, &name, &u.Plan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Username = username.String
	u.Name = name.String
	return &u, nil
}

func (s *Store) LatestVerifiedDomain(ctx context.Context, userID string) (*models.SendingDomain, error) {
	var d models.SendingDomain
	var verifiedAt sql.NullTime

	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, domain, verification_status, verified_at
		 FROM sending_domains
		 WHERE user_id=$1 AND verification_status=$2
		 ORDER BY verified_at DESC NULLS LAST
		 LIMIT 1`,
		userID,
		models.DomainVerified,
	).Scan(&d.UserID, &d.Domain, &d.Status, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if verifiedAt.Valid {
		d.VerifiedAt = &verifiedAt.Time
	}
	return &d, nil
}

// ------------------------------------------------
// Usage
// ------------------------------------------------

func (s *Store) EmailsSent(ctx context.Context, userID string, year, month int) (int, error) {
	var sent int

	err := s.DB.QueryRowContext(ctx,
		`SELECT emails_sent
		 FROM usage_metrics
		 WHERE user_id=$1 AND year=$2 AND month=$3`,
		userID,
		year,
		month,
	).Scan(&sent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return sent, err
}

func (s *Store) IncrementUsage(ctx context.Context, userID string, year, month, n int) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO usage_metrics (user_id, year, month, emails_sent)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id, year, month)
		 DO UPDATE SET emails_sent = usage_metrics.emails_sent + EXCLUDED.emails_sent`,
		userID,
		year,
		month,
		n,
	)

	return err
}

// ------------------------------------------------
// Campaigns
// ------------------------------------------------

func (s *Store) GetCampaign(ctx context.Context, userID, id string) (*models.Campaign, error) {
	var c models.Campaign
	var text sql.NullString
	var sentAt sql.NullTime

	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, subject, html_body, text_body, status, sent_at,
		        recipients_count, track_opens, track_clicks
		 FROM campaigns
		 WHERE id=$1 AND user_id=$2`,
		id,
		userID,
	).Scan(&c.ID, &c.UserID, &c.Subject, &c.HTMLBody, &text, &c.Status, &sentAt,
		&c.RecipientsCount, &c.TrackOpens, &c.TrackClicks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.TextBody = text.String
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	return &c, nil
}

func (s *Store) MarkCampaignSending(ctx context.Context, userID, campaignID string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE campaigns
		 SET status=$1,
		     updated_at=NOW()
		 WHERE id=$2 AND user_id=$3`,
		models.CampaignSending,
		campaignID,
		userID,
	)

	return err
}

func (s *Store) MarkCampaignSent(ctx context.Context, userID, campaignID string, recipients int, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE campaigns
		 SET status=$1,
		     sent_at=$2,
		     recipients_count=$3,
		     updated_at=NOW()
		 WHERE id=$4 AND user_id=$5`,
		models.CampaignSent,
		at,
		recipients,
		campaignID,
		userID,
	)

	return err
}

// counterColumns whitelists the campaign columns an event may increment.
var counterColumns = map[models.EventType]string{
	models.EventOpen:        "opens",
	models.EventClick:       "clicks",
	models.EventBounce:      "bounces",
	models.EventComplaint:   "complaints",
	models.EventUnsubscribe: "unsubscribes",
}

func (s *Store) IncrementCampaignCounter(ctx context.Context, campaignID string, typ models.EventType) error {
	col, ok := counterColumns[typ]
	if !ok {
		return fmt.Errorf("no campaign counter for event type %q", typ)
	}

	_, err := s.DB.ExecContext(ctx,
		`UPDATE campaigns SET `+col+` = `+col+` + 1 WHERE id=$1`,
		campaignID,
	)

	return err
}

// ------------------------------------------------
// Recipients
// ------------------------------------------------

// SaveRecipients inserts one row per targeted contact. A row created earlier
// by a delivery event keeps its status and only gains sent_at.
func (s *Store) SaveRecipients(ctx context.Context, recipients []models.CampaignRecipient) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO campaign_recipients (campaign_id, contact_id, status, sent_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (campaign_id, contact_id) DO UPDATE
		 SET sent_at = EXCLUDED.sent_at
		 WHERE campaign_recipients.sent_at IS NULL`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recipients {
		if _, err := stmt.ExecContext(ctx, r.CampaignID, r.ContactID, r.Status, r.SentAt); err != nil {
			return fmt.Errorf("insert recipient %s: %w", r.ContactID, err)
		}
	}

	return tx.Commit()
}

// recipientUpdates upsert the recipient row, so an event that outruns the
// post-send bookkeeping is still recorded. The conflict branch only fires
// while the field is unset; zero affected rows means a duplicate.
var recipientUpdates = map[models.EventType]string{
	models.EventDelivered: `INSERT INTO campaign_recipients (campaign_id, contact_id, status)
		 VALUES ($1,$2,'delivered')
		 ON CONFLICT (campaign_id, contact_id) DO UPDATE
		 SET status='delivered'
		 WHERE campaign_recipients.status IN ('pending','sent')`,
	models.EventOpen: `INSERT INTO campaign_recipients (campaign_id, contact_id, status, opened_at)
		 VALUES ($1,$2,'opened',$3)
		 ON CONFLICT (campaign_id, contact_id) DO UPDATE
		 SET opened_at=EXCLUDED.opened_at,
		     status=CASE WHEN campaign_recipients.status IN ('pending','sent','delivered') THEN 'opened' ELSE campaign_recipients.status END
		 WHERE campaign_recipients.opened_at IS NULL`,
	models.EventClick: `INSERT INTO campaign_recipients (campaign_id, contact_id, status, clicked_at)
		 VALUES ($1,$2,'clicked',$3)
		 ON CONFLICT (campaign_id, contact_id) DO UPDATE
		 SET clicked_at=EXCLUDED.clicked_at,
		     status=CASE WHEN campaign_recipients.status <> 'bounced' THEN 'clicked' ELSE campaign_recipients.status END
		 WHERE campaign_recipients.clicked_at IS NULL`,
	models.EventBounce: `INSERT INTO campaign_recipients (campaign_id, contact_id, status)
		 VALUES ($1,$2,'bounced')
		 ON CONFLICT (campaign_id, contact_id) DO UPDATE
		 SET status='bounced'
		 WHERE campaign_recipients.status <> 'bounced'`,
}

func (s *Store) MarkRecipient(ctx context.Context, campaignID, contactID string, typ models.EventType, at time.Time) (bool, error) {
	query, ok := recipientUpdates[typ]
	if !ok {
		return false, nil
	}

	args := []any{campaignID, contactID}
	if typ == models.EventOpen || typ == models.EventClick {
		args = append(args, at)
	}

	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// ------------------------------------------------
// Contacts
// ------------------------------------------------

func (s *Store) SetContactStatus(ctx context.Context, contactID string, status models.ContactStatus) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE contacts
		 SET status=$1,
		     updated_at=NOW()
		 WHERE id=$2 AND status=$3`,
		status,
		contactID,
		models.ContactActive,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// ------------------------------------------------
// Events
// ------------------------------------------------

func (s *Store) InsertEmailEvent(ctx context.Context, ev *models.EmailEvent) error {
	var metadata any
	if len(ev.Metadata) > 0 {
		metadata = []byte(ev.Metadata)
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO email_events
		 (id, campaign_id, contact_id, email, event_type, occurred_at, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ev.ID,
		nullString(ev.CampaignID),
		nullString(ev.ContactID),
		ev.Email,
		ev.Type,
		ev.OccurredAt,
		metadata,
	)

	return err
}

// InsertLinkClick reports false when (campaign, contact, url) was already
// recorded.
func (s *Store) InsertLinkClick(ctx context.Context, c *models.LinkClick) (bool, error) {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO link_clicks (campaign_id, contact_id, url, clicked_at)
		 VALUES ($1,$2,$3,$4)`,
		c.CampaignID,
		c.ContactID,
		c.URL,
		c.ClickedAt,
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
