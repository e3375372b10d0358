// Package dispatch turns a campaign send request into batched provider
// calls. Batches run strictly in order; each batch retries transient
// provider failures with exponential backoff and fails in isolation, so
// one bad batch never stops the rest of the campaign.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"CampaignPulse/internal/email"
	"CampaignPulse/internal/identity"
	"CampaignPulse/internal/metrics"
	"CampaignPulse/internal/models"
	"CampaignPulse/internal/personalize"
	"CampaignPulse/internal/quota"
)

const (
	DefaultBatchSize = 1000
	SendEndpoint     = "send"
)

type Store interface {
	MarkCampaignSending(ctx context.Context, userID, campaignID string) error
	SaveRecipients(ctx context.Context, recipients []models.CampaignRecipient) error
	MarkCampaignSent(ctx context.Context, userID, campaignID string, recipients int, at time.Time) error
	IncrementUsage(ctx context.Context, userID string, year, month, n int) error
}

type Gate interface {
	Admit(ctx context.Context, user models.User, endpoint string, requested int) (quota.Usage, error)
}

type SenderResolver interface {
	Resolve(ctx context.Context, user models.User, o identity.Override) (identity.Identity, error)
}

type Engine struct {
	Provider email.Provider
	Gate     Gate
	Identity SenderResolver
	Store    Store

	// Limiter paces provider calls; nil disables pacing.
	Limiter *rate.Limiter

	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration

	Sleep func(time.Duration)
	Now   func() time.Time
	Log   *zap.Logger
}

// Send validates req, passes it through the quota and rate gate, resolves
// the sender once, and delivers the recipients batch by batch. A non-nil
// error means nothing was sent: *ValidationError, *quota.QuotaError,
// *quota.RateLimitError or a lookup failure. Partial delivery is reported
// in the Outcome.
func (e *Engine) Send(ctx context.Context, user models.User, req Request) (*Outcome, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	recipients := dedupe(req.Recipients)
	if dropped := len(req.Recipients) - len(recipients); dropped > 0 {
		e.Log.Info("dropped duplicate recipients",
			zap.String("campaign_id", req.CampaignID),
			zap.Int("dropped", dropped),
		)
	}

	usage, err := e.Gate.Admit(ctx, user, SendEndpoint, len(recipients))
	if err != nil {
		return nil, err
	}

	sender, err := e.Identity.Resolve(ctx, user, identity.Override{FromEmail: req.FromEmail, FromName: req.FromName})
	if err != nil {
		return nil, fmt.Errorf("resolve sender: %w", err)
	}

	out := &Outcome{DispatchID: uuid.NewString()}
	log := e.Log.With(
		zap.String("dispatch_id", out.DispatchID),
		zap.String("campaign_id", req.CampaignID),
		zap.String("user_id", user.ID),
	)

	if err := e.Store.MarkCampaignSending(ctx, user.ID, req.CampaignID); err != nil {
		log.Warn("failed to mark campaign sending", zap.Error(err))
	}

	personalized := personalize.HasPlaceholders(req.Subject) ||
		personalize.HasPlaceholders(req.HTMLBody) ||
		personalize.HasPlaceholders(req.TextBody)

	size := e.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	rows := make([]models.CampaignRecipient, 0, len(recipients))

	for idx, start := 0, 0; start < len(recipients); idx, start = idx+1, start+size {
		batch := recipients[start:min(start+size, len(recipients))]

		msg := e.buildMessage(req, user, sender, out.DispatchID, batch, personalized)
		run := e.deliver(ctx, msg)

		status := models.RecipientSent
		var sentAt *time.Time
		if run.state == batchSucceeded {
			out.Sent += len(batch)
			now := e.now()
			sentAt = &now
			log.Info("batch sent",
				zap.Int("batch", idx),
				zap.Int("size", len(batch)),
				zap.Int("attempts", run.attempts),
			)
		} else {
			status = models.RecipientFailed
			for _, r := range batch {
				out.Failed = append(out.Failed, r.Email)
			}
			log.Error("batch failed",
				zap.Int("batch", idx),
				zap.Int("size", len(batch)),
				zap.Int("attempts", run.attempts),
				zap.Error(run.lastErr),
			)
		}

		for _, r := range batch {
			if r.ContactID == "" {
				continue
			}
			rows = append(rows, models.CampaignRecipient{
				CampaignID: req.CampaignID,
				ContactID:  r.ContactID,
				Email:      r.Email,
				Status:     status,
				SentAt:     sentAt,
			})
		}
	}

	metrics.EmailsSent.Add(float64(out.Sent))
	metrics.EmailFailures.Add(float64(len(out.Failed)))

	out.Usage = usage.Add(out.Sent)
	out.PersistErr = e.persist(ctx, user, req.CampaignID, rows, out.Sent)
	if out.PersistErr != nil {
		log.Error("post-send bookkeeping failed", zap.Error(out.PersistErr))
	}

	log.Info("campaign dispatched",
		zap.Int("sent", out.Sent),
		zap.Int("failed", len(out.Failed)),
	)

	return out, nil
}

func (e *Engine) buildMessage(
	req Request,
	user models.User,
	sender identity.Identity,
	dispatchID string,
	batch []models.Recipient,
	personalized bool,
) *email.Message {

	msg := &email.Message{
		FromEmail:        sender.FromEmail,
		FromName:         sender.FromName,
		ReplyToEmail:     sender.ReplyToEmail,
		ReplyToName:      sender.ReplyToName,
		Subject:          req.Subject,
		HTML:             req.HTMLBody,
		Text:             req.TextBody,
		TrackOpens:       boolOr(req.TrackOpens, true),
		TrackClicks:      boolOr(req.TrackClicks, true),
		Personalizations: make([]email.Personalization, len(batch)),
	}

	if personalized {
		msg.HTML = personalize.Canonicalize(req.HTMLBody)
		msg.Text = personalize.Canonicalize(req.TextBody)
	}

	for i, r := range batch {
		p := email.Personalization{
			To: r.Email,
			CustomArgs: map[string]string{
				"campaign_id": req.CampaignID,
				"user_id":     user.ID,
				"dispatch_id": dispatchID,
			},
		}
		if r.ContactID != "" {
			p.CustomArgs["contact_id"] = r.ContactID
		}
		if personalized {
			f := fieldsOf(r)
			p.Subject = personalize.Render(req.Subject, f)
			p.Substitutions = personalize.Substitutions(f)
		}
		msg.Personalizations[i] = p
	}

	return msg
}

// persist writes the post-send state. The idempotent writes are retried on
// their own; failures are collected rather than aborting the remaining writes.
func (e *Engine) persist(ctx context.Context, user models.User, campaignID string, rows []models.CampaignRecipient, sent int) error {
	now := e.now().UTC()

	var errs []error
	if len(rows) > 0 {
		errs = append(errs, e.retry(ctx, func() error {
			return e.Store.SaveRecipients(ctx, rows)
		}))
	}
	errs = append(errs, e.retry(ctx, func() error {
		return e.Store.MarkCampaignSent(ctx, user.ID, campaignID, sent, now)
	}))
	// not retried: a lost acknowledgement would count the same send twice
	if sent > 0 {
		if err := e.Store.IncrementUsage(ctx, user.ID, now.Year(), int(now.Month()), sent); err != nil {
			errs = append(errs, fmt.Errorf("increment usage: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return &PersistenceError{Err: err}
	}
	return nil
}

func (e *Engine) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.BaseDelay
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.MaxRetries)), ctx))
}

func fieldsOf(r models.Recipient) personalize.Fields {
	return personalize.Fields{
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Company:   r.Company,
		Role:      r.Role,
		Industry:  r.Industry,
	}
}

func (e *Engine) sleep(d time.Duration) {
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
