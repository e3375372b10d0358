// Package webhook verifies and applies delivery-event callbacks.
//
// Every event is applied independently: an audit row is always appended,
// recipient timestamps and contact status only move through conditional
// updates, and a redelivered open, click or bounce that an existing
// recipient row already holds does not count again.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"CampaignPulse/internal/metrics"
	"CampaignPulse/internal/models"
	"CampaignPulse/internal/worker"
)

type Store interface {
	InsertEmailEvent(ctx context.Context, ev *models.EmailEvent) error
	// MarkRecipient applies the event to the campaign recipient, creating the
	// row when the event arrives before it was written. It reports false only
	// when an existing row already held the event.
	MarkRecipient(ctx context.Context, campaignID, contactID string, typ models.EventType, at time.Time) (bool, error)
	IncrementCampaignCounter(ctx context.Context, campaignID string, typ models.EventType) error
	// SetContactStatus moves an active contact to a terminal status and
	// reports whether it changed.
	SetContactStatus(ctx context.Context, contactID string, status models.ContactStatus) (bool, error)
	// InsertLinkClick reports false when the click was already recorded.
	InsertLinkClick(ctx context.Context, click *models.LinkClick) (bool, error)
}

var contactTransitions = map[models.EventType]models.ContactStatus{
	models.EventBounce:      models.ContactBounced,
	models.EventComplaint:   models.ContactComplained,
	models.EventUnsubscribe: models.ContactUnsubscribed,
}

var recipientEvents = map[models.EventType]bool{
	models.EventDelivered: true,
	models.EventOpen:      true,
	models.EventClick:     true,
	models.EventBounce:    true,
}

var counterEvents = map[models.EventType]bool{
	models.EventOpen:        true,
	models.EventClick:       true,
	models.EventBounce:      true,
	models.EventComplaint:   true,
	models.EventUnsubscribe: true,
}

type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type Processor struct {
	Store   Store
	Workers int
	Log     *zap.Logger
}

// Process applies every event concurrently and never aborts on a single
// failure; failures are logged and counted.
func (p *Processor) Process(ctx context.Context, events []json.RawMessage) Result {
	var processed, failed int64

	skipped := worker.Run(ctx, p.Workers, events, func(ctx context.Context, id int, raw json.RawMessage) {
		ev, err := DecodeEvent(raw)
		if err != nil {
			atomic.AddInt64(&failed, 1)
			metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
			p.Log.Warn("skipping webhook event", zap.Error(err))
			return
		}

		if err := p.Apply(ctx, ev); err != nil {
			atomic.AddInt64(&failed, 1)
			metrics.WebhookEvents.WithLabelValues(string(ev.Type), "failed").Inc()
			p.Log.Error("failed to apply webhook event",
				zap.String("type", string(ev.Type)),
				zap.String("campaign_id", ev.CampaignID),
				zap.String("contact_id", ev.ContactID),
				zap.Error(err),
			)
			return
		}

		atomic.AddInt64(&processed, 1)
		metrics.WebhookEvents.WithLabelValues(string(ev.Type), "processed").Inc()
	}, p.Log)

	return Result{Processed: int(processed), Failed: int(failed) + skipped}
}

// Apply records one event. Later steps still run when an earlier one
// fails; all errors are returned joined.
func (p *Processor) Apply(ctx context.Context, ev Event) error {
	row := &models.EmailEvent{
		ID:         uuid.NewString(),
		CampaignID: ev.CampaignID,
		ContactID:  ev.ContactID,
		Email:      ev.Email,
		Type:       ev.Type,
		OccurredAt: ev.OccurredAt,
		Metadata:   ev.Raw,
	}
	if err := p.Store.InsertEmailEvent(ctx, row); err != nil {
		return fmt.Errorf("insert email event: %w", err)
	}

	var errs []error
	duplicate := false

	if ev.HasRecipient() && recipientEvents[ev.Type] {
		changed, err := p.Store.MarkRecipient(ctx, ev.CampaignID, ev.ContactID, ev.Type, ev.OccurredAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark recipient: %w", err))
		}
		duplicate = err == nil && !changed
	}

	if status, ok := contactTransitions[ev.Type]; ok && ev.ContactID != "" {
		if _, err := p.Store.SetContactStatus(ctx, ev.ContactID, status); err != nil {
			errs = append(errs, fmt.Errorf("set contact status: %w", err))
		}
	}

	if duplicate {
		p.Log.Debug("redelivered event not counted",
			zap.String("type", string(ev.Type)),
			zap.String("campaign_id", ev.CampaignID),
			zap.String("contact_id", ev.ContactID),
		)
	} else if ev.CampaignID != "" && counterEvents[ev.Type] {
		if err := p.Store.IncrementCampaignCounter(ctx, ev.CampaignID, ev.Type); err != nil {
			errs = append(errs, fmt.Errorf("increment campaign counter: %w", err))
		}
	}

	if ev.Type == models.EventClick && ev.URL != "" && ev.HasRecipient() {
		inserted, err := p.Store.InsertLinkClick(ctx, &models.LinkClick{
			CampaignID: ev.CampaignID,
			ContactID:  ev.ContactID,
			URL:        ev.URL,
			ClickedAt:  ev.OccurredAt,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("insert link click: %w", err))
		} else if !inserted {
			p.Log.Debug("duplicate link click ignored",
				zap.String("campaign_id", ev.CampaignID),
				zap.String("contact_id", ev.ContactID),
			)
		}
	}

	return errors.Join(errs...)
}
