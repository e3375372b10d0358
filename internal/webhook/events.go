package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"CampaignPulse/internal/models"
)

var ErrUnknownEventType = errors.New("unknown event type")

// providerEventTypes maps the provider vocabulary onto the internal taxonomy.
var providerEventTypes = map[string]models.EventType{
	"processed":         models.EventSent,
	"delivered":         models.EventDelivered,
	"deferred":          models.EventDeferred,
	"open":              models.EventOpen,
	"click":             models.EventClick,
	"bounce":            models.EventBounce,
	"dropped":           models.EventBounce,
	"spamreport":        models.EventComplaint,
	"spam_report":       models.EventComplaint,
	"unsubscribe":       models.EventUnsubscribe,
	"group_unsubscribe": models.EventUnsubscribe,
}

// Event is a decoded callback event. Type is always one of the internal
// event types; Raw keeps the provider's original object for the audit log.
type Event struct {
	Type       models.EventType
	Email      string
	OccurredAt time.Time
	CampaignID string
	ContactID  string
	URL        string
	Reason     string
	Raw        json.RawMessage
}

// HasRecipient reports whether the event can be tied to a CampaignRecipient.
func (e Event) HasRecipient() bool {
	return e.CampaignID != "" && e.ContactID != ""
}

type rawEvent struct {
	Event      string      `json:"event"`
	Email      string      `json:"email"`
	Timestamp  json.Number `json:"timestamp"`
	CampaignID string      `json:"campaign_id"`
	ContactID  string      `json:"contact_id"`
	URL        string      `json:"url"`
	Reason     string      `json:"reason"`
}

// ParseEvents splits a verified payload into its event objects without
// interpreting them, so one bad event cannot spoil the batch.
func ParseEvents(body []byte) ([]json.RawMessage, error) {
	var events []json.RawMessage
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// DecodeEvent turns one provider event object into an Event.
func DecodeEvent(raw json.RawMessage) (Event, error) {
	var re rawEvent
	if err := json.Unmarshal(raw, &re); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	name := strings.ToLower(strings.TrimSpace(re.Event))
	typ, ok := providerEventTypes[name]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, re.Event)
	}

	occurred := time.Now().UTC()
	if ts, err := re.Timestamp.Int64(); err == nil && ts > 0 {
		occurred = time.Unix(ts, 0).UTC()
	}

	return Event{
		Type:       typ,
		Email:      strings.TrimSpace(re.Email),
		OccurredAt: occurred,
		CampaignID: strings.TrimSpace(re.CampaignID),
		ContactID:  strings.TrimSpace(re.ContactID),
		URL:        strings.TrimSpace(re.URL),
		Reason:     re.Reason,
		Raw:        raw,
	}, nil
}
