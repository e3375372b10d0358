package models

import (
	"encoding/json"
	"time"
)

// EventType is the internal delivery-event taxonomy.
type EventType string

const (
	EventSent        EventType = "sent"
	EventDelivered   EventType = "delivered"
	EventDeferred    EventType = "deferred"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventBounce      EventType = "bounce"
	EventComplaint   EventType = "complaint"
	EventUnsubscribe EventType = "unsubscribe"
)

// EmailEvent is the append-only audit row written for every callback event.
type EmailEvent struct {
	ID         string          `json:"id"`
	CampaignID string          `json:"campaign_id,omitempty"`
	ContactID  string          `json:"contact_id,omitempty"`
	Email      string          `json:"email"`
	Type       EventType       `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type LinkClick struct {
	CampaignID string    `json:"campaign_id"`
	ContactID  string    `json:"contact_id"`
	URL        string    `json:"url"`
	ClickedAt  time.Time `json:"clicked_at"`
}
