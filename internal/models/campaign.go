package models

import "time"

type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
)

type Campaign struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id"`
	Subject  string         `json:"subject"`
	HTMLBody string         `json:"html_body"`
	TextBody string         `json:"text_body,omitempty"`
	Status   CampaignStatus `json:"status"`

	SentAt          *time.Time `json:"sent_at,omitempty"`
	RecipientsCount int        `json:"recipients_count"`

	Opens        int `json:"opens"`
	Clicks       int `json:"clicks"`
	Bounces      int `json:"bounces"`
	Complaints   int `json:"complaints"`
	Unsubscribes int `json:"unsubscribes"`

	TrackOpens  bool `json:"track_opens"`
	TrackClicks bool `json:"track_clicks"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientOpened    RecipientStatus = "opened"
	RecipientClicked   RecipientStatus = "clicked"
	RecipientBounced   RecipientStatus = "bounced"
	RecipientFailed    RecipientStatus = "failed"
)

// CampaignRecipient joins a campaign to one targeted contact.
// OpenedAt and ClickedAt are written at most once.
type CampaignRecipient struct {
	CampaignID string          `json:"campaign_id"`
	ContactID  string          `json:"contact_id"`
	Email      string          `json:"email"`
	Status     RecipientStatus `json:"status"`
	SentAt     *time.Time      `json:"sent_at,omitempty"`
	OpenedAt   *time.Time      `json:"opened_at,omitempty"`
	ClickedAt  *time.Time      `json:"clicked_at,omitempty"`
}
