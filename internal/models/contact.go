package models

type ContactStatus string

const (
	ContactActive       ContactStatus = "active"
	ContactBounced      ContactStatus = "bounced"
	ContactComplained   ContactStatus = "complained"
	ContactUnsubscribed ContactStatus = "unsubscribed"
)

type Contact struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Email     string        `json:"email"`
	FirstName string        `json:"first_name,omitempty"`
	LastName  string        `json:"last_name,omitempty"`
	Company   string        `json:"company,omitempty"`
	Role      string        `json:"role,omitempty"`
	Industry  string        `json:"industry,omitempty"`
	Status    ContactStatus `json:"status"`
}

// Recipient is one targeted address of a send request. ContactID is empty
// for ad-hoc addresses that have no stored contact.
type Recipient struct {
	Email     string `json:"email" validate:"required,email"`
	ContactID string `json:"contactId,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Company   string `json:"company,omitempty"`
	Role      string `json:"role,omitempty"`
	Industry  string `json:"industry,omitempty"`
}
