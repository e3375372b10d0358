package models

import "time"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanPro     Plan = "pro"
	PlanProPlus Plan = "pro_plus"
)

// User is the account owner as seen by the dispatch path. Accounts are
// managed by the auth service; this is a read-only projection.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Plan     Plan   `json:"plan"`
}

type DomainStatus string

const (
	DomainPending  DomainStatus = "pending"
	DomainVerified DomainStatus = "verified"
	DomainFailed   DomainStatus = "failed"
)

type SendingDomain struct {
	UserID     string       `json:"user_id"`
	Domain     string       `json:"domain"`
	Status     DomainStatus `json:"verification_status"`
	VerifiedAt *time.Time   `json:"verified_at,omitempty"`
}

type UsageMetric struct {
	UserID     string `json:"user_id"`
	Month      int    `json:"month"`
	Year       int    `json:"year"`
	EmailsSent int    `json:"emails_sent"`
}
