package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"CampaignPulse/internal/models"
	"CampaignPulse/internal/quota"
)

// Request is the dispatch trigger for one campaign send.
type Request struct {
	CampaignID  string             `json:"campaignId" validate:"required"`
	FromEmail   string             `json:"fromEmail,omitempty" validate:"omitempty,email"`
	FromName    string             `json:"fromName,omitempty"`
	Subject     string             `json:"subject" validate:"required"`
	HTMLBody    string             `json:"htmlBody" validate:"required"`
	TextBody    string             `json:"textBody,omitempty"`
	Recipients  []models.Recipient `json:"recipients" validate:"required,min=1,dive"`
	TrackOpens  *bool              `json:"trackOpens,omitempty"`
	TrackClicks *bool              `json:"trackClicks,omitempty"`
}

// Outcome is the result of a send that passed preflight. Partial failure
// is reported through Failed; PersistErr is set when post-send bookkeeping
// could not be written, which never undoes the emails already accepted.
type Outcome struct {
	DispatchID string
	Sent       int
	Failed     []string
	Usage      quota.Usage
	PersistErr error
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persisting send results: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

var validate = validator.New(validator.WithRequiredStructEnabled())

func (r *Request) validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "is invalid"
		switch fe.Tag() {
		case "required", "min":
			msg = "is required"
		case "email":
			msg = "must be a valid email address"
		}
		return &ValidationError{Field: fe.Namespace(), Message: msg}
	}
	return &ValidationError{Message: err.Error()}
}

// dedupe drops repeated addresses so each contact is targeted once per send.
func dedupe(recipients []models.Recipient) []models.Recipient {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]models.Recipient, 0, len(recipients))
	for _, r := range recipients {
		key := strings.ToLower(strings.TrimSpace(r.Email))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
