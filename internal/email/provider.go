package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Personalization addresses one recipient of a batch. Substitutions maps
// canonical merge tokens to this recipient's values; CustomArgs travel with
// the message and come back on delivery events.
type Personalization struct {
	To            string
	Name          string
	Subject       string
	Substitutions map[string]string
	CustomArgs    map[string]string
}

// Message is one bulk provider call: shared content plus one
// Personalization per recipient.
type Message struct {
	FromEmail    string
	FromName     string
	ReplyToEmail string
	ReplyToName  string

	Subject string
	HTML    string
	Text    string

	Personalizations []Personalization

	TrackOpens  bool
	TrackClicks bool
}

// Provider delivers a batch in a single call. The batch is accepted or
// rejected as a whole.
type Provider interface {
	SendBatch(ctx context.Context, msg *Message) error
}

type ProviderError struct {
	StatusCode int
	Body       string
	Transient  bool
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s error %d: %s", kind, e.StatusCode, e.Body)
}

// StatusError classifies an HTTP status: 429 and 5xx are transient, every
// other 4xx is permanent.
func StatusError(status int, body string) *ProviderError {
	return &ProviderError{
		StatusCode: status,
		Body:       body,
		Transient:  status == http.StatusTooManyRequests || status >= 500,
	}
}

// IsTransient reports whether err is worth retrying. Errors that are not a
// ProviderError come from the network layer and are retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return !errors.Is(err, context.Canceled)
}
