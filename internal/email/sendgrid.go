package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SendGrid sends batches through the v3 Mail Send API, one personalization
// per recipient (up to 1000 per call).
type SendGrid struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewSendGrid(apiKey, baseURL string, timeout time.Duration) *SendGrid {
	return &SendGrid{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To            []sgAddress       `json:"to"`
	Subject       string            `json:"subject,omitempty"`
	Substitutions map[string]string `json:"substitutions,omitempty"`
	CustomArgs    map[string]string `json:"custom_args,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgToggle struct {
	Enable bool `json:"enable"`
}

type sgTracking struct {
	ClickTracking sgToggle `json:"click_tracking"`
	OpenTracking  sgToggle `json:"open_tracking"`
}

type sgPayload struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	ReplyTo          *sgAddress          `json:"reply_to,omitempty"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	TrackingSettings sgTracking          `json:"tracking_settings"`
}

func (s *SendGrid) SendBatch(ctx context.Context, msg *Message) error {
	if s.apiKey == "" {
		return &ProviderError{StatusCode: http.StatusUnauthorized, Body: "SendGrid API key not configured"}
	}

	payload := sgPayload{
		Personalizations: make([]sgPersonalization, len(msg.Personalizations)),
		From:             sgAddress{Email: msg.FromEmail, Name: msg.FromName},
		Subject:          msg.Subject,
		TrackingSettings: sgTracking{
			ClickTracking: sgToggle{Enable: msg.TrackClicks},
			OpenTracking:  sgToggle{Enable: msg.TrackOpens},
		},
	}
	for i, p := range msg.Personalizations {
		payload.Personalizations[i] = sgPersonalization{
			To:            []sgAddress{{Email: p.To, Name: p.Name}},
			Subject:       p.Subject,
			Substitutions: p.Substitutions,
			CustomArgs:    p.CustomArgs,
		}
	}
	if msg.ReplyToEmail != "" {
		payload.ReplyTo = &sgAddress{Email: msg.ReplyToEmail, Name: msg.ReplyToName}
	}
	// text/plain must precede text/html
	if msg.Text != "" {
		payload.Content = append(payload.Content, sgContent{Type: "text/plain", Value: msg.Text})
	}
	payload.Content = append(payload.Content, sgContent{Type: "text/html", Value: msg.HTML})

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return StatusError(resp.StatusCode, string(respBody))
	}
	io.Copy(io.Discard, resp.Body)

	return nil
}
