package email

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"

	"gopkg.in/gomail.v2"

	"CampaignPulse/internal/personalize"
)

// SMTPProvider delivers batches over a single SMTP connection. It is meant
// for local development against a mail catcher and applies substitutions
// itself since plain SMTP has no server-side personalization.
type SMTPProvider struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (s *SMTPProvider) SendBatch(ctx context.Context, msg *Message) error {
	msgs := make([]*gomail.Message, 0, len(msg.Personalizations))

	for _, p := range msg.Personalizations {
		m := gomail.NewMessage()
		m.SetAddressHeader("From", msg.FromEmail, msg.FromName)
		m.SetAddressHeader("To", p.To, p.Name)
		if msg.ReplyToEmail != "" {
			m.SetAddressHeader("Reply-To", msg.ReplyToEmail, msg.ReplyToName)
		}

		subject := msg.Subject
		if p.Subject != "" {
			subject = p.Subject
		}
		m.SetHeader("Subject", subject)
		for k, v := range p.CustomArgs {
			m.SetHeader("X-Campaign-Arg-"+k, v)
		}

		if msg.Text != "" {
			m.SetBody("text/plain", personalize.Apply(msg.Text, p.Substitutions))
			m.AddAlternative("text/html", personalize.Apply(msg.HTML, p.Substitutions))
		} else {
			m.SetBody("text/html", personalize.Apply(msg.HTML, p.Substitutions))
		}

		msgs = append(msgs, m)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)
	if err := d.DialAndSend(msgs...); err != nil {
		return classifySMTP(err)
	}

	return nil
}

// 4xx SMTP replies are temporary, 5xx are permanent; anything else is a
// connection problem.
func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return &ProviderError{
			StatusCode: tpErr.Code,
			Body:       tpErr.Msg,
			Transient:  tpErr.Code < 500,
		}
	}
	return fmt.Errorf("smtp send error: %w", err)
}
