package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/gosimple/unidecode"
	"go.uber.org/zap"

	"CampaignPulse/internal/models"
)

// DomainLookup returns the user's most recently verified sending domain,
// or nil when the user has none.
type DomainLookup interface {
	LatestVerifiedDomain(ctx context.Context, userID string) (*models.SendingDomain, error)
}

// Override carries optional per-send sender fields.
type Override struct {
	FromEmail string
	FromName  string
}

type Identity struct {
	FromEmail    string `json:"fromEmail"`
	FromName     string `json:"fromName"`
	ReplyToEmail string `json:"replyToEmail"`
	ReplyToName  string `json:"replyToName"`
}

type Resolver struct {
	Domains      DomainLookup
	SharedDomain string
	Log          *zap.Logger
}

// Resolve picks the sender identity for one send. Users with a verified
// domain send as themselves; everyone else gets a slug address on the
// shared domain. Reply-To is always the account address.
func (r *Resolver) Resolve(ctx context.Context, user models.User, o Override) (Identity, error) {
	domain, err := r.Domains.LatestVerifiedDomain(ctx, user.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("lookup sending domain: %w", err)
	}

	name := firstNonEmpty(o.FromName, user.Name, user.Username, localPart(user.Email))

	id := Identity{
		FromName:     name,
		ReplyToEmail: user.Email,
		ReplyToName:  name,
	}

	if domain != nil {
		id.FromEmail = firstNonEmpty(o.FromEmail, user.Email)
		r.Log.Debug("sender resolved on verified domain",
			zap.String("user_id", user.ID),
			zap.String("domain", domain.Domain),
		)
		return id, nil
	}

	id.FromEmail = Slug(firstNonEmpty(user.Username, localPart(user.Email))) + "@" + r.SharedDomain
	r.Log.Debug("sender resolved on shared domain",
		zap.String("user_id", user.ID),
		zap.String("from", id.FromEmail),
	)
	return id, nil
}

// Slug lowercases s, transliterates it to ASCII and drops every
// character that is not a letter or digit.
func Slug(s string) string {
	s = strings.ToLower(unidecode.Unidecode(s))

	var b strings.Builder
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "sender"
	}
	return b.String()
}

func localPart(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
