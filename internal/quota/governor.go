// Package quota gates sends on two independent checks: a per-user monthly
// email allowance derived from the plan tier, and a fixed-window request
// rate limit per (user, endpoint). Both must pass before any provider call.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"CampaignPulse/internal/models"
)

// Monthly email allowance per plan tier.
var PlanCaps = map[models.Plan]int{
	models.PlanFree:    1000,
	models.PlanPro:     25000,
	models.PlanProPlus: 100000,
}

// CapFor returns the monthly cap of plan; unknown plans get the free cap.
func CapFor(plan models.Plan) int {
	if c, ok := PlanCaps[plan]; ok {
		return c
	}
	return PlanCaps[models.PlanFree]
}

type RateLimiter interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (WindowResult, error)
}

type UsageReader interface {
	EmailsSent(ctx context.Context, userID string, year, month int) (int, error)
}

type Usage struct {
	Current   int `json:"current"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// Add returns u after n more accepted emails.
func (u Usage) Add(n int) Usage {
	u.Current += n
	u.Remaining = u.Limit - u.Current
	if u.Remaining < 0 {
		u.Remaining = 0
	}
	return u
}

type RateLimitError struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per window, resets at %s", e.Limit, e.ResetAt.Format(time.RFC3339))
}

type QuotaError struct {
	Limit     int
	Used      int
	Requested int
	ResetAt   time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("monthly quota exceeded: requested %d, remaining %d of %d", e.Requested, e.Remaining(), e.Limit)
}

func (e *QuotaError) Remaining() int {
	if r := e.Limit - e.Used; r > 0 {
		return r
	}
	return 0
}

type Governor struct {
	Limiter    RateLimiter
	Usage      UsageReader
	RateMax    int
	RateWindow time.Duration
	Now        func() time.Time
	Log        *zap.Logger
}

// Admit checks the monthly quota against the whole batch and then takes a
// rate-limit slot for endpoint. The quota check is a read and runs first,
// so a request rejected for quota does not burn a rate-limit slot. Usage is
// never incremented here; that happens after provider acceptance.
func (g *Governor) Admit(ctx context.Context, user models.User, endpoint string, requested int) (Usage, error) {
	now := g.now().UTC()

	used, err := g.Usage.EmailsSent(ctx, user.ID, now.Year(), int(now.Month()))
	if err != nil {
		return Usage{}, fmt.Errorf("read usage: %w", err)
	}

	usage := Usage{Limit: CapFor(user.Plan)}.Add(used)

	if requested > usage.Remaining {
		g.Log.Warn("send rejected by quota",
			zap.String("user_id", user.ID),
			zap.Int("requested", requested),
			zap.Int("remaining", usage.Remaining),
		)
		return usage, &QuotaError{
			Limit:     usage.Limit,
			Used:      used,
			Requested: requested,
			ResetAt:   time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	res, err := g.Limiter.Hit(ctx, user.ID+":"+endpoint, g.RateMax, g.RateWindow)
	if err != nil {
		return usage, fmt.Errorf("rate limit: %w", err)
	}
	if !res.Allowed {
		g.Log.Warn("send rejected by rate limit",
			zap.String("user_id", user.ID),
			zap.String("endpoint", endpoint),
			zap.Time("reset_at", res.ResetAt),
		)
		return usage, &RateLimitError{Limit: g.RateMax, Remaining: 0, ResetAt: res.ResetAt}
	}

	return usage, nil
}

func (g *Governor) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}
