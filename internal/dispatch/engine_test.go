package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"CampaignPulse/internal/email"
	"CampaignPulse/internal/identity"
	"CampaignPulse/internal/models"
	"CampaignPulse/internal/quota"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeProvider struct {
	mu      sync.Mutex
	batches []*email.Message
	// respond returns the error for the n-th call (0-based) of batch b.
	respond func(b, n int) error
	calls   map[string]int
}

func (p *fakeProvider) SendBatch(ctx context.Context, msg *email.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.calls == nil {
		p.calls = map[string]int{}
	}
	key := msg.Personalizations[0].To
	n := p.calls[key]
	p.calls[key] = n + 1

	if n == 0 {
		p.batches = append(p.batches, msg)
	}
	if p.respond == nil {
		return nil
	}
	return p.respond(len(p.batches)-1, n)
}

type fakeStore struct {
	mu          sync.Mutex
	sending     []string
	recipients  []models.CampaignRecipient
	sentCount   int
	sentCalls   int
	usage       int
	usageCalls  int
	saveErr     error
	markSentErr error
}

func (s *fakeStore) MarkCampaignSending(ctx context.Context, userID, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = append(s.sending, campaignID)
	return nil
}

func (s *fakeStore) SaveRecipients(ctx context.Context, rs []models.CampaignRecipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.recipients = append(s.recipients, rs...)
	return nil
}

func (s *fakeStore) MarkCampaignSent(ctx context.Context, userID, campaignID string, n int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentCalls++
	if s.markSentErr != nil {
		return s.markSentErr
	}
	s.sentCount = n
	return nil
}

func (s *fakeStore) IncrementUsage(ctx context.Context, userID string, year, month, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageCalls++
	s.usage += n
	return nil
}

type fakeGate struct {
	err   error
	calls int
}

func (g *fakeGate) Admit(ctx context.Context, user models.User, endpoint string, n int) (quota.Usage, error) {
	g.calls++
	return quota.Usage{Current: 100, Limit: 10000, Remaining: 9900}, g.err
}

type fakeResolver struct {
	calls int
}

func (r *fakeResolver) Resolve(ctx context.Context, user models.User, o identity.Override) (identity.Identity, error) {
	r.calls++
	return identity.Identity{
		FromEmail:    "janedoe@send.example.io",
		FromName:     "Jane",
		ReplyToEmail: user.Email,
		ReplyToName:  "Jane",
	}, nil
}

type harness struct {
	engine   *Engine
	provider *fakeProvider
	store    *fakeStore
	gate     *fakeGate
	resolver *fakeResolver
	delays   []time.Duration
}

func newHarness() *harness {
	h := &harness{
		provider: &fakeProvider{},
		store:    &fakeStore{},
		gate:     &fakeGate{},
		resolver: &fakeResolver{},
	}
	h.engine = &Engine{
		Provider:   h.provider,
		Gate:       h.gate,
		Identity:   h.resolver,
		Store:      h.store,
		BatchSize:  DefaultBatchSize,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Sleep:      func(d time.Duration) { h.delays = append(h.delays, d) },
		Log:        zap.NewNop(),
	}
	return h
}

var testUser = models.User{ID: "u1", Email: "jane.doe@co.com", Plan: models.PlanPro}

func recipients(n int) []models.Recipient {
	rs := make([]models.Recipient, n)
	for i := range rs {
		rs[i] = models.Recipient{Email: fmt.Sprintf("r%d@example.com", i), ContactID: fmt.Sprintf("k%d", i)}
	}
	return rs
}

func request(rs []models.Recipient) Request {
	return Request{
		CampaignID: "c1",
		Subject:    "News",
		HTMLBody:   "<p>Hello</p>",
		Recipients: rs,
	}
}

// =============================================================================
// PREFLIGHT
// =============================================================================

func TestSendValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"no recipients", request(nil), "Request.Recipients"},
		{"empty body", Request{CampaignID: "c1", Subject: "s", Recipients: recipients(1)}, "Request.HTMLBody"},
		{"no campaign", Request{Subject: "s", HTMLBody: "b", Recipients: recipients(1)}, "Request.CampaignID"},
		{"bad email", request([]models.Recipient{{Email: "not-an-email"}}), "Request.Recipients[0].Email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			out, err := h.engine.Send(context.Background(), testUser, tt.req)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Nil(t, out)
			assert.Empty(t, h.provider.batches)
			assert.Zero(t, h.gate.calls)
		})
	}
}

func TestSendQuotaExceededMakesNoProviderCalls(t *testing.T) {
	h := newHarness()
	h.engine.Gate = &quota.Governor{
		Limiter:    limiterFunc(func() bool { return true }),
		Usage:      usageFunc(func() int { return 990 }),
		RateMax:    10,
		RateWindow: time.Hour,
		Log:        zap.NewNop(),
	}

	_, err := h.engine.Send(context.Background(), models.User{ID: "u1", Email: "a@b.com", Plan: models.PlanFree}, request(recipients(11)))

	var qe *quota.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 10, qe.Remaining())
	assert.Empty(t, h.provider.batches)
	assert.Zero(t, h.store.usageCalls)
	assert.Zero(t, h.resolver.calls)
}

func TestSendRateLimitedMakesNoProviderCalls(t *testing.T) {
	h := newHarness()
	h.gate.err = &quota.RateLimitError{Limit: 10, ResetAt: time.Now().Add(time.Hour)}

	_, err := h.engine.Send(context.Background(), testUser, request(recipients(2)))

	var rle *quota.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Empty(t, h.provider.batches)
	assert.Empty(t, h.store.sending)
}

// =============================================================================
// RETRY STATE MACHINE
// =============================================================================

func TestSendRetriesTransientThenSucceeds(t *testing.T) {
	for failures := 0; failures <= 5; failures++ {
		t.Run(fmt.Sprintf("%d failures", failures), func(t *testing.T) {
			h := newHarness()
			h.provider.respond = func(b, n int) error {
				if n < failures {
					return email.StatusError(http.StatusTooManyRequests, "slow down")
				}
				return nil
			}

			out, err := h.engine.Send(context.Background(), testUser, request(recipients(3)))
			require.NoError(t, err)

			wantAttempts := min(failures+1, h.engine.MaxRetries+1)
			assert.Equal(t, wantAttempts, h.provider.calls["r0@example.com"])

			if failures <= h.engine.MaxRetries {
				assert.Equal(t, 3, out.Sent)
				assert.Empty(t, out.Failed)
			} else {
				assert.Zero(t, out.Sent)
				assert.Len(t, out.Failed, 3)
			}
		})
	}
}

func TestSendBackoffDoubles(t *testing.T) {
	h := newHarness()
	h.engine.BaseDelay = 100 * time.Millisecond
	h.provider.respond = func(b, n int) error { return email.StatusError(http.StatusServiceUnavailable, "") }

	out, err := h.engine.Send(context.Background(), testUser, request(recipients(1)))
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, h.delays)
	assert.Equal(t, []string{"r0@example.com"}, out.Failed)
}

func TestSendPermanentErrorIsNotRetried(t *testing.T) {
	h := newHarness()
	h.provider.respond = func(b, n int) error { return email.StatusError(http.StatusBadRequest, "bad from") }

	out, err := h.engine.Send(context.Background(), testUser, request(recipients(2)))
	require.NoError(t, err)

	assert.Equal(t, 1, h.provider.calls["r0@example.com"])
	assert.Empty(t, h.delays)
	assert.Equal(t, []string{"r0@example.com", "r1@example.com"}, out.Failed)
	assert.Zero(t, h.store.usageCalls)
}

func TestSendNetworkErrorIsRetried(t *testing.T) {
	h := newHarness()
	h.provider.respond = func(b, n int) error {
		if n == 0 {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	out, err := h.engine.Send(context.Background(), testUser, request(recipients(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sent)
	assert.Equal(t, 2, h.provider.calls["r0@example.com"])
}

// =============================================================================
// BATCHING
// =============================================================================

func TestSendIsolatesFailedBatch(t *testing.T) {
	h := newHarness()
	h.provider.respond = func(b, n int) error {
		if b == 1 {
			return email.StatusError(http.StatusInternalServerError, "")
		}
		return nil
	}

	rs := recipients(2500)
	out, err := h.engine.Send(context.Background(), testUser, request(rs))
	require.NoError(t, err)

	require.Len(t, h.provider.batches, 3)
	assert.Len(t, h.provider.batches[0].Personalizations, 1000)
	assert.Len(t, h.provider.batches[1].Personalizations, 1000)
	assert.Len(t, h.provider.batches[2].Personalizations, 500)
	assert.Equal(t, 4, h.provider.calls["r1000@example.com"])

	assert.Equal(t, 1500, out.Sent)
	require.Len(t, out.Failed, 1000)
	assert.Equal(t, "r1000@example.com", out.Failed[0])
	assert.Equal(t, "r1999@example.com", out.Failed[999])

	assert.Equal(t, 1, h.store.sentCalls)
	assert.Equal(t, 1500, h.store.sentCount)
	assert.Equal(t, 1500, h.store.usage)
	assert.Equal(t, 1, h.store.usageCalls)
	assert.Len(t, h.store.recipients, 2500)
	assert.Equal(t, models.RecipientSent, h.store.recipients[0].Status)
	assert.NotNil(t, h.store.recipients[0].SentAt)
	assert.Equal(t, models.RecipientFailed, h.store.recipients[1000].Status)
	assert.Nil(t, h.store.recipients[1000].SentAt)

	assert.Equal(t, quota.Usage{Current: 1600, Limit: 10000, Remaining: 8400}, out.Usage)
	assert.Equal(t, 1, h.resolver.calls)
	assert.Equal(t, []string{"c1"}, h.store.sending)
}

func TestSendDeduplicatesRecipients(t *testing.T) {
	h := newHarness()
	rs := []models.Recipient{{Email: "a@x.com"}, {Email: "A@X.com"}, {Email: "b@x.com"}}

	out, err := h.engine.Send(context.Background(), testUser, request(rs))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Sent)
}

func TestSendSkipsRecipientRowsWithoutContact(t *testing.T) {
	h := newHarness()
	rs := []models.Recipient{{Email: "a@x.com", ContactID: "k1"}, {Email: "b@x.com"}}

	_, err := h.engine.Send(context.Background(), testUser, request(rs))
	require.NoError(t, err)
	require.Len(t, h.store.recipients, 1)
	assert.Equal(t, "k1", h.store.recipients[0].ContactID)
}

// =============================================================================
// PERSONALIZATION
// =============================================================================

func TestSendPersonalizesPerRecipient(t *testing.T) {
	h := newHarness()
	req := request([]models.Recipient{
		{Email: "jane@co.com", ContactID: "k1", FirstName: "Jane"},
		{Email: "bob@co.com"},
	})
	req.Subject = "Hi {{ FirstName }}"
	req.HTMLBody = "<p>Dear {{first_name}} at {{Company}}</p>"

	_, err := h.engine.Send(context.Background(), testUser, req)
	require.NoError(t, err)

	msg := h.provider.batches[0]
	assert.Equal(t, "<p>Dear {{first_name}} at {{company}}</p>", msg.HTML)

	jane, bob := msg.Personalizations[0], msg.Personalizations[1]
	assert.Equal(t, "Hi Jane", jane.Subject)
	assert.Equal(t, "Hi [First Name]", bob.Subject)
	assert.Equal(t, "Jane", jane.Substitutions["{{first_name}}"])
	assert.Equal(t, "[Company]", jane.Substitutions["{{company}}"])

	assert.Equal(t, "c1", jane.CustomArgs["campaign_id"])
	assert.Equal(t, "k1", jane.CustomArgs["contact_id"])
	assert.Equal(t, "u1", jane.CustomArgs["user_id"])
	assert.NotContains(t, bob.CustomArgs, "contact_id")
}

func TestSendWithoutPlaceholdersSharesPayload(t *testing.T) {
	h := newHarness()
	off := false
	req := request(recipients(2))
	req.TrackClicks = &off

	_, err := h.engine.Send(context.Background(), testUser, req)
	require.NoError(t, err)

	msg := h.provider.batches[0]
	assert.Equal(t, "News", msg.Subject)
	assert.Equal(t, "<p>Hello</p>", msg.HTML)
	assert.Equal(t, "janedoe@send.example.io", msg.FromEmail)
	assert.Equal(t, "jane.doe@co.com", msg.ReplyToEmail)
	assert.True(t, msg.TrackOpens)
	assert.False(t, msg.TrackClicks)
	for _, p := range msg.Personalizations {
		assert.Empty(t, p.Subject)
		assert.Nil(t, p.Substitutions)
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestSendPersistenceFailureKeepsOutcome(t *testing.T) {
	h := newHarness()
	h.store.saveErr = errors.New("db unavailable")

	out, err := h.engine.Send(context.Background(), testUser, request(recipients(2)))
	require.NoError(t, err)

	assert.Equal(t, 2, out.Sent)
	var pe *PersistenceError
	require.ErrorAs(t, out.PersistErr, &pe)
	assert.ErrorContains(t, pe, "db unavailable")

	// remaining bookkeeping still ran
	assert.Equal(t, 2, h.store.sentCount)
	assert.Equal(t, 2, h.store.usage)
}

func TestSendMarkSentIsRetried(t *testing.T) {
	h := newHarness()
	h.store.markSentErr = errors.New("deadlock")

	out, err := h.engine.Send(context.Background(), testUser, request(recipients(1)))
	require.NoError(t, err)

	assert.Error(t, out.PersistErr)
	assert.Equal(t, h.engine.MaxRetries+1, h.store.sentCalls)
	assert.Equal(t, 1, h.store.usageCalls)
}

type limiterFunc func() bool

func (f limiterFunc) Hit(ctx context.Context, key string, limit int, window time.Duration) (quota.WindowResult, error) {
	return quota.WindowResult{Allowed: f()}, nil
}

type usageFunc func() int

func (f usageFunc) EmailsSent(ctx context.Context, userID string, year, month int) (int, error) {
	return f(), nil
}
