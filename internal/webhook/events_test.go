package webhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignPulse/internal/models"
)

func TestDecodeEventTaxonomy(t *testing.T) {
	tests := map[string]models.EventType{
		"delivered":   models.EventDelivered,
		"open":        models.EventOpen,
		"click":       models.EventClick,
		"bounce":      models.EventBounce,
		"dropped":     models.EventBounce,
		"spamreport":  models.EventComplaint,
		"unsubscribe": models.EventUnsubscribe,
		"processed":   models.EventSent,
		"deferred":    models.EventDeferred,
		"Open":        models.EventOpen,
	}

	for provider, want := range tests {
		raw := json.RawMessage(`{"event":"` + provider + `","email":"a@x.com","timestamp":1700000000}`)
		ev, err := DecodeEvent(raw)
		require.NoError(t, err, provider)
		assert.Equal(t, want, ev.Type, provider)
	}
}

func TestDecodeEventFields(t *testing.T) {
	raw := json.RawMessage(`{"event":"click","email":" a@x.com ","timestamp":1700000000,
		"campaign_id":"c1","contact_id":"k1","url":"https://x.com/a","reason":""}`)

	ev, err := DecodeEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", ev.Email)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.OccurredAt)
	assert.Equal(t, "c1", ev.CampaignID)
	assert.Equal(t, "k1", ev.ContactID)
	assert.Equal(t, "https://x.com/a", ev.URL)
	assert.True(t, ev.HasRecipient())
	assert.JSONEq(t, string(raw), string(ev.Raw))
}

func TestDecodeEventTimestampFallback(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)

	ev, err := DecodeEvent(json.RawMessage(`{"event":"open","email":"a@x.com"}`))
	require.NoError(t, err)
	assert.True(t, ev.OccurredAt.After(before))
	assert.False(t, ev.HasRecipient())

	ev, err = DecodeEvent(json.RawMessage(`{"event":"open","timestamp":"1700000000"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ev.OccurredAt.Unix())
}

func TestDecodeEventUnknown(t *testing.T) {
	_, err := DecodeEvent(json.RawMessage(`{"event":"teleported","email":"a@x.com"}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = DecodeEvent(json.RawMessage(`"just a string"`))
	assert.Error(t, err)
}

func TestParseEvents(t *testing.T) {
	events, err := ParseEvents([]byte(`[{"event":"open"},{"event":"click"}]`))
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = ParseEvents([]byte(`{"event":"open"}`))
	assert.Error(t, err)
}
