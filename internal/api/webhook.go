package api

import (
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"CampaignPulse/internal/metrics"
	"CampaignPulse/internal/webhook"
)

const maxWebhookBody = 8 << 20

type eventsResponse struct {
	Success   bool   `json:"success"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// ReceiveEvents ingests a signed batch of delivery events. Anything past
// signature verification is answered with 200 so the provider does not
// redeliver the whole batch.
func (h *Handler) ReceiveEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.Verifier.Verify(
		r.Header.Get(webhook.SignatureHeader),
		r.Header.Get(webhook.TimestampHeader),
		body,
	)
	if err != nil {
		metrics.WebhookSignatureFailures.Inc()
		h.Log.Warn("rejected webhook", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	events, err := webhook.ParseEvents(body)
	if err != nil {
		h.Log.Error("malformed webhook payload", zap.Int("bytes", len(body)), zap.Error(err))
		respondJSON(w, http.StatusOK, eventsResponse{Error: "malformed payload"})
		return
	}

	res := h.Events.Process(context.WithoutCancel(r.Context()), events)

	h.Log.Info("webhook processed",
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
	)

	respondJSON(w, http.StatusOK, eventsResponse{
		Success:   true,
		Processed: res.Processed,
		Failed:    res.Failed,
	})
}
