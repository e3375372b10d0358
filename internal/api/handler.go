package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"CampaignPulse/internal/db"
	"CampaignPulse/internal/dispatch"
	"CampaignPulse/internal/models"
	"CampaignPulse/internal/webhook"
)

// UserHeader carries the authenticated account id, set by the gateway in
// front of this service.
const UserHeader = "X-User-ID"

type Sender interface {
	Send(ctx context.Context, user models.User, req dispatch.Request) (*dispatch.Outcome, error)
}

type Accounts interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetCampaign(ctx context.Context, userID, id string) (*models.Campaign, error)
}

type SignatureVerifier interface {
	Verify(signature, timestamp string, body []byte) error
}

type EventProcessor interface {
	Process(ctx context.Context, events []json.RawMessage) webhook.Result
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Sender   Sender
	Accounts Accounts
	Verifier SignatureVerifier
	Events   EventProcessor

	// DB is checked by the health endpoint when set.
	DB Pinger

	// AllowedOrigins enables CORS for browser callers. Empty disables it.
	AllowedOrigins []string

	MaxCSVRows int
	Log        *zap.Logger
}

// user resolves the calling account. It writes the error response itself
// and returns false when the request cannot proceed.
func (h *Handler) user(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	id := r.Header.Get(UserHeader)
	if id == "" {
		respondError(w, http.StatusUnauthorized, "missing user")
		return nil, false
	}

	u, err := h.Accounts.GetUser(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusUnauthorized, "unknown user")
		return nil, false
	}
	if err != nil {
		h.Log.Error("failed to load user", zap.String("user_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}

	return u, true
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			h.Log.Warn("health check failed", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
