package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"CampaignPulse/internal/csvparser"
	"CampaignPulse/internal/db"
	"CampaignPulse/internal/dispatch"
	"CampaignPulse/internal/models"
	"CampaignPulse/internal/quota"
)

const maxSendBody = 16 << 20

type sendResponse struct {
	Success      bool        `json:"success"`
	DispatchID   string      `json:"dispatchId"`
	Sent         int         `json:"sent"`
	Failed       int         `json:"failed"`
	FailedEmails []string    `json:"failedEmails,omitempty"`
	Usage        quota.Usage `json:"usage"`
	Warning      string      `json:"warning,omitempty"`
}

type limitResponse struct {
	Error     string    `json:"error"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// SendCampaign dispatches a campaign to the recipients in the JSON body.
func (h *Handler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	campaign, ok := h.campaign(w, r, user.ID)
	if !ok {
		return
	}

	var req dispatch.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.CampaignID = campaign.ID

	h.send(w, r, *user, req)
}

// SendCampaignCSV dispatches a stored campaign to the recipients of a CSV
// upload. Sender overrides come from the fromEmail and fromName query
// parameters.
func (h *Handler) SendCampaignCSV(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	campaign, ok := h.campaign(w, r, user.ID)
	if !ok {
		return
	}

	recipients, err := csvparser.ParseRecipients(http.MaxBytesReader(w, r.Body, maxSendBody), h.MaxCSVRows)
	if errors.Is(err, csvparser.ErrTooManyRows) {
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	h.send(w, r, *user, dispatch.Request{
		CampaignID:  campaign.ID,
		FromEmail:   q.Get("fromEmail"),
		FromName:    q.Get("fromName"),
		Subject:     campaign.Subject,
		HTMLBody:    campaign.HTMLBody,
		TextBody:    campaign.TextBody,
		Recipients:  recipients,
		TrackOpens:  &campaign.TrackOpens,
		TrackClicks: &campaign.TrackClicks,
	})
}

// campaign loads the campaign named in the path for userID and refuses one
// that was already sent. It writes the error response itself.
func (h *Handler) campaign(w http.ResponseWriter, r *http.Request, userID string) (*models.Campaign, bool) {
	c, err := h.Accounts.GetCampaign(r.Context(), userID, chi.URLParam(r, "campaignID"))
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "campaign not found")
		return nil, false
	}
	if err != nil {
		h.Log.Error("failed to load campaign", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if c.Status == models.CampaignSent {
		respondError(w, http.StatusConflict, "campaign already sent")
		return nil, false
	}

	return c, true
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, user models.User, req dispatch.Request) {
	// A started send runs to completion even if the client goes away.
	out, err := h.Sender.Send(context.WithoutCancel(r.Context()), user, req)
	if err != nil {
		h.rejectSend(w, user, err)
		return
	}

	resp := sendResponse{
		Success:      true,
		DispatchID:   out.DispatchID,
		Sent:         out.Sent,
		Failed:       len(out.Failed),
		FailedEmails: out.Failed,
		Usage:        out.Usage,
	}
	if out.PersistErr != nil {
		resp.Warning = "emails were sent but campaign results could not be saved"
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) rejectSend(w http.ResponseWriter, user models.User, err error) {
	var (
		verr *dispatch.ValidationError
		qerr *quota.QuotaError
		rerr *quota.RateLimitError
	)

	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": verr.Error(),
			"field": verr.Field,
		})

	case errors.As(err, &qerr):
		respondJSON(w, http.StatusTooManyRequests, limitResponse{
			Error:     "monthly email quota exceeded",
			Limit:     qerr.Limit,
			Remaining: qerr.Remaining(),
			ResetAt:   qerr.ResetAt,
		})

	case errors.As(err, &rerr):
		if wait := time.Until(rerr.ResetAt); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		respondJSON(w, http.StatusTooManyRequests, limitResponse{
			Error:     "rate limit exceeded",
			Limit:     rerr.Limit,
			Remaining: rerr.Remaining,
			ResetAt:   rerr.ResetAt,
		})

	default:
		h.Log.Error("send failed", zap.String("user_id", user.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
