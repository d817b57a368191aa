package handler

import (
	"net/http"
	"time"

	"github.com/safedocs-io/safedocs/pkg/billing"
)

type quotaResponse struct {
	Allowed   bool         `json:"allowed"`
	Plan      billing.Plan `json:"plan"`
	Used      int64        `json:"used"`
	Limit     int64        `json:"limit"`
	Unlimited bool         `json:"unlimited"`
	ResetsAt  time.Time    `json:"resets_at"`
}

func (h *Handler) handleQuota(w http.ResponseWriter, r *http.Request) {
	decision, err := h.quota.CanScan(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, quotaResponse{
		Allowed:   decision.Allowed,
		Plan:      decision.Plan,
		Used:      decision.Used,
		Limit:     decision.Limit,
		Unlimited: decision.Unlimited,
		ResetsAt:  decision.ResetsAt,
	})
}
