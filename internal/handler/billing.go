package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/logger"
)

// maxWebhookBody caps provider payloads. Stripe and Paddle events are a few
// KB; anything near a megabyte is hostile.
const maxWebhookBody = 1 << 20

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("read webhook body: %w", err))
		return
	}
	if len(payload) == 0 || len(payload) > maxWebhookBody {
		h.respondError(w, r, fmt.Errorf("%w: webhook payload empty or too large", errBadRequest))
		return
	}

	result, err := h.ingress.Ingest(r.Context(), payload, r.Header.Get(h.signatureHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, map[string]any{
		"received":  true,
		"duplicate": result.Duplicate,
	})
}

type syncResponse struct {
	Changed    bool               `json:"changed"`
	From       billing.Plan       `json:"from,omitempty"`
	To         billing.Plan       `json:"to,omitempty"`
	Transition billing.Transition `json:"transition,omitempty"`
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.Sync(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := syncResponse{Changed: result.Changed}
	if result.Changed {
		resp.From = result.From
		resp.To = result.To
		resp.Transition = result.Transition
	}
	h.respond(w, r, http.StatusOK, resp)
}

type checkoutRequest struct {
	Plan       string `json:"plan"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	plan, ok := billing.ParsePlan(req.Plan)
	if !ok {
		h.respondError(w, r, fmt.Errorf("%w: %q", billing.ErrUnknownPlan, req.Plan))
		return
	}

	session, err := h.checkout.StartCheckout(r.Context(), userID(r), plan, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.log.InfoContext(r.Context(), "checkout session created",
		logger.UserID(userID(r)), logger.Plan(plan))
	h.respond(w, r, http.StatusOK, map[string]string{
		"url":        session.URL,
		"session_id": session.SessionID,
	})
}

func (h *Handler) handlePortal(w http.ResponseWriter, r *http.Request) {
	session, err := h.checkout.OpenPortal(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]string{"url": session.URL})
}

type subscriptionResponse struct {
	Plan               billing.Plan               `json:"plan"`
	Status             billing.SubscriptionStatus `json:"status"`
	ScanLimit          int64                      `json:"scan_limit"`
	ScansUsed          int64                      `json:"scans_used"`
	CurrentPeriodStart *time.Time                 `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time                 `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                       `json:"cancel_at_period_end"`
	CanceledAt         *time.Time                 `json:"canceled_at,omitempty"`
}

func (h *Handler) handleSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.Get(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			// Never-reconciled users are on the free tier by definition.
			h.respond(w, r, http.StatusOK, subscriptionResponse{
				Plan:   billing.PlanFree,
				Status: billing.StatusCanceled,
			})
			return
		}
		h.respondError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, subscriptionResponse{
		Plan:               sub.Plan,
		Status:             sub.Status,
		ScanLimit:          sub.ScanLimit,
		ScansUsed:          sub.ScansUsed,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         sub.CanceledAt,
	})
}
