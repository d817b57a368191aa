package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/file"
	"github.com/safedocs-io/safedocs/pkg/logger"
	"github.com/safedocs-io/safedocs/pkg/notify"
	"github.com/safedocs-io/safedocs/pkg/quota"
	"github.com/safedocs-io/safedocs/pkg/scanner"
)

// envelope is the standard response body: exactly one of Data or Error is
// set.
type envelope struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		h.log.ErrorContext(r.Context(), "failed to encode response", logger.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		// Internal details stay in the logs.
		h.log.ErrorContext(r.Context(), "request failed", logger.Error(err))
		msg = "internal error"
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(envelope{Error: &errorDetail{Code: code, Message: msg}}); encErr != nil {
		h.log.ErrorContext(r.Context(), "failed to encode error response", logger.Error(encErr))
	}
}

// classifyError maps domain sentinels onto HTTP statuses. Anything unknown is
// a 500 so provider retries and clients treat it as transient.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusPaymentRequired, "quota_exceeded"
	case errors.Is(err, billing.ErrUnknownPlan),
		errors.Is(err, billing.ErrPlanNotPurchasable):
		return http.StatusUnprocessableEntity, "invalid_plan"
	case errors.Is(err, billing.ErrNoBillingAccount):
		return http.StatusConflict, "no_billing_account"
	case errors.Is(err, billing.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription_not_found"
	case errors.Is(err, scanner.ErrScanNotFound),
		errors.Is(err, notify.ErrNotificationNotFound),
		errors.Is(err, file.ErrObjectNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, scanner.ErrEmptyFile):
		return http.StatusBadRequest, "empty_file"
	case errors.Is(err, scanner.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, billing.ErrProviderUnavailable),
		errors.Is(err, scanner.ErrEngineUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// errBadRequest wraps malformed client input (bad JSON, bad ids).
var errBadRequest = errors.New("bad request")
