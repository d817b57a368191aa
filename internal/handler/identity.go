package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// UserIDHeader carries the authenticated user id, set by the upstream
// gateway after it verifies the session.
const UserIDHeader = "X-User-ID"

type contextKey struct{ name string }

var userIDKey = contextKey{"user_id"}

// requireUser rejects requests without a valid user id header and stores the
// parsed id on the context for downstream handlers.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(UserIDHeader))
		if err != nil || id == uuid.Nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"unauthenticated","message":"missing or invalid user identity"}}`)) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

// userID returns the authenticated user id stored by requireUser.
func userID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

// UserKeyFunc derives rate-limit keys from the identity header, for routes
// behind requireUser.
func UserKeyFunc(r *http.Request) string {
	return r.Header.Get(UserIDHeader)
}
