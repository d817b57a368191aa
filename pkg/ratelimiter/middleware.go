package ratelimiter

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/safedocs-io/safedocs/pkg/logger"
)

// KeyFunc derives the limit key for a request, e.g. authenticated user id or
// client address.
type KeyFunc func(r *http.Request) string

// Middleware enforces the bucket per derived key. Store failures fail open:
// a broken Redis must not take billing webhooks down with it.
func Middleware(bucket *Bucket, key KeyFunc, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := bucket.Allow(r.Context(), k)
			if err != nil {
				log.WarnContext(r.Context(), "rate limit check failed, allowing request",
					logger.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))

			if !res.Allowed() {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter().Seconds())+1))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
