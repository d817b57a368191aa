package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/safedocs-io/safedocs/pkg/logger"
)

// handleHealthz runs each registered probe with a short deadline. Any probe
// failure turns the whole check unhealthy so the orchestrator restarts or
// drains the instance.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			h.log.ErrorContext(ctx, "health probe failed", "probe", name, logger.Error(err))
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	h.respond(w, r, status, map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
	})
}
