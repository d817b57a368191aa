package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/notify"
)

func (h *Handler) handleNotificationList(w http.ResponseWriter, r *http.Request) {
	opts := notify.ListOptions{
		Limit:      queryInt(r, "limit", 0),
		Offset:     queryInt(r, "offset", 0),
		OnlyUnread: r.URL.Query().Get("unread") == "true",
	}

	uid := userID(r)
	items, err := h.notifications.List(r.Context(), uid, opts)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	unread, err := h.notifications.CountUnread(r.Context(), uid)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if items == nil {
		items = []notify.Notification{}
	}
	h.respond(w, r, http.StatusOK, map[string]any{
		"items":  items,
		"unread": unread,
	})
}

type markReadRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func (h *Handler) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(req.IDs) == 0 {
		h.respondError(w, r, fmt.Errorf("%w: ids required", errBadRequest))
		return
	}

	if err := h.notifications.MarkRead(r.Context(), userID(r), req.IDs...); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]bool{"marked": true})
}
