package notify

import (
	"time"

	"github.com/google/uuid"
)

// Type is the notification severity shown in the UI.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
)

// Notification is an in-app message about an account event. A row is written
// at most once per triggering event; delivery beyond storage is best-effort.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Type      Type       `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// MarkAsRead flips the read flag with the current timestamp.
func (n *Notification) MarkAsRead() {
	n.Read = true
	now := time.Now().UTC()
	n.ReadAt = &now
}
