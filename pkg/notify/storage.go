package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotificationNotFound marks a missing notification row.
var ErrNotificationNotFound = errors.New("notification not found")

// Storage persists notifications.
type Storage interface {
	Create(ctx context.Context, n Notification) error

	// List returns the user's notifications, newest first.
	List(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]Notification, error)

	// MarkRead marks the given notifications as read. Ids belonging to other
	// users are ignored.
	MarkRead(ctx context.Context, userID uuid.UUID, ids ...uuid.UUID) error

	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// ListOptions filters and paginates notification listings.
type ListOptions struct {
	Limit      int // 0 = store default
	Offset     int
	OnlyUnread bool
}
