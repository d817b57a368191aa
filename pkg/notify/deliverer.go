package notify

import "context"

// Deliverer pushes a stored notification through an external channel (email,
// websocket). Failures are logged by the caller and never propagate into the
// flow that produced the notification.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// NoOpDeliverer discards notifications after storage.
type NoOpDeliverer struct{}

func (NoOpDeliverer) Deliver(context.Context, Notification) error { return nil }
