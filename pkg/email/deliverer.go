package email

import (
	"context"
	"fmt"
	"html"

	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/notify"
)

// AddressResolver maps a user id to their email address.
type AddressResolver func(ctx context.Context, userID uuid.UUID) (string, error)

// NotificationDeliverer mails stored notifications to their recipient. It
// implements notify.Deliverer; failures bubble up to the emitter which logs
// them without affecting the stored notification.
type NotificationDeliverer struct {
	sender  Sender
	resolve AddressResolver
}

func NewNotificationDeliverer(sender Sender, resolve AddressResolver) *NotificationDeliverer {
	if sender == nil || resolve == nil {
		panic("email: notification deliverer requires sender and address resolver")
	}
	return &NotificationDeliverer{sender: sender, resolve: resolve}
}

var _ notify.Deliverer = (*NotificationDeliverer)(nil)

func (d *NotificationDeliverer) Deliver(ctx context.Context, n notify.Notification) error {
	addr, err := d.resolve(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	return d.sender.Send(ctx, SendParams{
		To:      addr,
		Subject: n.Title,
		BodyHTML: fmt.Sprintf("<h2>%s</h2><p>%s</p>",
			html.EscapeString(n.Title), html.EscapeString(n.Message)),
		Tag: "account-notification",
	})
}
