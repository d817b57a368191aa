// Package storage implements the persistence interfaces of the billing,
// quota, notify, and scanner packages on PostgreSQL. Every store shares the
// single pgx pool owned by pkg/pg and maps driver errors onto the owning
// package's sentinels.
package storage

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores bundles every PostgreSQL-backed store over one pool.
type Stores struct {
	Users         *UserStore
	Subscriptions *SubscriptionStore
	WebhookLogs   *WebhookLogStore
	Payments      *PaymentStore
	Notifications *NotificationStore
	Scans         *ScanStore
}

// New wires all stores onto the shared pool.
func New(pool *pgxpool.Pool) *Stores {
	return &Stores{
		Users:         NewUserStore(pool),
		Subscriptions: NewSubscriptionStore(pool),
		WebhookLogs:   NewWebhookLogStore(pool),
		Payments:      NewPaymentStore(pool),
		Notifications: NewNotificationStore(pool),
		Scans:         NewScanStore(pool),
	}
}
