package billing

import (
	"context"
	"encoding/json"
	"time"
)

// EventKind is the provider-neutral classification of a webhook event.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout_completed"
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventPaymentFailed       EventKind = "payment_failed"
	EventUnknown             EventKind = "unknown"
)

// Event is a normalized webhook event. Providers map their own taxonomy onto
// this shape; everything downstream of ingress is provider-agnostic.
type Event struct {
	ID            string    // provider event id, the idempotency key
	Kind          EventKind // normalized type
	ProviderEvent string    // original provider event name
	OccurredAt    time.Time // the event's own reported timestamp

	UserRef        string // internal user id or email carried in metadata
	CustomerID     string // provider customer id
	SubscriptionID string // provider subscription id
	PriceID        string // provider price id
	MetadataPlan   string // explicit plan name from metadata, wins in resolution
	Status         string // provider-reported subscription status

	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool

	// Payment fields, set for payment events only.
	PaymentID   string
	AmountCents int64
	Currency    string

	Raw json.RawMessage
}

// CheckoutRequest carries everything a provider needs to open a hosted
// checkout session. Metadata (user ref, plan) must round-trip through the
// provider so the completed-checkout webhook can be attributed.
type CheckoutRequest struct {
	PriceID    string
	CustomerID string // provider customer id, may be empty for a fresh customer
	UserRef    string // internal user id, echoed back in webhook metadata
	Plan       Plan   // echoed back in webhook metadata
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a hosted checkout link.
type CheckoutSession struct {
	URL       string
	SessionID string
}

// PortalSession is a pre-authenticated customer portal link.
type PortalSession struct {
	URL string
}

// ProviderSubscription is the provider's current view of a subscription,
// fetched by Manual Sync.
type ProviderSubscription struct {
	SubscriptionID     string
	CustomerID         string
	PriceID            string
	MetadataPlan       string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
}

// Provider abstracts the billing provider. Implementations own signature
// verification and payload parsing; they must return ErrInvalidSignature
// (wrapped) when verification fails.
type Provider interface {
	Name() string
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error)
}

// SubscriptionFetcher is implemented by providers that can report a customer's
// most recent active subscription on demand. Manual Sync requires it.
type SubscriptionFetcher interface {
	// ActiveSubscription returns nil, nil when the customer has no active or
	// trialing subscription.
	ActiveSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error)
}

// CustomerEnsurer is implemented by providers that create customer records
// ahead of checkout so the session is tied to a stable provider customer id.
type CustomerEnsurer interface {
	EnsureCustomer(ctx context.Context, email, userRef string) (customerID string, err error)
}
