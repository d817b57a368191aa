package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore reads user rows owned by the auth subsystem.
type UserStore interface {
	// GetByID returns ErrUserNotFound when no row exists.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByCustomerID resolves a user from the provider's customer id.
	GetByCustomerID(ctx context.Context, providerCustomerID string) (*User, error)

	// SetProviderCustomerID records the provider customer id created ahead of
	// a first checkout, so later sessions reuse the same customer.
	SetProviderCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}

// Snapshot is the fully-resolved target state the Reconciler applies: the
// user's billing columns and the subscription row, written in one transaction.
type Snapshot struct {
	UserID             uuid.UUID
	Plan               Plan
	Status             SubscriptionStatus
	ProviderCustomerID string
	ProviderSubID      string
	ProviderPriceID    string
	ScanLimit          int64
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time // nil clears any previous cancellation mark
	SnapshotAt         time.Time
}

// SubscriptionStore persists subscription snapshots.
type SubscriptionStore interface {
	// Get returns ErrSubscriptionNotFound when the user has never been
	// reconciled.
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// ApplySnapshot updates the user's billing columns and upserts the
	// subscription row in a single transaction. The write is conditional on
	// snapshot_at: it reports false without modifying anything when the stored
	// snapshot already carries a newer timestamp. Usage counters are never
	// touched.
	ApplySnapshot(ctx context.Context, snap Snapshot) (applied bool, err error)
}

// WebhookLogStore persists the append-only webhook audit/dedupe log.
type WebhookLogStore interface {
	// Get returns ErrWebhookLogNotFound when the (provider, eventID) pair is
	// unknown.
	Get(ctx context.Context, provider, eventID string) (*WebhookLog, error)

	// Insert writes a new log row and fills in its ID. Returns
	// ErrDuplicateEvent when a row for the same (provider, eventID) exists.
	Insert(ctx context.Context, log *WebhookLog) error

	// MarkProcessed flips the processed flag. A non-empty procErr records a
	// terminal handling note (e.g. unresolvable user) alongside acceptance.
	MarkProcessed(ctx context.Context, id int64, procErr string) error

	// RecordError stores a handler failure while leaving the row unprocessed
	// so a provider re-delivery replays it.
	RecordError(ctx context.Context, id int64, msg string) error

	// RecordDuplicateDelivery increments the delivery counter on an existing
	// row, marking a duplicate-accept.
	RecordDuplicateDelivery(ctx context.Context, id int64) error
}

// PaymentStore persists the payment ledger.
type PaymentStore interface {
	// GetByProviderID returns ErrPaymentNotFound when no ledger row exists.
	GetByProviderID(ctx context.Context, provider, providerPaymentID string) (*Payment, error)

	Insert(ctx context.Context, p *Payment) error

	// UpdateStatus enforces forward-only transitions; it returns
	// ErrInvalidPaymentTransition otherwise.
	UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error
}

// TransitionNotifier receives plan-transition outcomes. Implementations must
// be best-effort: delivery sits outside the reconciliation consistency
// boundary and must never fail the state transaction.
type TransitionNotifier interface {
	NotifyPlanTransition(ctx context.Context, userID uuid.UUID, tr Transition, from, to Plan)
}

// NoopNotifier discards transitions. Useful in tests and tools.
type NoopNotifier struct{}

func (NoopNotifier) NotifyPlanTransition(context.Context, uuid.UUID, Transition, Plan, Plan) {}
