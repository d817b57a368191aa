package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Plan is a subscription tier controlling quota limits.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// planRank orders plans for upgrade/downgrade classification.
var planRank = map[Plan]int{
	PlanFree:       0,
	PlanPro:        1,
	PlanEnterprise: 2,
}

// ParsePlan normalizes a plan name. Returns false for unknown values.
func ParsePlan(s string) (Plan, bool) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	_, ok := planRank[p]
	return p, ok
}

// SubscriptionStatus mirrors the provider's subscription lifecycle states.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// User is the identity anchor. It is owned by the auth subsystem; this core
// only reads it and updates the billing-related columns during reconciliation.
type User struct {
	ID                 uuid.UUID
	Email              string // unique, stored lowercase
	Plan               Plan
	ProviderCustomerID string // empty until first checkout
	ProviderSubID      string // empty without an active provider subscription
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Subscription is the local view of a user's entitlement, one row per user.
// Mutated exclusively by the Reconciler (plan fields) and the quota ledger
// (usage fields).
type Subscription struct {
	UserID             uuid.UUID
	Plan               Plan
	Status             SubscriptionStatus
	ProviderSubID      string
	ProviderPriceID    string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	ScanLimit          int64 // -1 = unlimited
	ScansUsed          int64
	LastResetAt        time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time // set iff reconciled onto FREE with no provider subscription
	SnapshotAt         time.Time  // timestamp of the event that produced this snapshot
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsCanceled reports whether the subscription has been reconciled onto the
// canceled state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// WebhookLog is the append-only audit and dedupe record for inbound provider
// events. A row exists before any side effect runs; rows are never deleted.
type WebhookLog struct {
	ID            int64
	Provider      string
	EventID       string // provider event id, the idempotency key
	EventType     string
	Payload       []byte
	Processed     bool
	ProcessedAt   *time.Time
	Error         string
	DeliveryCount int // total deliveries observed, >1 means duplicates arrived
	CreatedAt     time.Time
}

// Transition classifies a reconciliation outcome for user-facing messaging.
type Transition string

const (
	TransitionUpgrade      Transition = "upgrade"
	TransitionDowngrade    Transition = "downgrade"
	TransitionRenewal      Transition = "renewal"
	TransitionCancellation Transition = "cancellation"
)

// classifyTransition derives the transition kind from the old and new
// plan/status pair. Cancellation wins over plan movement so a PRO subscription
// deleted by the provider reads as a cancellation, not a downgrade.
func classifyTransition(from Plan, to Plan, toStatus SubscriptionStatus) Transition {
	if toStatus == StatusCanceled {
		return TransitionCancellation
	}
	switch {
	case planRank[to] > planRank[from]:
		return TransitionUpgrade
	case planRank[to] < planRank[from]:
		return TransitionDowngrade
	default:
		return TransitionRenewal
	}
}

// PaymentStatus is the lifecycle of a payment ledger entry.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCanceled  PaymentStatus = "canceled"
)

// CanTransitionTo enforces that payment rows only move forward from PENDING.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case PaymentPending:
		return next == PaymentSucceeded || next == PaymentFailed ||
			next == PaymentRefunded || next == PaymentCanceled
	case PaymentSucceeded:
		return next == PaymentRefunded
	default:
		return false
	}
}

// Payment is an immutable ledger entry for a billing transaction.
type Payment struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Provider          string
	ProviderPaymentID string
	AmountCents       int64
	Currency          string
	Status            PaymentStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
