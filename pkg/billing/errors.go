package billing

import "errors"

var (
	// ErrInvalidSignature means the webhook signature did not verify.
	// Nothing is persisted and nothing is processed.
	ErrInvalidSignature = errors.New("webhook signature verification failed")

	// ErrDuplicateEvent marks a webhook event id that already has a log row.
	ErrDuplicateEvent = errors.New("webhook event already recorded")

	// ErrUserNotFound means an event referenced a user this service cannot
	// resolve. Re-delivery alone cannot fix it, so ingress accepts the event.
	ErrUserNotFound = errors.New("user not found")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrWebhookLogNotFound   = errors.New("webhook log not found")
	ErrPaymentNotFound      = errors.New("payment not found")

	// ErrUnknownPlan means a reconcile target named a plan absent from the
	// catalog; resolution should have normalized it before this point.
	ErrUnknownPlan = errors.New("plan not present in catalog")

	// ErrPlanNotPurchasable means the plan has no provider price id, so no
	// checkout session can be created for it.
	ErrPlanNotPurchasable = errors.New("plan has no provider price configured")

	// ErrProviderUnavailable wraps network or timeout failures talking to the
	// billing provider. Callers may retry.
	ErrProviderUnavailable = errors.New("billing provider unavailable")

	ErrInvalidCatalog = errors.New("invalid plan catalog configuration")

	// ErrNoBillingAccount means the user has no provider customer record yet,
	// so no portal session can be opened for them.
	ErrNoBillingAccount = errors.New("user has no billing account")

	// ErrInvalidPaymentTransition guards the payment ledger's forward-only
	// status transitions.
	ErrInvalidPaymentTransition = errors.New("invalid payment status transition")
)
