package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/logger"
)

// Dispatcher routes a normalized event to its handler. Subscription-shaped
// events flow into the Reconciler; payment events only touch the payment
// ledger; unknown kinds are accepted and logged without any state change.
type Dispatcher struct {
	reconciler *Reconciler
	resolver   *Resolver
	users      UserStore
	payments   PaymentStore
	provider   string
	log        *slog.Logger
}

func NewDispatcher(reconciler *Reconciler, resolver *Resolver, users UserStore, payments PaymentStore, providerName string, log *slog.Logger) *Dispatcher {
	if reconciler == nil || resolver == nil || users == nil {
		panic("billing: dispatcher requires reconciler, resolver, and user store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		reconciler: reconciler,
		resolver:   resolver,
		users:      users,
		payments:   payments,
		provider:   providerName,
		log:        log,
	}
}

// Dispatch handles one event. Errors other than "nothing to do" propagate so
// ingress can surface them to the provider's retry channel.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	switch ev.Kind {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated:
		ref, err := d.userRef(ctx, ev)
		if err != nil {
			return err
		}
		_, err = d.reconciler.Reconcile(ctx, Target{
			UserRef:            ref,
			Plan:               d.resolver.Resolve(ctx, ev.PriceID, ev.MetadataPlan),
			ProviderCustomerID: ev.CustomerID,
			ProviderSubID:      ev.SubscriptionID,
			ProviderPriceID:    ev.PriceID,
			CurrentPeriodStart: ev.CurrentPeriodStart,
			CurrentPeriodEnd:   ev.CurrentPeriodEnd,
			CancelAtPeriodEnd:  ev.CancelAtPeriodEnd,
			EventAt:            ev.OccurredAt,
		})
		return err

	case EventSubscriptionDeleted:
		ref, err := d.userRef(ctx, ev)
		if err != nil {
			return err
		}
		// Deletion reconciles onto FREE with no provider subscription, which
		// the Reconciler maps to the canceled state.
		_, err = d.reconciler.Reconcile(ctx, Target{
			UserRef:            ref,
			Plan:               PlanFree,
			ProviderCustomerID: ev.CustomerID,
			EventAt:            ev.OccurredAt,
		})
		return err

	case EventPaymentSucceeded, EventPaymentFailed:
		return d.recordPayment(ctx, ev)

	default:
		// Unknown event types are logged but are not an error; the provider
		// ships far more taxonomy than this core consumes.
		d.log.InfoContext(ctx, "ignoring unhandled billing event",
			slog.String("event_type", ev.ProviderEvent),
			logger.EventID(ev.ID),
		)
		return nil
	}
}

// recordPayment appends to the payment ledger. Existing rows only move
// through forward status transitions.
func (d *Dispatcher) recordPayment(ctx context.Context, ev *Event) error {
	if d.payments == nil || ev.PaymentID == "" {
		d.log.DebugContext(ctx, "skipping payment event without ledger target", logger.EventID(ev.ID))
		return nil
	}

	status := PaymentSucceeded
	if ev.Kind == EventPaymentFailed {
		status = PaymentFailed
	}

	existing, err := d.payments.GetByProviderID(ctx, d.provider, ev.PaymentID)
	switch {
	case err == nil:
		if !existing.Status.CanTransitionTo(status) {
			// Replayed or out-of-order payment event; the ledger keeps its
			// terminal state.
			d.log.DebugContext(ctx, "payment status transition not applicable",
				slog.String("payment_id", ev.PaymentID),
				slog.String("from", string(existing.Status)),
				slog.String("to", string(status)),
			)
			return nil
		}
		return d.payments.UpdateStatus(ctx, existing.ID, status)

	case errors.Is(err, ErrPaymentNotFound):
		user, uerr := d.users.GetByCustomerID(ctx, ev.CustomerID)
		if uerr != nil {
			return fmt.Errorf("resolve payment user: %w", uerr)
		}
		return d.payments.Insert(ctx, &Payment{
			ID:                uuid.New(),
			UserID:            user.ID,
			Provider:          d.provider,
			ProviderPaymentID: ev.PaymentID,
			AmountCents:       ev.AmountCents,
			Currency:          ev.Currency,
			Status:            status,
			CreatedAt:         time.Now().UTC(),
		})

	default:
		return fmt.Errorf("load payment: %w", err)
	}
}

// userRef prefers the metadata user reference and falls back to resolving the
// provider customer id.
func (d *Dispatcher) userRef(ctx context.Context, ev *Event) (string, error) {
	if ev.UserRef != "" {
		return ev.UserRef, nil
	}
	if ev.CustomerID == "" {
		return "", fmt.Errorf("%w: event carries neither user reference nor customer id", ErrUserNotFound)
	}
	user, err := d.users.GetByCustomerID(ctx, ev.CustomerID)
	if err != nil {
		return "", err
	}
	return user.ID.String(), nil
}
