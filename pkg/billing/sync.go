package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Syncer is the pull-based correction path: it fetches the user's current
// subscription from the provider and feeds it through the same Reconciler the
// webhook path uses. All idempotence, ordering, and serialization guarantees
// live in the Reconciler, so Sync is safe to call repeatedly and concurrently
// with webhook delivery.
type Syncer struct {
	users      UserStore
	fetcher    SubscriptionFetcher
	resolver   *Resolver
	reconciler *Reconciler
	timeout    time.Duration
	group      singleflight.Group
	log        *slog.Logger
	now        func() time.Time
}

// NewSyncer wires manual sync. timeout bounds the outbound provider call; it
// is applied before the reconciler's per-user lock is taken, so a slow
// provider never blocks other reconciliation work for the user.
func NewSyncer(users UserStore, fetcher SubscriptionFetcher, resolver *Resolver, reconciler *Reconciler, timeout time.Duration, log *slog.Logger) *Syncer {
	if users == nil || fetcher == nil || resolver == nil || reconciler == nil {
		panic("billing: syncer requires user store, fetcher, resolver, and reconciler")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{
		users:      users,
		fetcher:    fetcher,
		resolver:   resolver,
		reconciler: reconciler,
		timeout:    timeout,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sync re-derives the user's subscription state from the provider. Concurrent
// calls for the same user share a single provider fetch. The shared fetch runs
// detached from any one caller's context: the provider timeout still bounds
// it, but the first caller hanging up must not fail every collapsed call.
func (s *Syncer) Sync(ctx context.Context, userID uuid.UUID) (ReconcileResult, error) {
	detached := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(userID.String(), func() (any, error) {
		return s.sync(detached, userID)
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return v.(ReconcileResult), nil
}

func (s *Syncer) sync(ctx context.Context, userID uuid.UUID) (ReconcileResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return ReconcileResult{}, err
	}

	// Pull observations carry the fetch time as their snapshot timestamp:
	// they describe current provider state, so they outrank any older queued
	// webhook under last-writer-wins.
	observedAt := s.now()

	target := Target{
		UserRef: user.ID.String(),
		Plan:    PlanFree,
		EventAt: observedAt,
	}

	if user.ProviderCustomerID != "" {
		fctx, cancel := context.WithTimeout(ctx, s.timeout)
		sub, ferr := s.fetcher.ActiveSubscription(fctx, user.ProviderCustomerID)
		cancel()
		if ferr != nil {
			if errors.Is(ferr, context.DeadlineExceeded) || errors.Is(ferr, context.Canceled) {
				return ReconcileResult{}, errors.Join(ErrProviderUnavailable, ferr)
			}
			return ReconcileResult{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, ferr)
		}

		if sub != nil {
			target = Target{
				UserRef:            user.ID.String(),
				Plan:               s.resolver.Resolve(ctx, sub.PriceID, sub.MetadataPlan),
				ProviderCustomerID: user.ProviderCustomerID,
				ProviderSubID:      sub.SubscriptionID,
				ProviderPriceID:    sub.PriceID,
				CurrentPeriodStart: sub.CurrentPeriodStart,
				CurrentPeriodEnd:   sub.CurrentPeriodEnd,
				CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
				EventAt:            observedAt,
			}
		} else {
			// No active subscription at the provider: reconcile onto
			// FREE/no-subscription, the same state a deletion event produces.
			target.ProviderCustomerID = user.ProviderCustomerID
		}
	}

	return s.reconciler.Reconcile(ctx, target)
}
