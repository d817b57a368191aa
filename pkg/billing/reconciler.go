package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/logger"
)

// Target is an externally-reported subscription snapshot to merge into local
// state. Webhook handlers and Manual Sync both produce Targets; the Reconciler
// does not care which path an event arrived on.
type Target struct {
	UserRef            string // internal user id or case-insensitive email
	Plan               Plan
	ProviderCustomerID string
	ProviderSubID      string // empty means no provider subscription
	ProviderPriceID    string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	EventAt            time.Time // the event's own reported timestamp
}

// ReconcileResult reports what a reconciliation did.
type ReconcileResult struct {
	Changed    bool
	From       Plan
	To         Plan
	Transition Transition
}

// Reconciler merges provider-reported subscription snapshots into the local
// store under idempotence and ordering guarantees:
//
//   - no-op detection: a target identical to the stored snapshot writes
//     nothing and notifies nobody, which makes replays of the same logical
//     event idempotent across delivery paths;
//   - last-writer-wins on the event's own timestamp, so a stale update that
//     arrives after a newer deletion cannot resurrect a canceled subscription;
//   - per-user serialization via an in-process lock plus a conditional write
//     in the store, so concurrent webhook and sync calls cannot interleave.
type Reconciler struct {
	users    UserStore
	subs     SubscriptionStore
	catalog  *Catalog
	notifier TransitionNotifier
	locks    *keyedMutex
	log      *slog.Logger
	now      func() time.Time
}

// NewReconciler wires the reconciliation core. A nil notifier disables
// notifications; a nil logger falls back to slog.Default.
func NewReconciler(users UserStore, subs SubscriptionStore, catalog *Catalog, notifier TransitionNotifier, log *slog.Logger) *Reconciler {
	if users == nil || subs == nil || catalog == nil {
		panic("billing: reconciler requires user store, subscription store, and catalog")
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		users:    users,
		subs:     subs,
		catalog:  catalog,
		notifier: notifier,
		locks:    newKeyedMutex(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile applies the target snapshot if it represents newer and different
// state than what is stored. Stale and identical targets return
// Changed=false with no error.
func (r *Reconciler) Reconcile(ctx context.Context, t Target) (ReconcileResult, error) {
	user, err := r.resolveUser(ctx, t.UserRef)
	if err != nil {
		return ReconcileResult{}, err
	}

	spec, ok := r.catalog.SpecFor(t.Plan)
	if !ok {
		return ReconcileResult{}, fmt.Errorf("%w: %q", ErrUnknownPlan, t.Plan)
	}

	// A user reconciled onto FREE with no provider subscription is canceled;
	// everything else is active from the entitlement point of view.
	status := StatusActive
	if t.Plan == PlanFree && t.ProviderSubID == "" {
		status = StatusCanceled
	}

	unlock := r.locks.Lock(user.ID.String())
	defer unlock()

	cur, err := r.subs.Get(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return ReconcileResult{}, fmt.Errorf("load subscription: %w", err)
	}

	fromPlan := user.Plan
	if cur != nil {
		fromPlan = cur.Plan

		// Last-writer-wins on the event's reported timestamp, not receipt
		// order: an older event than the stored snapshot is dropped here.
		if t.EventAt.Before(cur.SnapshotAt) {
			r.log.DebugContext(ctx, "discarding stale reconciliation target",
				logger.UserID(user.ID),
				slog.Time("event_at", t.EventAt),
				slog.Time("snapshot_at", cur.SnapshotAt),
			)
			return ReconcileResult{Changed: false, From: fromPlan, To: fromPlan}, nil
		}

		if cur.Plan == t.Plan && cur.Status == status &&
			cur.ProviderSubID == t.ProviderSubID && cur.ProviderPriceID == t.ProviderPriceID {
			return ReconcileResult{Changed: false, From: fromPlan, To: t.Plan}, nil
		}
	}

	snap := Snapshot{
		UserID:             user.ID,
		Plan:               t.Plan,
		Status:             status,
		ProviderCustomerID: t.ProviderCustomerID,
		ProviderSubID:      t.ProviderSubID,
		ProviderPriceID:    t.ProviderPriceID,
		ScanLimit:          spec.MonthlyScanLimit,
		CurrentPeriodStart: t.CurrentPeriodStart,
		CurrentPeriodEnd:   t.CurrentPeriodEnd,
		CancelAtPeriodEnd:  t.CancelAtPeriodEnd,
		SnapshotAt:         t.EventAt,
	}
	if status == StatusCanceled {
		now := r.now()
		snap.CanceledAt = &now
	}

	applied, err := r.subs.ApplySnapshot(ctx, snap)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("apply snapshot: %w", err)
	}
	if !applied {
		// The store's conditional write found a newer snapshot; another
		// writer got there first with more recent state.
		r.log.DebugContext(ctx, "snapshot superseded by a newer write", logger.UserID(user.ID))
		return ReconcileResult{Changed: false, From: fromPlan, To: fromPlan}, nil
	}

	tr := classifyTransition(fromPlan, t.Plan, status)
	r.log.InfoContext(ctx, "subscription reconciled",
		logger.UserID(user.ID),
		slog.String("from", string(fromPlan)),
		slog.String("to", string(t.Plan)),
		slog.String("status", string(status)),
		slog.String("transition", string(tr)),
	)

	// Outside the consistency boundary: the emitter is best-effort and must
	// not undo the state transition.
	r.notifier.NotifyPlanTransition(ctx, user.ID, tr, fromPlan, t.Plan)

	return ReconcileResult{Changed: true, From: fromPlan, To: t.Plan, Transition: tr}, nil
}

// resolveUser accepts an internal user id or a case-insensitive email.
func (r *Reconciler) resolveUser(ctx context.Context, ref string) (*User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty user reference", ErrUserNotFound)
	}

	if id, err := uuid.Parse(ref); err == nil {
		return r.users.GetByID(ctx, id)
	}
	return r.users.GetByEmail(ctx, strings.ToLower(ref))
}
