// Package quota meters monthly scan usage against plan limits.
//
// The ledger lives on the user's subscription row: scans_used, scan_limit,
// and last_reset_at. Rollover is lazy, there is no scheduled job; the first
// read in a new calendar month resets the counter through a compare-and-set
// on last_reset_at, so concurrent readers perform at most one reset.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/logger"
)

// Usage is the quota view of a user's subscription row.
type Usage struct {
	UserID      uuid.UUID
	Plan        billing.Plan
	ScanLimit   int64 // -1 = unlimited
	ScansUsed   int64
	LastResetAt time.Time
}

// UsageStore persists usage counters. The postgres implementation backs all
// three operations with single guarded statements so concurrent callers
// cannot break the scans_used <= scan_limit invariant.
type UsageStore interface {
	// Usage returns ErrUsageNotFound when the user has no subscription row.
	Usage(ctx context.Context, userID uuid.UUID) (*Usage, error)

	// EnsureUsage creates a default usage row for a never-reconciled user.
	// It is a no-op when a row already exists.
	EnsureUsage(ctx context.Context, userID uuid.UUID, scanLimit int64, resetAt time.Time) error

	// ResetUsage zeroes scans_used and moves last_reset_at to resetAt, but
	// only if last_reset_at still equals expected. Reports whether this call
	// performed the reset.
	ResetUsage(ctx context.Context, userID uuid.UUID, expected, resetAt time.Time) (bool, error)

	// IncrementUsage adds one to scans_used if the limit allows it (unlimited
	// or scans_used < scan_limit). Reports whether the increment happened.
	IncrementUsage(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Plan      billing.Plan
	Used      int64
	Limit     int64 // -1 = unlimited
	Unlimited bool
	ResetsAt  time.Time // start of the next calendar month, UTC
}

// Ledger answers quota questions and records completed scans.
type Ledger struct {
	store   UsageStore
	catalog *billing.Catalog
	log     *slog.Logger
	now     func() time.Time
}

func NewLedger(store UsageStore, catalog *billing.Catalog, log *slog.Logger) *Ledger {
	if store == nil || catalog == nil {
		panic("quota: ledger requires usage store and catalog")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		store:   store,
		catalog: catalog,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CanScan reports whether the user may run another scan this month. It never
// mutates the counter; callers record usage after the scan completes.
func (l *Ledger) CanScan(ctx context.Context, userID uuid.UUID) (Decision, error) {
	u, err := l.load(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Plan:      u.Plan,
		Used:      u.ScansUsed,
		Limit:     u.ScanLimit,
		Unlimited: u.ScanLimit == billing.UnlimitedScans,
		ResetsAt:  startOfNextMonth(l.now()),
	}
	d.Allowed = d.Unlimited || u.ScansUsed < u.ScanLimit
	return d, nil
}

// RecordScanCompleted charges one scan to the user. The increment is guarded
// in the store, so two racing calls at used = limit-1 admit exactly one.
func (l *Ledger) RecordScanCompleted(ctx context.Context, userID uuid.UUID) error {
	u, err := l.load(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := l.store.IncrementUsage(ctx, userID)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: plan %s at %d/%d", ErrQuotaExceeded, u.Plan, u.ScansUsed, u.ScanLimit)
	}
	return nil
}

// load reads the usage row, creating free-plan defaults for users that have
// never been reconciled and applying the lazy monthly rollover.
func (l *Ledger) load(ctx context.Context, userID uuid.UUID) (*Usage, error) {
	u, err := l.store.Usage(ctx, userID)
	if errors.Is(err, ErrUsageNotFound) {
		now := l.now()
		if err := l.store.EnsureUsage(ctx, userID, l.catalog.ScanLimit(billing.PlanFree), now); err != nil {
			return nil, fmt.Errorf("ensure usage: %w", err)
		}
		u, err = l.store.Usage(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	now := l.now()
	if monthBefore(u.LastResetAt, now) {
		applied, err := l.store.ResetUsage(ctx, userID, u.LastResetAt, now)
		if err != nil {
			return nil, fmt.Errorf("reset usage: %w", err)
		}
		if applied {
			l.log.InfoContext(ctx, "monthly quota reset",
				logger.UserID(userID),
				logger.Plan(u.Plan),
				slog.Time("previous_reset", u.LastResetAt),
			)
		}
		// The CAS loser re-reads the row the winner already reset.
		u, err = l.store.Usage(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	return u, nil
}

// monthBefore reports whether a's calendar (year, month) in UTC is strictly
// earlier than b's. Comparing (year, month) instead of elapsed time keeps
// resets aligned to month boundaries no matter when in the month the
// subscription started, and the strict ordering keeps last_reset_at
// monotonic: a row stamped ahead of this instance's clock never rolls back.
func monthBefore(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay < by || (ay == by && am < bm)
}

func startOfNextMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
