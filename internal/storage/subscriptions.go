package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/pg"
	"github.com/safedocs-io/safedocs/pkg/quota"
)

var (
	_ billing.SubscriptionStore = (*SubscriptionStore)(nil)
	_ quota.UsageStore          = (*SubscriptionStore)(nil)
)

// SubscriptionStore persists subscription snapshots and the usage counters
// that live on the same row. It implements both billing.SubscriptionStore and
// quota.UsageStore: the reconciler owns the plan columns, the quota ledger
// owns scans_used and last_reset_at, and neither side touches the other's
// columns.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

func (s *SubscriptionStore) Get(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, plan, status, provider_sub_id, provider_price_id,
		       current_period_start, current_period_end,
		       scan_limit, scans_used, last_reset_at,
		       cancel_at_period_end, canceled_at, snapshot_at, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1`, userID,
	).Scan(
		&sub.UserID, &sub.Plan, &sub.Status, &sub.ProviderSubID, &sub.ProviderPriceID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.ScanLimit, &sub.ScansUsed, &sub.LastResetAt,
		&sub.CancelAtPeriodEnd, &sub.CanceledAt, &sub.SnapshotAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("query subscription: %w", err)
	}
	return &sub, nil
}

// ApplySnapshot upserts the subscription row and mirrors the plan columns
// onto the user, in one transaction. The write is guarded by snapshot_at so
// an event older than the stored snapshot changes nothing and reports false.
// Usage counters are deliberately absent from the UPDATE column list.
func (s *SubscriptionStore) ApplySnapshot(ctx context.Context, snap billing.Snapshot) (applied bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var userID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO subscriptions (
			user_id, plan, status, provider_sub_id, provider_price_id,
			current_period_start, current_period_end, scan_limit,
			cancel_at_period_end, canceled_at, snapshot_at, last_reset_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			provider_sub_id = EXCLUDED.provider_sub_id,
			provider_price_id = EXCLUDED.provider_price_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			scan_limit = EXCLUDED.scan_limit,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			canceled_at = EXCLUDED.canceled_at,
			snapshot_at = EXCLUDED.snapshot_at,
			updated_at = now()
		WHERE subscriptions.snapshot_at <= EXCLUDED.snapshot_at
		RETURNING user_id`,
		snap.UserID, snap.Plan, snap.Status, snap.ProviderSubID, snap.ProviderPriceID,
		snap.CurrentPeriodStart, snap.CurrentPeriodEnd, snap.ScanLimit,
		snap.CancelAtPeriodEnd, snap.CanceledAt, snap.SnapshotAt,
	).Scan(&userID)
	if err != nil {
		if pg.IsNotFoundError(err) {
			// Stale snapshot, the guard suppressed the write.
			return false, nil
		}
		return false, fmt.Errorf("upsert subscription: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET
			plan = $2,
			provider_customer_id = CASE WHEN $3 <> '' THEN $3 ELSE provider_customer_id END,
			provider_sub_id = $4,
			updated_at = now()
		WHERE id = $1`,
		snap.UserID, snap.Plan, snap.ProviderCustomerID, snap.ProviderSubID)
	if err != nil {
		return false, fmt.Errorf("mirror plan onto user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit snapshot transaction: %w", err)
	}
	return true, nil
}

func (s *SubscriptionStore) Usage(ctx context.Context, userID uuid.UUID) (*quota.Usage, error) {
	var u quota.Usage
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, plan, scan_limit, scans_used, last_reset_at
		FROM subscriptions
		WHERE user_id = $1`, userID,
	).Scan(&u.UserID, &u.Plan, &u.ScanLimit, &u.ScansUsed, &u.LastResetAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, quota.ErrUsageNotFound
		}
		return nil, fmt.Errorf("query usage: %w", err)
	}
	return &u, nil
}

// EnsureUsage inserts a default free-tier row for a user the reconciler has
// never touched. snapshot_at stays at the epoch default so any real billing
// event supersedes the placeholder.
func (s *SubscriptionStore) EnsureUsage(ctx context.Context, userID uuid.UUID, scanLimit int64, resetAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (user_id, plan, status, scan_limit, last_reset_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, billing.PlanFree, billing.StatusCanceled, scanLimit, resetAt)
	if err != nil {
		return fmt.Errorf("ensure usage row: %w", err)
	}
	return nil
}

// ResetUsage performs the monthly rollover as a compare-and-set on
// last_reset_at, so concurrent callers agree on a single winner.
func (s *SubscriptionStore) ResetUsage(ctx context.Context, userID uuid.UUID, expected, resetAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET scans_used = 0, last_reset_at = $3, updated_at = now()
		WHERE user_id = $1 AND last_reset_at = $2`,
		userID, expected, resetAt)
	if err != nil {
		return false, fmt.Errorf("reset usage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementUsage adds one scan iff the plan still allows it. The limit check
// lives in the WHERE clause so concurrent scans cannot overshoot.
func (s *SubscriptionStore) IncrementUsage(ctx context.Context, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET scans_used = scans_used + 1, updated_at = now()
		WHERE user_id = $1 AND (scan_limit = -1 OR scans_used < scan_limit)`,
		userID)
	if err != nil {
		return false, fmt.Errorf("increment usage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
