package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/pg"
)

var _ billing.PaymentStore = (*PaymentStore)(nil)

// PaymentStore persists the payment ledger.
type PaymentStore struct {
	pool *pgxpool.Pool
}

func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

func (s *PaymentStore) GetByProviderID(ctx context.Context, provider, providerPaymentID string) (*billing.Payment, error) {
	var p billing.Payment
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, provider, provider_payment_id, amount_cents, currency, status,
		       created_at, updated_at
		FROM payments
		WHERE provider = $1 AND provider_payment_id = $2`, provider, providerPaymentID,
	).Scan(
		&p.ID, &p.UserID, &p.Provider, &p.ProviderPaymentID, &p.AmountCents, &p.Currency, &p.Status,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("query payment: %w", err)
	}
	return &p, nil
}

func (s *PaymentStore) Insert(ctx context.Context, p *billing.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO payments (id, user_id, provider, provider_payment_id, amount_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.Provider, p.ProviderPaymentID, p.AmountCents, p.Currency, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("payment %s/%s already recorded: %w", p.Provider, p.ProviderPaymentID, err)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// UpdateStatus enforces the forward-only lifecycle inside a transaction: the
// row is locked, the transition validated in code, then written.
func (s *PaymentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status billing.PaymentStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin payment transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var current billing.PaymentStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM payments WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return billing.ErrPaymentNotFound
		}
		return fmt.Errorf("lock payment: %w", err)
	}

	if !current.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", billing.ErrInvalidPaymentTransition, current, status)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payment transaction: %w", err)
	}
	return nil
}
