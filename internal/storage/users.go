package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/pg"
)

var _ billing.UserStore = (*UserStore)(nil)

// UserStore reads and updates user rows. User creation belongs to the auth
// subsystem; this store only touches the billing-related columns.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `id, email, plan, provider_customer_id, provider_sub_id, created_at, updated_at`

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*billing.User, error) {
	return s.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*billing.User, error) {
	return s.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
}

func (s *UserStore) GetByCustomerID(ctx context.Context, providerCustomerID string) (*billing.User, error) {
	return s.getBy(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider_customer_id = $1 AND provider_customer_id <> ''`,
		providerCustomerID)
}

func (s *UserStore) SetProviderCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET provider_customer_id = $2, updated_at = now() WHERE id = $1`,
		id, customerID)
	if err != nil {
		return fmt.Errorf("set provider customer id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrUserNotFound
	}
	return nil
}

// Create inserts a user row. The billing core never calls this; it exists for
// seeding and for the auth subsystem until it grows its own store.
func (s *UserStore) Create(ctx context.Context, u *billing.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Plan == "" {
		u.Plan = billing.PlanFree
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, plan, provider_customer_id, provider_sub_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.Plan, u.ProviderCustomerID, u.ProviderSubID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("user %s already exists: %w", u.Email, err)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *UserStore) getBy(ctx context.Context, query string, arg any) (*billing.User, error) {
	var u billing.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Plan, &u.ProviderCustomerID, &u.ProviderSubID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}
