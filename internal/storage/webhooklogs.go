package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safedocs-io/safedocs/pkg/billing"
	"github.com/safedocs-io/safedocs/pkg/pg"
)

var _ billing.WebhookLogStore = (*WebhookLogStore)(nil)

// WebhookLogStore persists the append-only webhook audit and dedupe log.
// The unique (provider, event_id) index is the idempotency guarantee; a
// racing duplicate insert surfaces as billing.ErrDuplicateEvent.
type WebhookLogStore struct {
	pool *pgxpool.Pool
}

func NewWebhookLogStore(pool *pgxpool.Pool) *WebhookLogStore {
	return &WebhookLogStore{pool: pool}
}

func (s *WebhookLogStore) Get(ctx context.Context, provider, eventID string) (*billing.WebhookLog, error) {
	var l billing.WebhookLog
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider, event_id, event_type, payload,
		       processed, processed_at, error, delivery_count, created_at
		FROM webhook_logs
		WHERE provider = $1 AND event_id = $2`, provider, eventID,
	).Scan(
		&l.ID, &l.Provider, &l.EventID, &l.EventType, &l.Payload,
		&l.Processed, &l.ProcessedAt, &l.Error, &l.DeliveryCount, &l.CreatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrWebhookLogNotFound
		}
		return nil, fmt.Errorf("query webhook log: %w", err)
	}
	return &l, nil
}

func (s *WebhookLogStore) Insert(ctx context.Context, log *billing.WebhookLog) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_logs (provider, event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, delivery_count, created_at`,
		log.Provider, log.EventID, log.EventType, log.Payload,
	).Scan(&log.ID, &log.DeliveryCount, &log.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return billing.ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

func (s *WebhookLogStore) MarkProcessed(ctx context.Context, id int64, procErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_logs
		SET processed = TRUE, processed_at = now(), error = $2
		WHERE id = $1`, id, procErr)
	if err != nil {
		return fmt.Errorf("mark webhook log processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrWebhookLogNotFound
	}
	return nil
}

func (s *WebhookLogStore) RecordError(ctx context.Context, id int64, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_logs SET error = $2 WHERE id = $1`, id, msg)
	if err != nil {
		return fmt.Errorf("record webhook log error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrWebhookLogNotFound
	}
	return nil
}

func (s *WebhookLogStore) RecordDuplicateDelivery(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_logs SET delivery_count = delivery_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("record duplicate delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrWebhookLogNotFound
	}
	return nil
}
