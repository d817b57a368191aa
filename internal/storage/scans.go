package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safedocs-io/safedocs/pkg/pg"
	"github.com/safedocs-io/safedocs/pkg/scanner"
)

var _ scanner.Store = (*ScanStore)(nil)

// ScanStore persists the scan history.
type ScanStore struct {
	pool *pgxpool.Pool
}

func NewScanStore(pool *pgxpool.Pool) *ScanStore {
	return &ScanStore{pool: pool}
}

func (s *ScanStore) Insert(ctx context.Context, scan *scanner.Scan) error {
	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scans (id, user_id, filename, content_type, size_bytes, sha256,
		                   verdict, risk_score, report_key, sanitized_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		scan.ID, scan.UserID, scan.Filename, scan.ContentType, scan.SizeBytes, scan.SHA256,
		scan.Verdict, scan.RiskScore, scan.ReportKey, scan.SanitizedKey, scan.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

func (s *ScanStore) GetByID(ctx context.Context, userID, scanID uuid.UUID) (*scanner.Scan, error) {
	var sc scanner.Scan
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, filename, content_type, size_bytes, sha256,
		       verdict, risk_score, report_key, sanitized_key, created_at
		FROM scans
		WHERE id = $1 AND user_id = $2`, scanID, userID,
	).Scan(
		&sc.ID, &sc.UserID, &sc.Filename, &sc.ContentType, &sc.SizeBytes, &sc.SHA256,
		&sc.Verdict, &sc.RiskScore, &sc.ReportKey, &sc.SanitizedKey, &sc.CreatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, scanner.ErrScanNotFound
		}
		return nil, fmt.Errorf("query scan: %w", err)
	}
	return &sc, nil
}

func (s *ScanStore) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]scanner.Scan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, filename, content_type, size_bytes, sha256,
		       verdict, risk_score, report_key, sanitized_key, created_at
		FROM scans
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var out []scanner.Scan
	for rows.Next() {
		var sc scanner.Scan
		if err := rows.Scan(
			&sc.ID, &sc.UserID, &sc.Filename, &sc.ContentType, &sc.SizeBytes, &sc.SHA256,
			&sc.Verdict, &sc.RiskScore, &sc.ReportKey, &sc.SanitizedKey, &sc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return out, nil
}

// Stats aggregates verdict counts and the most recent activity in one query.
func (s *ScanStore) Stats(ctx context.Context, userID uuid.UUID) (*scanner.Stats, error) {
	var stats scanner.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE verdict = $2),
		       count(*) FILTER (WHERE verdict = $3),
		       max(created_at)
		FROM scans
		WHERE user_id = $1`,
		userID, scanner.VerdictBenign, scanner.VerdictMalicious,
	).Scan(&stats.TotalScans, &stats.Benign, &stats.Malicious, &stats.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	return &stats, nil
}
