// Package scanner runs document scans through the detection engine and keeps
// the per-user scan history. The engine itself is an external service; this
// package owns the admission (quota), artifact persistence, and bookkeeping
// around a scan.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyFile         = errors.New("uploaded file is empty")
	ErrFileTooLarge      = errors.New("uploaded file exceeds the size limit")
	ErrEngineUnavailable = errors.New("scanning engine unavailable")
	ErrScanNotFound      = errors.New("scan not found")
)

// Verdict is the engine's classification of a document.
type Verdict string

const (
	VerdictBenign    Verdict = "benign"
	VerdictMalicious Verdict = "malicious"
)

// Upload is a document submitted for scanning.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Result is what the engine returns for a single document. Sanitized is nil
// when the engine produced no cleaned copy (unsupported format or nothing to
// strip).
type Result struct {
	Verdict   Verdict
	RiskScore float64
	Signals   map[string]float64
	Sanitized []byte
	Report    json.RawMessage
}

// Engine classifies a document and optionally produces a sanitized copy.
type Engine interface {
	Scan(ctx context.Context, upload Upload) (*Result, error)
}

// Scan is one completed scan in a user's history. ReportKey and SanitizedKey
// address the stored artifacts; SanitizedKey is empty when the engine returned
// no cleaned copy.
type Scan struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Filename     string    `json:"filename"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	SHA256       string    `json:"sha256"`
	Verdict      Verdict   `json:"verdict"`
	RiskScore    float64   `json:"risk_score"`
	ReportKey    string    `json:"-"`
	SanitizedKey string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats aggregates a user's scan history.
type Stats struct {
	TotalScans   int64      `json:"total_scans"`
	Benign       int64      `json:"benign"`
	Malicious    int64      `json:"malicious"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Store persists scan history rows.
type Store interface {
	Insert(ctx context.Context, scan *Scan) error

	// GetByID returns ErrScanNotFound when the scan does not exist or belongs
	// to a different user.
	GetByID(ctx context.Context, userID, scanID uuid.UUID) (*Scan, error)

	// List returns the user's scans newest first.
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Scan, error)

	Stats(ctx context.Context, userID uuid.UUID) (*Stats, error)
}
