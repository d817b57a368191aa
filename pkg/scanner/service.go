package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/file"
	"github.com/safedocs-io/safedocs/pkg/logger"
	"github.com/safedocs-io/safedocs/pkg/quota"
)

// DefaultMaxUploadBytes caps uploads when no explicit limit is configured.
const DefaultMaxUploadBytes = 25 << 20

// QuotaGate admits scans against the user's plan allowance. Satisfied by
// *quota.Ledger.
type QuotaGate interface {
	CanScan(ctx context.Context, userID uuid.UUID) (quota.Decision, error)
	RecordScanCompleted(ctx context.Context, userID uuid.UUID) error
}

// ScanReport is the outcome of a single scan: the persisted history row plus
// the per-model signals from the engine, which are not stored on the row
// itself.
type ScanReport struct {
	Scan    Scan               `json:"scan"`
	Signals map[string]float64 `json:"signals,omitempty"`
}

// Service runs the scan pipeline: quota admission, engine call, artifact
// persistence, history row, usage increment.
type Service struct {
	engine    Engine
	store     Store
	artifacts file.Storage
	gate      QuotaGate
	maxBytes  int64
	log       *slog.Logger
	now       func() time.Time
}

// NewService panics on nil dependencies because the service cannot operate
// without any of them. maxBytes <= 0 selects DefaultMaxUploadBytes.
func NewService(engine Engine, store Store, artifacts file.Storage, gate QuotaGate, maxBytes int64, log *slog.Logger) *Service {
	if engine == nil || store == nil || artifacts == nil || gate == nil {
		panic("scanner: NewService requires engine, store, artifacts, and gate")
	}
	if log == nil {
		log = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Service{
		engine:    engine,
		store:     store,
		artifacts: artifacts,
		gate:      gate,
		maxBytes:  maxBytes,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Scan admits the upload against the user's quota, runs it through the
// engine, stores the JSON report and any sanitized copy, and records the scan
// in the user's history. Quota rejections surface quota.ErrQuotaExceeded.
func (s *Service) Scan(ctx context.Context, userID uuid.UUID, upload Upload) (*ScanReport, error) {
	if len(upload.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(upload.Data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes over the %d byte limit", ErrFileTooLarge, len(upload.Data), s.maxBytes)
	}

	decision, err := s.gate.CanScan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check quota: %w", err)
	}
	if !decision.Allowed {
		return nil, fmt.Errorf("%w: plan %s at %d/%d", quota.ErrQuotaExceeded, decision.Plan, decision.Used, decision.Limit)
	}

	result, err := s.engine.Scan(ctx, upload)
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", upload.Filename, err)
	}

	sum := sha256.Sum256(upload.Data)
	scan := &Scan{
		ID:          uuid.New(),
		UserID:      userID,
		Filename:    safeFilename(upload.Filename),
		ContentType: upload.ContentType,
		SizeBytes:   int64(len(upload.Data)),
		SHA256:      hex.EncodeToString(sum[:]),
		Verdict:     result.Verdict,
		RiskScore:   result.RiskScore,
		CreatedAt:   s.now(),
	}

	base := fmt.Sprintf("users/%s/scans/%s", userID, scan.ID)
	scan.ReportKey = base + "/report.json"

	report, err := s.buildReport(scan, result)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := s.artifacts.Put(ctx, scan.ReportKey, "application/json", bytes.NewReader(report)); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	if len(result.Sanitized) > 0 {
		scan.SanitizedKey = base + "/sanitized/" + scan.Filename
		if err := s.artifacts.Put(ctx, scan.SanitizedKey, upload.ContentType, bytes.NewReader(result.Sanitized)); err != nil {
			return nil, fmt.Errorf("store sanitized copy: %w", err)
		}
	}

	if err := s.store.Insert(ctx, scan); err != nil {
		return nil, fmt.Errorf("record scan: %w", err)
	}

	if err := s.gate.RecordScanCompleted(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "scan completed but usage increment was rejected",
			logger.UserID(userID), slog.String("scan_id", scan.ID.String()), logger.Error(err))
		return nil, err
	}

	s.log.InfoContext(ctx, "scan completed",
		logger.UserID(userID),
		slog.String("scan_id", scan.ID.String()),
		slog.String("verdict", string(scan.Verdict)),
		slog.Float64("risk_score", scan.RiskScore))

	return &ScanReport{Scan: *scan, Signals: result.Signals}, nil
}

// List returns a page of the user's scan history, newest first. limit is
// clamped to 1..100 with a default of 10; negative offsets read from the
// start.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Scan, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, userID, limit, offset)
}

// Stats returns verdict aggregates over the user's whole history.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	return s.store.Stats(ctx, userID)
}

// Report streams the stored JSON report for one of the user's scans.
func (s *Service) Report(ctx context.Context, userID, scanID uuid.UUID) (io.ReadCloser, error) {
	scan, err := s.store.GetByID(ctx, userID, scanID)
	if err != nil {
		return nil, err
	}
	return s.artifacts.Get(ctx, scan.ReportKey)
}

// SanitizedCopy streams the sanitized artifact for one of the user's scans.
// Returns file.ErrObjectNotFound when the scan produced no cleaned copy.
func (s *Service) SanitizedCopy(ctx context.Context, userID, scanID uuid.UUID) (io.ReadCloser, *Scan, error) {
	scan, err := s.store.GetByID(ctx, userID, scanID)
	if err != nil {
		return nil, nil, err
	}
	if scan.SanitizedKey == "" {
		return nil, nil, file.ErrObjectNotFound
	}
	rc, err := s.artifacts.Get(ctx, scan.SanitizedKey)
	if err != nil {
		return nil, nil, err
	}
	return rc, scan, nil
}

// reportDocument is the stored report format. The engine's own report rides
// along untouched so detection details survive schema changes here.
type reportDocument struct {
	Version   int                `json:"version"`
	ScanID    uuid.UUID          `json:"scan_id"`
	Filename  string             `json:"filename"`
	SHA256    string             `json:"sha256"`
	SizeBytes int64              `json:"size_bytes"`
	Verdict   Verdict            `json:"verdict"`
	RiskScore float64            `json:"risk_score"`
	Signals   map[string]float64 `json:"signals,omitempty"`
	Engine    json.RawMessage    `json:"engine,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

func (s *Service) buildReport(scan *Scan, result *Result) ([]byte, error) {
	return json.Marshal(reportDocument{
		Version:   1,
		ScanID:    scan.ID,
		Filename:  scan.Filename,
		SHA256:    scan.SHA256,
		SizeBytes: scan.SizeBytes,
		Verdict:   scan.Verdict,
		RiskScore: scan.RiskScore,
		Signals:   result.Signals,
		Engine:    result.Report,
		CreatedAt: scan.CreatedAt,
	})
}

// safeFilename strips any path components from a client-supplied filename so
// it can be embedded in an artifact key.
func safeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "upload.bin"
	}
	return name
}
