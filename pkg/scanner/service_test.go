package scanner_test

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safedocs-io/safedocs/pkg/file"
	"github.com/safedocs-io/safedocs/pkg/quota"
	"github.com/safedocs-io/safedocs/pkg/scanner"
)

type stubEngine struct {
	result *scanner.Result
	err    error
	calls  int
}

func (e *stubEngine) Scan(ctx context.Context, upload scanner.Upload) (*scanner.Result, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

type memScanStore struct {
	mu    sync.Mutex
	scans map[uuid.UUID][]scanner.Scan
}

func newMemScanStore() *memScanStore {
	return &memScanStore{scans: make(map[uuid.UUID][]scanner.Scan)}
}

func (s *memScanStore) Insert(ctx context.Context, scan *scanner.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[scan.UserID] = append(s.scans[scan.UserID], *scan)
	return nil
}

func (s *memScanStore) GetByID(ctx context.Context, userID, scanID uuid.UUID) (*scanner.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scan := range s.scans[userID] {
		if scan.ID == scanID {
			cp := scan
			return &cp, nil
		}
	}
	return nil, scanner.ErrScanNotFound
}

func (s *memScanStore) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]scanner.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append([]scanner.Scan(nil), s.scans[userID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *memScanStore) Stats(ctx context.Context, userID uuid.UUID) (*scanner.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &scanner.Stats{}
	for _, scan := range s.scans[userID] {
		stats.TotalScans++
		switch scan.Verdict {
		case scanner.VerdictBenign:
			stats.Benign++
		case scanner.VerdictMalicious:
			stats.Malicious++
		}
		if stats.LastActivity == nil || scan.CreatedAt.After(*stats.LastActivity) {
			at := scan.CreatedAt
			stats.LastActivity = &at
		}
	}
	return stats, nil
}

type stubGate struct {
	mu        sync.Mutex
	decision  quota.Decision
	canErr    error
	recordErr error
	recorded  int
}

func (g *stubGate) CanScan(ctx context.Context, userID uuid.UUID) (quota.Decision, error) {
	return g.decision, g.canErr
}

func (g *stubGate) RecordScanCompleted(ctx context.Context, userID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.recordErr != nil {
		return g.recordErr
	}
	g.recorded++
	return nil
}

type scanFixture struct {
	service   *scanner.Service
	engine    *stubEngine
	store     *memScanStore
	gate      *stubGate
	artifacts file.Storage
}

func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()

	artifacts, err := file.NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	f := &scanFixture{
		engine: &stubEngine{result: &scanner.Result{
			Verdict:   scanner.VerdictBenign,
			RiskScore: 0.05,
			Signals:   map[string]float64{"lgbm": 0.02},
			Report:    json.RawMessage(`{"engine":"v3"}`),
		}},
		store:     newMemScanStore(),
		gate:      &stubGate{decision: quota.Decision{Allowed: true, Used: 1, Limit: 100}},
		artifacts: artifacts,
	}
	f.service = scanner.NewService(f.engine, f.store, f.artifacts, f.gate, 0, nil)
	return f
}

func TestService_Scan(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t)
	f.engine.result.Sanitized = []byte("cleaned")
	userID := uuid.New()

	report, err := f.service.Scan(context.Background(), userID, scanner.Upload{
		Filename:    "invoice.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.7 payload"),
	})
	require.NoError(t, err)

	assert.Equal(t, scanner.VerdictBenign, report.Scan.Verdict)
	assert.Equal(t, "invoice.pdf", report.Scan.Filename)
	assert.Equal(t, int64(16), report.Scan.SizeBytes)
	assert.Len(t, report.Scan.SHA256, 64)
	assert.Equal(t, 1, f.gate.recorded)

	// The stored report carries the engine's own payload.
	rc, err := f.service.Report(context.Background(), userID, report.Scan.ID)
	require.NoError(t, err)
	defer rc.Close()
	var doc map[string]any
	require.NoError(t, json.NewDecoder(rc).Decode(&doc))
	assert.Equal(t, "benign", doc["verdict"])
	assert.Equal(t, "invoice.pdf", doc["filename"])

	clean, scan, err := f.service.SanitizedCopy(context.Background(), userID, report.Scan.ID)
	require.NoError(t, err)
	defer clean.Close()
	data, err := io.ReadAll(clean)
	require.NoError(t, err)
	assert.Equal(t, []byte("cleaned"), data)
	assert.Equal(t, report.Scan.ID, scan.ID)
}

func TestService_Scan_QuotaRejected(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t)
	f.gate.decision = quota.Decision{Allowed: false, Used: 3, Limit: 3}

	_, err := f.service.Scan(context.Background(), uuid.New(), scanner.Upload{
		Filename: "a.pdf",
		Data:     []byte("x"),
	})
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Zero(t, f.engine.calls, "rejected uploads must not reach the engine")
}

func TestService_Scan_UsageRaceRejectsScan(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t)
	f.gate.recordErr = quota.ErrQuotaExceeded

	_, err := f.service.Scan(context.Background(), uuid.New(), scanner.Upload{
		Filename: "a.pdf",
		Data:     []byte("x"),
	})
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
}

func TestService_Scan_UploadValidation(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t)
	userID := uuid.New()

	_, err := f.service.Scan(context.Background(), userID, scanner.Upload{Filename: "a.pdf"})
	require.ErrorIs(t, err, scanner.ErrEmptyFile)

	small := scanner.NewService(f.engine, f.store, f.artifacts, f.gate, 4, nil)
	_, err = small.Scan(context.Background(), userID, scanner.Upload{
		Filename: "a.pdf",
		Data:     []byte("five!"),
	})
	require.ErrorIs(t, err, scanner.ErrFileTooLarge)
}

func TestService_Scan_EngineFailure(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t)
	f.engine.err = scanner.ErrEngineUnavailable

	_, err := f.service.Scan(context.Background(), uuid.New(), scanner.Upload{
		Filename: "a.pdf",
		Data:     []byte("x"),
	})
	require.ErrorIs(t, err, scanner.ErrEngineUnavailable)
	assert.Zero(t, f.gate.recorded, "failed scans must not consume quota")
}

func TestService_Scan_StripsPathFromFilename(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t)

	report, err := f.service.Scan(context.Background(), uuid.New(), scanner.Upload{
		Filename: "../../etc/passwd",
		Data:     []byte("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, "passwd", report.Scan.Filename)
}

func TestService_ListAndStats(t *testing.T) {
	t.Parallel()

	f := newScanFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	for i, verdict := range []scanner.Verdict{scanner.VerdictBenign, scanner.VerdictMalicious, scanner.VerdictBenign} {
		require.NoError(t, f.store.Insert(ctx, &scanner.Scan{
			ID:        uuid.New(),
			UserID:    userID,
			Filename:  "doc.pdf",
			Verdict:   verdict,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	scans, err := f.service.List(ctx, userID, 2, 0)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.True(t, scans[0].CreatedAt.After(scans[1].CreatedAt))

	// Out-of-range limits are clamped rather than rejected.
	scans, err = f.service.List(ctx, userID, -1, 0)
	require.NoError(t, err)
	assert.Len(t, scans, 3)

	stats, err := f.service.Stats(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalScans)
	assert.Equal(t, int64(2), stats.Benign)
	assert.Equal(t, int64(1), stats.Malicious)
	require.NotNil(t, stats.LastActivity)
	assert.Equal(t, base.Add(2*time.Hour), *stats.LastActivity)
}
