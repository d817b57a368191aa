package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/safedocs-io/safedocs/pkg/logger"
	"github.com/safedocs-io/safedocs/pkg/scanner"
)

// maxScanUpload bounds the multipart form in memory before the service's own
// size check runs.
const maxScanUpload = 32 << 20

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxScanUpload); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: invalid multipart form: %v", errBadRequest, err))
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: missing file field: %v", errBadRequest, err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	report, err := h.scans.Scan(r.Context(), userID(r), scanner.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, scanView(report.Scan, report.Signals))
}

func (h *Handler) handleScanList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)

	scans, err := h.scans.List(r.Context(), userID(r), limit, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	items := make([]map[string]any, 0, len(scans))
	for _, sc := range scans {
		items = append(items, scanView(sc, nil))
	}
	h.respond(w, r, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) handleScanStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.scans.Stats(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, stats)
}

func (h *Handler) handleScanReport(w http.ResponseWriter, r *http.Request) {
	scanID, err := uuid.Parse(chi.URLParam(r, "scanID"))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: invalid scan id", errBadRequest))
		return
	}

	rc, err := h.scans.Report(r.Context(), userID(r), scanID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if _, err := io.Copy(w, rc); err != nil {
		h.log.ErrorContext(r.Context(), "failed to stream scan report", logger.Error(err))
	}
}

func (h *Handler) handleScanDownload(w http.ResponseWriter, r *http.Request) {
	scanID, err := uuid.Parse(chi.URLParam(r, "scanID"))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: invalid scan id", errBadRequest))
		return
	}

	rc, scan, err := h.scans.SanitizedCopy(r.Context(), userID(r), scanID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := scan.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "clean_"+scan.Filename))
	if _, err := io.Copy(w, rc); err != nil {
		h.log.ErrorContext(r.Context(), "failed to stream sanitized file", logger.Error(err))
	}
}

// scanView shapes a scan row for JSON, attaching the artifact links the
// client can fetch next.
func scanView(sc scanner.Scan, signals map[string]float64) map[string]any {
	view := map[string]any{
		"scan_id":    sc.ID,
		"filename":   sc.Filename,
		"verdict":    sc.Verdict,
		"risk_score": sc.RiskScore,
		"size_bytes": sc.SizeBytes,
		"sha256":     sc.SHA256,
		"created_at": sc.CreatedAt,
		"report_url": fmt.Sprintf("/scans/%s/report", sc.ID),
	}
	if sc.SanitizedKey != "" {
		view["download_url"] = fmt.Sprintf("/scans/%s/download", sc.ID)
	}
	if len(signals) > 0 {
		view["signals"] = signals
	}
	return view
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
