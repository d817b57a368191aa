package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// EngineConfig configures the HTTP client for the detection engine.
type EngineConfig struct {
	BaseURL string        `env:"SCAN_ENGINE_URL,required"`
	APIKey  string        `env:"SCAN_ENGINE_API_KEY"`
	Timeout time.Duration `env:"SCAN_ENGINE_TIMEOUT" envDefault:"60s"`
}

// HTTPEngine talks to the detection engine over HTTP. Each scan uploads the
// document as multipart form data and reads back the verdict, risk score, and
// an optional sanitized copy.
type HTTPEngine struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPEngine validates the configuration and returns an engine client.
// The timeout bounds the whole request, upload included.
func NewHTTPEngine(cfg EngineConfig) (*HTTPEngine, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("scanner: engine base URL is required")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("scanner: invalid engine base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &HTTPEngine{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// NewHTTPEngineWithClient returns an engine client using a custom HTTP
// client, typically for tests.
func NewHTTPEngineWithClient(cfg EngineConfig, client *http.Client) (*HTTPEngine, error) {
	eng, err := NewHTTPEngine(cfg)
	if err != nil {
		return nil, err
	}
	if client != nil {
		eng.client = client
	}
	return eng, nil
}

// engineResponse is the engine's scan payload. Sanitized is base64 in the
// wire format; encoding/json decodes it into the byte slice.
type engineResponse struct {
	Verdict   string             `json:"verdict"`
	RiskScore float64            `json:"risk_score"`
	Signals   map[string]float64 `json:"model_scores"`
	Sanitized []byte             `json:"sanitized,omitempty"`
	Report    json.RawMessage    `json:"report,omitempty"`
}

// Scan uploads the document to the engine and normalizes its response.
// Transport failures and non-2xx statuses are reported as
// ErrEngineUnavailable so callers can distinguish engine trouble from a
// rejected document.
func (e *HTTPEngine) Scan(ctx context.Context, upload Upload) (*Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", upload.Filename)
	if err != nil {
		return nil, fmt.Errorf("scanner: build multipart body: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, fmt.Errorf("scanner: build multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("scanner: build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/scan", &body)
	if err != nil {
		return nil, fmt.Errorf("scanner: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body so the error is diagnosable.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: engine returned %d: %s", ErrEngineUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload engineResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrEngineUnavailable, err)
	}

	return &Result{
		Verdict:   normalizeVerdict(payload.Verdict, payload.RiskScore),
		RiskScore: payload.RiskScore,
		Signals:   payload.Signals,
		Sanitized: payload.Sanitized,
		Report:    payload.Report,
	}, nil
}

// normalizeVerdict falls back to thresholding the risk score when the engine
// omits the verdict or reports an internal scan error.
func normalizeVerdict(verdict string, riskScore float64) Verdict {
	switch verdict {
	case string(VerdictBenign), string(VerdictMalicious):
		return Verdict(verdict)
	}
	if riskScore >= 0.5 {
		return VerdictMalicious
	}
	return VerdictBenign
}
