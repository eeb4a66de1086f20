package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// OutcomePath is the request-tier route that receives worker outcomes.
	OutcomePath = "/events/pdf-audio"
	// TokenHeader carries the shared worker token.
	TokenHeader = "X-Worker-Token"

	defaultReportTimeout  = 10 * time.Second
	defaultReportAttempts = 3
	initialReportBackoff  = 500 * time.Millisecond
	maxReportBackoff      = 5 * time.Second
)

// Reporter delivers a pipeline outcome to the request tier.
type Reporter interface {
	Report(ctx context.Context, o Outcome) error
}

// ReporterFunc adapts a function to Reporter. The server's embedded worker uses it to apply
// outcomes in-process.
type ReporterFunc func(ctx context.Context, o Outcome) error

func (f ReporterFunc) Report(ctx context.Context, o Outcome) error { return f(ctx, o) }

// ReporterConfig configures HTTPReporter.
type ReporterConfig struct {
	BackendURL string
	Token      string
	Timeout    time.Duration // per attempt
	Attempts   int
	Backoff    time.Duration // first retry delay, doubled each attempt
}

// HTTPReporter POSTs outcomes to the request tier with bounded retries.
type HTTPReporter struct {
	url      string
	token    string
	client   *http.Client
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// NewHTTPReporter creates a reporter targeting cfg.BackendURL + OutcomePath.
func NewHTTPReporter(cfg ReporterConfig, logger *zap.Logger) *HTTPReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultReportTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultReportAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = initialReportBackoff
	}
	return &HTTPReporter{
		url:      strings.TrimRight(cfg.BackendURL, "/") + OutcomePath,
		token:    cfg.Token,
		client:   &http.Client{},
		timeout:  cfg.Timeout,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		logger:   logger,
	}
}

// Report sends o, retrying transport errors and 5xx/429 responses. Other 4xx responses
// are returned at once. The last error is returned when all attempts fail.
func (r *HTTPReporter) Report(ctx context.Context, o Outcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		retry, err := r.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == r.attempts-1 {
			break
		}

		wait := backoff(r.backoff, attempt)
		r.logger.Warn("outcome report failed, retrying",
			zap.String("document_id", o.DocumentID.String()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

func (r *HTTPReporter) post(ctx context.Context, body []byte) (retry bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set(TokenHeader, r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("post outcome: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	retry = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return retry, fmt.Errorf("post outcome: status %d", resp.StatusCode)
}

// backoff returns initial * 2^attempt, capped at maxReportBackoff.
func backoff(initial time.Duration, attempt int) time.Duration {
	d := initial << uint(attempt)
	if d <= 0 || d > maxReportBackoff {
		return maxReportBackoff
	}
	return d
}
