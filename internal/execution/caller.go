package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/autonest/backend/internal/metrics"
)

const maxResponseBytes = 4 << 20

// Request is one outbound webhook call.
type Request struct {
	Method      string
	URL         string
	Query       url.Values
	Body        io.Reader
	ContentType string
}

// Caller issues webhook requests with a bounded timeout and returns the raw
// body text of a 2xx response.
type Caller struct {
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewCaller(timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
		logger:     logger.With("component", "tool-caller"),
	}
}

func (c *Caller) Do(ctx context.Context, tool string, r Request) (string, error) {
	target := r.URL
	if len(r.Query) > 0 {
		u, err := url.Parse(r.URL)
		if err != nil {
			return "", fmt.Errorf("parse webhook url: %w", err)
		}
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveTool(tool, "error", started)
		if isTimeout(err) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("network error calling %s webhook: %w", tool, err)
	}
	defer resp.Body.Close()

	// Read the whole body first so the text is available for diagnostics.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.ObserveTool(tool, "error", started)
		if isTimeout(err) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("read %s webhook response: %w", tool, err)
	}
	body := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.ObserveTool(tool, "upstream_error", started)
		c.logger.Warn("tool webhook returned non-2xx", "tool", tool, "status", resp.StatusCode, "body", preview(body))
		return "", &UpstreamError{Status: resp.StatusCode, Body: body}
	}
	c.metrics.ObserveTool(tool, "ok", started)
	c.logger.Debug("tool webhook answered", "tool", tool, "status", resp.StatusCode, "bytes", len(raw), "elapsed", time.Since(started))
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
