package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker probes an upstream's REST port, grounded on the teacher's
// HTTPChecker but narrowed to GET-only reachability (the sidecar never
// needs custom headers or a status-code range against a node it doesn't
// control).
type HTTPChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChecker builds a checker against url, labeled name for status
// reporting (typically the source's identifier).
func NewHTTPChecker(name, url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPChecker) Name() string { return h.name }

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return Result{Message: fmt.Sprintf("build request: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{Message: fmt.Sprintf("request failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 500
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return Result{Healthy: healthy, Message: message, CheckedAt: start, Duration: time.Since(start)}
}
