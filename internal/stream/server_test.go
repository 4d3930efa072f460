package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/casper-sidecar/internal/events"
)

func newTestServer(t *testing.T, replayLen int) (*Server, *FanIn) {
	t.Helper()
	fanIn := NewFanIn(16)
	cfg := Config{ReplayBufferLength: replayLen, MaxConcurrentSubscribers: 2}
	srv := NewServer(cfg, "2.0.0", fanIn, zerolog.Nop())
	return srv, fanIn
}

func TestServeHTTPHandshakeFirst(t *testing.T) {
	srv, _ := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, `data: {"ApiVersion":"2.0.0"}`), "handshake must be the first frame, got: %q", body)
}

func TestServeHTTPAdmissionControl(t *testing.T) {
	srv, _ := newTestServer(t, 10)
	srv.cfg.MaxConcurrentSubscribers = 0

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServeHTTPResumeFromLastEventID(t *testing.T) {
	srv, fanIn := newTestServer(t, 10)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(runCtx)

	fanIn.In() <- events.Envelope{Payload: events.FinalitySignature{BlockHash: "a", Signature: "sig-a"}}
	fanIn.In() <- events.Envelope{Payload: events.FinalitySignature{BlockHash: "b", Signature: "sig-b"}}
	time.Sleep(20 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Last-Event-ID", "1")
	ctx, reqCancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer reqCancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, "sig-b")
	assert.NotContains(t, body, "sig-a")
}

func TestServeHTTPGapFallsBackToLiveTail(t *testing.T) {
	srv, fanIn := newTestServer(t, 2)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(runCtx)

	for i := 0; i < 5; i++ {
		fanIn.In() <- events.Envelope{Payload: events.FinalitySignature{BlockHash: fmt.Sprintf("b%d", i), Signature: fmt.Sprintf("sig-%d", i)}}
	}
	time.Sleep(20 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Last-Event-ID", "1") // long fallen out of a 2-deep ring
	ctx, reqCancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer reqCancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	body := w.Body.String()
	// No backlog frame is replayed; only the handshake is guaranteed.
	scanner := bufio.NewScanner(strings.NewReader(body))
	dataLines := 0
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			dataLines++
		}
	}
	assert.Equal(t, 1, dataLines, "gap resume must not replay stale backlog, body: %q", body)
}
