package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/casper-sidecar/internal/events"
	"github.com/cuemby/casper-sidecar/internal/healthcheck"
	"github.com/cuemby/casper-sidecar/internal/metrics"
)

// ErrHandshakeFailed is reported on the API-version channel when a
// source cannot establish its required sub-endpoints under a
// non-partial connection policy (spec.md §4.2 "Endpoint discovery").
var ErrHandshakeFailed = errors.New("ingest: handshake failed")

// ErrSourceExhausted is reported when every sub-endpoint for a source
// has abandoned its retry budget (spec.md §4.2 "Retry/backoff").
var ErrSourceExhausted = errors.New("ingest: source exhausted its retries")

// APIVersionReport is sent once per session on the rendezvous channel
// (C5): either the first API version this source observed, or a
// terminal error if the source never streamed successfully.
type APIVersionReport struct {
	Source  string
	Version string
	Err     error
}

// Session drains one upstream node's SSE sub-endpoints into a shared
// per-source inbound queue (C2). It owns its sub-endpoints' connection
// state machines and retry policy; it never touches the durable log or
// the outbound broadcaster directly — those belong to the processor (C3)
// downstream of its inbound queue.
type Session struct {
	source string
	desc   ConnectionDescriptor
	inbox  chan<- events.Envelope
	report chan<- APIVersionReport
	client *http.Client
	log    zerolog.Logger

	reportOnce sync.Once
}

// NewSession constructs a session for one upstream connection.
// inbox is the per-source inbound queue (shared across all of this
// source's sub-endpoints); report is the rendezvous sender cloned into
// every session by the supervisor.
func NewSession(source string, desc ConnectionDescriptor, inbox chan<- events.Envelope, report chan<- APIVersionReport, log zerolog.Logger) *Session {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: desc.ConnectTimeout}).DialContext

	return &Session{
		source: source,
		desc:   desc,
		inbox:  inbox,
		report: report,
		// No overall Timeout: a streaming SSE body can legitimately stay
		// open for hours. Only the dial itself is bounded.
		client: &http.Client{Transport: transport},
		log:    log.With().Str("source", source).Logger(),
	}
}

// Run drains this source's sub-endpoints until ctx is cancelled or every
// sub-endpoint exhausts its retries. It returns only on terminal
// conditions; the supervisor treats its return as this source's ingest
// task completing.
func (s *Session) Run(ctx context.Context) error {
	endpoints := s.desc.subEndpoints()

	reachable, unreachable := s.probe(ctx, endpoints)
	if len(unreachable) > 0 {
		if !s.desc.AllowPartial {
			err := fmt.Errorf("%w: unreachable sub-endpoints %v for source %s", ErrHandshakeFailed, unreachable, s.source)
			s.reportTerminal(err)
			return err
		}
		s.log.Warn().Strs("unreachable", unreachable).Msg("proceeding with partial sub-endpoint connection")
	}
	if len(reachable) == 0 {
		err := fmt.Errorf("%w: no reachable sub-endpoints for source %s", ErrHandshakeFailed, s.source)
		s.reportTerminal(err)
		return err
	}

	var wg sync.WaitGroup
	exhausted := make([]bool, len(reachable))
	for i, ep := range reachable {
		wg.Add(1)
		go func(i int, ep string) {
			defer wg.Done()
			if err := s.runEndpoint(ctx, ep); err != nil {
				s.log.Warn().Err(err).Str("endpoint", ep).Msg("sub-endpoint abandoned")
				exhausted[i] = true
			}
		}(i, ep)
	}
	wg.Wait()

	allExhausted := true
	for _, e := range exhausted {
		if !e {
			allExhausted = false
			break
		}
	}
	if allExhausted {
		err := fmt.Errorf("%w: source %s", ErrSourceExhausted, s.source)
		s.reportTerminal(err)
		return err
	}
	return nil
}

// reportTerminal sends at most one error report for this session, so a
// source that already reported its API version doesn't later overwrite
// that success with an unrelated sub-endpoint failure.
func (s *Session) reportTerminal(err error) {
	s.reportOnce.Do(func() {
		select {
		case s.report <- APIVersionReport{Source: s.source, Err: err}:
		default:
		}
	})
}

// probe performs a lightweight reachability check against each
// sub-endpoint before committing to the long-lived streaming
// connections, so a non-partial source fails fast per spec.md §4.2. Each
// sub-endpoint is probed with the same healthcheck.Checker contract the
// REST collaborator uses for its readiness endpoint.
func (s *Session) probe(ctx context.Context, endpoints []string) (reachable, unreachable []string) {
	for _, ep := range endpoints {
		checker := healthcheck.NewHTTPChecker(s.source+ep, s.desc.sseBaseURL()+ep, s.desc.ConnectTimeout)
		result := checker.Check(ctx)
		if !result.Healthy {
			unreachable = append(unreachable, ep)
			continue
		}
		reachable = append(reachable, ep)
	}
	return reachable, unreachable
}

// runEndpoint drives one sub-endpoint's connecting -> awaiting-api-version
// -> streaming -> backoff -> terminated state machine (spec.md §4.2
// "State machine") until ctx is cancelled or max-retries is exhausted.
func (s *Session) runEndpoint(ctx context.Context, endpoint string) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.desc.RetryDelay), uint64(s.desc.MaxRetries)),
		ctx,
	)

	var lastEventID *string
	attempt := 0
	var lastErr error

	op := func() error {
		attempt++
		err := s.streamOnce(ctx, endpoint, lastEventID, &lastEventID)
		if err == nil {
			// Clean EOF: upstream closed without error. Treated the same
			// as an IO failure for retry bookkeeping purposes.
			err = io.EOF
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		lastErr = err
		return err
	}

	notify := func(err error, delay time.Duration) {
		metrics.SourceReconnectsTotal.WithLabelValues(s.source, endpoint).Inc()
		s.log.Debug().Err(err).Str("endpoint", endpoint).Dur("delay", delay).Int("attempt", attempt).Msg("retrying after disconnect")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		metrics.SourceConnected.WithLabelValues(s.source).Set(0)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("endpoint %s: %w after %d attempts: %v", endpoint, ErrSourceExhausted, attempt, lastErr)
	}
	return nil
}

// streamOnce opens one HTTP connection to endpoint, performs the
// API-version handshake if this is the first successful connection for
// the session, and forwards decoded events to the inbound queue until
// the stream ends or ctx is cancelled.
func (s *Session) streamOnce(ctx context.Context, endpoint string, resumeFrom *string, lastEventID **string) error {
	// Request context is the long-lived ctx, not a ConnectTimeout-bounded
	// one: once the body starts streaming it may legitimately sit idle
	// for a long time between events, and only connection establishment
	// (handled by the transport's dial timeout) should be bounded by
	// ConnectTimeout.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.desc.sseBaseURL()+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if resumeFrom != nil {
		req.Header.Set("Last-Event-ID", *resumeFrom)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	metrics.SourceConnected.WithLabelValues(s.source).Set(1)

	reader := newSSEReader(bufio.NewReader(resp.Body))
	firstEvent := true

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := reader.next()
		if err != nil {
			return err
		}
		if raw.ID != nil {
			*lastEventID = raw.ID
		}

		payload, err := events.DecodePayload([]byte(raw.Data))
		if err != nil {
			s.log.Warn().Err(err).Str("endpoint", endpoint).Msg("dropping unparseable event")
			continue
		}

		if v, ok := payload.(events.APIVersion); ok {
			if !firstEvent {
				// spec.md §9 open question: post-initial ApiVersion
				// events are explicitly ignored.
				continue
			}
			s.reportOnce.Do(func() {
				s.report <- APIVersionReport{Source: s.source, Version: v.Version}
			})
			firstEvent = false
			continue
		}
		firstEvent = false

		env := events.Envelope{Payload: payload, ID: raw.ID, Source: s.source}
		if s.desc.EnableLogging {
			s.log.Info().Str("kind", string(payload.Kind())).Msg("event received")
		}

		select {
		case s.inbox <- env:
		case <-ctx.Done():
			return ctx.Err()
		}

		if _, ok := payload.(events.Shutdown); ok {
			// spec.md §4.2 "Shutdown event": forwarded verbatim, then the
			// session treats the connection as closed and retries.
			return fmt.Errorf("endpoint %s: %w", endpoint, errShutdownReceived)
		}
	}
}

var errShutdownReceived = errors.New("upstream announced shutdown")

// Seconds converts a whole number of seconds into a time.Duration, so
// callers constructing ConnectionDescriptor values from configuration
// don't need to import time directly for seconds-based durations.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }
