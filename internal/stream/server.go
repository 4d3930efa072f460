package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/casper-sidecar/internal/events"
	"github.com/cuemby/casper-sidecar/internal/metrics"
)

// Config parameterizes the broadcaster (spec.md §4.6 "Contract").
type Config struct {
	ReplayBufferLength       int
	MaxConcurrentSubscribers int
	StateFilePath            string
	StatePersistInterval     time.Duration
}

// sidecarState is the handful of scalars persisted to StateFilePath so a
// restart seeds its outbound ID counter without re-assigning IDs a
// reconnecting subscriber has already seen.
type sidecarState struct {
	LastOutboundID uint64 `json:"last_outbound_id"`
	APIVersion     string `json:"api_version"`
}

// subscriber is one connected outbound SSE client.
type subscriber struct {
	ch   chan outboundEvent
	done chan struct{}
}

// Server is the outbound Event Stream Server (C6): it consumes the
// fan-in queue, assigns each event a monotonic outbound ID, keeps a
// bounded replay ring, and serves SSE connections handshaking every new
// subscriber with the agreed API version before anything else.
type Server struct {
	cfg        Config
	apiVersion string
	fanIn      *FanIn
	ring       *ring
	log        zerolog.Logger

	nextID uint64 // atomic

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewServer constructs the broadcaster. apiVersion is the value agreed
// upon by C5's rendezvous; it is never renegotiated for the lifetime of
// the server.
func NewServer(cfg Config, apiVersion string, fanIn *FanIn, log zerolog.Logger) *Server {
	if cfg.ReplayBufferLength <= 0 {
		cfg.ReplayBufferLength = 1000
	}
	if cfg.MaxConcurrentSubscribers <= 0 {
		cfg.MaxConcurrentSubscribers = 100
	}

	s := &Server{
		cfg:        cfg,
		apiVersion: apiVersion,
		fanIn:      fanIn,
		ring:       newRing(cfg.ReplayBufferLength),
		log:        log.With().Str("component", "stream").Logger(),
		subs:       make(map[*subscriber]struct{}),
	}
	s.restoreState()
	return s
}

// restoreState seeds the outbound ID counter from a prior run's
// persisted state, if any. A missing or unreadable file is not an
// error: the counter simply starts at zero, matching a fresh store.
func (s *Server) restoreState() {
	if s.cfg.StateFilePath == "" {
		return
	}
	data, err := os.ReadFile(s.cfg.StateFilePath)
	if err != nil {
		return
	}
	var st sidecarState
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn().Err(err).Msg("ignoring unreadable sidecar state file")
		return
	}
	atomic.StoreUint64(&s.nextID, st.LastOutboundID)
}

// persistState writes the current outbound ID and agreed API version to
// disk via a temp-file-then-rename, so a crash mid-write never leaves a
// corrupt state file behind.
func (s *Server) persistState() {
	if s.cfg.StateFilePath == "" {
		return
	}
	st := sidecarState{
		LastOutboundID: atomic.LoadUint64(&s.nextID),
		APIVersion:     s.apiVersion,
	}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}

	tmp := s.cfg.StateFilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Warn().Err(err).Msg("failed to write sidecar state file")
		return
	}
	if err := os.Rename(tmp, s.cfg.StateFilePath); err != nil {
		s.log.Warn().Err(err).Msg("failed to install sidecar state file")
	}
}

// Run drains the fan-in queue, broadcasting each event to every current
// subscriber, until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	interval := s.cfg.StatePersistInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.persistState()

	for {
		select {
		case env, ok := <-s.fanIn.Out():
			if !ok {
				return nil
			}
			s.broadcast(env)
		case <-ticker.C:
			s.persistState()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// broadcast encodes env onto the wire, assigns it the next outbound ID,
// appends it to the replay ring, and pushes it to every subscriber;
// subscribers whose buffer is full are evicted rather than allowed to
// stall the broadcast loop (spec.md §4.6 "Broadcast").
func (s *Server) broadcast(env events.Envelope) {
	payload, err := events.EncodePayload(env.Payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping unencodable outbound event")
		return
	}

	id := atomic.AddUint64(&s.nextID, 1)
	wire := formatSSEFrame(id, payload)
	oe := outboundEvent{ID: id, Payload: wire}
	s.ring.push(oe)

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- oe:
		default:
			metrics.OutboundSlowSubscribersEvictedTotal.Inc()
			close(sub.done)
			delete(s.subs, sub)
		}
	}
	metrics.OutboundEventsSentTotal.Inc()
	metrics.OutboundReplayBufferSize.Set(float64(s.ring.size()))
}

// ServeHTTP implements the outbound SSE endpoint: admission control,
// the API-version handshake, replay-or-live-tail resumption, and then
// streaming until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if len(s.subs) >= s.cfg.MaxConcurrentSubscribers {
		s.mu.Unlock()
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}
	sub := &subscriber{ch: make(chan outboundEvent, 64), done: make(chan struct{})}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}()

	metrics.OutboundSubscribersGauge.Inc()
	defer metrics.OutboundSubscribersGauge.Dec()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Handshake first: no outbound domain event may precede this.
	fmt.Fprintf(w, "data: {\"ApiVersion\":%q}\n\n", s.apiVersion)
	flusher.Flush()

	var afterID uint64
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		fmt.Sscanf(lastID, "%d", &afterID)
	}

	backlog, covered := s.ring.since(afterID)
	if !covered {
		// Requested resume point fell out of the ring: start from the
		// live tail and let the gap be the client's problem, per
		// spec.md §4.6.
		afterID = s.ring.latest()
		backlog = nil
	}
	for _, e := range backlog {
		if _, err := w.Write(e.Payload); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case oe := <-sub.ch:
			if _, err := w.Write(oe.Payload); err != nil {
				return
			}
			flusher.Flush()
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// formatSSEFrame renders one outbound wire frame: a monotonic id: line
// followed by the encoded payload as data:, per spec.md §6 "Outbound
// SSE".
func formatSSEFrame(id uint64, payload []byte) []byte {
	return []byte(fmt.Sprintf("id: %d\ndata: %s\n\n", id, payload))
}
