package sidecar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/casper-sidecar/internal/config"
	"github.com/cuemby/casper-sidecar/internal/events"
	"github.com/cuemby/casper-sidecar/internal/healthcheck"
	"github.com/cuemby/casper-sidecar/internal/ingest"
	"github.com/cuemby/casper-sidecar/internal/logging"
	"github.com/cuemby/casper-sidecar/internal/restapi"
	"github.com/cuemby/casper-sidecar/internal/store"
	"github.com/cuemby/casper-sidecar/internal/stream"
)

// Supervisor is the sidecar's C7: it spawns the ingestion group, the
// REST collaborator, and the API-version-gated broadcaster, and joins
// all three into a single termination gate, exactly as spec.md §4.7
// describes ("first result wins").
type Supervisor struct {
	cfg   config.Config
	store store.Store
	log   zerolog.Logger
}

// New constructs a Supervisor. The caller owns st's lifecycle (typically
// opened by cmd/sidecar before calling Run, closed after Run returns).
func New(cfg config.Config, st store.Store) *Supervisor {
	return &Supervisor{cfg: cfg, store: st, log: logging.WithComponent("supervisor")}
}

// Run starts every pillar and blocks until the first one terminates, at
// which point it cancels the rest and returns that pillar's error. When
// the caller cancels ctx, Run returns ctx.Err() (context.Canceled).
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan events.Envelope, s.cfg.InboundChannelSize)
	fanIn := stream.NewFanIn(s.cfg.OutboundChannelSize)
	reports := make(chan ingest.APIVersionReport, len(s.cfg.Connections))

	errCh := make(chan error, 3)

	go func() {
		errCh <- s.runIngestionGroup(ctx, inbound, fanIn.In(), reports)
	}()

	go func() {
		version, err := awaitAPIVersion(reports)
		if err != nil {
			errCh <- fmt.Errorf("api-version rendezvous: %w", err)
			return
		}
		s.log.Info().Str("api_version", version).Msg("sources agree on API version, starting broadcaster")
		errCh <- s.runBroadcaster(ctx, version, fanIn)
	}()

	go func() {
		errCh <- s.runRESTCollaborator(ctx)
	}()

	select {
	case err := <-errCh:
		cancel()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runIngestionGroup spawns every session and its matching processor,
// clones the rendezvous sender into each session, and closes reports
// once every session has sent its report so the rendezvous can observe
// channel-close per spec.md §4.5.
func (s *Supervisor) runIngestionGroup(ctx context.Context, inboundTemplate chan events.Envelope, outbox chan<- events.Envelope, reports chan ingest.APIVersionReport) error {
	if len(s.cfg.Connections) == 0 {
		close(reports)
		return fmt.Errorf("sidecar: no connections configured")
	}

	// Each session sends exactly one report (its first API version or its
	// terminal error); forward one per session, then close reports.
	sessionReports := make(chan ingest.APIVersionReport, len(s.cfg.Connections))
	go func() {
		defer close(reports)
		for range s.cfg.Connections {
			reports <- <-sessionReports
		}
	}()

	done := make(chan error, len(s.cfg.Connections))

	for _, conn := range s.cfg.Connections {
		source := conn.Name
		if source == "" {
			source = conn.IPAddress
		}
		inbox := make(chan events.Envelope, cap(inboundTemplate))
		desc := ingest.FromConfig(conn)

		sess := ingest.NewSession(source, desc, inbox, sessionReports, logging.Logger)
		proc := ingest.NewProcessor(source, s.store, inbox, outbox, logging.Logger)

		go func() {
			done <- proc.Run(ctx)
		}()
		go func() {
			err := sess.Run(ctx)
			close(inbox)
			done <- err
		}()
	}

	// A sidecar with every source exhausted is not doing its job, per
	// spec.md §4.7: the group's own completion is a terminal error.
	var lastErr error
	for range s.cfg.Connections {
		for i := 0; i < 2; i++ {
			if err := <-done; err != nil && err != context.Canceled {
				lastErr = err
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lastErr != nil {
		return fmt.Errorf("sidecar: ingestion group exhausted: %w", lastErr)
	}
	return fmt.Errorf("sidecar: ingestion group exhausted")
}

func (s *Supervisor) runBroadcaster(ctx context.Context, apiVersion string, fanIn *stream.FanIn) error {
	cfg := stream.Config{
		ReplayBufferLength:       s.cfg.EventStream.EventStreamBufferLength,
		MaxConcurrentSubscribers: s.cfg.EventStream.MaxConcurrentSubscribers,
		StateFilePath:            s.cfg.EventStream.StateFilePath,
		StatePersistInterval:     time.Duration(s.cfg.EventStream.StatePersistIntervalInSec) * time.Second,
	}
	server := stream.NewServer(cfg, apiVersion, fanIn, logging.Logger)

	mux := http.NewServeMux()
	mux.Handle("/events", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.EventStream.Port),
		Handler: mux,
	}

	return runWithGracefulShutdown(ctx, httpServer, func() error {
		return server.Run(ctx)
	})
}

func (s *Supervisor) runRESTCollaborator(ctx context.Context) error {
	checkers := make([]healthcheck.Checker, 0, len(s.cfg.Connections))
	for _, conn := range s.cfg.Connections {
		source := conn.Name
		if source == "" {
			source = conn.IPAddress
		}
		desc := ingest.FromConfig(conn)
		checkers = append(checkers,
			healthcheck.NewHTTPChecker(source+"-rest", desc.ProbeURL(), desc.ConnectTimeout),
			healthcheck.NewTCPChecker(source+"-sse", fmt.Sprintf("%s:%d", conn.IPAddress, conn.SSEPort), desc.ConnectTimeout),
		)
	}

	handler := restapi.NewHandler(s.store, checkers...)
	httpServer := &http.Server{
		Addr:    s.cfg.RESTServer.BindAddress,
		Handler: handler,
	}
	return runWithGracefulShutdown(ctx, httpServer, func() error {
		<-ctx.Done()
		return ctx.Err()
	})
}

// runWithGracefulShutdown starts srv, runs background in parallel, and
// tears both down cooperatively when ctx is cancelled, mirroring the
// listen/select/shutdown shape of the teacher's cmd/warren main loop.
func runWithGracefulShutdown(ctx context.Context, srv *http.Server, background func() error) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	bgErr := make(chan error, 1)
	go func() { bgErr <- background() }()

	select {
	case err := <-serveErr:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return err
	case err := <-bgErr:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}
