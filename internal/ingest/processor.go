package ingest

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/cuemby/casper-sidecar/internal/events"
	"github.com/cuemby/casper-sidecar/internal/metrics"
	"github.com/cuemby/casper-sidecar/internal/store"
)

// Processor drains one source's inbound queue and writes each event to
// the durable log (C3). It is the only place that calls store.Save, and
// its dispatch on the save outcome mirrors handle_single_event in
// original_source/sidecar/src/main.rs: forward successful writes
// downstream, drop duplicates quietly, drop other failures loudly, and
// never retry a write.
type Processor struct {
	source string
	store  store.Store
	inbox  <-chan events.Envelope
	outbox chan<- events.Envelope
	log    zerolog.Logger
}

// NewProcessor constructs a processor for one source. inbox is the
// session's per-source inbound queue; outbox is the shared fan-in queue
// feeding the outbound broadcaster (C4).
func NewProcessor(source string, st store.Store, inbox <-chan events.Envelope, outbox chan<- events.Envelope, log zerolog.Logger) *Processor {
	return &Processor{
		source: source,
		store:  st,
		inbox:  inbox,
		outbox: outbox,
		log:    log.With().Str("source", source).Logger(),
	}
}

// Run consumes inbox until it is closed or ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case env, ok := <-p.inbox:
			if !ok {
				return nil
			}
			p.handle(ctx, env)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handle writes one event to the durable log and forwards it downstream
// only on a successful, non-duplicate write.
func (p *Processor) handle(ctx context.Context, env events.Envelope) {
	kind := string(env.Payload.Kind())
	metrics.EventsReceivedTotal.WithLabelValues(p.source, kind).Inc()

	if _, ok := env.Payload.(events.Shutdown); ok {
		p.forward(ctx, env)
		return
	}

	err := store.Save(ctx, p.store, env)
	switch {
	case err == nil:
		metrics.EventsPersistedTotal.WithLabelValues(p.source, kind).Inc()
		p.forward(ctx, env)
	case errors.Is(err, store.ErrDuplicate):
		metrics.EventsDuplicateTotal.WithLabelValues(p.source, kind).Inc()
		p.log.Debug().Str("kind", kind).Msg("duplicate event dropped")
	default:
		metrics.EventsWriteFailedTotal.WithLabelValues(p.source, kind).Inc()
		p.log.Warn().Err(err).Str("kind", kind).Msg("failed to persist event, dropping")
	}
}

// forward hands an event to the fan-in queue, respecting cancellation so
// a jammed outbox never wedges the processor forever.
func (p *Processor) forward(ctx context.Context, env events.Envelope) {
	select {
	case p.outbox <- env:
	case <-ctx.Done():
	}
}
