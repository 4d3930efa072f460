// Package store implements the sidecar's durable event log: an
// append-only, per-source-deduplicated record of every event variant
// observed from upstream nodes.
package store

import (
	"context"
	"errors"

	"github.com/cuemby/casper-sidecar/internal/events"
)

// ErrDuplicate is returned when a write's uniqueness key has already been
// recorded for its source. It is a normal control-flow signal, not a
// failure: the caller must not forward the event downstream, but the
// write is not treated as an error.
var ErrDuplicate = errors.New("store: duplicate event for source")

// Store is the durable event log's contract: one write operation per
// event variant, each keyed by (variant-specific identity, source).
// Every write also records an append-only witness row keyed by
// (source, arrival ID), independent of the dedup outcome.
type Store interface {
	SaveBlockAdded(ctx context.Context, e events.BlockAdded, id *string, source string) error
	SaveDeployAccepted(ctx context.Context, e events.DeployAccepted, id *string, source string) error
	SaveDeployProcessed(ctx context.Context, e events.DeployProcessed, id *string, source string) error
	SaveDeployExpired(ctx context.Context, e events.DeployExpired, id *string, source string) error
	SaveFault(ctx context.Context, e events.Fault, id *string, source string) error
	SaveFinalitySignature(ctx context.Context, e events.FinalitySignature, id *string, source string) error
	SaveStep(ctx context.Context, e events.Step, id *string, source string) error

	// RecentEvents returns up to limit of the most recently witnessed
	// events, newest first. Backs the REST collaborator's read surface.
	RecentEvents(ctx context.Context, limit int) ([]WitnessRow, error)

	Close() error
}

// WitnessRow is a row of the append-only event_log table: a receipt that
// an event arrived, independent of whether it was a duplicate.
type WitnessRow struct {
	Source    string
	ArrivalID *string
	Kind      events.Kind
	Recorded  string // RFC3339 timestamp, stored as text for sqlite simplicity
}

// Save dispatches a decoded payload to its matching persistence
// operation. Kept as a single dispatch point per the teacher's dynamic-
// dispatch-in-one-place design note: adding a new payload variant is one
// case here plus one storage method.
func Save(ctx context.Context, s Store, e events.Envelope) error {
	switch p := e.Payload.(type) {
	case events.BlockAdded:
		return s.SaveBlockAdded(ctx, p, e.ID, e.Source)
	case events.DeployAccepted:
		return s.SaveDeployAccepted(ctx, p, e.ID, e.Source)
	case events.DeployProcessed:
		return s.SaveDeployProcessed(ctx, p, e.ID, e.Source)
	case events.DeployExpired:
		return s.SaveDeployExpired(ctx, p, e.ID, e.Source)
	case events.Fault:
		return s.SaveFault(ctx, p, e.ID, e.Source)
	case events.FinalitySignature:
		return s.SaveFinalitySignature(ctx, p, e.ID, e.Source)
	case events.Step:
		return s.SaveStep(ctx, p, e.ID, e.Source)
	default:
		// ApiVersion and Shutdown are handshake/control events; they are
		// not persisted to the typed tables. Callers should not route
		// them here.
		return nil
	}
}
