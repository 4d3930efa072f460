// Package stream implements the sidecar's outbound half: the fan-in
// queue merging every source's processed events, and the SSE broadcaster
// that serves them back out with a bounded replay buffer.
package stream

import (
	"github.com/cuemby/casper-sidecar/internal/events"
	"github.com/cuemby/casper-sidecar/internal/metrics"
)

// FanIn is the bounded handoff queue between the ingest processors (C3)
// and the broadcaster (C6). Every processor shares the same send side;
// concurrent sends are the merge itself, so this type's job is bounding
// the queue and exposing its depth as a gauge rather than arbitrating
// between senders.
type FanIn struct {
	ch chan events.Envelope
}

// NewFanIn creates a fan-in queue of the given capacity. A full queue
// applies backpressure to every processor sharing it, per spec.md §4.4.
func NewFanIn(capacity int) *FanIn {
	return &FanIn{ch: make(chan events.Envelope, capacity)}
}

// In returns the send side handed to every source's processor.
func (f *FanIn) In() chan<- events.Envelope {
	return f.ch
}

// Out returns the receive side consumed by the broadcaster.
func (f *FanIn) Out() <-chan events.Envelope {
	return f.ch
}

// Depth reports the queue's current occupancy, also publishing it to
// metrics.FanInQueueDepth so a caller can poll it on a ticker.
func (f *FanIn) Depth() int {
	d := len(f.ch)
	metrics.FanInQueueDepth.Set(float64(d))
	return d
}
