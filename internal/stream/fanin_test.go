package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/casper-sidecar/internal/events"
)

func TestFanInDepthTracksQueuedEvents(t *testing.T) {
	f := NewFanIn(4)
	assert.Equal(t, 0, f.Depth())

	f.In() <- events.Envelope{Payload: events.Shutdown{}, Source: "node-a"}
	f.In() <- events.Envelope{Payload: events.Shutdown{}, Source: "node-a"}

	assert.Equal(t, 2, f.Depth())

	<-f.Out()
	assert.Equal(t, 1, f.Depth())
}
