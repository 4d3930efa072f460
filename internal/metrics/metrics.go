// Package metrics exposes the sidecar's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsReceivedTotal counts every decoded SSE frame, before dedup,
	// labeled by source and event kind.
	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casper_sidecar_events_received_total",
			Help: "Total number of events received from upstream sources",
		},
		[]string{"source", "kind"},
	)

	EventsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casper_sidecar_events_persisted_total",
			Help: "Total number of events successfully written to the durable log",
		},
		[]string{"source", "kind"},
	)

	EventsDuplicateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casper_sidecar_events_duplicate_total",
			Help: "Total number of events dropped as duplicates for their source",
		},
		[]string{"source", "kind"},
	)

	EventsWriteFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casper_sidecar_events_write_failed_total",
			Help: "Total number of events dropped due to a non-duplicate write failure",
		},
		[]string{"source", "kind"},
	)

	SourceConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "casper_sidecar_source_connected",
			Help: "Set to 1 when a source's SSE sub-endpoint connects and to 0 when one of its sub-endpoints is abandoned",
		},
		[]string{"source"},
	)

	SourceReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casper_sidecar_source_reconnects_total",
			Help: "Total number of reconnect attempts made to a source's sub-endpoints",
		},
		[]string{"source", "endpoint"},
	)

	OutboundSubscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casper_sidecar_outbound_subscribers",
			Help: "Current number of connected outbound SSE subscribers",
		},
	)

	OutboundEventsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casper_sidecar_outbound_events_sent_total",
			Help: "Total number of events written to outbound subscribers",
		},
	)

	OutboundSlowSubscribersEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casper_sidecar_outbound_slow_subscribers_evicted_total",
			Help: "Total number of outbound subscribers evicted for falling behind",
		},
	)

	OutboundReplayBufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casper_sidecar_outbound_replay_buffer_size",
			Help: "Current number of events held in the outbound replay ring",
		},
	)

	FanInQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casper_sidecar_fanin_queue_depth",
			Help: "Current depth of the outbound fan-in queue",
		},
	)

	APIVersionHandshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "casper_sidecar_api_version_handshake_seconds",
			Help:    "Time taken for all sources to report an API version at startup",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(EventsReceivedTotal)
	prometheus.MustRegister(EventsPersistedTotal)
	prometheus.MustRegister(EventsDuplicateTotal)
	prometheus.MustRegister(EventsWriteFailedTotal)
	prometheus.MustRegister(SourceConnected)
	prometheus.MustRegister(SourceReconnectsTotal)
	prometheus.MustRegister(OutboundSubscribersGauge)
	prometheus.MustRegister(OutboundEventsSentTotal)
	prometheus.MustRegister(OutboundSlowSubscribersEvictedTotal)
	prometheus.MustRegister(OutboundReplayBufferSize)
	prometheus.MustRegister(FanInQueueDepth)
	prometheus.MustRegister(APIVersionHandshakeDuration)
}

// Handler returns the HTTP handler the REST collaborator mounts at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for later observation against a histogram,
// mirroring the teacher's metrics.Timer helper.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
