package ingest

import (
	"strconv"
	"time"

	"github.com/cuemby/casper-sidecar/internal/config"
)

// ConnectionDescriptor describes a single upstream node this sidecar
// ingests from (spec.md §3 "Upstream connection descriptor").
type ConnectionDescriptor struct {
	IPAddress      string
	SSEPort        int
	RESTPort       int
	MaxRetries     int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	AllowPartial   bool
	EnableLogging  bool
}

// subEndpoints returns the SSE sub-endpoint paths this sidecar probes on
// an upstream node: the aggregated "main" stream and the unfiltered
// root stream, mirroring the fixture layout in
// original_source/sidecar/src/testing/raw_sse_events_utils.rs.
func (c ConnectionDescriptor) subEndpoints() []string {
	return []string{"/events/main", "/events"}
}

// sseBaseURL returns the base "http://ip:port" this source's sub-endpoints
// are rooted at.
func (c ConnectionDescriptor) sseBaseURL() string {
	return "http://" + c.IPAddress + ":" + strconv.Itoa(c.SSEPort)
}

// restBaseURL returns the base URL for this connection's REST/probe port,
// used by healthcheck.HTTPChecker for readiness probing.
func (c ConnectionDescriptor) restBaseURL() string {
	return "http://" + c.IPAddress + ":" + strconv.Itoa(c.RESTPort)
}

// ProbeURL returns the URL the REST collaborator's readiness check
// probes for this source's reachability.
func (c ConnectionDescriptor) ProbeURL() string {
	return c.restBaseURL()
}

// FromConfig adapts a parsed configuration entry into the descriptor this
// package's Session consumes, decoupling ingest from the config package's
// YAML-oriented field names and units.
func FromConfig(c config.Connection) ConnectionDescriptor {
	return ConnectionDescriptor{
		IPAddress:      c.IPAddress,
		SSEPort:        c.SSEPort,
		RESTPort:       c.RESTPort,
		MaxRetries:     c.MaxRetries,
		RetryDelay:     c.RetryDelay(),
		ConnectTimeout: c.ConnectTimeout(),
		AllowPartial:   c.AllowPartialConnection,
		EnableLogging:  c.EnableLogging,
	}
}
