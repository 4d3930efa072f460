// Package restapi implements the sidecar's read-only REST collaborator
// (C7's second pillar): health/readiness probes, the metrics exposition
// endpoint, and a recent-events window onto the durable log.
package restapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/casper-sidecar/internal/healthcheck"
	"github.com/cuemby/casper-sidecar/internal/metrics"
	"github.com/cuemby/casper-sidecar/internal/store"
)

// Handler serves the REST collaborator's mux.
type Handler struct {
	store    store.Store
	checkers []healthcheck.Checker
	mux      *http.ServeMux
}

// NewHandler constructs the REST collaborator against the same Store the
// ingestion pipeline writes to. checkers is an optional set of upstream
// reachability probes (typically one per configured connection); a nil or
// empty slice means readiness depends only on the durable log.
func NewHandler(st store.Store, checkers ...healthcheck.Checker) *Handler {
	h := &Handler{store: st, checkers: checkers, mux: http.NewServeMux()}
	h.mux.HandleFunc("/health", h.health)
	h.mux.HandleFunc("/ready", h.ready)
	h.mux.HandleFunc("/events/recent", h.recentEvents)
	h.mux.Handle("/metrics", metrics.Handler())
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// healthResponse is a liveness response: the process is alive and serving.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyResponse reports whether the durable log and upstream sources are
// actually reachable, distinguishing "process is up" from "process can
// do its job".
type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Message   string            `json:"message,omitempty"`
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := true
	var message string

	if _, err := h.store.RecentEvents(r.Context(), 1); err != nil {
		ready = false
		message = "durable log not accessible: " + err.Error()
	}

	checks := make(map[string]string, len(h.checkers))
	for _, c := range h.checkers {
		result := c.Check(r.Context())
		checks[c.Name()] = result.Message
		if !result.Healthy {
			ready = false
			if message == "" {
				message = c.Name() + " unreachable"
			}
		}
	}

	status := http.StatusOK
	statusText := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		statusText = "not ready"
	}
	writeJSON(w, status, readyResponse{Status: statusText, Timestamp: time.Now(), Checks: checks, Message: message})
}

// recentEvents serves the append-only witness log, newest first, bounded
// by a "limit" query parameter (default 50, capped at 500) — the one
// read surface spec.md §1 leaves in scope for this collaborator.
func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := h.store.RecentEvents(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
