// Package sidecar wires the ingest, store, and stream packages into the
// three pillars spec.md's supervisor starts and joins: the ingestion
// group, the REST collaborator, and the gated broadcaster.
package sidecar

import (
	"errors"
	"fmt"

	"github.com/cuemby/casper-sidecar/internal/ingest"
	"github.com/cuemby/casper-sidecar/internal/metrics"
)

// ErrVersionMismatch is returned when two or more sources report
// different API versions; the broadcaster never starts in that case.
var ErrVersionMismatch = errors.New("sidecar: sources disagree on API version")

// ErrNoSources is returned when the report channel closes without any
// report having arrived. A source that reports a terminal error yields
// that error instead.
var ErrNoSources = errors.New("sidecar: no source reported an API version")

// awaitAPIVersion drains reports until the channel closes (every
// session has either reported or terminated) and applies the agreement
// policy from spec.md §4.5.
func awaitAPIVersion(reports <-chan ingest.APIVersionReport) (string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.APIVersionHandshakeDuration)

	var version string
	seen := false

	for r := range reports {
		if r.Err != nil {
			return "", fmt.Errorf("sidecar: source %s: %w", r.Source, r.Err)
		}
		if !seen {
			version = r.Version
			seen = true
			continue
		}
		if r.Version != version {
			return "", fmt.Errorf("%w: %q vs %q", ErrVersionMismatch, version, r.Version)
		}
	}

	if !seen {
		return "", ErrNoSources
	}
	return version, nil
}
