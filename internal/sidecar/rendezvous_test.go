package sidecar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/casper-sidecar/internal/ingest"
)

func TestAwaitAPIVersionAgreement(t *testing.T) {
	reports := make(chan ingest.APIVersionReport, 2)
	reports <- ingest.APIVersionReport{Source: "node-a", Version: "2.0.0"}
	reports <- ingest.APIVersionReport{Source: "node-b", Version: "2.0.0"}
	close(reports)

	version, err := awaitAPIVersion(reports)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", version)
}

func TestAwaitAPIVersionMismatch(t *testing.T) {
	reports := make(chan ingest.APIVersionReport, 2)
	reports <- ingest.APIVersionReport{Source: "node-a", Version: "2.0.0"}
	reports <- ingest.APIVersionReport{Source: "node-b", Version: "1.5.0"}
	close(reports)

	_, err := awaitAPIVersion(reports)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestAwaitAPIVersionNoSources(t *testing.T) {
	reports := make(chan ingest.APIVersionReport)
	close(reports)

	_, err := awaitAPIVersion(reports)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestAwaitAPIVersionSourceError(t *testing.T) {
	reports := make(chan ingest.APIVersionReport, 1)
	reports <- ingest.APIVersionReport{Source: "node-a", Err: errors.New("handshake failed")}
	close(reports)

	_, err := awaitAPIVersion(reports)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node-a")
}
