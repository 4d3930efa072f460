package sidecar

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/casper-sidecar/internal/config"
	"github.com/cuemby/casper-sidecar/internal/store"
)

func TestSupervisorRunRejectsEmptyConnections(t *testing.T) {
	st, err := store.NewInMemory()
	require.NoError(t, err)
	defer st.Close()

	cfg := config.Default()
	cfg.RESTServer.BindAddress = "127.0.0.1:0"
	cfg.EventStream.Port = 0

	sup := New(cfg, st)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Both the ingestion group (no connections to run) and the
	// rendezvous (no source ever reports an API version) are legitimate
	// terminal errors here; either may win the race onto errCh first.
	err = sup.Run(ctx)
	require.Error(t, err)
	matched := strings.Contains(err.Error(), "no connections configured") ||
		strings.Contains(err.Error(), "no source reported")
	assert.True(t, matched, "unexpected error: %v", err)
}
