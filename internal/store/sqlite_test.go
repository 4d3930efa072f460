package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/casper-sidecar/internal/events"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSaveBlockAddedThenDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := "1"

	e := events.BlockAdded{BlockHash: "abc", Block: json.RawMessage(`{"height":1}`)}
	require.NoError(t, st.SaveBlockAdded(ctx, e, &id, "node-a"))

	err := st.SaveBlockAdded(ctx, e, &id, "node-a")
	assert.True(t, errors.Is(err, ErrDuplicate))
}

func TestSaveBlockAddedDifferentSourceNotDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := "1"

	e := events.BlockAdded{BlockHash: "abc", Block: json.RawMessage(`{}`)}
	require.NoError(t, st.SaveBlockAdded(ctx, e, &id, "node-a"))
	require.NoError(t, st.SaveBlockAdded(ctx, e, &id, "node-b"))
}

func TestWitnessRecordedEvenOnDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := "1"

	e := events.FinalitySignature{BlockHash: "abc", Signature: "sig"}
	require.NoError(t, st.SaveFinalitySignature(ctx, e, &id, "node-a"))
	err := st.SaveFinalitySignature(ctx, e, &id, "node-a")
	require.True(t, errors.Is(err, ErrDuplicate))

	rows, err := st.RecentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "both the original and duplicate arrival are witnessed")
}

func TestRecentEventsOrderingNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	idA, idB := "1", "2"
	require.NoError(t, st.SaveDeployExpired(ctx, events.DeployExpired{DeployHash: "a"}, &idA, "node-a"))
	require.NoError(t, st.SaveDeployExpired(ctx, events.DeployExpired{DeployHash: "b"}, &idB, "node-a"))

	rows, err := st.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, &idB, rows[0].ArrivalID)
	assert.Equal(t, &idA, rows[1].ArrivalID)
}

func TestSaveDispatchesEveryVariant(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id := "1"

	tests := []events.Payload{
		events.BlockAdded{BlockHash: "h1", Block: json.RawMessage(`{}`)},
		events.DeployAccepted{Deploy: json.RawMessage(`{"hash":"d1"}`)},
		events.DeployProcessed{DeployHash: "d2", Account: "acc", Timestamp: "t", TTL: "ttl", BlockHash: "h2", ExecutionResult: json.RawMessage(`{}`)},
		events.DeployExpired{DeployHash: "d3"},
		events.Fault{EraID: 1, PublicKey: "pk", Timestamp: "t"},
		events.FinalitySignature{BlockHash: "h3", Signature: "sig"},
		events.Step{EraID: 2, ExecutionEffect: json.RawMessage(`{}`)},
	}

	for _, payload := range tests {
		env := events.Envelope{Payload: payload, ID: &id, Source: "node-a"}
		assert.NoError(t, Save(ctx, st, env), "variant %T", payload)
	}
}

func TestSaveIgnoresControlEvents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, Save(ctx, st, events.Envelope{Payload: events.APIVersion{Version: "1.0.0"}, Source: "node-a"}))
	assert.NoError(t, Save(ctx, st, events.Envelope{Payload: events.Shutdown{}, Source: "node-a"}))

	rows, err := st.RecentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
