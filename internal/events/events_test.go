package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{name: "api version", raw: `{"ApiVersion":"2.0.0"}`, want: KindAPIVersion},
		{name: "block added", raw: `{"BlockAdded":{"block_hash":"abc","block":{}}}`, want: KindBlockAdded},
		{name: "deploy accepted", raw: `{"DeployAccepted":{"deploy":{}}}`, want: KindDeployAccepted},
		{name: "deploy processed", raw: `{"DeployProcessed":{"deploy_hash":"abc"}}`, want: KindDeployProcessed},
		{name: "deploy expired", raw: `{"DeployExpired":{"deploy_hash":"abc"}}`, want: KindDeployExpired},
		{name: "fault", raw: `{"Fault":{"era_id":1,"public_key":"abc"}}`, want: KindFault},
		{name: "finality signature", raw: `{"FinalitySignature":{"block_hash":"abc","signature":"def"}}`, want: KindFinalitySignature},
		{name: "step", raw: `{"Step":{"era_id":1}}`, want: KindStep},
		{name: "shutdown", raw: `{"Shutdown":{}}`, want: KindShutdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePayload([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Kind())
		})
	}
}

func TestDecodePayloadUnrecognized(t *testing.T) {
	_, err := DecodePayload([]byte(`{"SomethingElse":{}}`))
	assert.Error(t, err)
}

func TestDecodePayloadInvalidJSON(t *testing.T) {
	_, err := DecodePayload([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := BlockAdded{BlockHash: "abc123", Block: json.RawMessage(`{"height":5}`)}

	wire, err := EncodePayload(original)
	require.NoError(t, err)

	decoded, err := DecodePayload(wire)
	require.NoError(t, err)

	got, ok := decoded.(BlockAdded)
	require.True(t, ok)
	assert.Equal(t, original.BlockHash, got.BlockHash)
	assert.JSONEq(t, string(original.Block), string(got.Block))
}

func TestEncodePayloadAPIVersion(t *testing.T) {
	wire, err := EncodePayload(APIVersion{Version: "1.5.2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ApiVersion":"1.5.2"}`, string(wire))
}

func TestEncodePayloadUnknownType(t *testing.T) {
	_, err := EncodePayload(struct{ Payload }{})
	assert.Error(t, err)
}
