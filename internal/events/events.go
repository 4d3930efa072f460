// Package events defines the tagged union of payloads the sidecar moves
// through its ingest/persist/broadcast pipeline, and the envelope that
// carries a payload alongside its upstream arrival ID and source tag.
package events

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the payload variants of the event wire format.
type Kind string

const (
	KindAPIVersion        Kind = "ApiVersion"
	KindBlockAdded        Kind = "BlockAdded"
	KindDeployAccepted    Kind = "DeployAccepted"
	KindDeployProcessed   Kind = "DeployProcessed"
	KindDeployExpired     Kind = "DeployExpired"
	KindFault             Kind = "Fault"
	KindFinalitySignature Kind = "FinalitySignature"
	KindStep              Kind = "Step"
	KindShutdown          Kind = "Shutdown"
)

// Payload is implemented by every event variant in the tagged union.
type Payload interface {
	Kind() Kind
}

// APIVersion is the protocol version triple reported once per connection
// at stream start, e.g. "1.4.10".
type APIVersion struct {
	Version string `json:"-"`
}

func (APIVersion) Kind() Kind { return KindAPIVersion }

// BlockAdded carries a newly observed block hash and its body.
type BlockAdded struct {
	BlockHash string          `json:"block_hash"`
	Block     json.RawMessage `json:"block"`
}

func (BlockAdded) Kind() Kind { return KindBlockAdded }

// DeployAccepted carries a submitted transaction as observed at the
// mempool boundary.
type DeployAccepted struct {
	Deploy json.RawMessage `json:"deploy"`
}

func (DeployAccepted) Kind() Kind { return KindDeployAccepted }

// DeployProcessed carries an executed transaction and its execution
// context: account, timestamp, TTL, dependencies, containing block, and
// result.
type DeployProcessed struct {
	DeployHash      string          `json:"deploy_hash"`
	Account         string          `json:"account"`
	Timestamp       string          `json:"timestamp"`
	TTL             string          `json:"ttl"`
	Dependencies    []string        `json:"dependencies"`
	BlockHash       string          `json:"block_hash"`
	ExecutionResult json.RawMessage `json:"execution_result"`
}

func (DeployProcessed) Kind() Kind { return KindDeployProcessed }

// DeployExpired carries a transaction hash whose TTL elapsed before
// execution.
type DeployExpired struct {
	DeployHash string `json:"deploy_hash"`
}

func (DeployExpired) Kind() Kind { return KindDeployExpired }

// Fault carries an observed validator equivocation.
type Fault struct {
	EraID     uint64 `json:"era_id"`
	PublicKey string `json:"public_key"`
	Timestamp string `json:"timestamp"`
}

func (Fault) Kind() Kind { return KindFault }

// FinalitySignature carries a signature over a finalized block hash.
type FinalitySignature struct {
	BlockHash string `json:"block_hash"`
	Signature string `json:"signature"`
}

func (FinalitySignature) Kind() Kind { return KindFinalitySignature }

// Step carries the execution effect applied at an era boundary.
type Step struct {
	EraID          uint64          `json:"era_id"`
	ExecutionEffect json.RawMessage `json:"execution_effect"`
}

func (Step) Kind() Kind { return KindStep }

// Shutdown announces that the upstream node is going away.
type Shutdown struct{}

func (Shutdown) Kind() Kind { return KindShutdown }

// Envelope is the in-process unit of work: a typed payload plus the
// upstream-assigned arrival ID (absent for the ApiVersion handshake) and
// the source tag used as the persistence partition key.
type Envelope struct {
	Payload Payload
	ID      *string
	Source  string
}

// wireEnvelope mirrors the single-key-object wire convention documented
// in the external typed-event library this sidecar consumes
// (`{"BlockAdded": {...}}`-shaped payloads).
type wireEnvelope struct {
	APIVersion        *string          `json:"ApiVersion,omitempty"`
	BlockAdded        *BlockAdded      `json:"BlockAdded,omitempty"`
	DeployAccepted    *DeployAccepted  `json:"DeployAccepted,omitempty"`
	DeployProcessed   *DeployProcessed `json:"DeployProcessed,omitempty"`
	DeployExpired     *DeployExpired   `json:"DeployExpired,omitempty"`
	Fault             *Fault           `json:"Fault,omitempty"`
	FinalitySignature *FinalitySignature `json:"FinalitySignature,omitempty"`
	Step              *Step            `json:"Step,omitempty"`
	Shutdown          *struct{}        `json:"Shutdown,omitempty"`
}

// DecodePayload parses a single SSE `data:` line into its typed payload.
func DecodePayload(raw []byte) (Payload, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("events: decode payload: %w", err)
	}
	switch {
	case w.APIVersion != nil:
		return APIVersion{Version: *w.APIVersion}, nil
	case w.BlockAdded != nil:
		return *w.BlockAdded, nil
	case w.DeployAccepted != nil:
		return *w.DeployAccepted, nil
	case w.DeployProcessed != nil:
		return *w.DeployProcessed, nil
	case w.DeployExpired != nil:
		return *w.DeployExpired, nil
	case w.Fault != nil:
		return *w.Fault, nil
	case w.FinalitySignature != nil:
		return *w.FinalitySignature, nil
	case w.Step != nil:
		return *w.Step, nil
	case w.Shutdown != nil:
		return Shutdown{}, nil
	default:
		return nil, fmt.Errorf("events: unrecognized payload: %s", raw)
	}
}

// EncodePayload renders a typed payload back into its single-key wire
// form, the inverse of DecodePayload. Used by the broadcaster when
// writing outbound SSE `data:` lines.
func EncodePayload(p Payload) ([]byte, error) {
	var w wireEnvelope
	switch v := p.(type) {
	case APIVersion:
		w.APIVersion = &v.Version
	case BlockAdded:
		w.BlockAdded = &v
	case DeployAccepted:
		w.DeployAccepted = &v
	case DeployProcessed:
		w.DeployProcessed = &v
	case DeployExpired:
		w.DeployExpired = &v
	case Fault:
		w.Fault = &v
	case FinalitySignature:
		w.FinalitySignature = &v
	case Step:
		w.Step = &v
	case Shutdown:
		w.Shutdown = &struct{}{}
	default:
		return nil, fmt.Errorf("events: unknown payload type %T", p)
	}
	return json.Marshal(w)
}
