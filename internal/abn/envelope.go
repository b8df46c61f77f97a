// Package abn defines the wire types of the Agent Bus Network: the envelopes
// discipline cores exchange over budgeted channels and the audit records kept
// for every exchange.
package abn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// MsgType classifies an envelope.
type MsgType string

const (
	MsgProposal    MsgType = "PROPOSAL"
	MsgQuestion    MsgType = "QUESTION"
	MsgArtifactRef MsgType = "ARTIFACT_REF"
	MsgCommand     MsgType = "COMMAND"
	MsgAck         MsgType = "ACK"
	MsgResponse    MsgType = "RESPONSE"
)

// RequestTypes are the message types a core may send on a granted channel.
// RESPONSE is written only by the gateway when recording a peer's reply.
func RequestTypes() []MsgType {
	return []MsgType{MsgProposal, MsgQuestion, MsgArtifactRef, MsgCommand, MsgAck}
}

// Strings converts message types for token claims.
func Strings(types []MsgType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// Envelope is one message on a channel.
type Envelope struct {
	EnvelopeID  string         `json:"envelope_id"`
	TraceID     string         `json:"trace_id"`
	ChannelID   string         `json:"channel_id"`
	Seq         int64          `json:"seq"`
	OriginCore  string         `json:"origin_core"`
	TargetCore  string         `json:"target_core"`
	MsgType     MsgType        `json:"msg_type"`
	PayloadHash string         `json:"payload_hash"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// HashPayload returns "sha256:<hex>" over the JSON encoding of payload.
// encoding/json sorts map keys, so equal payloads hash equally.
func HashPayload(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Channel is a granted negotiation session between two cores.
type Channel struct {
	ChannelID  string    `json:"channel_id"`
	TaskID     string    `json:"task_id"`
	OriginCore string    `json:"origin_core"`
	TargetCore string    `json:"target_core"`
	Budget     int       `json:"budget"`
	LastSeq    int64     `json:"last_seq"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"created_at"`
}

// TranscriptEntry is the write-once audit record of one envelope.
type TranscriptEntry struct {
	ChannelID      string    `json:"channel_id"`
	Seq            int64     `json:"seq"`
	EnvelopeID     string    `json:"envelope_id"`
	TraceID        string    `json:"trace_id"`
	OriginCore     string    `json:"origin_core"`
	TargetCore     string    `json:"target_core"`
	MsgType        MsgType   `json:"msg_type"`
	PayloadHash    string    `json:"payload_hash"`
	PolicyDecision string    `json:"policy_decision"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// TranscriptFor builds the audit record of env.
func TranscriptFor(env Envelope, decision string, at time.Time) TranscriptEntry {
	return TranscriptEntry{
		ChannelID:      env.ChannelID,
		Seq:            env.Seq,
		EnvelopeID:     env.EnvelopeID,
		TraceID:        env.TraceID,
		OriginCore:     env.OriginCore,
		TargetCore:     env.TargetCore,
		MsgType:        env.MsgType,
		PayloadHash:    env.PayloadHash,
		PolicyDecision: decision,
		RecordedAt:     at,
	}
}

// Handler is implemented by cores that answer envelopes synchronously. A nil
// reply with a nil error means the envelope was accepted without an answer.
type Handler interface {
	HandleEnvelope(ctx context.Context, env Envelope) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) (map[string]any, error)

// HandleEnvelope calls f.
func (f HandlerFunc) HandleEnvelope(ctx context.Context, env Envelope) (map[string]any, error) {
	return f(ctx, env)
}

// HandlerResolver finds the live handler for a core id.
type HandlerResolver interface {
	Handler(coreID string) (Handler, bool)
}
