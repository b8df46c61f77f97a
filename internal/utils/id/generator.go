// Package id mints the identifiers that tie runs, envelopes and traces
// together.
package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Sortable identifiers are KSUIDs behind a short kind prefix, so ids of one
// kind order by creation time.
const (
	envelopePrefix = "env-"
	tracePrefix    = "trace-"
	messagePrefix  = "msg-"
	taskPrefix     = "task-"
)

func sortable(prefix string) string { return prefix + ksuid.New().String() }

// NewRunID returns run_ followed by 8 hex characters.
func NewRunID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "run_" + ksuid.New().String()[:8]
	}
	return "run_" + hex.EncodeToString(b[:])
}

// NewChannelID returns ch- followed by a random UUID.
func NewChannelID() string { return "ch-" + uuid.NewString() }

func NewEnvelopeID() string { return sortable(envelopePrefix) }

// NewTraceID is shared by an exchange and its reply.
func NewTraceID() string { return sortable(tracePrefix) }

func NewMessageID() string { return sortable(messagePrefix) }

// NewTaskID names ad-hoc tasks minted from the CLI.
func NewTaskID() string { return sortable(taskPrefix) }
