// Package policy is the policy decision point for opening negotiation channels.
package policy

import (
	"time"

	"github.com/beam-me/core/internal/abn"
)

const (
	DefaultMaxBudget = 50
	DefaultTTL       = time.Hour
)

// Decision is the outcome of an authorization request.
type Decision struct {
	Allow           bool          `json:"allow"`
	Budget          int           `json:"budget"`
	TTL             time.Duration `json:"-"`
	ExpiresAt       time.Time     `json:"-"`
	AllowedMsgTypes []abn.MsgType `json:"allowed_msg_types"`
	Reason          string        `json:"reason,omitempty"`
}

// Policy grants channels whose proposed budget stays within MaxBudget.
// It holds no state besides its configuration.
type Policy struct {
	MaxBudget int
	TTL       time.Duration
	Now       func() time.Time
}

// New returns a Policy with the given ceiling and channel lifetime.
// Non-positive values fall back to the defaults.
func New(maxBudget int, ttl time.Duration) *Policy {
	if maxBudget <= 0 {
		maxBudget = DefaultMaxBudget
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Policy{MaxBudget: maxBudget, TTL: ttl, Now: time.Now}
}

// Authorize decides whether origin may open a channel to target with the
// proposed budget. A grant carries exactly the proposed budget and the full
// set of request message types; a denial carries a zero budget.
func (p *Policy) Authorize(origin, target string, proposedBudget int) Decision {
	switch {
	case proposedBudget < 0:
		return Decision{Reason: "proposed budget must not be negative"}
	case proposedBudget > p.MaxBudget:
		return Decision{Reason: "proposed budget exceeds ceiling"}
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return Decision{
		Allow:           true,
		Budget:          proposedBudget,
		TTL:             p.TTL,
		ExpiresAt:       now().Add(p.TTL),
		AllowedMsgTypes: abn.RequestTypes(),
	}
}
