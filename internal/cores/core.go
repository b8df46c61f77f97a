// Package cores defines the discipline core contract and the runtime that
// drives each core through plan, execute and validate.
package cores

import "context"

// Core identifiers known to the platform.
const (
	AnalysisCoreID      = "analysis_core"
	EngineeringCoreID   = "engineering_core"
	PropulsionCoreID    = "engineering-propulsion-v1"
	FlightControlCoreID = "engineering-flightcontrol-v1"
	CodeReviewCoreID    = "qa-codereview-v1"
)

// Input is everything a core sees for one dispatch. Artifacts is a snapshot;
// cores return new keys in their payload instead of mutating it.
type Input struct {
	RunID     string
	Objective string
	Task      string
	Artifacts map[string]any
	Inputs    map[string]any
	Metadata  map[string]any
	TaskToken string
}

// MetadataString returns a string metadata value or "".
func (in Input) MetadataString(key string) string {
	if in.Metadata == nil {
		return ""
	}
	s, _ := in.Metadata[key].(string)
	return s
}

// Variables returns the run variables, with user inputs layered on top of
// whatever earlier tasks produced.
func (in Input) Variables() map[string]any {
	vars := map[string]any{}
	if prior, ok := in.Artifacts["variables"].(map[string]any); ok {
		for k, v := range prior {
			vars[k] = v
		}
	}
	for k, v := range in.Inputs {
		vars[k] = v
	}
	return vars
}

// Plan is a core's strategy for one dispatch.
type Plan struct {
	Summary string
	Details map[string]any
}

// Payload is the result of Execute.
type Payload map[string]any

// Validation is the critic's verdict.
type Validation struct {
	passed bool
	reason string
}

// Pass accepts a payload.
func Pass() Validation { return Validation{passed: true} }

// Reject refuses a payload with a reason.
func Reject(reason string) Validation { return Validation{reason: reason} }

func (v Validation) Passed() bool   { return v.passed }
func (v Validation) Reason() string { return v.reason }

// DisciplineCore is one specialty. Plan must not mutate shared state; Validate
// must be deterministic.
type DisciplineCore interface {
	ID() string
	Plan(ctx context.Context, in Input, trace *Trace) (Plan, error)
	Execute(ctx context.Context, plan Plan, in Input, trace *Trace) (Payload, error)
	Validate(ctx context.Context, payload Payload, in Input) Validation
}

// Describer is implemented by cores that publish catalog metadata.
type Describer interface {
	Description() string
	Capabilities() []string
}
