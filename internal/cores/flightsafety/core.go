// Package flightsafety implements the flight control safety core. It rates a
// propulsion configuration against stability margins and environmental
// limits, both as a planned task and as a negotiation peer.
package flightsafety

import (
	"context"
	"fmt"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/prompts"
)

const (
	AssessmentSafe   = "SAFE"
	AssessmentUnsafe = "UNSAFE"

	proposalKey = "propulsion_recommendation"
)

// Core assesses flight safety.
type Core struct {
	llm     llm.Client
	prompts *prompts.Loader
	kb      cores.Knowledge
	logger  logging.Logger
}

// New returns the flight safety core.
func New(client llm.Client, loader *prompts.Loader, kb cores.Knowledge) *Core {
	return &Core{llm: client, prompts: loader, kb: kb, logger: logging.NewComponentLogger("FlightSafetyCore")}
}

func (c *Core) ID() string { return cores.FlightControlCoreID }

func (c *Core) Description() string {
	return "Validates flight stability and safety of proposed configurations"
}

func (c *Core) Capabilities() []string {
	return []string{"safety", "stability", "validation"}
}

func (c *Core) Plan(_ context.Context, _ cores.Input, _ *cores.Trace) (cores.Plan, error) {
	return cores.Plan{
		Summary: "Assess flight stability and safety risks.",
		Details: map[string]any{"strategy": "Evaluate proposed configuration against KB criteria."},
	}, nil
}

func (c *Core) Execute(ctx context.Context, _ cores.Plan, in cores.Input, trace *cores.Trace) (cores.Payload, error) {
	proposal, _ := in.Artifacts[proposalKey].(map[string]any)
	assessment, err := c.assess(ctx, proposal, in.Objective)
	if err != nil {
		return nil, err
	}
	trace.Log(cores.RoleExecutor, "Assessment", fmt.Sprintf("Configuration rated %v.", assessment["assessment"]), "🛡️")
	return cores.Payload(assessment), nil
}

// HandleEnvelope assesses the proposal carried in env and replies with the
// assessment.
func (c *Core) HandleEnvelope(ctx context.Context, env abn.Envelope) (map[string]any, error) {
	c.logger.Info("assessing %s from %s on %s", env.MsgType, env.OriginCore, env.ChannelID)
	return c.assess(ctx, env.Payload, "ABN Negotiation: Validate this proposal.")
}

func (c *Core) assess(ctx context.Context, proposal map[string]any, objective string) (map[string]any, error) {
	if proposal == nil {
		proposal = map[string]any{}
	}
	kbContext := cores.KnowledgeContext(c.kb, "Safety Regulations",
		cores.Section{Label: "Stability Margins", Category: "stability_margins"},
		cores.Section{Label: "Environmental Limits", Category: "environmental_limits"},
	)
	system, err := c.prompts.Render(prompts.FlightSafety, map[string]string{"kb_context": kbContext})
	if err != nil {
		return nil, err
	}
	resp, err := c.llm.Complete(ctx, llm.Request{
		Tag:      prompts.FlightSafety,
		System:   system,
		User:     fmt.Sprintf("Analyzing Configuration:\n%s\n\nGeneral Requirements: %s", cores.PrettyJSON(proposal), objective),
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("safety assessment failed: %w", err)
	}
	return llm.DecodeJSON[map[string]any](resp.Content)
}

// Validate passes UNSAFE assessments too; rating a design unsafe is a
// successful review.
func (c *Core) Validate(_ context.Context, payload cores.Payload, _ cores.Input) cores.Validation {
	if msg, ok := payload["error"]; ok {
		return cores.Reject(fmt.Sprint(msg))
	}
	if payload["assessment"] == AssessmentUnsafe {
		c.logger.Warn("configuration deemed UNSAFE, redesign recommended")
	}
	return cores.Pass()
}

var _ abn.Handler = (*Core)(nil)
