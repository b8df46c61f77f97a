// Package propulsion implements the propulsion sizing core. It picks drone
// components from the inventory and has the proposal checked by a safety
// peer before returning it.
package propulsion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/abn/client"
	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/prompts"
)

// Payload keys.
const (
	KeyRecommendation       = "propulsion_recommendation"
	KeySafetyValidation     = "safety_validation"
	KeyPerformanceEstimates = "performance_estimates"

	StatusRejectedBySafety = "REJECTED_BY_SAFETY"
	SafetySkipped          = "SKIPPED"

	safetyNeed = "Verify flight safety and stability"
)

// Matcher resolves a need to a peer core id.
type Matcher interface {
	FindBestAgent(need string) (string, bool)
}

// Config wires the core's collaborators. A nil Clients disables consultation.
type Config struct {
	LLM       llm.Client
	Prompts   *prompts.Loader
	Knowledge cores.Knowledge
	Matcher   Matcher
	Clients   client.Factory
	Budget    int
	Logger    logging.Logger
}

// Core sizes propulsion systems.
type Core struct {
	cfg    Config
	logger logging.Logger
}

// New returns the propulsion core.
func New(cfg Config) *Core {
	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("PropulsionCore")
	}
	return &Core{cfg: cfg, logger: logger}
}

func (c *Core) ID() string { return cores.PropulsionCoreID }

func (c *Core) Description() string {
	return "Chooses motors, ESCs and batteries for thrust and endurance targets"
}

func (c *Core) Capabilities() []string {
	return []string{"propulsion", "motor-sizing", "battery-selection"}
}

func (c *Core) Plan(_ context.Context, _ cores.Input, _ *cores.Trace) (cores.Plan, error) {
	return cores.Plan{
		Summary: "Select propulsion components from Knowledge Base and validate via ABN.",
		Details: map[string]any{"strategy": "1. Search KB. 2. Generate recommendation. 3. Negotiate with Flight Safety."},
	}, nil
}

func (c *Core) Execute(ctx context.Context, _ cores.Plan, in cores.Input, trace *cores.Trace) (cores.Payload, error) {
	inventory := cores.KnowledgeContext(c.cfg.Knowledge, "Available Inventory",
		cores.Section{Label: "Motors", Category: "motors"},
		cores.Section{Label: "ESCs", Category: "escs"},
		cores.Section{Label: "Batteries", Category: "batteries"},
	)
	trace.Log(cores.RoleExecutor, "Retrieval", "Loaded component inventory from Knowledge Base.", "📚")

	system, err := c.cfg.Prompts.Render(prompts.Propulsion, map[string]string{"inventory_context": inventory})
	if err != nil {
		return nil, err
	}
	inputs, _ := json.Marshal(in.Variables())
	resp, err := c.cfg.LLM.Complete(ctx, llm.Request{
		Tag:      prompts.Propulsion,
		System:   system,
		User:     fmt.Sprintf("Requirements: %s\nSpecific Inputs: %s", in.Objective, inputs),
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("propulsion recommendation failed: %w", err)
	}
	rec, err := llm.DecodeJSON[map[string]any](resp.Content)
	if err != nil {
		return nil, err
	}

	c.consultSafety(ctx, in, rec, trace)

	payload := cores.Payload(mission.CloneMap(rec))
	payload[KeyRecommendation] = mission.CloneMap(rec)
	payload[mission.PayloadExecutionResult] = map[string]any{
		"stdout": cores.PrettyJSON(rec),
		"stderr": "",
	}
	return payload, nil
}

// consultSafety asks a safety peer to assess rec. Every failure is recorded
// in rec; none fails the core.
func (c *Core) consultSafety(ctx context.Context, in cores.Input, rec map[string]any, trace *cores.Trace) {
	trace.Log("Orchestrator", "Request", "Asking Orchestrator for a Safety Expert...", "📡")
	var target string
	if c.cfg.Matcher != nil {
		target, _ = c.cfg.Matcher.FindBestAgent(safetyNeed)
	}
	if target == "" || c.cfg.Clients == nil {
		trace.Log("Orchestrator", "Skip", "No Safety Agent available. Skipping validation.", "⏭️")
		rec[KeySafetyValidation] = SafetySkipped
		return
	}

	negotiator := c.cfg.Clients.NewClient(in.TaskToken, c.ID())
	defer func() {
		if err := negotiator.Close(ctx); err != nil {
			c.logger.Warn("close negotiation channels: %v", err)
		}
	}()

	if _, err := negotiator.RequestConnection(ctx, target, c.cfg.Budget); err != nil {
		c.negotiationFailed(rec, trace, err)
		return
	}
	trace.Log("ABN", "Connect", fmt.Sprintf("Channel established with %s.", target), "🔌")

	reply, err := negotiator.Send(ctx, target, abn.MsgProposal, mission.CloneMap(rec))
	if err != nil {
		c.negotiationFailed(rec, trace, err)
		return
	}
	if reply == nil {
		rec[KeySafetyValidation] = map[string]any{"error": "No response"}
		return
	}
	trace.Log("ABN", "Receive", fmt.Sprintf("Safety Assessment: %v", reply.Payload["assessment"]), "📥")
	rec[KeySafetyValidation] = reply.Payload
	if reply.Payload["assessment"] == "UNSAFE" {
		rec[mission.PayloadStatus] = StatusRejectedBySafety
	}
}

func (c *Core) negotiationFailed(rec map[string]any, trace *cores.Trace, err error) {
	c.logger.Warn("safety negotiation failed: %v", err)
	rec[KeySafetyValidation] = map[string]any{"error": "ABN Negotiation Failed: " + err.Error()}
	trace.Log("ABN", "Error", "Negotiation failed: "+err.Error(), "💥")
}

func (c *Core) Validate(_ context.Context, payload cores.Payload, _ cores.Input) cores.Validation {
	if msg, ok := payload["error"]; ok {
		return cores.Reject(fmt.Sprint(msg))
	}
	if _, ok := payload[KeyPerformanceEstimates]; !ok {
		return cores.Reject("Missing performance estimates.")
	}
	return cores.Pass()
}
