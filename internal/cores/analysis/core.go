// Package analysis implements the requirements core: it reads the objective
// and either extracts the variables a solution needs or asks for them.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/prompts"
)

// Parser statuses.
const (
	StatusReady       = "READY"
	StatusMissingInfo = "MISSING_INFO"
)

// Core parses natural language requirements into variables.
type Core struct {
	llm     llm.Client
	prompts *prompts.Loader
	logger  logging.Logger
}

// New returns the analysis core.
func New(client llm.Client, loader *prompts.Loader) *Core {
	return &Core{llm: client, prompts: loader, logger: logging.NewComponentLogger("AnalysisCore")}
}

func (c *Core) ID() string { return cores.AnalysisCoreID }

func (c *Core) Description() string {
	return "Requirement analysis and variable extraction"
}

func (c *Core) Capabilities() []string {
	return []string{"requirements", "variable-extraction", "clarification"}
}

func (c *Core) Plan(_ context.Context, _ cores.Input, _ *cores.Trace) (cores.Plan, error) {
	return cores.Plan{
		Summary: "Extract physical variables from natural language.",
		Details: map[string]any{"strategy": "Parse the objective into a variable schema."},
	}, nil
}

// Execute analyzes the objective, not the task text, so the parser sees the
// user's actual problem.
func (c *Core) Execute(ctx context.Context, _ cores.Plan, in cores.Input, trace *cores.Trace) (cores.Payload, error) {
	system, err := c.prompts.Render(prompts.Requirements, nil)
	if err != nil {
		return nil, err
	}
	known := mission.CloneMap(in.Artifacts)
	if known == nil {
		known = map[string]any{}
	}
	known[mission.ArtifactVariables] = in.Variables()
	contextJSON, err := json.Marshal(known)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}

	resp, err := c.llm.Complete(ctx, llm.Request{
		Tag:      prompts.Requirements,
		System:   system,
		User:     fmt.Sprintf("Problem: %s\nCurrent Context: %s", in.Objective, contextJSON),
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("requirement analysis failed: %w", err)
	}
	parsed, err := llm.DecodeJSON[map[string]any](resp.Content)
	if err != nil {
		return nil, err
	}

	payload := cores.Payload(parsed)
	if raw, ok := parsed[mission.PayloadMissingVars]; ok {
		vars, err := decodeMissingVars(raw)
		if err != nil {
			return nil, err
		}
		payload[mission.PayloadMissingVars] = vars
		trace.Log(cores.RoleExecutor, "Clarify", fmt.Sprintf("Requesting %d variable(s) from the user.", len(vars)), "❓")
	} else if vars, ok := parsed[mission.ArtifactVariables].(map[string]any); ok {
		trace.Log(cores.RoleExecutor, "Extract", fmt.Sprintf("Extracted %d variable(s).", len(vars)), "🧮")
	}
	return payload, nil
}

func decodeMissingVars(raw any) ([]mission.MissingVar, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var vars []mission.MissingVar
	if err := json.Unmarshal(encoded, &vars); err != nil {
		return nil, fmt.Errorf("malformed missing_vars: %w", err)
	}
	return vars, nil
}

func (c *Core) Validate(_ context.Context, payload cores.Payload, _ cores.Input) cores.Validation {
	if msg, ok := payload["error"]; ok {
		return cores.Reject(fmt.Sprint(msg))
	}
	if payload[mission.PayloadStatus] == StatusMissingInfo {
		if vars, ok := payload[mission.PayloadMissingVars].([]mission.MissingVar); ok && len(vars) > 0 {
			return cores.Pass()
		}
		return cores.Reject("MISSING_INFO status but no variables requested.")
	}
	if raw, ok := payload[mission.ArtifactVariables]; ok && raw != nil {
		if _, isMap := raw.(map[string]any); !isMap {
			return cores.Reject("Variables must be a dictionary.")
		}
	}
	return cores.Pass()
}
