// Package engineering implements the code-producing core. Depending on the
// run strategy it replays a stored solution, refactors one, or writes a new
// one, checking every candidate in the sandbox before publishing it.
package engineering

import (
	"context"
	"errors"
	"fmt"

	"github.com/beam-me/core/internal/artifacts"
	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/prompts"
	"github.com/beam-me/core/internal/sandbox"
)

const (
	// DefaultMaxAttempts bounds the generate, run, probe loop.
	DefaultMaxAttempts = 3
	// FailedPushURL marks a solution that could not be published.
	FailedPushURL = "http://failed-to-push"
)

// Prober checks that code survives stringified inputs.
type Prober interface {
	Check(ctx context.Context, code string, inputs map[string]any) (bool, string)
}

// Config wires the core's collaborators.
type Config struct {
	LLM         llm.Client
	Prompts     *prompts.Loader
	Sandbox     sandbox.Executor
	Robustness  Prober
	Artifacts   artifacts.Store
	MaxAttempts int
	Logger      logging.Logger
}

// Core generates, runs and publishes solution code.
type Core struct {
	llm         llm.Client
	prompts     *prompts.Loader
	sandbox     sandbox.Executor
	robustness  Prober
	artifacts   artifacts.Store
	maxAttempts int
	logger      logging.Logger
}

// New returns the engineering core.
func New(cfg Config) *Core {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logging.IsNil(cfg.Logger) {
		cfg.Logger = logging.NewComponentLogger("EngineeringCore")
	}
	return &Core{
		llm:         cfg.LLM,
		prompts:     cfg.Prompts,
		sandbox:     cfg.Sandbox,
		robustness:  cfg.Robustness,
		artifacts:   cfg.Artifacts,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
	}
}

func (c *Core) ID() string { return cores.EngineeringCoreID }

func (c *Core) Description() string {
	return "Code generation, sandboxed execution and publication"
}

func (c *Core) Capabilities() []string {
	return []string{"codegen", "simulation", "refactor", "reuse"}
}

// Plan reads the execution mode and reuse artifact from task metadata.
func (c *Core) Plan(_ context.Context, in cores.Input, _ *cores.Trace) (cores.Plan, error) {
	mode := modeOf(in)
	return cores.Plan{
		Summary: fmt.Sprintf("Execute Engineering Task in %s mode.", mode),
		Details: map[string]any{
			"mode":     mode,
			"filename": artifacts.SolutionPath(in.RunID),
			"artifact": artifactOf(in),
		},
	}, nil
}

func (c *Core) Execute(ctx context.Context, _ cores.Plan, in cores.Input, trace *cores.Trace) (cores.Payload, error) {
	vars := in.Variables()
	switch modeOf(in) {
	case mission.StrategyReuse:
		return c.reuse(ctx, in, vars, trace)
	case mission.StrategyModify:
		ref := artifactOf(in)
		if ref.FilePath == "" {
			return nil, errors.New("modify requested without an artifact file path")
		}
		trace.Log(cores.RoleExecutor, "Retrieval", fmt.Sprintf("Fetching %s for refactoring...", ref.FilePath), "📥")
		previous, err := c.artifacts.Fetch(ctx, ref.FilePath)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ref.FilePath, err)
		}
		trace.Log(cores.RoleExecutor, "Refactor", fmt.Sprintf("Refactoring %s...", ref.FilePath), "🔧")
		return c.build(ctx, in, vars, previous, trace)
	default:
		return c.build(ctx, in, vars, "", trace)
	}
}

// reuse runs a stored solution once. No code is generated.
func (c *Core) reuse(ctx context.Context, in cores.Input, vars map[string]any, trace *cores.Trace) (cores.Payload, error) {
	ref := artifactOf(in)
	if ref.FilePath == "" {
		return nil, errors.New("reuse requested without an artifact file path")
	}
	trace.Log(cores.RoleExecutor, "Retrieval", fmt.Sprintf("Fetching verified code from %s...", ref.FilePath), "📥")
	code, err := c.artifacts.Fetch(ctx, ref.FilePath)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref.FilePath, err)
	}
	codeURL := ref.CodeURL
	if codeURL == "" {
		codeURL = ref.FilePath
	}
	result := c.sandbox.Execute(ctx, code, vars)
	trace.Log(cores.RoleExecutor, "Replay", fmt.Sprintf("Stored solution exited with code %d.", result.ExitCode), "▶️")
	return cores.Payload{
		mission.ArtifactCodeURL:         codeURL,
		mission.ArtifactGeneratedCode:   code,
		mission.ArtifactExecutionResult: result.Map(),
		mission.ArtifactVariables:       vars,
		mission.ArtifactFilePath:        ref.FilePath,
	}, nil
}

// build runs the self-healing loop. previous seeds the first generation in
// MODIFY mode. After the final attempt the last candidate is kept and the
// critic decides.
func (c *Core) build(ctx context.Context, in cores.Input, vars map[string]any, previous string, trace *cores.Trace) (cores.Payload, error) {
	var (
		current  = previous
		feedback string
		accepted string
		result   sandbox.Result
	)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req := generation{Objective: in.Objective, Plan: in.Task, Variables: vars, Previous: current}
		if feedback != "" {
			trace.Log(cores.RoleExecutor, "Refinement", fmt.Sprintf("Attempt %d: Fixing errors...", attempt), "🩹")
			req.Plan = "Fix the code based on error."
			req.Feedback = feedback
		}
		code, err := c.generate(ctx, req)
		if err != nil {
			return nil, err
		}
		current = code

		result = c.sandbox.Execute(ctx, current, vars)
		if !result.Succeeded() {
			detail := result.Stderr
			if detail == "" {
				detail = result.Error
			}
			feedback = "Runtime Error: " + detail
			trace.Log(cores.RoleExecutor, "Check", "Simulation Failed: "+feedback, "❌")
			continue
		}

		if ok, reason := c.robustness.Check(ctx, current, vars); !ok {
			feedback = fmt.Sprintf("Robustness Error (Input Fuzzing): %s. \nHINT: Did you forget to float() cast the inputs?", reason)
			trace.Log(cores.RoleExecutor, "Check", "Robustness Failed: "+reason, "🛡️")
			continue
		}

		trace.Log(cores.RoleExecutor, "Success", "Code passed all internal checks.", "✅")
		accepted = current
		break
	}

	if accepted == "" {
		if current == "" {
			return nil, errors.New("failed to generate working code after retries")
		}
		trace.Log(cores.RoleExecutor, "GiveUp", "Max retries reached. Returning last attempt.", "🏳️")
		accepted = current
	}
	if previous != "" {
		trace.Log(cores.RoleExecutor, "Diff", summarizeDiff(previous, accepted), "🧾")
	}

	payload := cores.Payload{
		mission.ArtifactGeneratedCode:   accepted,
		mission.ArtifactExecutionResult: result.Map(),
		mission.ArtifactVariables:       vars,
	}
	path := artifacts.SolutionPath(in.RunID)
	url, err := c.artifacts.Push(ctx, path, accepted, artifacts.SolutionMessage(in.RunID))
	if err != nil {
		c.logger.Warn("push %s failed: %v", path, err)
		trace.Log(cores.RoleExecutor, "PushFail", fmt.Sprintf("Failed to push code: %v", err), "⚠️")
		payload[mission.ArtifactCodeURL] = FailedPushURL
		return payload, nil
	}
	trace.Log(cores.RoleExecutor, "Publish", "Solution published to "+url, "🚀")
	payload[mission.ArtifactCodeURL] = url
	payload[mission.ArtifactFilePath] = path
	return payload, nil
}

// Validate requires a clean run and a passing robustness probe.
func (c *Core) Validate(ctx context.Context, payload cores.Payload, _ cores.Input) cores.Validation {
	run, _ := payload[mission.ArtifactExecutionResult].(map[string]any)
	if code, ok := exitCode(run); !ok || code != 0 {
		detail, _ := run["error"].(string)
		if detail == "" {
			detail, _ = run["stderr"].(string)
		}
		return cores.Reject("Runtime Error: " + detail)
	}
	code, _ := payload[mission.ArtifactGeneratedCode].(string)
	vars, _ := payload[mission.ArtifactVariables].(map[string]any)
	if ok, reason := c.robustness.Check(ctx, code, vars); !ok {
		return cores.Reject(reason)
	}
	return cores.Pass()
}

func exitCode(run map[string]any) (int, bool) {
	switch v := run["exit_code"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func modeOf(in cores.Input) mission.Strategy {
	switch mode := mission.Strategy(in.MetadataString("mode")); mode {
	case mission.StrategyReuse, mission.StrategyModify:
		return mode
	default:
		return mission.StrategyBuild
	}
}

// artifactRef is the reuse artifact the planner places in task metadata.
type artifactRef struct {
	FilePath string
	CodeURL  string
}

func artifactOf(in cores.Input) artifactRef {
	raw, _ := in.Metadata["artifact"].(map[string]any)
	ref := artifactRef{}
	ref.FilePath, _ = raw["file_path"].(string)
	ref.CodeURL, _ = raw["code_url"].(string)
	return ref
}
