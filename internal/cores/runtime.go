package cores

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/utils/id"
)

// Runtime drives cores through plan, execute and validate and converts every
// outcome, panics included, into an AgentMessage.
type Runtime struct {
	logger logging.Logger
	now    func() time.Time
}

// NewRuntime returns a Runtime. A nil clock uses time.Now.
func NewRuntime(logger logging.Logger, now func() time.Time) *Runtime {
	if now == nil {
		now = time.Now
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("CoreRuntime")
	}
	return &Runtime{logger: logger, now: now}
}

// Run invokes core once with a fresh trace.
func (r *Runtime) Run(ctx context.Context, core DisciplineCore, in Input) (msg mission.AgentMessage) {
	trace := NewTrace(core.ID(), r.now)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("core %s panicked: %v\n%s", core.ID(), rec, debug.Stack())
			trace.Log(RoleSystem, "Crash", fmt.Sprintf("Core Exception: %v", rec), "💀")
			msg = r.failed(core.ID(), in.RunID, fmt.Sprintf("panic: %v", rec), trace)
		}
	}()

	trace.Log(RoleSystem, "Boot", "Core Initialized. Loading Context...", "🔋")

	trace.Log(RolePlanner, "Analysis", "Interpreting Orchestrator Requirements...", "📋")
	plan, err := core.Plan(ctx, in, trace)
	if err != nil {
		r.logger.Warn("core %s plan failed, using default plan: %v", core.ID(), err)
		plan = Plan{Summary: "Default plan: execute task as described"}
	}
	trace.Log(RolePlanner, "Strategy", "Execution Plan: "+plan.Summary, "📐")

	trace.Log(RoleExecutor, "Action", "Engaging Toolchain...", "🛠️")
	payload, err := core.Execute(ctx, plan, in, trace)
	if err != nil {
		trace.Log(RoleSystem, "Crash", "Core Exception: "+err.Error(), "💀")
		return r.failed(core.ID(), in.RunID, err.Error(), trace)
	}
	trace.Log(RoleExecutor, "Output", "Task Execution Complete.", "📦")

	trace.Log(RoleCritic, "Review", "Running Deterministic Validation...", "🧐")
	verdict := core.Validate(ctx, payload, in)
	if !verdict.Passed() {
		trace.Log(RoleCritic, "Rejection", "Validation Failed: "+verdict.Reason(), "❌")
		return r.failed(core.ID(), in.RunID, "Validation Failed: "+verdict.Reason(), trace)
	}
	trace.Log(RoleCritic, "Approval", "Result Validated. Promoting to Orchestrator.", "✅")

	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out[mission.PayloadTraceLog] = trace.Entries()

	state := mission.StateCompleted
	summary := "Core Execution Successful"
	if hasMissingVars(payload) {
		state = mission.StateAwaitingUser
		summary = "Additional input required"
	}
	return mission.AgentMessage{
		MessageID:  id.NewMessageID(),
		RunID:      in.RunID,
		FromAgent:  core.ID(),
		Timestamp:  r.now(),
		State:      state,
		Summary:    summary,
		Confidence: 1.0,
		Payload:    out,
	}
}

func (r *Runtime) failed(coreID, runID, summary string, trace *Trace) mission.AgentMessage {
	return mission.AgentMessage{
		MessageID: id.NewMessageID(),
		RunID:     runID,
		FromAgent: coreID,
		Timestamp: r.now(),
		State:     mission.StateFailed,
		Summary:   summary,
		Payload:   map[string]any{mission.PayloadTraceLog: trace.Entries()},
	}
}

func hasMissingVars(payload Payload) bool {
	switch v := payload[mission.PayloadMissingVars].(type) {
	case []mission.MissingVar:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return false
	}
}
