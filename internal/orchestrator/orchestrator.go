// Package orchestrator drives a run: it picks a strategy, asks the planner for
// a task graph and dispatches tasks to discipline cores until the graph is
// done, a core needs user input, a task fails or no progress is possible.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	coreerrors "github.com/beam-me/core/internal/errors"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/observability"
	"github.com/beam-me/core/internal/rag"
	"github.com/beam-me/core/internal/strategy"
	"github.com/beam-me/core/internal/utils/id"
)

// AgentName is the from_agent of every run-level message.
const AgentName = "hmao.orchestrator"

const (
	DefaultMaxIterations = 15
	DefaultTaskTokenTTL  = time.Hour
)

// Error kinds reported in the payload of FAILED runs.
const (
	KindTaskFailed     = "task_failed"
	KindDeadlock       = "deadlock"
	KindIterationLimit = "iteration_limit"
	KindCanceled       = "canceled"
	KindInvalidPlan    = "invalid_plan"
)

const (
	stageStrategy = "strategy"
	stagePlan     = "plan"
	stageDispatch = "dispatch"
	stageIndex    = "index"
	stageRun      = "run"
)

// CoreLookup resolves registered cores.
type CoreLookup interface {
	Lookup(coreID string) (cores.DisciplineCore, bool)
}

// StrategySelector chooses BUILD, REUSE or MODIFY for an objective.
type StrategySelector interface {
	Select(ctx context.Context, objective string) strategy.Decision
}

// Planner builds the task graph of a run.
type Planner interface {
	GeneratePlan(ctx context.Context, objective string, s mission.Strategy, reuse *rag.Match) mission.TaskGraph
}

// TaskTokenMinter issues the per-dispatch task token.
type TaskTokenMinter interface {
	MintTaskToken(taskID string, cores []string, allowDirect bool, ttl time.Duration) (string, error)
}

// Indexer records successful runs for future reuse.
type Indexer interface {
	Index(ctx context.Context, req rag.IndexRequest) error
}

// Config wires an Orchestrator. Registry and Planner are required.
type Config struct {
	Registry      CoreLookup
	Runtime       *cores.Runtime
	Selector      StrategySelector
	Planner       Planner
	Tokens        TaskTokenMinter
	Index         Indexer
	MaxIterations int
	// MaxParallel above one dispatches independent ready tasks concurrently.
	MaxParallel  int
	TaskTokenTTL time.Duration
	Metrics      *Metrics
	Logger       logging.Logger
	Now          func() time.Time
}

// Orchestrator is safe for concurrent runs; each run owns its RunState.
type Orchestrator struct {
	registry      CoreLookup
	runtime       *cores.Runtime
	selector      StrategySelector
	planner       Planner
	tokens        TaskTokenMinter
	index         Indexer
	maxIterations int
	maxParallel   int
	tokenTTL      time.Duration
	metrics       *Metrics
	logger        logging.Logger
	now           func() time.Time
}

// Request starts or resumes a run. Resuming is a new run with the same
// objective and the user's answers in Inputs.
type Request struct {
	RunID     string
	Objective string
	Inputs    map[string]any
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	if cfg.Planner == nil {
		return nil, errors.New("orchestrator: planner is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logging.IsNil(cfg.Logger) {
		cfg.Logger = logging.NewComponentLogger("Orchestrator")
	}
	if cfg.Runtime == nil {
		cfg.Runtime = cores.NewRuntime(nil, cfg.Now)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.TaskTokenTTL <= 0 {
		cfg.TaskTokenTTL = DefaultTaskTokenTTL
	}
	return &Orchestrator{
		registry:      cfg.Registry,
		runtime:       cfg.Runtime,
		selector:      cfg.Selector,
		planner:       cfg.Planner,
		tokens:        cfg.Tokens,
		index:         cfg.Index,
		maxIterations: cfg.MaxIterations,
		maxParallel:   cfg.MaxParallel,
		tokenTTL:      cfg.TaskTokenTTL,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}, nil
}

// Run executes one run to a terminal message. It never returns an error;
// every failure is reported as a FAILED AgentMessage.
func (o *Orchestrator) Run(ctx context.Context, req Request) mission.AgentMessage {
	runID := req.RunID
	if runID == "" {
		runID = id.NewRunID()
	}
	ctx = id.WithRunID(ctx, runID)
	ctx, span := observability.StartSpan(ctx, observability.SpanOrchestratorRun)
	defer span.End()

	defer o.metrics.TrackRun()()
	started := o.now()

	state := mission.NewRunState(runID, req.Objective, req.Inputs, o.now)
	state.Log("Orchestrator", "Intake", "Objective received: "+req.Objective, "📡")

	decision := o.selectStrategy(ctx, state)
	span.SetAttributes(attribute.String(observability.AttrStrategy, string(decision.Strategy)))

	planStart := o.now()
	// A BUILD run starts fresh even when a weak match was found.
	var reuse *rag.Match
	if decision.Strategy == mission.StrategyReuse || decision.Strategy == mission.StrategyModify {
		reuse = decision.Match
	}
	state.Tasks = o.planner.GeneratePlan(ctx, req.Objective, decision.Strategy, reuse)
	if err := state.Tasks.Validate(); err != nil {
		o.metrics.ObserveStageDuration(stagePlan, "error", o.now().Sub(planStart))
		o.metrics.IncStageFailure(stagePlan, KindInvalidPlan)
		state.Log("Orchestrator", "Failure", "Planner returned an unusable graph: "+err.Error(), "💥")
		return o.failed(state, KindInvalidPlan, fmt.Errorf("%w: %v", coreerrors.ErrPlanningFailure, err))
	}
	o.metrics.ObserveStageDuration(stagePlan, "ok", o.now().Sub(planStart))
	state.Log("Orchestrator", "Decomposition", fmt.Sprintf("DAG constructed with %d tasks.", len(state.Tasks)), "🔀")

	msg := o.dispatchLoop(ctx, state, req.Inputs)
	if msg.State == mission.StateCompleted {
		o.indexRun(ctx, state)
		msg.Payload[mission.PayloadTraceLog] = state.Logs
	}

	status := string(msg.State)
	o.metrics.ObserveStageDuration(stageRun, status, o.now().Sub(started))
	span.SetAttributes(attribute.String(observability.AttrStatus, status))
	if msg.State == mission.StateFailed {
		span.SetStatus(codes.Error, msg.Summary)
	}
	return msg
}

func (o *Orchestrator) selectStrategy(ctx context.Context, state *mission.RunState) strategy.Decision {
	state.Log("Orchestrator", "Index", "Querying Repository Index for existing solutions...", "🔍")
	started := o.now()
	decision := strategy.Decision{Strategy: mission.StrategyBuild}
	if o.selector != nil {
		decision = o.selector.Select(ctx, state.Objective)
	}
	o.metrics.ObserveStageDuration(stageStrategy, string(decision.Strategy), o.now().Sub(started))
	state.Strategy = decision.Strategy

	switch {
	case decision.Match == nil:
		state.Log("Orchestrator", "Strategy", "No matches found. Strategy: BUILD.", "🧱")
	case decision.Strategy == mission.StrategyReuse:
		state.Log("Orchestrator", "Strategy", fmt.Sprintf("Exact match found (Score: %.2f). Strategy: REUSE.", decision.Similarity), "⚡️")
	case decision.Strategy == mission.StrategyModify:
		state.Log("Orchestrator", "Strategy", fmt.Sprintf("Partial match found (Score: %.2f). Strategy: MODIFY.", decision.Similarity), "🔧")
	default:
		state.Log("Orchestrator", "Strategy", fmt.Sprintf("Low similarity (%.2f). Strategy: BUILD.", decision.Similarity), "🧱")
	}
	return decision
}

// dispatchLoop runs passes over the graph until it settles. Serial passes
// re-check readiness per task in id order, so a chain can finish in one pass.
func (o *Orchestrator) dispatchLoop(ctx context.Context, state *mission.RunState, inputs map[string]any) mission.AgentMessage {
	for pass := 1; ; pass++ {
		pending := state.Tasks.Pending()
		if len(pending) == 0 {
			state.Log("Orchestrator", "Complete", "All tasks finished. Mission accomplished.", "🏁")
			return o.completed(state)
		}
		if pass > o.maxIterations {
			o.metrics.IncStageFailure(stageDispatch, KindIterationLimit)
			state.Log("Orchestrator", "Failure", fmt.Sprintf("Iteration limit (%d) reached with %d tasks pending.", o.maxIterations, len(pending)), "⏱️")
			return o.failed(state, KindIterationLimit, fmt.Errorf("%w: %d passes", coreerrors.ErrIterationLimit, o.maxIterations))
		}
		if err := ctx.Err(); err != nil {
			o.metrics.IncStageFailure(stageDispatch, KindCanceled)
			return o.failed(state, KindCanceled, err)
		}

		var (
			progressed bool
			halt       *mission.AgentMessage
		)
		if o.maxParallel > 1 {
			progressed, halt = o.parallelPass(ctx, state, pending, inputs)
		} else {
			progressed, halt = o.serialPass(ctx, state, pending, inputs)
		}
		if halt != nil {
			return *halt
		}
		if !progressed {
			o.metrics.IncStageFailure(stageDispatch, KindDeadlock)
			state.Log("Orchestrator", "Deadlock", fmt.Sprintf("No task could be dispatched; %d tasks blocked.", len(pending)), "🧊")
			return o.failed(state, KindDeadlock, fmt.Errorf("%w: blocked tasks %v", coreerrors.ErrDeadlock, pending))
		}
	}
}

func (o *Orchestrator) serialPass(ctx context.Context, state *mission.RunState, pending []string, inputs map[string]any) (bool, *mission.AgentMessage) {
	progressed := false
	for _, taskID := range pending {
		task := state.Tasks[taskID]
		if !state.Tasks.DependenciesSatisfied(task) {
			continue
		}
		progressed = true
		core, ok := o.claim(state, task)
		if !ok {
			continue
		}
		in := o.input(state, task, inputs)
		msg := o.dispatch(ctx, core, task, in)
		if halt := o.apply(state, task, msg, inputs); halt != nil {
			return progressed, halt
		}
	}
	return progressed, nil
}

// parallelPass dispatches the whole ready set at once. Every task sees the
// artifacts as they were when the pass started; results merge in id order.
func (o *Orchestrator) parallelPass(ctx context.Context, state *mission.RunState, pending []string, inputs map[string]any) (bool, *mission.AgentMessage) {
	type job struct {
		task *mission.Task
		core cores.DisciplineCore
		in   cores.Input
		msg  mission.AgentMessage
	}

	progressed := false
	var jobs []*job
	for _, taskID := range pending {
		task := state.Tasks[taskID]
		if !state.Tasks.DependenciesSatisfied(task) {
			continue
		}
		progressed = true
		core, ok := o.claim(state, task)
		if !ok {
			continue
		}
		jobs = append(jobs, &job{task: task, core: core, in: o.input(state, task, inputs)})
	}

	var g errgroup.Group
	g.SetLimit(o.maxParallel)
	for _, j := range jobs {
		g.Go(func() error {
			j.msg = o.dispatch(ctx, j.core, j.task, j.in)
			return nil
		})
	}
	_ = g.Wait()

	var halt *mission.AgentMessage
	for _, j := range jobs {
		if halt != nil {
			// Results after the halting task are dropped; the run is over.
			_ = j.task.Transition(mission.TaskPending)
			continue
		}
		halt = o.apply(state, j.task, j.msg, inputs)
	}
	return progressed, halt
}

// claim resolves the task's core and moves it to IN_PROGRESS. Unregistered
// cores skip the task instead of failing the run.
func (o *Orchestrator) claim(state *mission.RunState, task *mission.Task) (cores.DisciplineCore, bool) {
	core, ok := o.registry.Lookup(task.AssignedCore)
	if !ok {
		o.logger.Warn("task %s assigned to unregistered core %s; skipping", task.ID, task.AssignedCore)
		_ = task.Transition(mission.TaskSkipped)
		o.metrics.IncTaskOutcome(task.AssignedCore, string(mission.TaskSkipped))
		state.Log("Orchestrator", "Skip",
			fmt.Sprintf("Task %s skipped: %v (%s).", task.ID, coreerrors.ErrCoreNotFound, task.AssignedCore), "⚠️")
		return nil, false
	}
	_ = task.Transition(mission.TaskInProgress)
	state.Log("Orchestrator", "Dispatch", fmt.Sprintf("Dispatching %s to %s", task.ID, task.AssignedCore), "🚀")
	return core, true
}

func (o *Orchestrator) input(state *mission.RunState, task *mission.Task, inputs map[string]any) cores.Input {
	in := cores.Input{
		RunID:     state.RunID,
		Objective: state.Objective,
		Task:      task.Description,
		Artifacts: state.SnapshotArtifacts(),
		Inputs:    mission.CloneMap(inputs),
		Metadata:  mission.CloneMap(task.Metadata),
	}
	if o.tokens != nil {
		tok, err := o.tokens.MintTaskToken(task.ID, []string{task.AssignedCore}, true, o.tokenTTL)
		if err != nil {
			o.logger.Warn("mint task token for %s failed: %v", task.ID, err)
		}
		in.TaskToken = tok
	}
	return in
}

// dispatch runs one core. It only reads its input, so it is safe to call
// from several goroutines.
func (o *Orchestrator) dispatch(ctx context.Context, core cores.DisciplineCore, task *mission.Task, in cores.Input) mission.AgentMessage {
	ctx = id.WithTaskID(ctx, task.ID)
	ctx, span := observability.StartSpan(ctx, observability.SpanTaskDispatch,
		attribute.String(observability.AttrCoreID, core.ID()))
	defer span.End()

	started := o.now()
	msg := o.runtime.Run(ctx, core, in)
	o.metrics.ObserveStageDuration(stageDispatch, string(msg.State), o.now().Sub(started))
	span.SetAttributes(attribute.String(observability.AttrStatus, string(msg.State)))
	if msg.State == mission.StateFailed {
		span.SetStatus(codes.Error, msg.Summary)
	}
	return msg
}

// apply folds a core's message into the run. A non-nil result ends the run.
func (o *Orchestrator) apply(state *mission.RunState, task *mission.Task, msg mission.AgentMessage, inputs map[string]any) *mission.AgentMessage {
	state.AppendLogs(msg.TraceLog())

	switch msg.State {
	case mission.StateCompleted:
		_ = task.Transition(mission.TaskCompleted)
		task.Result = msg.Payload
		state.MergePayload(msg.Payload, inputs)
		o.metrics.IncTaskOutcome(task.AssignedCore, string(mission.TaskCompleted))
		state.Log("Orchestrator", "Reconciliation", fmt.Sprintf("Task %s completed successfully.", task.ID), "✅")
		return nil

	case mission.StateAwaitingUser:
		_ = task.Transition(mission.TaskPending)
		o.metrics.IncTaskOutcome(task.AssignedCore, string(mission.StateAwaitingUser))
		state.Log("Orchestrator", "Pause", "Clarification needed from user.", "🙋")
		out := o.message(state, mission.StateAwaitingUser, "Clarification Needed", 1.0, map[string]any{
			mission.PayloadMissingVars: msg.Payload[mission.PayloadMissingVars],
			mission.PayloadTraceLog:    state.Logs,
			mission.PayloadStrategy:    string(state.Strategy),
		})
		out.OpenQuestions = questions(msg.MissingVars())
		return &out

	default:
		_ = task.Transition(mission.TaskFailed)
		task.Result = msg.Payload
		o.metrics.IncTaskOutcome(task.AssignedCore, string(mission.TaskFailed))
		o.metrics.IncStageFailure(stageDispatch, KindTaskFailed)
		state.Log("Orchestrator", "Failure", fmt.Sprintf("Task %s failed: %s", task.ID, msg.Summary), "💥")
		out := o.message(state, mission.StateFailed, msg.Summary, 0, map[string]any{
			mission.PayloadTraceLog:  state.Logs,
			mission.PayloadStrategy:  string(state.Strategy),
			mission.PayloadErrorKind: KindTaskFailed,
			"failed_task":            task.ID,
		})
		return &out
	}
}

func (o *Orchestrator) indexRun(ctx context.Context, state *mission.RunState) {
	if o.index == nil {
		return
	}
	filePath, _ := state.Artifacts[mission.ArtifactFilePath].(string)
	if filePath == "" {
		return
	}
	codeURL, _ := state.Artifacts[mission.ArtifactCodeURL].(string)
	started := o.now()
	err := o.index.Index(ctx, rag.IndexRequest{
		RunID:     state.RunID,
		Objective: state.Objective,
		FilePath:  filePath,
		CodeURL:   codeURL,
		Metadata:  map[string]string{"strategy": string(state.Strategy)},
	})
	if err != nil {
		o.metrics.ObserveStageDuration(stageIndex, "error", o.now().Sub(started))
		o.logger.Warn("index run %s failed: %v", state.RunID, err)
		state.Log("Orchestrator", "Index", "Solution could not be indexed: "+err.Error(), "⚠️")
		return
	}
	o.metrics.ObserveStageDuration(stageIndex, "ok", o.now().Sub(started))
	state.Log("Orchestrator", "Index", "Solution indexed for future reuse: "+filePath, "🗂️")
}

func (o *Orchestrator) completed(state *mission.RunState) mission.AgentMessage {
	return o.message(state, mission.StateCompleted, "Mission Accomplished", 1.0, map[string]any{
		mission.PayloadTraceLog:        state.Logs,
		mission.PayloadArtifacts:       state.SnapshotArtifacts(),
		mission.PayloadExecutionResult: state.Artifacts[mission.ArtifactExecutionResult],
		mission.PayloadCodeURL:         state.Artifacts[mission.ArtifactCodeURL],
		mission.PayloadStrategy:        string(state.Strategy),
	})
}

func (o *Orchestrator) failed(state *mission.RunState, kind string, err error) mission.AgentMessage {
	o.logger.Warn("run %s failed (%s): %v", state.RunID, kind, err)
	return o.message(state, mission.StateFailed, err.Error(), 0, map[string]any{
		mission.PayloadTraceLog:  state.Logs,
		mission.PayloadStrategy:  string(state.Strategy),
		mission.PayloadErrorKind: kind,
	})
}

func (o *Orchestrator) message(state *mission.RunState, st mission.AgentState, summary string, confidence float64, payload map[string]any) mission.AgentMessage {
	return mission.AgentMessage{
		MessageID:  id.NewMessageID(),
		RunID:      state.RunID,
		FromAgent:  AgentName,
		ToAgent:    "user",
		Timestamp:  o.now(),
		State:      st,
		Summary:    summary,
		Confidence: confidence,
		Payload:    payload,
	}
}

func questions(vars []mission.MissingVar) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		if v.Description != "" {
			out = append(out, fmt.Sprintf("%s: %s", v.Name, v.Description))
			continue
		}
		out = append(out, v.Name)
	}
	return out
}
