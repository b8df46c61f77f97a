package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-me/core/internal/abn/client"
	"github.com/beam-me/core/internal/abn/gateway"
	"github.com/beam-me/core/internal/abn/policy"
	"github.com/beam-me/core/internal/abn/store"
	"github.com/beam-me/core/internal/artifacts"
	"github.com/beam-me/core/internal/auth/token"
	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/cores/analysis"
	"github.com/beam-me/core/internal/cores/engineering"
	"github.com/beam-me/core/internal/cores/flightsafety"
	"github.com/beam-me/core/internal/cores/propulsion"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/knowledge"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/matchmaker"
	"github.com/beam-me/core/internal/planner"
	"github.com/beam-me/core/internal/prompts"
	"github.com/beam-me/core/internal/rag"
	"github.com/beam-me/core/internal/sandbox"
	"github.com/beam-me/core/internal/strategy"
)

type okSandbox struct {
	mu   sync.Mutex
	runs []string
}

func (s *okSandbox) Execute(_ context.Context, code string, _ map[string]any) sandbox.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, code)
	return sandbox.Result{ExitCode: 0, Stdout: "Calculated Result: 9.0\n"}
}

type robust struct{}

func (robust) Check(context.Context, string, map[string]any) (bool, string) { return true, "" }

// graphRecorder keeps the last plan so tests can inspect it.
type graphRecorder struct {
	inner Planner
	graph mission.TaskGraph
}

func (r *graphRecorder) GeneratePlan(ctx context.Context, objective string, s mission.Strategy, reuse *rag.Match) mission.TaskGraph {
	r.graph = r.inner.GeneratePlan(ctx, objective, s, reuse)
	return r.graph
}

const propulsionReply = `{"motor":{"name":"T-Motor MN3110"},"esc":{"name":"30A BLHeli"},"battery":{"name":"4S 5000mAh"},"performance_estimates":{"thrust_to_weight":2.4,"flight_time_min":18}}`

func droneOrchestrator(t *testing.T, mock *llm.MockClient, budget int) *Orchestrator {
	t.Helper()
	kb, err := knowledge.Default()
	require.NoError(t, err)
	loader := prompts.MustLoad()

	authority, err := token.NewAuthority("scenario-secret", "beam")
	require.NoError(t, err)
	gw, err := gateway.New(gateway.Config{
		Tokens: authority,
		Policy: policy.New(50, time.Hour),
		Store:  store.NewMemoryStore(),
	})
	require.NoError(t, err)

	registry, err := cores.NewRegistry(
		propulsion.New(propulsion.Config{
			LLM:       mock,
			Prompts:   loader,
			Knowledge: kb,
			Matcher:   matchmaker.New(),
			Clients:   client.NewFactory(gw, budget, nil),
			Budget:    budget,
		}),
		flightsafety.New(mock, loader, kb),
	)
	require.NoError(t, err)
	gw.SetHandlers(registry)

	orch, err := New(Config{
		Registry: registry,
		Selector: strategy.New(fixedIndex{}, 0, 0),
		Planner:  planner.New(mock, loader, registry.Describe()),
		Tokens:   authority,
	})
	require.NoError(t, err)
	return orch
}

func TestScenarioDroneBuild(t *testing.T) {
	mock := llm.NewMockClient().
		On(prompts.Propulsion, propulsionReply).
		On(prompts.FlightSafety, `{"assessment":"SAFE","issues":[]}`, `{"assessment":"SAFE","issues":[]}`)

	msg := droneOrchestrator(t, mock, 5).Run(context.Background(), Request{
		Objective: "Design a small quadcopter propulsion system",
	})

	require.Equal(t, mission.StateCompleted, msg.State, msg.Summary)
	assert.Equal(t, "BUILD", msg.Payload[mission.PayloadStrategy])
	result, ok := msg.Payload[mission.PayloadExecutionResult].(map[string]any)
	require.True(t, ok, "execution_result = %v", msg.Payload[mission.PayloadExecutionResult])
	assert.Contains(t, result["stdout"], "T-Motor MN3110")

	artifacts := msg.Payload[mission.PayloadArtifacts].(map[string]any)
	assert.Contains(t, artifacts, propulsion.KeyRecommendation)
	assert.Equal(t, "SAFE", artifacts["assessment"])

	// One peer consultation over ABN plus the planned safety-check task.
	assert.Equal(t, 2, mock.Calls(prompts.FlightSafety))
	assert.Equal(t, 1, mock.Calls(prompts.Planner))
}

func TestScenarioDroneBudgetOverCeilingDegradesGracefully(t *testing.T) {
	mock := llm.NewMockClient().
		On(prompts.Propulsion, propulsionReply).
		On(prompts.FlightSafety, `{"assessment":"SAFE","issues":[]}`)

	msg := droneOrchestrator(t, mock, 51).Run(context.Background(), Request{
		Objective: "Design a small quadcopter propulsion system",
	})

	require.Equal(t, mission.StateCompleted, msg.State, msg.Summary)
	artifacts := msg.Payload[mission.PayloadArtifacts].(map[string]any)
	validation, ok := artifacts[propulsion.KeySafetyValidation].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, validation["error"], "ABN Negotiation Failed")
	// Only the planned safety-check task reached the safety core.
	assert.Equal(t, 1, mock.Calls(prompts.FlightSafety))
}

func TestScenarioReuseRunsStoredSolution(t *testing.T) {
	ctx := context.Background()
	mock := llm.NewMockClient().
		On(prompts.Requirements, `{"status":"READY","variables":{"mass":2,"velocity":3}}`)
	loader := prompts.MustLoad()

	store := artifacts.NewMemoryStore()
	const stored = "print('Calculated Result: 9.0')"
	_, err := store.Push(ctx, "solutions/run_old/main.py", stored, "seed")
	require.NoError(t, err)
	box := &okSandbox{}

	registry, err := cores.NewRegistry(
		analysis.New(mock, loader),
		engineering.New(engineering.Config{
			LLM:        mock,
			Prompts:    loader,
			Sandbox:    box,
			Robustness: robust{},
			Artifacts:  store,
		}),
	)
	require.NoError(t, err)

	prior := &rag.Match{
		ArtifactID:         "run_old",
		ProblemDescription: "Compute the kinetic energy of a 2kg mass at 3m/s",
		FilePath:           "solutions/run_old/main.py",
		Similarity:         0.93,
	}
	plans := &graphRecorder{inner: planner.New(mock, loader, registry.Describe())}
	index := &recordingIndex{}
	orch, err := New(Config{
		Registry: registry,
		Selector: strategy.New(fixedIndex{prior}, 0, 0),
		Planner:  plans,
		Index:    index,
	})
	require.NoError(t, err)

	msg := orch.Run(ctx, Request{RunID: "run_new", Objective: "Compute the kinetic energy of a 2kg mass moving at 3m/s"})

	require.Equal(t, mission.StateCompleted, msg.State, msg.Summary)
	assert.Equal(t, "REUSE", msg.Payload[mission.PayloadStrategy])

	exec := plans.graph["task_execute_reuse"]
	require.NotNil(t, exec)
	artifact := exec.Metadata[planner.MetadataArtifact].(map[string]any)
	assert.Equal(t, "solutions/run_old/main.py", artifact["file_path"])

	assert.Zero(t, mock.Calls(prompts.Codegen))
	assert.Equal(t, []string{stored}, box.runs)
	assert.Equal(t, "solutions/run_old/main.py", msg.Payload[mission.PayloadCodeURL])

	require.Len(t, index.requests, 1)
	assert.Equal(t, "run_new", index.requests[0].RunID)
	assert.Equal(t, "solutions/run_old/main.py", index.requests[0].FilePath)
}

func TestScenarioMissingInfoPausesThenResumes(t *testing.T) {
	mock := llm.NewMockClient().
		On(prompts.Requirements,
			`{"status":"MISSING_INFO","missing_vars":[{"name":"weight_lbs","type":"float","description":"Total take-off weight"}]}`,
			`{"status":"READY","variables":{"span_ft":12}}`,
		)
	implement := &stubCore{id: cores.EngineeringCoreID}
	registry, err := cores.NewRegistry(analysis.New(mock, prompts.MustLoad()), implement)
	require.NoError(t, err)
	orch, err := New(Config{
		Registry: registry,
		Planner:  planner.New(mock, prompts.MustLoad(), nil),
	})
	require.NoError(t, err)

	msg := orch.Run(context.Background(), Request{Objective: "Size the wing spar for a glider"})

	require.Equal(t, mission.StateAwaitingUser, msg.State)
	assert.Equal(t, []mission.MissingVar{{Name: "weight_lbs", Type: "float", Description: "Total take-off weight"}}, msg.MissingVars())
	assert.Equal(t, []string{"weight_lbs: Total take-off weight"}, msg.OpenQuestions)
	assert.Zero(t, implement.calls())

	resumed := orch.Run(context.Background(), Request{
		Objective: "Size the wing spar for a glider",
		Inputs:    map[string]any{"weight_lbs": 150.0},
	})

	require.Equal(t, mission.StateCompleted, resumed.State, resumed.Summary)
	require.Equal(t, 1, implement.calls())
	assert.Equal(t,
		map[string]any{"span_ft": float64(12), "weight_lbs": 150.0},
		implement.inputs[0].Artifacts[mission.ArtifactVariables])
}
