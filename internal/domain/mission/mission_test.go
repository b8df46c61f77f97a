package mission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphOf(tasks ...*Task) TaskGraph {
	g := TaskGraph{}
	for _, task := range tasks {
		g[task.ID] = task
	}
	return g
}

func TestTransitionsAreOneWayOutOfTerminalStates(t *testing.T) {
	task := &Task{ID: "a", Status: TaskPending}
	require.NoError(t, task.Transition(TaskInProgress))
	require.NoError(t, task.Transition(TaskCompleted))

	err := task.Transition(TaskPending)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMPLETED -> PENDING")
	assert.Equal(t, TaskCompleted, task.Status)

	assert.Error(t, ValidateTransition(TaskSkipped, TaskInProgress))
	assert.Error(t, ValidateTransition("BOGUS", TaskPending))
	assert.NoError(t, ValidateTransition(TaskInProgress, TaskPending))
}

func TestValidateReportsDanglingAndSelfDependencies(t *testing.T) {
	g := graphOf(
		&Task{ID: "a", AssignedCore: "analysis_core", Dependencies: []string{"ghost"}},
		&Task{ID: "b", AssignedCore: "", Dependencies: []string{"b"}},
	)
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task ghost")
	assert.Contains(t, err.Error(), "depends on itself")
	assert.Contains(t, err.Error(), "no assigned core")

	assert.Error(t, TaskGraph{}.Validate())
}

func TestValidateAcyclic(t *testing.T) {
	ok := graphOf(
		&Task{ID: "a", AssignedCore: "x"},
		&Task{ID: "b", AssignedCore: "x", Dependencies: []string{"a"}},
	)
	assert.NoError(t, ok.ValidateAcyclic())

	cyclic := graphOf(
		&Task{ID: "a", AssignedCore: "x", Dependencies: []string{"b"}},
		&Task{ID: "b", AssignedCore: "x", Dependencies: []string{"a"}},
	)
	assert.ErrorContains(t, cyclic.ValidateAcyclic(), "cycle detected")
}

func TestDependenciesSatisfiedTreatsSkippedAsDone(t *testing.T) {
	g := graphOf(
		&Task{ID: "a", Status: TaskSkipped},
		&Task{ID: "b", Status: TaskCompleted},
		&Task{ID: "c", Status: TaskPending, Dependencies: []string{"a", "b"}},
		&Task{ID: "d", Status: TaskPending, Dependencies: []string{"c"}},
	)
	assert.True(t, g.DependenciesSatisfied(g["c"]))
	assert.False(t, g.DependenciesSatisfied(g["d"]))
	assert.Equal(t, []string{"c", "d"}, g.Pending())
}

func TestRunStateSeedsVariablesAndMergesPayloads(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	inputs := map[string]any{"weight_lbs": 4.0}
	state := NewRunState("run_1", "size a drone", inputs, func() time.Time { return fixed })

	assert.Equal(t, map[string]any{"weight_lbs": 4.0}, state.Artifacts[ArtifactVariables])

	state.MergePayload(map[string]any{
		PayloadTraceLog:   []LogEntry{{Agent: "x"}},
		ArtifactVariables: map[string]any{"weight_lbs": 2.0, "arm_mm": 250.0},
		ArtifactCodeURL:   "https://example/solutions/run_1/main.py",
	}, inputs)

	assert.NotContains(t, state.Artifacts, PayloadTraceLog)
	assert.Equal(t, map[string]any{"weight_lbs": 4.0, "arm_mm": 250.0}, state.Artifacts[ArtifactVariables])
	assert.Equal(t, "https://example/solutions/run_1/main.py", state.Artifacts[ArtifactCodeURL])

	state.Log("Orchestrator", "Init", "started", "🚀")
	require.Len(t, state.Logs, 1)
	assert.Equal(t, fixed, state.Logs[0].Timestamp)
}

func TestSnapshotIsIsolated(t *testing.T) {
	state := NewRunState("run_1", "x", map[string]any{"a": 1}, nil)
	snap := state.SnapshotArtifacts()
	snap[ArtifactVariables].(map[string]any)["a"] = 2

	assert.Equal(t, 1, state.Artifacts[ArtifactVariables].(map[string]any)["a"])
}

func TestTaskModeAcceptsStringMetadata(t *testing.T) {
	task := &Task{Metadata: map[string]any{"mode": "REUSE"}}
	assert.Equal(t, StrategyReuse, task.Mode())
	assert.Equal(t, Strategy(""), (&Task{}).Mode())
}
