package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/prompts"
)

func run(t *testing.T, mock *llm.MockClient, in cores.Input) mission.AgentMessage {
	t.Helper()
	return cores.NewRuntime(nil, nil).Run(context.Background(), New(mock, prompts.MustLoad()), in)
}

func TestReadyRequirementsComplete(t *testing.T) {
	mock := llm.NewMockClient().On(prompts.Requirements, "```json\n{\"status\":\"READY\",\"variables\":{\"mass\":2,\"velocity\":3},\"plan\":\"KE = 0.5 m v^2\"}\n```")
	msg := run(t, mock, cores.Input{RunID: "run_1", Objective: "kinetic energy of a 2kg ball at 3 m/s"})

	require.Equal(t, mission.StateCompleted, msg.State, msg.Summary)
	assert.Equal(t, map[string]any{"mass": float64(2), "velocity": float64(3)}, msg.Payload["variables"])

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSONMode)
	assert.Contains(t, reqs[0].User, "kinetic energy of a 2kg ball")
}

func TestMissingInfoAwaitsUser(t *testing.T) {
	mock := llm.NewMockClient().On(prompts.Requirements,
		`{"status":"MISSING_INFO","reasoning":"need radius","missing_vars":[{"name":"radius","type":"number","description":"Beam radius in m","default":0.1}]}`)
	msg := run(t, mock, cores.Input{RunID: "run_2", Objective: "stress in a round beam"})

	require.Equal(t, mission.StateAwaitingUser, msg.State)
	assert.Equal(t, []mission.MissingVar{{Name: "radius", Type: "number", Description: "Beam radius in m", Default: 0.1}}, msg.MissingVars())
}

func TestUserInputsReachThePrompt(t *testing.T) {
	mock := llm.NewMockClient().On(prompts.Requirements, `{"status":"READY","variables":{"radius":0.2}}`)
	run(t, mock, cores.Input{Objective: "beam", Inputs: map[string]any{"radius": 0.2}})
	assert.Contains(t, mock.Requests()[0].User, `"radius":0.2`)
}

func TestValidationRejections(t *testing.T) {
	c := New(llm.NewMockClient(), prompts.MustLoad())
	ctx := context.Background()

	v := c.Validate(ctx, cores.Payload{"status": StatusMissingInfo}, cores.Input{})
	assert.False(t, v.Passed())
	assert.Equal(t, "MISSING_INFO status but no variables requested.", v.Reason())

	v = c.Validate(ctx, cores.Payload{"status": StatusReady, "variables": []any{1}}, cores.Input{})
	assert.Equal(t, "Variables must be a dictionary.", v.Reason())

	v = c.Validate(ctx, cores.Payload{"error": "boom"}, cores.Input{})
	assert.Equal(t, "boom", v.Reason())

	assert.True(t, c.Validate(ctx, cores.Payload{"status": StatusReady, "variables": map[string]any{}}, cores.Input{}).Passed())
}

func TestInferenceFailureFailsTheCore(t *testing.T) {
	mock := llm.NewMockClient().OnError(prompts.Requirements, errors.New("upstream down"))
	msg := run(t, mock, cores.Input{Objective: "x"})
	assert.Equal(t, mission.StateFailed, msg.State)
	assert.Contains(t, msg.Summary, "upstream down")
}

func TestUnparseableReplyFailsTheCore(t *testing.T) {
	mock := llm.NewMockClient().On(prompts.Requirements, "I cannot help with that")
	msg := run(t, mock, cores.Input{Objective: "x"})
	assert.Equal(t, mission.StateFailed, msg.State)
}
