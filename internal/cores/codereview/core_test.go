package codereview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-me/core/internal/abn"
	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/knowledge"
	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/prompts"
)

const verdict = `{"verdict":"FAIL","findings":[{"severity":"high","issue":"eval on input","line_hint":"3"}],"summary":"unsafe"}`

func newCore(t *testing.T, mock *llm.MockClient) *Core {
	t.Helper()
	kb, err := knowledge.Default()
	require.NoError(t, err)
	return New(mock, prompts.MustLoad(), kb)
}

func TestReviewsGeneratedCode(t *testing.T) {
	mock := llm.NewMockClient().On(prompts.CodeReview, verdict)
	msg := cores.NewRuntime(nil, nil).Run(context.Background(), newCore(t, mock), cores.Input{
		Artifacts: map[string]any{mission.ArtifactGeneratedCode: "x = eval(input())"},
	})

	require.Equal(t, mission.StateCompleted, msg.State, msg.Summary)
	assert.Equal(t, "FAIL", msg.Payload["verdict"])

	req := mock.Requests()[0]
	assert.Equal(t, "Code:\nx = eval(input())", req.User)
	assert.Contains(t, req.System, "pickle.loads")
}

func TestMissingCodeFails(t *testing.T) {
	mock := llm.NewMockClient()
	msg := cores.NewRuntime(nil, nil).Run(context.Background(), newCore(t, mock), cores.Input{})

	assert.Equal(t, mission.StateFailed, msg.State)
	assert.Equal(t, "no code provided for review", msg.Summary)
	assert.Zero(t, mock.Calls(prompts.CodeReview))
}

func TestHandleEnvelopeReviewsPayloadCode(t *testing.T) {
	mock := llm.NewMockClient().On(prompts.CodeReview, `{"verdict":"PASS","findings":[]}`)
	core := newCore(t, mock)

	reply, err := core.HandleEnvelope(context.Background(), abn.Envelope{
		MsgType: abn.MsgQuestion,
		Payload: map[string]any{"code": "print(1)"},
	})
	require.NoError(t, err)
	assert.Equal(t, "PASS", reply["verdict"])

	_, err = core.HandleEnvelope(context.Background(), abn.Envelope{Payload: map[string]any{}})
	assert.ErrorIs(t, err, errNoCode)
}

func TestValidateAlwaysPassesReviews(t *testing.T) {
	core := newCore(t, llm.NewMockClient())
	assert.True(t, core.Validate(context.Background(), cores.Payload{"verdict": "FAIL"}, cores.Input{}).Passed())
}
