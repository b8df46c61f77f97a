package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/orchestrator"
)

func TestParseInputs(t *testing.T) {
	inputs, err := parseInputs([]string{"velocity=12.5", "name=drone", "flags={\"fast\":true}", "enabled=true", "empty="})
	require.NoError(t, err)
	assert.Equal(t, 12.5, inputs["velocity"])
	assert.Equal(t, "drone", inputs["name"])
	assert.Equal(t, map[string]any{"fast": true}, inputs["flags"])
	assert.Equal(t, true, inputs["enabled"])
	assert.Equal(t, "", inputs["empty"])

	none, err := parseInputs(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, bad := range []string{"novalue", "=3"} {
		_, err := parseInputs([]string{bad})
		assert.Error(t, err, bad)
	}
}

type scriptedRunner struct {
	replies  []mission.AgentMessage
	requests []orchestrator.Request
}

func (r *scriptedRunner) Run(_ context.Context, req orchestrator.Request) mission.AgentMessage {
	r.requests = append(r.requests, req)
	msg := r.replies[0]
	if len(r.replies) > 1 {
		r.replies = r.replies[1:]
	}
	return msg
}

type fixedAsker struct {
	answers map[string]any
	err     error
	asked   [][]mission.MissingVar
}

func (a *fixedAsker) Ask(vars []mission.MissingVar) (map[string]any, error) {
	a.asked = append(a.asked, vars)
	return a.answers, a.err
}

func awaiting(runID string, names ...string) mission.AgentMessage {
	vars := make([]mission.MissingVar, 0, len(names))
	for _, n := range names {
		vars = append(vars, mission.MissingVar{Name: n})
	}
	return mission.AgentMessage{
		RunID:         runID,
		State:         mission.StateAwaitingUser,
		Payload:       map[string]any{mission.PayloadMissingVars: vars},
		OpenQuestions: names,
	}
}

func TestRunMissionResumesWithAnswers(t *testing.T) {
	runner := &scriptedRunner{replies: []mission.AgentMessage{
		awaiting("run-1", "mass"),
		{RunID: "run-1", State: mission.StateCompleted},
	}}
	asker := &fixedAsker{answers: map[string]any{"mass": 2.0}}

	msg, err := runMission(context.Background(), runner, orchestrator.Request{
		Objective: "Compute the drag force",
		Inputs:    map[string]any{"velocity": 12.0},
	}, asker)

	require.NoError(t, err)
	assert.Equal(t, mission.StateCompleted, msg.State)
	require.Len(t, runner.requests, 2)
	resumed := runner.requests[1]
	assert.Equal(t, "run-1", resumed.RunID)
	assert.Equal(t, "Compute the drag force", resumed.Objective)
	assert.Equal(t, map[string]any{"velocity": 12.0, "mass": 2.0}, resumed.Inputs)
	assert.Equal(t, "mass", asker.asked[0][0].Name)
}

func TestRunMissionStopsWithoutAnswers(t *testing.T) {
	runner := &scriptedRunner{replies: []mission.AgentMessage{awaiting("run-2", "mass")}}

	msg, err := runMission(context.Background(), runner, orchestrator.Request{Objective: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, mission.StateAwaitingUser, msg.State)
	assert.Len(t, runner.requests, 1)

	msg, err = runMission(context.Background(), runner, orchestrator.Request{Objective: "x"}, &fixedAsker{})
	require.NoError(t, err)
	assert.Equal(t, mission.StateAwaitingUser, msg.State)
	assert.Len(t, runner.requests, 2)
}

func TestRunMissionBoundsResumes(t *testing.T) {
	runner := &scriptedRunner{replies: []mission.AgentMessage{awaiting("run-3", "mass")}}
	asker := &fixedAsker{answers: map[string]any{"mass": 1}}

	msg, err := runMission(context.Background(), runner, orchestrator.Request{Objective: "x"}, asker)
	require.NoError(t, err)
	assert.Equal(t, mission.StateAwaitingUser, msg.State)
	assert.Len(t, runner.requests, maxResumes+1)
}

func TestRunMissionPropagatesAskerError(t *testing.T) {
	runner := &scriptedRunner{replies: []mission.AgentMessage{awaiting("run-4", "mass")}}
	boom := errors.New("terminal closed")

	_, err := runMission(context.Background(), runner, orchestrator.Request{Objective: "x"}, &fixedAsker{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestPrintMessage(t *testing.T) {
	msg := mission.AgentMessage{
		RunID:   "run-9",
		State:   mission.StateCompleted,
		Summary: "Mission accomplished.",
		Payload: map[string]any{
			mission.PayloadStrategy:  "BUILD",
			mission.PayloadCodeURL:   "https://example.test/solution.py",
			mission.PayloadArtifacts: map[string]any{"solution_code": "print(1)", "assessment": "SAFE"},
			mission.PayloadTraceLog:  []mission.LogEntry{{Agent: "hmao.orchestrator", Content: "Objective received"}},
		},
	}

	var out bytes.Buffer
	require.NoError(t, printMessage(&out, msg, false))
	text := out.String()
	assert.Contains(t, text, "Objective received")
	assert.Contains(t, text, "Mission accomplished.")
	assert.Contains(t, text, "run: run-9")
	assert.Contains(t, text, "strategy: BUILD")
	assert.Contains(t, text, "code: https://example.test/solution.py")
	assert.Contains(t, text, "artifacts: assessment, solution_code")

	out.Reset()
	require.NoError(t, printMessage(&out, awaiting("run-5", "mass"), false))
	assert.Contains(t, out.String(), "  - mass")

	out.Reset()
	require.NoError(t, printMessage(&out, msg, true))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "COMPLETED", decoded["state"])
	assert.Equal(t, "run-9", decoded["run_id"])
}

func TestPrintCode(t *testing.T) {
	msg := mission.AgentMessage{Payload: map[string]any{
		mission.PayloadArtifacts: map[string]any{mission.ArtifactGeneratedCode: "print('Calculated Result: 6')\n"},
	}}
	code, ok := generatedCode(msg)
	require.True(t, ok)

	var out bytes.Buffer
	require.NoError(t, printCode(&out, code, false))
	assert.Equal(t, "--- generated code ---\nprint('Calculated Result: 6')\n", out.String())

	out.Reset()
	require.NoError(t, printCode(&out, code, true))
	assert.Contains(t, out.String(), "Generated code")

	_, ok = generatedCode(mission.AgentMessage{Payload: map[string]any{}})
	assert.False(t, ok)
}
