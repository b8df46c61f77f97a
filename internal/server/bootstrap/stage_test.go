package bootstrap

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-me/core/internal/logging"
)

func noop(context.Context) error { return nil }

func TestRunStagesFailsOnRequired(t *testing.T) {
	degraded := NewDegradedComponents()
	stages := []Stage{
		{Name: "ok", Required: true, Init: noop},
		{Name: "fail", Required: true, Init: func(context.Context) error { return fmt.Errorf("boom") }},
		{Name: "unreached", Required: true, Init: func(context.Context) error {
			t.Fatal("should not be reached")
			return nil
		}},
	}

	err := RunStages(context.Background(), stages, degraded, logging.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"fail"`)
	assert.True(t, degraded.IsEmpty())
}

func TestRunStagesRecordsOptionalFailures(t *testing.T) {
	degraded := NewDegradedComponents()
	var reached bool
	stages := []Stage{
		{Name: "opt-b", Init: func(context.Context) error { return fmt.Errorf("fail-b") }},
		{Name: "opt-a", Init: func(context.Context) error { return fmt.Errorf("fail-a") }},
		{Name: "required", Required: true, Init: func(context.Context) error { reached = true; return nil }},
	}

	require.NoError(t, RunStages(context.Background(), stages, degraded, nil))
	assert.True(t, reached)
	assert.Equal(t, []string{"opt-a", "opt-b"}, degraded.Names())
	assert.Equal(t, "fail-a", degraded.Map()["opt-a"])
}

func TestRunStagesStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stages := []Stage{
		{Name: "first", Required: true, Init: func(context.Context) error { cancel(); return nil }},
		{Name: "second", Required: true, Init: func(context.Context) error {
			t.Fatal("should not be reached")
			return nil
		}},
	}

	err := RunStages(ctx, stages, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}
