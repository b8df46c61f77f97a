package sandbox

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellSandbox(t *testing.T, timeout time.Duration) *ProcessSandbox {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewProcessSandbox("sh", timeout, nil)
}

func TestExecutePassesInputsThroughEnvironment(t *testing.T) {
	sb := shellSandbox(t, time.Second)
	res := sb.Execute(context.Background(), `echo "Calculated Result: $BEAM_INPUTS"`, map[string]any{"mass": 2.5})

	require.True(t, res.Succeeded(), res.Stderr)
	assert.Equal(t, "Calculated Result: {\"mass\":2.5}\n", res.Stdout)
	assert.Empty(t, res.Error)
}

func TestExecuteHidesServerEnvironment(t *testing.T) {
	t.Setenv("BEAM_AUTH_SECRET", "super-secret-hmac")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	sb := shellSandbox(t, time.Second)

	res := sb.Execute(context.Background(), `echo "secret=[$BEAM_AUTH_SECRET] key=[$OPENAI_API_KEY]"; env | grep -c '^BEAM_' || true`, nil)
	require.True(t, res.Succeeded(), res.Stderr)
	assert.Equal(t, "secret=[] key=[]\n1\n", res.Stdout)

	ok, _ := NewRobustnessValidator(sb, time.Second).Check(context.Background(),
		`[ -z "$BEAM_AUTH_SECRET" ] && echo "Calculated Result: clean"`, nil)
	assert.True(t, ok)
}

func TestExecuteReportsExitCodeAndStderr(t *testing.T) {
	sb := shellSandbox(t, time.Second)
	res := sb.Execute(context.Background(), "echo boom >&2\nexit 3", nil)

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom\n", res.Stderr)
	assert.False(t, res.Succeeded())
}

func TestExecuteTimesOut(t *testing.T) {
	sb := shellSandbox(t, 100*time.Millisecond)
	res := sb.Execute(context.Background(), "sleep 5", nil)

	assert.Equal(t, ExitTimeout, res.ExitCode)
	assert.True(t, res.TimedOut)
	assert.Equal(t, "Execution Timed Out", res.Error)
}

func TestExecuteRejectsEmptyCode(t *testing.T) {
	res := NewProcessSandbox("sh", 0, nil).Execute(context.Background(), "", nil)
	assert.Equal(t, ExitNotRun, res.ExitCode)
	assert.Equal(t, "No code provided", res.Error)
}

func TestExecuteMissingInterpreter(t *testing.T) {
	res := NewProcessSandbox("definitely-not-an-interpreter", time.Second, nil).Execute(context.Background(), "x", nil)
	assert.Equal(t, ExitNotRun, res.ExitCode)
	assert.NotEmpty(t, res.Error)
}

func TestRobustnessValidator(t *testing.T) {
	sb := shellSandbox(t, time.Second)
	v := NewRobustnessValidator(sb, time.Second)
	ctx := context.Background()

	ok, reason := v.Check(ctx, `echo "Calculated Result: 4"`, map[string]any{"x": 2})
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = v.Check(ctx, "exit 1", map[string]any{"x": 2})
	assert.False(t, ok)
	assert.Equal(t, "Crash on String Inputs (Exit 1). Did you cast float()?", reason)

	ok, reason = v.Check(ctx, "echo 4", nil)
	assert.False(t, ok)
	assert.Equal(t, "Output missing 'Calculated Result:'", reason)

	ok, _ = v.Check(ctx, `case "$BEAM_INPUTS" in *'"x":"2"'*) echo "Calculated Result: ok";; *) exit 9;; esac`, map[string]any{"x": 2})
	assert.True(t, ok, "inputs are stringified before the probe")
}

func TestResultMap(t *testing.T) {
	m := Result{ExitCode: 124, Error: "Execution Timed Out"}.Map()
	assert.Equal(t, 124, m["exit_code"])
	assert.Equal(t, "Execution Timed Out", m["error"])
}
