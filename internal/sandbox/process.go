// Package sandbox runs generated programs in a child process with their
// inputs passed through the environment.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/observability"
)

// InputsEnv carries the JSON-encoded inputs into the child process.
const InputsEnv = "BEAM_INPUTS"

const (
	// ExitTimeout is reported when the program is killed at its deadline.
	ExitTimeout = 124
	// ExitNotRun is reported when nothing was executed.
	ExitNotRun = -1

	DefaultTimeout = 10 * time.Second
)

// Result is the outcome of one execution.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Succeeded reports a zero exit code.
func (r Result) Succeeded() bool { return r.ExitCode == 0 }

// Map renders the result as an execution_result payload.
func (r Result) Map() map[string]any {
	out := map[string]any{
		"exit_code": r.ExitCode,
		"stdout":    r.Stdout,
		"stderr":    r.Stderr,
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// Executor runs code with inputs.
type Executor interface {
	Execute(ctx context.Context, code string, inputs map[string]any) Result
}

// ProcessSandbox writes code to a temp file and runs it with Interpreter.
type ProcessSandbox struct {
	Interpreter string
	Timeout     time.Duration
	Metrics     *observability.MetricsCollector
	logger      logging.Logger
}

// NewProcessSandbox returns a sandbox using interpreter, python3 when empty.
func NewProcessSandbox(interpreter string, timeout time.Duration, metrics *observability.MetricsCollector) *ProcessSandbox {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ProcessSandbox{
		Interpreter: interpreter,
		Timeout:     timeout,
		Metrics:     metrics,
		logger:      logging.NewComponentLogger("Sandbox"),
	}
}

// Execute never returns an error; every failure is folded into the Result.
func (s *ProcessSandbox) Execute(ctx context.Context, code string, inputs map[string]any) Result {
	return s.run(ctx, code, inputs, s.Timeout)
}

func (s *ProcessSandbox) run(ctx context.Context, code string, inputs map[string]any, timeout time.Duration) Result {
	ctx, span := observability.StartSpan(ctx, observability.SpanSandboxExecute,
		attribute.String("beam.sandbox.interpreter", s.Interpreter))
	defer span.End()
	start := time.Now()

	res := s.exec(ctx, code, inputs, timeout)

	outcome := "success"
	switch {
	case res.TimedOut:
		outcome = "timeout"
	case res.ExitCode != 0:
		outcome = "failure"
	}
	span.SetAttributes(attribute.Int("beam.sandbox.exit_code", res.ExitCode), attribute.String(observability.AttrStatus, outcome))
	if outcome != "success" {
		span.SetStatus(codes.Error, outcome)
	}
	s.Metrics.RecordSandboxExecution(ctx, outcome, time.Since(start))
	return res
}

func (s *ProcessSandbox) exec(ctx context.Context, code string, inputs map[string]any, timeout time.Duration) Result {
	if code == "" {
		return Result{ExitCode: ExitNotRun, Error: "No code provided"}
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return Result{ExitCode: ExitNotRun, Error: fmt.Sprintf("encode inputs: %v", err)}
	}

	tmp, err := os.CreateTemp("", "beam-solution-*.py")
	if err != nil {
		return Result{ExitCode: ExitNotRun, Error: fmt.Sprintf("create temp file: %v", err)}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return Result{ExitCode: ExitNotRun, Error: fmt.Sprintf("write temp file: %v", err)}
	}
	tmp.Close()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, s.Interpreter, tmp.Name())
	cmd.Env = childEnv(string(encoded))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("execution timed out after %s", timeout)
		res.ExitCode = ExitTimeout
		res.TimedOut = true
		res.Error = "Execution Timed Out"
		return res
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res
		}
		res.ExitCode = ExitNotRun
		res.Error = err.Error()
	}
	return res
}

// inheritedEnv lists the only parent variables generated code can see.
// Credentials such as the token signing secret and provider keys stay in
// the server process.
var inheritedEnv = []string{"PATH", "HOME", "TMPDIR", "LANG", "LC_ALL", "SYSTEMROOT"}

func childEnv(inputs string) []string {
	env := make([]string, 0, len(inheritedEnv)+1)
	for _, key := range inheritedEnv {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return append(env, InputsEnv+"="+inputs)
}
