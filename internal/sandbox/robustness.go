package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ResultMarker must appear on stdout of a well-formed solution.
const ResultMarker = "Calculated Result:"

// DefaultRobustnessTimeout bounds the string-input probe.
const DefaultRobustnessTimeout = 5 * time.Second

// RobustnessValidator reruns a program with every input rendered as a
// string, catching solutions that forget to cast their inputs.
type RobustnessValidator struct {
	sandbox *ProcessSandbox
	timeout time.Duration
}

// NewRobustnessValidator probes with sandbox under timeout.
func NewRobustnessValidator(sandbox *ProcessSandbox, timeout time.Duration) *RobustnessValidator {
	if timeout <= 0 {
		timeout = DefaultRobustnessTimeout
	}
	return &RobustnessValidator{sandbox: sandbox, timeout: timeout}
}

// Check returns whether code survives stringified inputs, and a reason when not.
func (v *RobustnessValidator) Check(ctx context.Context, code string, inputs map[string]any) (bool, string) {
	res := v.sandbox.run(ctx, code, Stringify(inputs), v.timeout)
	if res.ExitCode != 0 {
		return false, fmt.Sprintf("Crash on String Inputs (Exit %d). Did you cast float()?", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, ResultMarker) {
		return false, fmt.Sprintf("Output missing '%s'", ResultMarker)
	}
	return true, ""
}

// Stringify renders every value as its string form.
func Stringify(inputs map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = fmt.Sprint(v)
	}
	return out
}
