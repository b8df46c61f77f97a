package engineering

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/beam-me/core/internal/llm"
	"github.com/beam-me/core/internal/prompts"
)

type generation struct {
	Objective string
	Plan      string
	Variables map[string]any
	Previous  string
	Feedback  string
}

func (c *Core) generate(ctx context.Context, g generation) (string, error) {
	defaults, err := json.Marshal(g.Variables)
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}
	system, err := c.prompts.Render(prompts.Codegen, map[string]string{
		"variables":     string(defaults),
		"casting_block": CastingBlock(g.Variables),
	})
	if err != nil {
		return "", err
	}

	var user string
	switch {
	case g.Previous != "" && g.Feedback != "":
		user = fmt.Sprintf("The previous code failed validation.\n\nError / Feedback:\n%s\n\nPrevious Code:\n%s\n\nFix the error by using the casting block shown in the template.", g.Feedback, g.Previous)
	case g.Previous != "":
		user = fmt.Sprintf("Refactor the following code to meet new requirements.\n\nNew Problem: %s\nPlan: %s\nOriginal Code:\n%s", g.Objective, g.Plan, g.Previous)
	default:
		user = fmt.Sprintf("Problem: %s\nPlan: %s\n\nGenerate the Python code using the template above. Return only the code.", g.Objective, g.Plan)
	}

	resp, err := c.llm.Complete(ctx, llm.Request{Tag: prompts.Codegen, System: system, User: user})
	if err != nil {
		return "", fmt.Errorf("code generation failed: %w", err)
	}
	return stripCodeFences(resp.Content), nil
}

// CastingBlock renders one line per variable converting the raw input to the
// variable's type: numbers (and numeric strings) through float(), everything
// else through str(). Lines are sorted by name and indented for solve().
func CastingBlock(vars map[string]any) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		value := vars[name]
		if lit, ok := numericLiteral(value); ok {
			lines = append(lines, fmt.Sprintf("%s = float(inputs.get('%s', %s))", name, name, lit))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s = str(inputs.get('%s', '%v'))", name, name, value))
	}
	return strings.Join(lines, "\n    ")
}

func numericLiteral(v any) (string, bool) {
	switch n := v.(type) {
	case int, int32, int64:
		return fmt.Sprint(n), true
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case json.Number:
		return n.String(), true
	case string:
		s := strings.TrimSpace(n)
		if _, err := strconv.ParseFloat(s, 64); err == nil && s != "" {
			return s, true
		}
	}
	return "", false
}

func stripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```python", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// summarizeDiff reports line-level changes between two versions of a file.
func summarizeDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var added, removed int
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	if added == 0 && removed == 0 {
		return "Refactor produced no changes."
	}
	return fmt.Sprintf("Refactor changed the solution: +%d/-%d lines.", added, removed)
}
