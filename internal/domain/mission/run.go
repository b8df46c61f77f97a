package mission

import (
	"time"
)

// Strategy is the run-level decision on how to satisfy an objective.
type Strategy string

const (
	StrategyBuild  Strategy = "BUILD"
	StrategyReuse  Strategy = "REUSE"
	StrategyModify Strategy = "MODIFY"
)

// LogEntry is one line of the user-facing run trace.
type LogEntry struct {
	Agent     string    `json:"agent"`
	Step      string    `json:"step"`
	Content   string    `json:"content"`
	Icon      string    `json:"icon"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact keys with special handling during merges.
const (
	ArtifactVariables       = "variables"
	ArtifactCodeURL         = "code_url"
	ArtifactExecutionResult = "execution_result"
	ArtifactFilePath        = "file_path"
	ArtifactGeneratedCode   = "generated_code"
)

// RunState is owned by a single orchestrator run.
type RunState struct {
	RunID     string         `json:"run_id"`
	Objective string         `json:"objective"`
	Strategy  Strategy       `json:"strategy"`
	Tasks     TaskGraph      `json:"tasks"`
	Artifacts map[string]any `json:"artifacts"`
	Logs      []LogEntry     `json:"logs"`

	now func() time.Time
}

// NewRunState seeds a run. Non-empty user inputs become artifacts["variables"].
func NewRunState(runID, objective string, inputs map[string]any, now func() time.Time) *RunState {
	if now == nil {
		now = time.Now
	}
	state := &RunState{
		RunID:     runID,
		Objective: objective,
		Strategy:  StrategyBuild,
		Tasks:     TaskGraph{},
		Artifacts: map[string]any{},
		now:       now,
	}
	if len(inputs) > 0 {
		state.Artifacts[ArtifactVariables] = CloneMap(inputs)
	}
	return state
}

// Log appends a run-level trace entry.
func (s *RunState) Log(agent, step, content, icon string) {
	s.Logs = append(s.Logs, LogEntry{
		Agent:     agent,
		Step:      step,
		Content:   content,
		Icon:      icon,
		Timestamp: s.now(),
	})
}

// AppendLogs merges a core's trace into the run trace.
func (s *RunState) AppendLogs(entries []LogEntry) {
	s.Logs = append(s.Logs, entries...)
}

// SnapshotArtifacts returns a deep copy safe to hand to a core.
func (s *RunState) SnapshotArtifacts() map[string]any {
	return CloneMap(s.Artifacts)
}

// MergePayload folds a completed task's payload into the artifacts. The trace
// log is skipped, and "variables" is merged with userInputs taking precedence.
func (s *RunState) MergePayload(payload map[string]any, userInputs map[string]any) {
	for key, value := range payload {
		if key == PayloadTraceLog {
			continue
		}
		if key == ArtifactVariables {
			merged := map[string]any{}
			if vars, ok := value.(map[string]any); ok {
				for k, v := range vars {
					merged[k] = v
				}
			}
			for k, v := range userInputs {
				merged[k] = v
			}
			s.Artifacts[ArtifactVariables] = merged
			continue
		}
		s.Artifacts[key] = cloneValue(value)
	}
}

// CloneMap deep-copies nested maps and slices of a JSON-like map.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
