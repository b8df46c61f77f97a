package mission

import "time"

// AgentState is the outcome reported by a core or by a whole run.
type AgentState string

const (
	StateCompleted    AgentState = "COMPLETED"
	StateFailed       AgentState = "FAILED"
	StateAwaitingUser AgentState = "AWAITING_USER"
	StateRejected     AgentState = "REJECTED"
)

// Well-known payload keys.
const (
	PayloadTraceLog        = "trace_log"
	PayloadMissingVars     = "missing_vars"
	PayloadExecutionResult = "execution_result"
	PayloadCodeURL         = "code_url"
	PayloadArtifacts       = "artifacts"
	PayloadStrategy        = "strategy"
	PayloadErrorKind       = "error_kind"
	PayloadStatus          = "status"
)

// MissingVar describes an input the user must supply before a run can continue.
type MissingVar struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// AgentMessage is the result record exchanged between cores and the orchestrator,
// and returned to callers of a run.
type AgentMessage struct {
	MessageID     string         `json:"message_id"`
	RunID         string         `json:"run_id"`
	FromAgent     string         `json:"from_agent"`
	ToAgent       string         `json:"to_agent"`
	Timestamp     time.Time      `json:"timestamp"`
	State         AgentState     `json:"state"`
	Summary       string         `json:"summary"`
	Confidence    float64        `json:"confidence"`
	Payload       map[string]any `json:"payload"`
	Artifacts     []string       `json:"artifacts,omitempty"`
	OpenQuestions []string       `json:"open_questions,omitempty"`
}

// TraceLog extracts the trace entries carried in the payload.
func (m AgentMessage) TraceLog() []LogEntry {
	if m.Payload == nil {
		return nil
	}
	switch v := m.Payload[PayloadTraceLog].(type) {
	case []LogEntry:
		return v
	default:
		return nil
	}
}

// MissingVars extracts the missing variable list carried in the payload.
func (m AgentMessage) MissingVars() []MissingVar {
	if m.Payload == nil {
		return nil
	}
	if v, ok := m.Payload[PayloadMissingVars].([]MissingVar); ok {
		return v
	}
	return nil
}
