// Package mission holds the run-level data model shared by the planner, the
// orchestrator and the discipline cores.
package mission

import "fmt"

// TaskStatus is the lifecycle state of a planned task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskSkipped    TaskStatus = "SKIPPED"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped:
		return true
	default:
		return false
	}
}

// Satisfies reports whether a dependency in this state unblocks dependents.
func (s TaskStatus) Satisfies() bool {
	return s == TaskCompleted || s == TaskSkipped
}

var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskPending: {
		TaskInProgress: {},
		TaskSkipped:    {},
		TaskFailed:     {},
	},
	TaskInProgress: {
		TaskCompleted: {},
		TaskFailed:    {},
		TaskPending:   {},
	},
	TaskCompleted: {},
	TaskFailed:    {},
	TaskSkipped:   {},
}

// ValidateTransition rejects unknown states and moves out of terminal states.
func ValidateTransition(from, to TaskStatus) error {
	next, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("invalid task status: %q", from)
	}
	if _, ok := allowedTransitions[to]; !ok {
		return fmt.Errorf("invalid task status: %q", to)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("invalid task transition: %s -> %s", from, to)
	}
	return nil
}

// Task is one node of a run's task graph.
type Task struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	AssignedCore string         `json:"assigned_core"`
	Dependencies []string       `json:"dependencies"`
	Status       TaskStatus     `json:"status"`
	Result       map[string]any `json:"result,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Transition moves the task to next if the lifecycle allows it.
func (t *Task) Transition(next TaskStatus) error {
	if err := ValidateTransition(t.Status, next); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Status = next
	return nil
}

// Mode returns the execution mode carried in metadata, if any.
func (t *Task) Mode() Strategy {
	if t == nil || t.Metadata == nil {
		return ""
	}
	switch v := t.Metadata["mode"].(type) {
	case Strategy:
		return v
	case string:
		return Strategy(v)
	default:
		return ""
	}
}
