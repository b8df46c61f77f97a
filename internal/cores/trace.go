package cores

import (
	"sync"
	"time"

	"github.com/beam-me/core/internal/domain/mission"
)

// Roles used as the suffix of trace entry agents.
const (
	RoleSystem   = "System"
	RolePlanner  = "Planner"
	RoleExecutor = "Executor"
	RoleCritic   = "Critic"
)

// Trace collects the step log of a single core invocation.
type Trace struct {
	core string
	now  func() time.Time

	mu      sync.Mutex
	entries []mission.LogEntry
}

// NewTrace starts an empty trace for core.
func NewTrace(core string, now func() time.Time) *Trace {
	if now == nil {
		now = time.Now
	}
	return &Trace{core: core, now: now}
}

// Log appends an entry attributed to "<core>.<role>".
func (t *Trace) Log(role, step, content, icon string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, mission.LogEntry{
		Agent:     t.core + "." + role,
		Step:      step,
		Content:   content,
		Icon:      icon,
		Timestamp: t.now(),
	})
}

// Entries returns a copy of the log.
func (t *Trace) Entries() []mission.LogEntry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]mission.LogEntry(nil), t.entries...)
}
