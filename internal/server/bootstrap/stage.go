package bootstrap

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/beam-me/core/internal/logging"
)

// Stage is one named initialization step of the container.
type Stage struct {
	Name     string
	Required bool // failure aborts startup; otherwise recorded as degraded
	Init     func(ctx context.Context) error
}

// DegradedComponents maps each optional stage that failed to its error text.
type DegradedComponents struct {
	mu      sync.Mutex
	reasons map[string]string
}

func NewDegradedComponents() *DegradedComponents {
	return &DegradedComponents{reasons: map[string]string{}}
}

func (d *DegradedComponents) Record(name, reason string) {
	d.mu.Lock()
	d.reasons[name] = reason
	d.mu.Unlock()
}

// Map returns a copy of the recorded reasons.
func (d *DegradedComponents) Map() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.reasons)
}

// Names lists the degraded components alphabetically.
func (d *DegradedComponents) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Sorted(maps.Keys(d.reasons))
}

func (d *DegradedComponents) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reasons) == 0
}

// RunStages runs stages in order. A failing required stage stops startup;
// a failing optional one is recorded in degraded. ctx is checked before
// each stage.
func RunStages(ctx context.Context, stages []Stage, degraded *DegradedComponents, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("bootstrap interrupted before %q: %w", st.Name, err)
		}
		logger.Debug("stage %s (required=%t)", st.Name, st.Required)
		err := st.Init(ctx)
		switch {
		case err == nil:
		case st.Required:
			return fmt.Errorf("required stage %q failed: %w", st.Name, err)
		default:
			logger.Warn("optional stage %s failed, continuing degraded: %v", st.Name, err)
			if degraded != nil {
				degraded.Record(st.Name, err.Error())
			}
		}
	}
	return nil
}
