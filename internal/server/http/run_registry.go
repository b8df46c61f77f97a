package http

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/beam-me/core/internal/domain/mission"
)

const defaultRunCacheSize = 256

// RunRecord is the last message of a run and the objective it was started with.
type RunRecord struct {
	Objective string
	Message   mission.AgentMessage
}

// RunRegistry keeps recent runs in memory so they can be continued and read
// back. Older runs are evicted.
type RunRegistry struct {
	cache *lru.Cache[string, RunRecord]
}

// NewRunRegistry holds up to size runs; size <= 0 uses the default.
func NewRunRegistry(size int) *RunRegistry {
	if size <= 0 {
		size = defaultRunCacheSize
	}
	cache, err := lru.New[string, RunRecord](size)
	if err != nil {
		// Only returned for non-positive sizes.
		panic(err)
	}
	return &RunRegistry{cache: cache}
}

// Put stores msg under its run id.
func (r *RunRegistry) Put(objective string, msg mission.AgentMessage) {
	if msg.RunID == "" {
		return
	}
	r.cache.Add(msg.RunID, RunRecord{Objective: objective, Message: msg})
}

func (r *RunRegistry) Get(runID string) (RunRecord, bool) {
	return r.cache.Get(runID)
}

func (r *RunRegistry) Len() int {
	return r.cache.Len()
}
