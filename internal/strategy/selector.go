// Package strategy decides whether a new objective is built from scratch,
// replays a stored solution, or refactors one.
package strategy

import (
	"context"

	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/rag"
)

// Default thresholds. Similarity above Reuse replays; above Modify adapts.
const (
	DefaultReuseThreshold  = 0.90
	DefaultModifyThreshold = 0.75
)

// Index is the similarity lookup the selector consults.
type Index interface {
	Lookup(ctx context.Context, query string, limit int) ([]rag.Match, error)
}

// Decision is the outcome of Select. Match is the best prior solution, if
// any, and is kept even when the strategy is BUILD.
type Decision struct {
	Strategy   mission.Strategy
	Similarity float64
	Match      *rag.Match
}

// Selector applies the thresholds to the index's best match.
type Selector struct {
	index  Index
	reuse  float64
	modify float64
	logger logging.Logger
}

// New returns a Selector. Non-positive thresholds use the defaults.
func New(index Index, reuseThreshold, modifyThreshold float64) *Selector {
	if reuseThreshold <= 0 {
		reuseThreshold = DefaultReuseThreshold
	}
	if modifyThreshold <= 0 {
		modifyThreshold = DefaultModifyThreshold
	}
	return &Selector{
		index:  index,
		reuse:  reuseThreshold,
		modify: modifyThreshold,
		logger: logging.NewComponentLogger("StrategySelector"),
	}
}

// Select never fails: no index, no match and lookup errors all mean BUILD.
func (s *Selector) Select(ctx context.Context, objective string) Decision {
	if s.index == nil {
		return Decision{Strategy: mission.StrategyBuild}
	}
	matches, err := s.index.Lookup(ctx, objective, 1)
	if err != nil {
		s.logger.Warn("similarity lookup failed, building fresh: %v", err)
		return Decision{Strategy: mission.StrategyBuild}
	}
	if len(matches) == 0 {
		return Decision{Strategy: mission.StrategyBuild}
	}
	best := matches[0]
	return Decision{
		Strategy:   s.Classify(best.Similarity),
		Similarity: best.Similarity,
		Match:      &best,
	}
}

// Classify maps a similarity score to a strategy.
func (s *Selector) Classify(similarity float64) mission.Strategy {
	switch {
	case similarity > s.reuse:
		return mission.StrategyReuse
	case similarity > s.modify:
		return mission.StrategyModify
	default:
		return mission.StrategyBuild
	}
}
