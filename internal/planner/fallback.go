package planner

import (
	"fmt"
	"strings"

	"github.com/beam-me/core/internal/cores"
	"github.com/beam-me/core/internal/domain/mission"
	"github.com/beam-me/core/internal/rag"
)

var droneKeywords = []string{"drone", "quadcopter", "uav"}

// Fallback returns the fixed two-task graph matching the objective and
// strategy. Drone objectives win over the strategy.
func Fallback(objective string, strategy mission.Strategy, reuse *rag.Match) mission.TaskGraph {
	lower := strings.ToLower(objective)
	for _, kw := range droneKeywords {
		if strings.Contains(lower, kw) {
			return chain(
				task("task_propulsion", "Select propulsion system based on requirements.", cores.PropulsionCoreID, nil),
				task("task_safety_check", "Validate propulsion configuration for flight stability.", cores.FlightControlCoreID, nil),
			)
		}
	}

	switch {
	case strategy == mission.StrategyReuse && reuse != nil:
		return chain(
			task("task_analyze_reuse", "Analyze inputs for existing solution: "+reuse.FilePath, cores.AnalysisCoreID, nil),
			task("task_execute_reuse", "Execute existing solution.", cores.EngineeringCoreID,
				map[string]any{"mode": string(mission.StrategyReuse), MetadataArtifact: ArtifactMetadata(reuse)}),
		)
	case strategy == mission.StrategyModify && reuse != nil:
		return chain(
			task("task_analyze_diff", "Analyze requirements diff.", cores.AnalysisCoreID, nil),
			task("task_modify_run", fmt.Sprintf("Refactor %s to meet new requirements.", reuse.FilePath), cores.EngineeringCoreID,
				map[string]any{"mode": string(mission.StrategyModify), MetadataArtifact: ArtifactMetadata(reuse)}),
		)
	default:
		return chain(
			task("task_analyze", "Analyze requirements for: "+objective, cores.AnalysisCoreID, nil),
			task("task_implement", "Implement the solution based on analysis.", cores.EngineeringCoreID, nil),
		)
	}
}

func task(id, description, core string, metadata map[string]any) *mission.Task {
	return &mission.Task{ID: id, Description: description, AssignedCore: core, Status: mission.TaskPending, Metadata: metadata}
}

// chain makes each task depend on the one before it.
func chain(tasks ...*mission.Task) mission.TaskGraph {
	graph := make(mission.TaskGraph, len(tasks))
	for i, t := range tasks {
		if i > 0 {
			t.Dependencies = []string{tasks[i-1].ID}
		}
		graph[t.ID] = t
	}
	return graph
}
