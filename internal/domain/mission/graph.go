package mission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TaskGraph maps task id to task. Dependencies reference ids in the same graph.
type TaskGraph map[string]*Task

// SortedIDs returns the task ids in lexical order for deterministic iteration.
func (g TaskGraph) SortedIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks the structural invariants every runnable graph must hold.
// It does not look for cycles; see ValidateAcyclic.
func (g TaskGraph) Validate() error {
	if len(g) == 0 {
		return errors.New("task graph is empty")
	}
	var problems []string
	for _, id := range g.SortedIDs() {
		task := g[id]
		if task == nil {
			problems = append(problems, fmt.Sprintf("task %s is nil", id))
			continue
		}
		if task.ID != id {
			problems = append(problems, fmt.Sprintf("task key %s does not match id %s", id, task.ID))
		}
		if strings.TrimSpace(task.AssignedCore) == "" {
			problems = append(problems, fmt.Sprintf("task %s has no assigned core", id))
		}
		for _, dep := range task.Dependencies {
			if dep == id {
				problems = append(problems, fmt.Sprintf("task %s depends on itself", id))
				continue
			}
			if _, ok := g[dep]; !ok {
				problems = append(problems, fmt.Sprintf("task %s depends on unknown task %s", id, dep))
			}
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// ValidateAcyclic reports the first dependency cycle found.
func (g TaskGraph) ValidateAcyclic() error {
	visiting := map[string]bool{}
	visited := map[string]bool{}
	var dfs func(string) error
	dfs = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return fmt.Errorf("cycle detected at task %s", id)
		}
		visiting[id] = true
		if task := g[id]; task != nil {
			for _, dep := range task.Dependencies {
				if _, ok := g[dep]; !ok {
					continue
				}
				if err := dfs(dep); err != nil {
					return err
				}
			}
		}
		visiting[id] = false
		visited[id] = true
		return nil
	}
	for _, id := range g.SortedIDs() {
		if err := dfs(id); err != nil {
			return err
		}
	}
	return nil
}

// DependenciesSatisfied reports whether every dependency of task is COMPLETED
// or SKIPPED. A dependency missing from the graph is never satisfied.
func (g TaskGraph) DependenciesSatisfied(task *Task) bool {
	for _, dep := range task.Dependencies {
		parent, ok := g[dep]
		if !ok || !parent.Status.Satisfies() {
			return false
		}
	}
	return true
}

// Pending returns the ids of PENDING tasks in sorted order.
func (g TaskGraph) Pending() []string {
	var ids []string
	for _, id := range g.SortedIDs() {
		if g[id].Status == TaskPending {
			ids = append(ids, id)
		}
	}
	return ids
}
