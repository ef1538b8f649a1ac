// Package plan assembles the validated graph and level assignment into the
// TaskExecutionPlan the dispatcher walks.
package plan

import (
	"taskrunner/internal/graph"
	"taskrunner/internal/planner"
	"taskrunner/internal/task"
)

// ExecutionPlan is the output of the Graph Builder and Level Planner: an
// ordered sequence of levels, and every task definition reachable from the
// requested roots.
type ExecutionPlan struct {
	Levels []planner.Level
	Tasks  map[string]task.Definition
}

// Build validates requested against all, computes the dependency graph and
// its level assignment, and returns the resulting plan. It never includes
// a task unreachable from requested, and it never splits a task across two
// levels.
func Build(requested []string, all task.Set) (*ExecutionPlan, error) {
	g, err := graph.Build(requested, all)
	if err != nil {
		return nil, err
	}

	levels, err := planner.Plan(g)
	if err != nil {
		return nil, err
	}

	tasks := make(map[string]task.Definition, len(g.Order))
	for _, name := range g.Order {
		def := all[name]
		def.Name = name
		tasks[name] = def
	}

	return &ExecutionPlan{Levels: levels, Tasks: tasks}, nil
}
