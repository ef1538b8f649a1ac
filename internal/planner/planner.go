// Package planner converts a validated dependency graph into an ordered
// sequence of execution levels using Kahn's algorithm.
package planner

import (
	"taskrunner/internal/graph"
)

// Level is a maximal set of task names sharing no intra-plan dependency.
// Set membership is what matters for correctness; order within a level is
// kept stable (insertion order from the graph's DFS discovery order) so
// tests can assert deterministic level contents.
type Level []string

// Plan computes level assignment for every task named in g.
//
// Dependency edges outside g.Edges' domain are impossible here, since
// graph.Build already restricted the graph to tasks it verified exist. If
// the drained count ever falls short of the task count, a cycle slipped
// past the graph builder; this is treated defensively as a
// CyclicDependencyError exactly as if caught at build time.
func Plan(g *graph.Graph) ([]Level, error) {
	indegree := make(map[string]int, len(g.Order))
	dependents := make(map[string][]string, len(g.Order))

	for _, name := range g.Order {
		indegree[name] = 0
	}
	for _, name := range g.Order {
		for _, dep := range g.Edges[name] {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var frontier []string
	for _, name := range g.Order {
		if indegree[name] == 0 {
			frontier = append(frontier, name)
		}
	}

	var levels []Level
	seen := 0
	for len(frontier) > 0 {
		level := make(Level, len(frontier))
		copy(level, frontier)
		levels = append(levels, level)
		seen += len(frontier)

		var next []string
		for _, name := range frontier {
			for _, dependent := range dependents[name] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		frontier = next
	}

	if seen < len(g.Order) {
		return nil, &graph.CyclicDependencyError{Task: "plan"}
	}

	return levels, nil
}

// LevelOf returns the zero-based level index of each task name, derived
// from a computed plan. Useful for asserting the invariant that every
// dependency's level is strictly less than its dependent's level.
func LevelOf(levels []Level) map[string]int {
	out := make(map[string]int)
	for i, level := range levels {
		for _, name := range level {
			out[name] = i
		}
	}
	return out
}
