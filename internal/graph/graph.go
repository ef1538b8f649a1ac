// Package graph validates task references, detects dependency cycles, and
// produces the adjacency map restricted to the transitive closure of a set
// of requested root tasks.
//
// The walk is a direct, hand-written implementation of the DFS algorithm in
// the task runner's core design: a visited set, an in-progress stack set,
// and a verbatim adjacency map keyed by task name. This mirrors the shape
// of turbo's own package-task graph construction in internal/core, adjusted
// for a flat (non-workspace) task namespace.
package graph

import (
	"fmt"
	"strings"

	"github.com/pyr-sh/dag"

	"taskrunner/internal/task"
)

// UnknownTaskError is returned when a requested root does not exist.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("task %q not found in project", e.Name)
}

// UnknownDependencyError is returned when a task names a dependency that
// does not exist in the project.
type UnknownDependencyError struct {
	Task       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on %q, which was not found in project", e.Task, e.Dependency)
}

// CyclicDependencyError names the task at which a cycle was detected. The
// message always contains "circular" (case-insensitive), per contract.
type CyclicDependencyError struct {
	Task string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: task %q is part of a dependency cycle", e.Task)
}

// Adjacency maps a task name to its verbatim (deduplicated) dependency
// list, in source order, restricted to tasks reachable from the requested
// roots.
type Adjacency map[string][]string

// Graph is the validated sub-DAG produced by Build: the adjacency map plus
// the order in which tasks were first discovered by the DFS walk. The
// level planner relies on Order, not map iteration, to give deterministic
// level contents across runs (Go map iteration order is randomized).
type Graph struct {
	Edges Adjacency
	Order []string
}

// Build validates every requested root and performs a DFS from each,
// recording every task reached and its dependency edges. It returns
// UnknownTaskError if a root is missing, UnknownDependencyError if any
// reachable task names a nonexistent dependency, and CyclicDependencyError
// if the dependency relation contains a cycle.
func Build(requested []string, all task.Set) (*Graph, error) {
	adjacency := make(Adjacency)
	order := make([]string, 0)
	visited := make(map[string]bool)
	stack := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if stack[name] {
			return &CyclicDependencyError{Task: name}
		}
		if visited[name] {
			return nil
		}
		stack[name] = true

		def, ok := all[name]
		if !ok {
			return &UnknownTaskError{Name: name}
		}

		deps := def.DedupedDependencies()
		for _, dep := range deps {
			if _, ok := all[dep]; !ok {
				return &UnknownDependencyError{Task: name, Dependency: dep}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		adjacency[name] = deps
		order = append(order, name)
		delete(stack, name)
		visited[name] = true
		return nil
	}

	for _, root := range requested {
		if _, ok := all[root]; !ok {
			return nil, &UnknownTaskError{Name: root}
		}
		if err := visit(root); err != nil {
			return nil, err
		}
	}

	if err := validateAcyclic(adjacency); err != nil {
		return nil, err
	}

	return &Graph{Edges: adjacency, Order: order}, nil
}

// validateAcyclic is a defense-in-depth pass: it projects the adjacency map
// built by the DFS walk above onto a pyr-sh/dag.AcyclicGraph and asks the
// graph library to validate it. The hand-written DFS above is what produces
// the CyclicDependencyError surfaced to callers (so the "circular" message
// contract in the spec is met); this is a second, independent check that a
// defect in that walk does not silently produce a plan with a cycle in it.
func validateAcyclic(adjacency Adjacency) error {
	var g dag.AcyclicGraph
	for name := range adjacency {
		g.Add(name)
	}
	for name, deps := range adjacency {
		for _, dep := range deps {
			g.Add(dep)
			g.Connect(dag.BasicEdge(name, dep))
		}
	}
	if err := g.Validate(); err != nil {
		return &CyclicDependencyError{Task: strings.Join(cycleVertices(&g), ", ")}
	}
	return nil
}

func cycleVertices(g *dag.AcyclicGraph) []string {
	cycles := g.Cycles()
	names := make([]string, 0)
	for _, cycle := range cycles {
		for _, v := range cycle {
			names = append(names, dag.VertexName(v))
		}
	}
	return names
}
