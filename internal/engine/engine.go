// Package engine is the glue between cache, graph, and dispatch: the public
// surface a CLI (or any other caller) drives, matching the four operations
// the task runner is specified to expose.
package engine

import (
	"context"
	"os"
	"sort"

	"github.com/hashicorp/go-hclog"

	"taskrunner/internal/cachestore"
	"taskrunner/internal/dispatcher"
	"taskrunner/internal/plan"
	"taskrunner/internal/runner"
	"taskrunner/internal/task"
)

// TaskInfo is a single entry in list_tasks' output.
type TaskInfo struct {
	Name        string
	Description string
}

// Engine owns the long-lived pieces a run needs: the task set, the cache
// store, and the runner/dispatcher pair.
type Engine struct {
	tasks       task.Set
	baseDir     string
	cache       *cachestore.Store
	runner      *runner.Runner
	logger      hclog.Logger
	concurrency int
}

// Options configures a new Engine.
type Options struct {
	Tasks       task.Set
	BaseDir     string
	Cache       *cachestore.Store
	Logger      hclog.Logger
	Concurrency int
}

// New validates tasks and returns a ready Engine.
func New(opts Options) (*Engine, error) {
	if err := opts.Tasks.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		tasks:       opts.Tasks,
		baseDir:     opts.BaseDir,
		cache:       opts.Cache,
		runner:      runner.New(logger),
		logger:      logger.Named("engine"),
		concurrency: opts.Concurrency,
	}, nil
}

// ListTasks returns every known task's name and description, sorted by
// name.
func (e *Engine) ListTasks() []TaskInfo {
	out := make([]TaskInfo, 0, len(e.tasks))
	for name, def := range e.tasks {
		out = append(out, TaskInfo{Name: name, Description: def.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildExecutionPlan computes (without running) the plan for names, for
// dry-run display.
func (e *Engine) BuildExecutionPlan(names []string) (*plan.ExecutionPlan, error) {
	return plan.Build(names, e.tasks)
}

// ExecuteTask runs name and every task it transitively depends on, args
// forwarded only to name itself. It is a convenience wrapper around
// ExecuteTasksWithDependencies for the single-task case.
func (e *Engine) ExecuteTask(ctx context.Context, name string, args []string) ([]dispatcher.Outcome, error) {
	return e.ExecuteTasksWithDependencies(ctx, []string{name}, args)
}

// ExecuteTasksWithDependencies computes the execution plan for names and
// every transitive dependency, then dispatches it level by level.
func (e *Engine) ExecuteTasksWithDependencies(ctx context.Context, names []string, args []string) ([]dispatcher.Outcome, error) {
	p, err := plan.Build(names, e.tasks)
	if err != nil {
		return nil, err
	}
	d := dispatcher.New(e.runner, e.cache, e.logger, e.concurrency)
	return d.Run(ctx, p, e.baseDir, names, args, os.Environ())
}

// CleanupCache evicts stale and oversize cache entries; exposed so a CLI
// subcommand or a periodic caller can trigger retention outside of a run.
func (e *Engine) CleanupCache() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.CleanupStale()
}

// ResolvedConcurrency returns the concurrency cap in effect, for display.
func (e *Engine) ResolvedConcurrency() int {
	return e.concurrency
}
