// Package dispatcher walks an execution plan level by level, fanning each
// level out across a bounded pool of workers, consulting and populating the
// result cache around every task, and enforcing the strict level barrier:
// every unit in level k completes (successfully or not) before level k+1
// starts.
package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"taskrunner/internal/cachestore"
	"taskrunner/internal/fingerprint"
	"taskrunner/internal/plan"
	"taskrunner/internal/runner"
	"taskrunner/internal/task"
	"taskrunner/internal/util"
)

// Outcome records what happened to a single dispatched task.
type Outcome struct {
	Task     string
	ExitCode int
	CacheHit bool

	// Err is set only when the task could not be run at all (process
	// creation failure, timeout); a fingerprint failure only makes the task
	// run uncached, and a non-zero ExitCode from a completed child is not an
	// error.
	Err error
}

// Failed reports whether this outcome should count against its level.
func (o Outcome) Failed() bool {
	return o.Err != nil || o.ExitCode != 0
}

// TasksFailed aggregates every task name that failed within a single level.
// Dispatch stops after the level that produced it; no later level runs.
type TasksFailed struct {
	Tasks []string
}

func (e *TasksFailed) Error() string {
	return fmt.Sprintf("tasks failed: %s", strings.Join(e.Tasks, ", "))
}

// Dispatcher executes plans against a shared runner and cache store.
type Dispatcher struct {
	runner      *runner.Runner
	cache       *cachestore.Store
	logger      hclog.Logger
	concurrency int
}

// New creates a Dispatcher. concurrency <= 0 means "no cap beyond a level's
// own width" — every task in a level is launched at once.
func New(r *runner.Runner, cache *cachestore.Store, logger hclog.Logger, concurrency int) *Dispatcher {
	return &Dispatcher{
		runner:      r,
		cache:       cache,
		logger:      logger.Named("dispatcher"),
		concurrency: concurrency,
	}
}

// Run executes every level of p in order. roots names the tasks the caller
// requested directly (as opposed to those pulled in only as dependencies):
// args are forwarded to those tasks' command/script and withheld from every
// task that is merely a transitive dependency. env is the full environment
// every child inherits, and baseDir is the working directory root Definition
// WorkingDir is resolved against.
//
// Run returns every outcome gathered before failure, plus a *TasksFailed
// naming the failed tasks of the level that broke the barrier, or a nil
// error if every level completed clean.
func (d *Dispatcher) Run(ctx context.Context, p *plan.ExecutionPlan, baseDir string, roots []string, args []string, env []string) ([]Outcome, error) {
	rootSet := util.NewSet()
	for _, r := range roots {
		rootSet.Add(r)
	}
	envMap := envMapFromPairs(env)

	var all []Outcome
	for levelIdx, level := range p.Levels {
		outcomes, err := d.runLevel(ctx, level, p.Tasks, baseDir, rootSet, args, envMap, env)
		all = append(all, outcomes...)
		if err != nil {
			d.logger.Error("level failed, aborting dispatch", "level", levelIdx, "error", err)
			return all, err
		}
	}
	return all, nil
}

func (d *Dispatcher) runLevel(
	ctx context.Context,
	level []string,
	tasks map[string]task.Definition,
	baseDir string,
	rootSet util.Set,
	args []string,
	envMap map[string]string,
	env []string,
) ([]Outcome, error) {
	var mu sync.Mutex
	outcomes := make([]Outcome, 0, len(level))

	g, gctx := errgroup.WithContext(ctx)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}

	for _, name := range level {
		name := name
		g.Go(func() error {
			def := tasks[name]
			taskArgs := []string(nil)
			if rootSet.Includes(name) {
				taskArgs = args
			}
			outcome := d.runOne(gctx, def, baseDir, taskArgs, envMap, env)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil // failures are recorded per-outcome, never propagated through errgroup
		})
	}
	_ = g.Wait() // no Go invocation above returns a non-nil error

	var failed []string
	for _, o := range outcomes {
		if o.Failed() {
			failed = append(failed, o.Task)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return outcomes, &TasksFailed{Tasks: failed}
	}
	return outcomes, nil
}

// runOne resolves a task's working directory, decides between a cache hit
// and a real invocation, and — on a cacheable success — writes the result
// back for the next run to find.
func (d *Dispatcher) runOne(ctx context.Context, def task.Definition, baseDir string, args []string, envMap map[string]string, env []string) Outcome {
	cwd := baseDir
	if def.WorkingDir != "" {
		cwd = filepath.Join(baseDir, def.WorkingDir)
	}

	cacheable := def.Cache && !def.Persistent
	var key fingerprint.Key
	var inputDigest string

	if cacheable {
		k, err := fingerprint.Compute(def.Name, def, envMap, cwd)
		if err != nil {
			d.logger.Warn("fingerprint failed, running uncached", "task", def.Name, "error", err)
			cacheable = false
		} else {
			digest, derr := fingerprint.InputDigest(def.Name, def, cwd)
			if derr != nil {
				d.logger.Warn("input digest failed, running uncached", "task", def.Name, "error", derr)
				cacheable = false
			} else {
				key, inputDigest = k, digest
			}
		}
	}

	if cacheable {
		if entry, ok := d.cache.Get(key, inputDigest); ok {
			if restoreErr := entry.Restore(cwd); restoreErr != nil {
				d.logger.Warn("cache hit but failed to restore outputs, running uncached", "task", def.Name, "error", restoreErr)
			} else {
				d.logger.Info("cache hit", "task", def.Name, "key", key)
				return Outcome{Task: def.Name, ExitCode: entry.Metadata.ExitCode, CacheHit: true}
			}
		}
	}

	code, err := d.runner.Execute(ctx, def, baseDir, args, env)
	if err != nil {
		return Outcome{Task: def.Name, ExitCode: -1, Err: err}
	}

	if cacheable && code == 0 {
		outputFiles, expandErr := fingerprint.ExpandGlobs(def.Outputs, cwd)
		if expandErr != nil {
			d.logger.Warn("failed to expand declared outputs, skipping cache write", "task", def.Name, "error", expandErr)
		} else if putErr := d.cache.Put(key, def, cwd, code, inputDigest, outputFiles); putErr != nil {
			d.logger.Warn("failed to write cache entry", "task", def.Name, "error", putErr)
		}
	}

	return Outcome{Task: def.Name, ExitCode: code}
}

func envMapFromPairs(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if i := strings.IndexByte(p, '='); i >= 0 {
			m[p[:i]] = p[i+1:]
		}
	}
	return m
}
