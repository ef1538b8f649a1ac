package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"taskrunner/internal/cachestore"
	"taskrunner/internal/dispatcher"
	"taskrunner/internal/engine"
	"taskrunner/internal/loader"
	"taskrunner/internal/plan"
	"taskrunner/internal/runnerconfig"
	"taskrunner/internal/task"
)

// runCommand builds and executes the plan for one or more requested tasks.
type runCommand struct {
	ui     cli.Ui
	logger hclog.Logger
	config runnerconfig.Config
}

func (c *runCommand) Synopsis() string {
	return "Run one or more tasks and their dependencies"
}

func (c *runCommand) Help() string {
	return strings.TrimSpace(`
Usage: taskrunner run [options] <task> [<task> ...] [-- <args>]

  Runs the named tasks and every task they transitively depend on, one
  dependency level at a time, consulting the local cache around each.

Options:
  -concurrency=N   cap concurrent tasks per level (default: unlimited)
  -dry-run         print the execution plan without running anything
`)
}

func (c *runCommand) Run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	concurrency := fs.Int("concurrency", c.config.Concurrency, "cap concurrent tasks per level")
	dryRun := fs.Bool("dry-run", false, "print the execution plan without running anything")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	names, taskArgs := splitTaskArgs(fs.Args())
	if len(names) == 0 {
		c.ui.Error("run requires at least one task name")
		return 1
	}

	baseDir, path, err := loader.Find(".")
	if err != nil {
		c.ui.Error(fmt.Sprintf("locating %s: %v", loader.FileName, err))
		return 1
	}
	tasks, err := loader.Load(path)
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}

	if *dryRun {
		return c.printPlan(tasks, names)
	}

	cacheRoot, err := c.config.ResolveCacheRoot("")
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}
	store, err := cachestore.New(cachestore.Options{
		Root:         cacheRoot,
		RetentionTTL: c.config.RetentionTTL(),
		MaxBytes:     c.config.MaxCacheBytes,
		Logger:       c.logger,
	})
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}

	eng, err := engine.New(engine.Options{
		Tasks:       tasks,
		BaseDir:     baseDir,
		Cache:       store,
		Logger:      c.logger,
		Concurrency: *concurrency,
	})
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}

	outcomes, err := eng.ExecuteTasksWithDependencies(context.Background(), names, taskArgs)
	for _, o := range outcomes {
		status := "ok"
		if o.CacheHit {
			status = "cached"
		} else if o.Failed() {
			status = "failed"
		}
		c.ui.Info(fmt.Sprintf("%-20s %-8s exit=%d", o.Task, status, o.ExitCode))
	}
	if err == nil {
		return 0
	}

	var failed *dispatcher.TasksFailed
	if !stderrors.As(err, &failed) || len(failed.Tasks) != 1 {
		c.ui.Error(err.Error())
		return 1
	}

	// Exactly one task failed: surface its own exit code, per the
	// process-exit contract.
	for _, o := range outcomes {
		if o.Task == failed.Tasks[0] && o.ExitCode > 0 {
			return o.ExitCode
		}
	}
	return 1
}

func (c *runCommand) printPlan(tasks task.Set, names []string) int {
	p, err := plan.Build(names, tasks)
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}
	for i, level := range p.Levels {
		c.ui.Output(fmt.Sprintf("level %d:", i))
		for _, name := range level {
			c.ui.Output(fmt.Sprintf("  %s", name))
		}
	}
	return 0
}

// splitTaskArgs separates requested task names from the argv forwarded to
// the root invocation(s), split on a literal "--".
func splitTaskArgs(args []string) (names []string, rest []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}
