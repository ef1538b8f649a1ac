// Package runner assembles and executes the single shell invocation for one
// task: <shell> -c <payload>, stdio inherited from the dispatcher, exit
// status captured or a RunError surfaced when the process itself could not
// be created or exceeded its timeout.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"taskrunner/internal/process"
	"taskrunner/internal/task"
)

// Error reports that a child process could not be created, or was killed
// for exceeding its timeout. A non-zero child exit is never wrapped in
// Error — it is a normal returned exit code.
type Error struct {
	Task   string
	Reason error
}

func (e *Error) Error() string {
	return fmt.Sprintf("running task %q: %v", e.Task, e.Reason)
}

func (e *Error) Unwrap() error { return e.Reason }

// Runner executes a single task's shell invocation under process
// supervision.
type Runner struct {
	manager *process.Manager
	logger  hclog.Logger
}

// New creates a Runner backed by a fresh process manager.
func New(logger hclog.Logger) *Runner {
	return &Runner{
		manager: process.NewManager(logger),
		logger:  logger.Named("runner"),
	}
}

// Execute resolves the task's working directory, assembles its shell
// payload, and runs it to completion with stdin/stdout/stderr inherited
// from the current process. It returns the child's exit status (0-255),
// or 1 if the platform reported no portable exit code. env is the full
// environment the child inherits.
func (r *Runner) Execute(ctx context.Context, def task.Definition, baseDir string, args []string, env []string) (int, error) {
	cwd := baseDir
	if def.WorkingDir != "" {
		cwd = filepath.Join(baseDir, def.WorkingDir)
	}

	payload := def.Payload(args)
	cmd := exec.Command(def.ShellPath(), "-c", payload)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	r.logger.Debug("executing task", "task", def.Name, "dir", cwd, "shell", def.ShellPath())

	code, err := r.manager.Exec(ctx, cmd, def.Timeout())
	if err != nil {
		return 0, &Error{Task: def.Name, Reason: err}
	}
	return code, nil
}
