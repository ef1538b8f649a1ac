// Package process supervises the child processes spawned by the task
// runner: starting them, waiting for completion, and enforcing an optional
// timeout. Adapted from the teacher's internal/process package (itself
// adapted from hashicorp/consul-template's child process wrapper), trimmed
// to what this spec requires: no restart, no splay, no process groups. A
// timed-out child is killed directly; its own descendants are not signaled.
package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// ExitCodeOK is the conventional success exit code.
const ExitCodeOK = 0

// TimeoutError is returned when a child process is killed for exceeding
// its configured timeout.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q exceeded timeout of %s", e.Command, e.Timeout)
}

// Child wraps a single *exec.Cmd under management.
type Child struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	label   string
	timeout time.Duration
	logger  hclog.Logger
}

// New wraps cmd for supervised execution. A zero timeout means the child is
// permitted to run indefinitely.
func New(cmd *exec.Cmd, timeout time.Duration, logger hclog.Logger) *Child {
	label := fmt.Sprintf("(%s) %s", cmd.Dir, cmd.String())
	return &Child{
		cmd:     cmd,
		label:   label,
		timeout: timeout,
		logger:  logger.Named("process"),
	}
}

// Run starts the child, waits for it to exit (or be killed on timeout), and
// returns its exit code. A non-zero exit code is a normal return value, not
// an error. Run only returns an error when process creation itself fails,
// or when the timeout fires.
func (c *Child) Run(ctx context.Context) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Debug("starting child", "label", c.label)
	if err := c.cmd.Start(); err != nil {
		return 0, errors.Wrapf(err, "failed to start %q", c.label)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- c.cmd.Wait()
	}()

	select {
	case err := <-waitCh:
		return exitCodeFromWaitError(c.cmd, err), nil
	case <-ctx.Done():
		c.kill()
		<-waitCh // reap the process so it doesn't become a zombie
		return 0, &TimeoutError{Command: c.label, Timeout: c.timeout}
	}
}

func (c *Child) kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd.Process == nil {
		return
	}
	c.logger.Debug("killing child after timeout", "label", c.label)
	_ = c.cmd.Process.Kill()
}

// exitCodeFromWaitError extracts the integer exit status from the result of
// cmd.Wait(). A nil error means success (0); an *exec.ExitError carries the
// real exit code. Any other error (signal termination without a portable
// exit code, etc.) surfaces as exit code 1, per the runner's contract.
func exitCodeFromWaitError(cmd *exec.Cmd, err error) int {
	if err == nil {
		return ExitCodeOK
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return 1
}
