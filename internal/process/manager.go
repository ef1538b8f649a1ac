package process

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Manager tracks every child process spawned during a dispatch so the
// count of in-flight children is always known and, in the future, so they
// could all be signaled at once. Mid-run user cancellation is out of scope
// for this spec; Manager exists so that supervision — not cancellation —
// is centralized in one place, matching the teacher's internal/process
// package.
type Manager struct {
	mu       sync.Mutex
	children map[*Child]struct{}
	logger   hclog.Logger
}

// NewManager creates a Manager that logs through logger.
func NewManager(logger hclog.Logger) *Manager {
	return &Manager{
		children: make(map[*Child]struct{}),
		logger:   logger,
	}
}

// Exec spawns cmd under supervision, blocks until it exits (or is killed
// for exceeding timeout), and returns its exit code.
func (m *Manager) Exec(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) (int, error) {
	child := New(cmd, timeout, m.logger)

	m.mu.Lock()
	m.children[child] = struct{}{}
	count := len(m.children)
	m.mu.Unlock()
	m.logger.Debug("child registered", "in_flight", count)

	defer func() {
		m.mu.Lock()
		delete(m.children, child)
		m.mu.Unlock()
	}()

	return child.Run(ctx)
}

// InFlight returns the number of children currently registered.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.children)
}
