// Package task defines the declarative task model consumed by the graph
// builder, fingerprint hasher, and dispatcher.
package task

import (
	"fmt"
	"time"
)

// Definition is an immutable description of a single task, as produced by
// the (out-of-scope) configuration loader. Once loaded, a Definition is
// never mutated for the lifetime of a plan.
type Definition struct {
	Name        string `yaml:"-"`
	Description string `yaml:"description"`

	// Exactly one of Command/Script must be set.
	Command string `yaml:"command"`
	Script  string `yaml:"script"`

	// Shell defaults to "sh" when empty.
	Shell string `yaml:"shell"`

	// Dependencies are task names this task must wait on. Order is
	// preserved for deterministic downstream level assignment, duplicates
	// are ignored.
	Dependencies []string `yaml:"dependencies"`

	WorkingDir string   `yaml:"working_dir"`
	Inputs     []string `yaml:"inputs"`
	Outputs    []string `yaml:"outputs"`

	Cache    bool   `yaml:"cache"`
	CacheKey string `yaml:"cache_key"`

	// TimeoutSeconds, when > 0, is enforced by the task runner.
	TimeoutSeconds int `yaml:"timeout"`

	// Env is an explicit allow-list of environment variable names folded
	// into the fingerprint in addition to the ones textually referenced
	// by the command/script body.
	Env []string `yaml:"env"`

	// Persistent marks a task that is not expected to terminate on its
	// own (a dev server, a watcher). Persistent tasks are never cached
	// and cannot be depended on.
	Persistent bool `yaml:"persistent"`
}

// Timeout returns the configured timeout, or 0 if none was set.
func (d Definition) Timeout() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Payload returns the shell body for this task: Command with args
// space-joined when Command is set, or Script verbatim (args ignored)
// when Script is set.
func (d Definition) Payload(args []string) string {
	if d.Script != "" {
		return d.Script
	}
	if len(args) == 0 {
		return d.Command
	}
	joined := d.Command
	for _, a := range args {
		joined += " " + a
	}
	return joined
}

// ShellPath returns the configured shell, defaulting to "sh".
func (d Definition) ShellPath() string {
	if d.Shell == "" {
		return "sh"
	}
	return d.Shell
}

// DedupedDependencies returns Dependencies with duplicates removed,
// preserving first-seen order.
func (d Definition) DedupedDependencies() []string {
	seen := make(map[string]bool, len(d.Dependencies))
	out := make([]string, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		out = append(out, dep)
	}
	return out
}

// ValidationError reports a malformed task definition.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("task %q is invalid: %s", e.Name, e.Reason)
}

// Validate enforces the structural invariants in the data model: a
// non-empty name, exactly one of command/script, and no self-dependency.
func (d Definition) Validate() error {
	if d.Name == "" {
		return &ValidationError{Name: d.Name, Reason: "name must not be empty"}
	}
	hasCommand := d.Command != ""
	hasScript := d.Script != ""
	if hasCommand == hasScript {
		if hasCommand {
			return &ValidationError{Name: d.Name, Reason: "declares both command and script, exactly one is required"}
		}
		return &ValidationError{Name: d.Name, Reason: "declares neither command nor script, exactly one is required"}
	}
	for _, dep := range d.Dependencies {
		if dep == d.Name {
			return &ValidationError{Name: d.Name, Reason: "cannot depend on itself"}
		}
	}
	return nil
}

// Set is the configuration surface consumed from the (out-of-scope)
// loader: every task known to the project, keyed by name.
type Set map[string]Definition

// Validate validates every definition in the set and cross-checks that
// persistent tasks are never declared as a dependency of another task
// (a persistent task, by definition, never completes).
func (s Set) Validate() error {
	for name, def := range s {
		def.Name = name
		if err := def.Validate(); err != nil {
			return err
		}
	}
	for name, def := range s {
		for _, dep := range def.Dependencies {
			if depDef, ok := s[dep]; ok && depDef.Persistent {
				return &ValidationError{
					Name:   name,
					Reason: fmt.Sprintf("depends on %q, which is a persistent task and never completes", dep),
				}
			}
		}
	}
	return nil
}
