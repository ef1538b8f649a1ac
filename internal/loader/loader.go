// Package loader reads a project's task definitions from a declarative YAML
// file. This sits outside the specification proper — nothing in the core
// model requires YAML specifically — but a runner with no way to populate a
// task.Set is not runnable, so this gives the CLI an on-disk format in the
// teacher's own style (turbo.json, parsed with the same "load, validate,
// default" shape as the teacher's internal/config package).
package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"taskrunner/internal/task"
)

// FileName is the conventional project file name, analogous to turbo.json.
const FileName = "tasks.yml"

// Error wraps a failure to read or parse a project file.
type Error struct {
	Path   string
	Reason error
}

func (e *Error) Error() string {
	return fmt.Sprintf("loading %q: %v", e.Path, e.Reason)
}

func (e *Error) Unwrap() error { return e.Reason }

// document mirrors the top-level shape of tasks.yml.
type document struct {
	Tasks map[string]task.Definition `yaml:"tasks"`
}

// Load reads and parses path into a validated task.Set. Each definition's
// Name is populated from its map key before validation, since the map key
// — not a field in the YAML body — is the task's name.
func Load(path string) (task.Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Reason: err}
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &Error{Path: path, Reason: err}
	}

	set := make(task.Set, len(doc.Tasks))
	for name, def := range doc.Tasks {
		def.Name = name
		set[name] = def
	}

	if err := set.Validate(); err != nil {
		return nil, &Error{Path: path, Reason: err}
	}

	return set, nil
}

// Find walks upward from dir looking for FileName, the way the teacher's
// config loader locates turbo.json relative to the invocation directory.
// It returns the directory containing the file (the project's base
// directory) and the file's full path.
func Find(dir string) (baseDir string, path string, err error) {
	cur, err := filepath.Abs(dir)
	if err != nil {
		return "", "", err
	}
	for {
		candidate := filepath.Join(cur, FileName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return cur, candidate, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", "", &Error{Path: filepath.Join(dir, FileName), Reason: os.ErrNotExist}
		}
		cur = parent
	}
}
