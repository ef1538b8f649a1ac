// Package fingerprint derives a deterministic, content-addressed cache key
// from a task's definition, its declared input files, the subset of the
// environment it textually references, and its working directory.
//
// Canonical input order (fixed, see spec §4.1):
//  1. task name
//  2. canonicalized task definition (command/script, shell, working_dir,
//     sorted+deduped inputs/outputs, timeout)
//  3. each declared input file, glob-expanded in sorted path order:
//     relative path, size, content digest
//  4. env vars referenced by the command/script body (plus any explicit
//     allow-list entries), sorted, serialized as NAME=VALUE
//  5. the absolute working directory path
//
// The digest is SHA-256, rendered as lowercase hex.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"taskrunner/internal/fs"
	"taskrunner/internal/task"
)

// envVarPattern matches ${NAME} and $NAME forms. Documented here per the
// contract: any environment variable name referenced this way in a
// command or script body is folded into the fingerprint.
var envVarPattern = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// sentinel is substituted for any canonical field that is absent, so an
// empty string and "not set" never collide in the serialized form.
const sentinel = "\x00<absent>\x00"

// Error is returned when a declared input file cannot be read for hashing.
type Error struct {
	Task   string
	Input  string
	Reason error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fingerprinting task %q: reading input %q: %v", e.Task, e.Input, e.Reason)
}

func (e *Error) Unwrap() error { return e.Reason }

// Key is the fixed-width hex digest produced by Compute.
type Key string

// Compute derives the cache key for name. If def.CacheKey is set, it is
// returned verbatim, bypassing derivation entirely (an escape hatch for
// pinning and tests).
func Compute(name string, def task.Definition, envVars map[string]string, workingDir string) (Key, error) {
	if def.CacheKey != "" {
		return Key(def.CacheKey), nil
	}

	h := sha256.New()
	write := func(s string) { h.Write([]byte(s)); h.Write([]byte{0}) }

	write(name)

	writeField(write, def.Command)
	writeField(write, def.Script)
	write(def.ShellPath())
	writeField(write, def.WorkingDir)
	for _, in := range sortedUnique(def.Inputs) {
		write(in)
	}
	for _, out := range sortedUnique(def.Outputs) {
		write(out)
	}
	fmt.Fprintf(h, "timeout=%d\x00", def.TimeoutSeconds)

	files, err := ExpandGlobs(def.Inputs, workingDir)
	if err != nil {
		return "", &Error{Task: name, Input: "", Reason: err}
	}
	for _, rel := range files {
		abs := filepath.Join(workingDir, rel)
		digest, size, err := fs.Sha256File(abs)
		if err != nil {
			return "", &Error{Task: name, Input: rel, Reason: err}
		}
		write(rel)
		fmt.Fprintf(h, "%d\x00", size)
		write(digest)
	}

	for _, kv := range referencedEnv(def, envVars) {
		write(kv)
	}

	absWorkingDir, err := filepath.Abs(workingDir)
	if err != nil {
		return "", &Error{Task: name, Input: workingDir, Reason: err}
	}
	write(absWorkingDir)

	return Key(hex.EncodeToString(h.Sum(nil))), nil
}

// InputDigest hashes only def's declared input files — not the command,
// environment, or working directory path — so a cache entry stored under a
// pinned CacheKey can still be recognized as stale when the files beneath it
// change. It is the "current input-set digest" referenced by the cache
// store's hit criterion.
func InputDigest(name string, def task.Definition, workingDir string) (string, error) {
	h := sha256.New()
	write := func(s string) { h.Write([]byte(s)); h.Write([]byte{0}) }

	files, err := ExpandGlobs(def.Inputs, workingDir)
	if err != nil {
		return "", &Error{Task: name, Input: "", Reason: err}
	}
	for _, rel := range files {
		abs := filepath.Join(workingDir, rel)
		digest, size, err := fs.Sha256File(abs)
		if err != nil {
			return "", &Error{Task: name, Input: rel, Reason: err}
		}
		write(rel)
		fmt.Fprintf(h, "%d\x00", size)
		write(digest)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeField(write func(string), v string) {
	if v == "" {
		write(sentinel)
		return
	}
	write(v)
}

// sortedUnique deduplicates and sorts a string slice without mutating the
// input.
func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ExpandGlobs resolves each of globs against workingDir and returns the
// matched, workingDir-relative file paths in sorted order, with duplicates
// (a file matched by two globs) collapsed. Both Compute/InputDigest (over
// declared inputs) and the dispatcher (over declared outputs, ahead of a
// cache Put) use this to turn glob patterns into concrete file lists.
func ExpandGlobs(globs []string, workingDir string) ([]string, error) {
	fsys := os.DirFS(workingDir)
	seen := make(map[string]bool)
	var matches []string
	for _, pattern := range globs {
		found, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid input glob %q: %w", pattern, err)
		}
		for _, m := range found {
			info, statErr := iofs.Stat(fsys, m)
			if statErr != nil {
				return nil, statErr
			}
			if info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				matches = append(matches, m)
			}
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// referencedEnv returns "NAME=VALUE" pairs, sorted by name, for every
// environment variable name textually referenced in the command/script
// body (via envVarPattern) unioned with the task's explicit Env allow-list.
// Unset variables serialize with the sentinel value, distinct from a
// variable explicitly set to the empty string.
func referencedEnv(def task.Definition, envVars map[string]string) []string {
	names := make(map[string]bool)
	for _, body := range []string{def.Command, def.Script} {
		for _, m := range envVarPattern.FindAllStringSubmatch(body, -1) {
			names[m[1]] = true
		}
	}
	for _, n := range def.Env {
		names[n] = true
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	pairs := make([]string, 0, len(sorted))
	for _, n := range sorted {
		if v, ok := envVars[n]; ok {
			pairs = append(pairs, n+"="+v)
		} else {
			pairs = append(pairs, n+"="+sentinel)
		}
	}
	return pairs
}
