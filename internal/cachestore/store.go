// Package cachestore implements the content-addressed result cache: a
// key->result store on the local filesystem, concurrent-safe without lock
// files (atomicity comes from os.Rename), with stale-entry eviction.
//
// Layout, rooted at the configured cache directory:
//
//	<root>/<key[0:2]>/<key[2:]>/meta         structured metadata (JSON)
//	<root>/<key[0:2]>/<key[2:]>/outputs/     declared output files, verbatim
//
// Adapted from the teacher's internal/cache/cache_fs.go, replacing its
// single-blob tar layout (which belonged to turbo's remote-cache-capable
// design, out of scope here) with the plain directory-of-files layout this
// spec requires, and its fixed-name publish-in-place with the *.tmp +
// rename pattern spec.md §4.2 and §9 call for.
package cachestore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"taskrunner/internal/fingerprint"
	"taskrunner/internal/fs"
	"taskrunner/internal/task"
)

// IoError wraps an unrecoverable cache filesystem failure.
type IoError struct {
	Op     string
	Reason error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Reason)
}

func (e *IoError) Unwrap() error { return e.Reason }

// Metadata is the structured record stored alongside a cache entry.
type Metadata struct {
	Version     int       `json:"version"`
	TaskName    string    `json:"task_name"`
	ExitCode    int       `json:"exit_code"`
	StoredAt    time.Time `json:"stored_at"`
	InputDigest string    `json:"input_digest"`
}

// Entry is a previously stored result, returned by Get.
type Entry struct {
	Metadata  Metadata
	OutputDir string
}

// Restore copies every file under the entry's output directory into
// destDir, preserving relative paths, putting declared outputs back in
// place after a cache hit. A no-op if the entry has no stored outputs.
func (e Entry) Restore(destDir string) error {
	info, err := os.Stat(e.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &IoError{Op: "statting cache outputs", Reason: err}
	}
	if !info.IsDir() {
		return nil
	}

	err = filepath.Walk(e.OutputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.OutputDir, path)
		if err != nil {
			return err
		}
		return copyFile(path, filepath.Join(destDir, rel))
	})
	if err != nil {
		return &IoError{Op: "restoring cache outputs", Reason: err}
	}
	return nil
}

const metaVersion = 1
const metaFileName = "meta"
const outputsDirName = "outputs"

// Store is the local-filesystem cache. The zero value is not usable; use
// New.
type Store struct {
	root         string
	retentionTTL time.Duration
	maxBytes     int64
	logger       hclog.Logger
}

// Options configures a Store.
type Options struct {
	Root         string
	RetentionTTL time.Duration
	MaxBytes     int64
	Logger       hclog.Logger
}

// New creates (if necessary) the cache root and returns a Store.
func New(opts Options) (*Store, error) {
	if err := fs.EnsureDir(opts.Root); err != nil {
		return nil, &IoError{Op: "creating cache root", Reason: err}
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		root:         opts.Root,
		retentionTTL: opts.RetentionTTL,
		maxBytes:     opts.MaxBytes,
		logger:       logger.Named("cachestore"),
	}, nil
}

func (s *Store) entryDir(key fingerprint.Key) string {
	k := string(key)
	if len(k) < 3 {
		k = k + "000"
	}
	return filepath.Join(s.root, k[0:2], k[2:])
}

// Get returns a previously stored entry for key, or ok=false on a miss.
// A miss is returned — never an error — if the meta file is absent,
// unparsable, or its recorded input digest no longer matches
// currentInputDigest (the declared inputs have mutated since storage).
// Get never blocks on a concurrent writer of a different key, and treats a
// concurrent writer of the *same* key racing a rename as a miss, which is
// an acceptable outcome per the cache's concurrency contract.
func (s *Store) Get(key fingerprint.Key, currentInputDigest string) (Entry, bool) {
	dir := s.entryDir(key)
	metaPath := filepath.Join(dir, metaFileName)

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return Entry{}, false
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		s.logger.Warn("ignoring unparsable cache meta, treating as miss", "key", key, "error", err)
		return Entry{}, false
	}

	if meta.InputDigest != currentInputDigest {
		return Entry{}, false
	}

	return Entry{Metadata: meta, OutputDir: filepath.Join(dir, outputsDirName)}, true
}

// Put atomically installs a new entry under key: metadata plus a copy of
// every file in outputFiles (paths relative to workingDir). Concurrent puts
// of the same key are idempotent — both produce a complete, independently
// valid entry directory, and the last rename to land wins; no reader ever
// observes a torn (partially written) entry, since publication is a single
// directory rename.
func (s *Store) Put(key fingerprint.Key, def task.Definition, workingDir string, exitCode int, inputDigest string, outputFiles []string) error {
	dir := s.entryDir(key)
	if err := fs.EnsureDir(filepath.Dir(dir)); err != nil {
		return &IoError{Op: "preparing cache shard", Reason: err}
	}

	staging := dir + ".tmp-" + uuid.NewString()
	if err := fs.EnsureDir(staging); err != nil {
		return &IoError{Op: "preparing staging dir", Reason: err}
	}
	defer os.RemoveAll(staging) // best-effort; rename below moves it away on success

	if len(outputFiles) > 0 {
		outDir := filepath.Join(staging, outputsDirName)
		if err := fs.EnsureDir(outDir); err != nil {
			return &IoError{Op: "preparing outputs dir", Reason: err}
		}
		for _, rel := range outputFiles {
			src := filepath.Join(workingDir, rel)
			dst := filepath.Join(outDir, rel)
			if err := copyFile(src, dst); err != nil {
				return &IoError{Op: fmt.Sprintf("copying output %q", rel), Reason: err}
			}
		}
	}

	meta := Metadata{
		Version:     metaVersion,
		TaskName:    def.Name,
		ExitCode:    exitCode,
		StoredAt:    time.Now().UTC(),
		InputDigest: inputDigest,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return &IoError{Op: "marshaling cache metadata", Reason: err}
	}
	if err := os.WriteFile(filepath.Join(staging, metaFileName), raw, 0644); err != nil {
		return &IoError{Op: "writing cache metadata", Reason: err}
	}

	// Publish by renaming the fully-populated staging directory into place.
	// os.Rename is atomic on a POSIX filesystem when source and destination
	// share a volume, which EnsureDir above guarantees by staging as a
	// sibling of the final directory. A previous entry is first renamed
	// aside in one step (readers see it whole or not at all) and removed
	// afterwards. If a concurrent Put publishes between the two renames, the
	// second rename fails on the non-empty directory and is retried, so the
	// last rename to land wins.
	for attempt := 1; ; attempt++ {
		old := dir + ".old-" + uuid.NewString()
		if err := os.Rename(dir, old); err == nil {
			defer os.RemoveAll(old)
		}
		err := os.Rename(staging, dir)
		if err == nil {
			break
		}
		if attempt == 3 {
			return &IoError{Op: "publishing cache entry", Reason: err}
		}
	}

	return nil
}

// CleanupStale removes entries whose StoredAt is older than retentionTTL,
// then — if the cache still exceeds maxBytes on disk — evicts the
// least-recently-stored entries until it no longer does. Either limit may
// be zero to disable it.
func (s *Store) CleanupStale() error {
	type entryInfo struct {
		dir      string
		storedAt time.Time
		size     int64
	}
	var entries []entryInfo

	shards, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &IoError{Op: "listing cache root", Reason: err}
	}

	now := time.Now()
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(s.root, shard.Name())
		keys, err := os.ReadDir(shardPath)
		if err != nil {
			continue
		}
		for _, k := range keys {
			dir := filepath.Join(shardPath, k.Name())
			meta, err := readMeta(dir)
			if err != nil {
				continue
			}
			if s.retentionTTL > 0 && now.Sub(meta.StoredAt) > s.retentionTTL {
				if err := os.RemoveAll(dir); err != nil {
					return &IoError{Op: fmt.Sprintf("evicting stale entry %q", dir), Reason: err}
				}
				continue
			}
			size, _ := dirSize(dir)
			entries = append(entries, entryInfo{dir: dir, storedAt: meta.StoredAt, size: size})
		}
	}

	if s.maxBytes <= 0 {
		return nil
	}

	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total <= s.maxBytes {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].storedAt.Before(entries[j].storedAt) })
	for _, e := range entries {
		if total <= s.maxBytes {
			break
		}
		if err := os.RemoveAll(e.dir); err != nil {
			return &IoError{Op: fmt.Sprintf("evicting oversize entry %q", e.dir), Reason: err}
		}
		total -= e.size
	}

	return nil
}

func readMeta(dir string) (Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func copyFile(src, dst string) error {
	if err := fs.EnsureDir(filepath.Dir(dst)); err != nil {
		return errors.Wrap(err, "creating destination directory")
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "opening source")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "creating destination")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrap(err, "copying contents")
	}
	return nil
}
