// Package runnerconfig holds the handful of settings this specification
// leaves implementation-defined: where the cache root lives, how long
// entries are retained, how large the cache may grow, and the default
// concurrency cap. It is deliberately separate from the (out-of-scope)
// configuration loader that parses task definitions — this is the
// runner's own ambient configuration, in the spirit of the teacher's
// internal/config.Config, trimmed to local concerns only (no remote
// cache credentials, no team/project linking).
package runnerconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-hclog"
	"github.com/kelseyhightower/envconfig"
)

const productName = "taskrunner"

// Config is the runner's ambient configuration, populated from environment
// variables prefixed TASKRUNNER_ (e.g. TASKRUNNER_LOG_LEVEL), defaulted
// otherwise.
type Config struct {
	// CacheRoot overrides the cache directory. Empty means "derive it",
	// per the three-tier precedence in spec.md §6.
	CacheRoot string `envconfig:"cache_root"`

	// RetentionHours bounds how long a cache entry survives before
	// cleanup_stale() evicts it. Zero disables age-based eviction.
	RetentionHours int `envconfig:"retention_hours" default:"168"`

	// MaxCacheBytes bounds total on-disk cache size before cleanup_stale()
	// starts evicting the oldest entries. Zero disables size-based eviction.
	MaxCacheBytes int64 `envconfig:"max_cache_bytes" default:"1073741824"`

	// Concurrency caps how many tasks within a single level may run at
	// once. Zero (the default) means "no cap beyond the level's width."
	Concurrency int `envconfig:"concurrency" default:"0"`

	// LogLevel is parsed with hclog.LevelFromString; defaults to Info.
	LogLevel string `envconfig:"log_level" default:"info"`
}

// Load reads Config from the environment, applying defaults.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process(productName, &c); err != nil {
		return Config{}, fmt.Errorf("invalid environment variable: %w", err)
	}
	return c, nil
}

// RetentionTTL converts RetentionHours to a time.Duration.
func (c Config) RetentionTTL() time.Duration {
	if c.RetentionHours <= 0 {
		return 0
	}
	return time.Duration(c.RetentionHours) * time.Hour
}

// ResolveCacheRoot implements the three-tier precedence from spec.md §6:
//  1. an explicit cache_root parameter (explicitRoot, or c.CacheRoot)
//  2. <user-cache-home>/<product-name>/tasks/, user-cache-home from adrg/xdg
//  3. if xdg reports no cache home, ~/.cache/<product-name>/tasks/
func (c Config) ResolveCacheRoot(explicitRoot string) (string, error) {
	if explicitRoot != "" {
		return explicitRoot, nil
	}
	if c.CacheRoot != "" {
		return c.CacheRoot, nil
	}
	if xdg.CacheHome != "" {
		return filepath.Join(xdg.CacheHome, productName, "tasks"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving default cache root: %w", err)
	}
	return filepath.Join(home, ".cache", productName, "tasks"), nil
}

// Logger builds the root hclog.Logger for this run, colorized only when
// attached to a terminal — the caller decides that via color/TTY detection
// in cmd/taskrunner, matching the teacher's own split between ambient
// config and terminal-awareness.
func (c Config) Logger(name string, output *os.File, colorize bool) hclog.Logger {
	level := hclog.LevelFromString(c.LogLevel)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	color := hclog.ColorOff
	if colorize {
		color = hclog.AutoColor
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  level,
		Color:  color,
		Output: output,
	})
}
