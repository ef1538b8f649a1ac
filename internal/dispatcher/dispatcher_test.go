package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrunner/internal/cachestore"
	"taskrunner/internal/plan"
	"taskrunner/internal/runner"
	"taskrunner/internal/task"
)

func newDispatcher(t *testing.T) (*Dispatcher, string) {
	t.Helper()
	baseDir := t.TempDir()
	store, err := cachestore.New(cachestore.Options{Root: t.TempDir()})
	require.NoError(t, err)
	r := runner.New(hclog.NewNullLogger())
	return New(r, store, hclog.NewNullLogger(), 0), baseDir
}

func readCount(t *testing.T, path string) int {
	t.Helper()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, b := range raw {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestRunExecutesLinearChainRespectingLevels(t *testing.T) {
	d, baseDir := newDispatcher(t)
	marker := filepath.Join(baseDir, "order.log")

	tasks := task.Set{
		"a": {Command: "echo a >> " + marker},
		"b": {Command: "echo b >> " + marker, Dependencies: []string{"a"}},
		"c": {Command: "echo c >> " + marker, Dependencies: []string{"b"}},
	}
	p, err := plan.Build([]string{"c"}, tasks)
	require.NoError(t, err)

	outcomes, err := d.Run(context.Background(), p, baseDir, []string{"c"}, nil, os.Environ())
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, 0, o.ExitCode)
	}

	raw, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(raw))
}

func TestRunStopsAtFailingLevelButSiblingsCompleteFirst(t *testing.T) {
	d, baseDir := newDispatcher(t)
	sentinel := filepath.Join(baseDir, "sibling.ran")

	tasks := task.Set{
		"fails":   {Command: "exit 3"},
		"sibling": {Command: "touch " + sentinel},
		"never":   {Command: "touch " + filepath.Join(baseDir, "never.ran"), Dependencies: []string{"fails", "sibling"}},
	}
	p, err := plan.Build([]string{"never"}, tasks)
	require.NoError(t, err)

	outcomes, err := d.Run(context.Background(), p, baseDir, []string{"never"}, nil, os.Environ())
	require.Error(t, err)
	var failed *TasksFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, []string{"fails"}, failed.Tasks)

	assert.Len(t, outcomes, 2, "both level-0 siblings should have run to completion")
	assert.FileExists(t, sentinel)
	assert.NoFileExists(t, filepath.Join(baseDir, "never.ran"))
}

func TestRunCacheHitSkipsReexecution(t *testing.T) {
	d, baseDir := newDispatcher(t)
	counter := filepath.Join(baseDir, "count.log")
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "input.txt"), []byte("v1"), 0644))

	tasks := task.Set{
		"build": {
			Command: "echo ran >> " + counter,
			Inputs:  []string{"input.txt"},
			Cache:   true,
		},
	}
	p, err := plan.Build([]string{"build"}, tasks)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), p, baseDir, []string{"build"}, nil, os.Environ())
	require.NoError(t, err)
	assert.Equal(t, 1, readCount(t, counter))

	outcomes, err := d.Run(context.Background(), p, baseDir, []string{"build"}, nil, os.Environ())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].CacheHit)
	assert.Equal(t, 1, readCount(t, counter), "a cache hit must not re-invoke the command")
}

func TestRunCacheInvalidatesWhenInputChanges(t *testing.T) {
	d, baseDir := newDispatcher(t)
	counter := filepath.Join(baseDir, "count.log")
	inputPath := filepath.Join(baseDir, "input.txt")
	require.NoError(t, os.WriteFile(inputPath, []byte("v1"), 0644))

	tasks := task.Set{
		"build": {
			Command: "echo ran >> " + counter,
			Inputs:  []string{"input.txt"},
			Cache:   true,
		},
	}
	p, err := plan.Build([]string{"build"}, tasks)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), p, baseDir, []string{"build"}, nil, os.Environ())
	require.NoError(t, err)
	assert.Equal(t, 1, readCount(t, counter))

	require.NoError(t, os.WriteFile(inputPath, []byte("v2"), 0644))
	outcomes, err := d.Run(context.Background(), p, baseDir, []string{"build"}, nil, os.Environ())
	require.NoError(t, err)
	assert.False(t, outcomes[0].CacheHit)
	assert.Equal(t, 2, readCount(t, counter), "changed inputs must invalidate the cache")
}

func TestRunCacheHitRestoresDeclaredOutputs(t *testing.T) {
	d, baseDir := newDispatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "input.txt"), []byte("v1"), 0644))
	outPath := filepath.Join(baseDir, "out.txt")

	tasks := task.Set{
		"build": {
			Command: "echo built >> " + outPath,
			Inputs:  []string{"input.txt"},
			Outputs: []string{"out.txt"},
			Cache:   true,
		},
	}
	p, err := plan.Build([]string{"build"}, tasks)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), p, baseDir, []string{"build"}, nil, os.Environ())
	require.NoError(t, err)
	require.FileExists(t, outPath)

	require.NoError(t, os.Remove(outPath))

	outcomes, err := d.Run(context.Background(), p, baseDir, []string{"build"}, nil, os.Environ())
	require.NoError(t, err)
	require.True(t, outcomes[0].CacheHit)
	assert.FileExists(t, outPath, "a cache hit must restore declared outputs into the working dir")
}

func TestRunWithholdsArgsFromTransitiveDependencies(t *testing.T) {
	d, baseDir := newDispatcher(t)
	rootLog := filepath.Join(baseDir, "root.log")
	depLog := filepath.Join(baseDir, "dep.log")

	tasks := task.Set{
		"dep":  {Command: "echo dep-args: >> " + depLog},
		"root": {Command: "echo root-args: >> " + rootLog, Dependencies: []string{"dep"}},
	}
	p, err := plan.Build([]string{"root"}, tasks)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), p, baseDir, []string{"root"}, []string{"--flag"}, os.Environ())
	require.NoError(t, err)

	depRaw, err := os.ReadFile(depLog)
	require.NoError(t, err)
	rootRaw, err := os.ReadFile(rootLog)
	require.NoError(t, err)

	assert.NotContains(t, string(depRaw), "--flag")
	assert.Contains(t, string(rootRaw), "--flag")
}
