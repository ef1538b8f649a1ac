package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
tasks:
  build:
    description: compile everything
    command: go build ./...
    inputs: ["**/*.go"]
    cache: true
  test:
    command: go test ./...
    dependencies: [build]
`

func TestLoadParsesTasksKeyedByName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0644))

	set, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, set, "build")
	require.Contains(t, set, "test")
	assert.Equal(t, "build", set["build"].Name)
	assert.Equal(t, "go build ./...", set["build"].Command)
	assert.True(t, set["build"].Cache)
	assert.Equal(t, []string{"build"}, set["test"].Dependencies)
}

func TestLoadRejectsInvalidTaskSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  broken:\n    description: missing command\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	assert.Error(t, err)
}

func TestFindWalksUpToAncestorDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("tasks: {}\n"), 0644))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	baseDir, path, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, root, baseDir)
	assert.Equal(t, filepath.Join(root, FileName), path)
}

func TestFindReturnsErrorWhenNoFileExists(t *testing.T) {
	_, _, err := Find(t.TempDir())
	assert.Error(t, err)
}
