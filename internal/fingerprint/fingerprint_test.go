package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrunner/internal/task"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644))
}

func TestComputeIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main")

	def := task.Definition{Name: "build", Command: "go build ./...", Inputs: []string{"*.go"}}
	env := map[string]string{}

	k1, err := Compute("build", def, env, dir)
	require.NoError(t, err)
	k2, err := Compute("build", def, env, dir)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestComputeChangesWithInputContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main")
	def := task.Definition{Name: "build", Command: "go build ./...", Inputs: []string{"*.go"}}

	before, err := Compute("build", def, nil, dir)
	require.NoError(t, err)

	writeFile(t, dir, "main.go", "package main // changed")
	after, err := Compute("build", def, nil, dir)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestComputeUnaffectedByUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main")
	def := task.Definition{Name: "build", Command: "go build ./...", Inputs: []string{"*.go"}}

	before, err := Compute("build", def, nil, dir)
	require.NoError(t, err)

	writeFile(t, dir, "README.md", "not a declared input")
	after, err := Compute("build", def, nil, dir)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestComputeHonorsExplicitCacheKey(t *testing.T) {
	dir := t.TempDir()
	def := task.Definition{Name: "build", Command: "go build ./...", CacheKey: "pinned-key"}
	k, err := Compute("build", def, nil, dir)
	require.NoError(t, err)
	assert.Equal(t, Key("pinned-key"), k)
}

func TestComputeDistinguishesReferencedEnvValues(t *testing.T) {
	dir := t.TempDir()
	def := task.Definition{Name: "build", Command: "echo $TARGET"}

	withDev, err := Compute("build", def, map[string]string{"TARGET": "dev"}, dir)
	require.NoError(t, err)
	withProd, err := Compute("build", def, map[string]string{"TARGET": "prod"}, dir)
	require.NoError(t, err)

	assert.NotEqual(t, withDev, withProd)
}

func TestComputeIgnoresUnreferencedEnvChanges(t *testing.T) {
	dir := t.TempDir()
	def := task.Definition{Name: "build", Command: "go build ./..."}

	a, err := Compute("build", def, map[string]string{"UNRELATED": "1"}, dir)
	require.NoError(t, err)
	b, err := Compute("build", def, map[string]string{"UNRELATED": "2"}, dir)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestComputeGlobMatchingNothingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	def := task.Definition{Name: "build", Command: "go build ./...", Inputs: []string{"missing-dir/*.go"}}
	_, err := Compute("build", def, nil, dir)
	assert.NoError(t, err)
}

func TestInputDigestIgnoresCommandChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main")

	a := task.Definition{Name: "build", Command: "go build ./...", Inputs: []string{"*.go"}}
	b := task.Definition{Name: "build", Command: "go vet ./...", Inputs: []string{"*.go"}}

	da, err := InputDigest("build", a, dir)
	require.NoError(t, err)
	db, err := InputDigest("build", b, dir)
	require.NoError(t, err)
	assert.Equal(t, da, db, "InputDigest must depend only on file contents, not the command")
}

func TestExpandGlobsMatchesDeclaredOutputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "out.txt", "built")
	writeFile(t, dir, "unrelated.txt", "not an output")

	matches, err := ExpandGlobs([]string{"out.txt"}, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"out.txt"}, matches)
}

func TestInputDigestChangesWithFileContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main")
	def := task.Definition{Name: "build", Command: "go build ./...", Inputs: []string{"*.go"}}

	before, err := InputDigest("build", def, dir)
	require.NoError(t, err)

	writeFile(t, dir, "main.go", "package main // v2")
	after, err := InputDigest("build", def, dir)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}
