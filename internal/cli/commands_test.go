package cli

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incr/internal/harness"
	"github.com/roach88/incr/internal/pipeline"
)

var firstBuild = []string{
	"pipeline.build:all",
	"pipeline.concat:bundle",
	"pipeline.read:src/a.txt",
	"pipeline.read:src/b.txt",
	"pipeline.concat:notes",
	"pipeline.read:src/n.txt",
}

func TestBuild_ThenUpToDate(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())

	r := mustRun(t, dir, "build")
	assert.Contains(t, r.stdout, "Executed 6 task(s).")
	assert.Contains(t, r.stdout, "out/bundle.txt (4 bytes, ")
	assert.Contains(t, r.stderr, "msg=executing task=pipeline.read:src/a.txt reason=no-data")
	assert.Equal(t, "a\nb\n", readFile(t, dir, "out/bundle.txt"))
	assert.FileExists(t, filepath.Join(dir, pipeline.DefaultSQLitePath))

	r = mustRun(t, dir, "build")
	assert.Contains(t, r.stdout, "Up to date.")
	assert.NotContains(t, r.stderr, "msg=executing")
}

func TestBuild_JSON(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())

	result := decodeData[BuildResult](t, mustRun(t, dir, "build", "--format", "json").stdout)
	assert.Equal(t, firstBuild, result.Executed)
	require.Len(t, result.Artifacts, 2)
	assert.Equal(t, "bundle", result.Artifacts[0].Target)
	assert.Equal(t, "out/bundle.txt", result.Artifacts[0].Path)
	assert.Equal(t, 4, result.Artifacts[0].Size)

	result = decodeData[BuildResult](t, mustRun(t, dir, "build", "--format", "json").stdout)
	assert.Empty(t, result.Executed)
}

func TestBuild_Target(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())

	result := decodeData[BuildResult](t, mustRun(t, dir, "build", "--target", "notes", "--format", "json").stdout)
	assert.Equal(t, []string{"pipeline.concat:notes", "pipeline.read:src/n.txt"}, result.Executed)
	assert.NoFileExists(t, filepath.Join(dir, "out/bundle.txt"))

	r := runCLI(t, dir, "build", "--target", "nope")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), `unknown target "nope"`)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
}

func TestBuild_Failure(t *testing.T) {
	files := defaultFiles()
	delete(files, "src/b.txt")
	dir := newProjectDir(t, twoTargets, files)

	r := runCLI(t, dir, "build", "--format", "json")
	require.Error(t, r.err)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
	assert.Contains(t, r.err.Error(), "execute pipeline.read:src/b.txt")
	assert.Contains(t, r.stderr, "level=WARN msg=\"execution failed\" task=pipeline.read:src/b.txt")

	cliErr := decodeError(t, r.stdout)
	assert.Equal(t, CodeBuild, cliErr.Code)
	assert.Contains(t, cliErr.Message, "read src/b.txt")

	// Work committed before the failure is kept.
	writeFiles(t, dir, map[string]string{"src/b.txt": "b\n"})
	result := decodeData[BuildResult](t, mustRun(t, dir, "build", "--format", "json").stdout)
	assert.NotContains(t, result.Executed, "pipeline.read:src/a.txt")
	assert.Contains(t, result.Executed, "pipeline.read:src/b.txt")
}

func TestBuild_BadConfig(t *testing.T) {
	dir := t.TempDir()

	r := runCLI(t, dir, "build")
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
	assert.Contains(t, r.err.Error(), "failed to load config")

	writeFiles(t, dir, map[string]string{"incr.yaml": "targets: []\n"})
	r = runCLI(t, dir, "build", "--format", "json")
	require.Error(t, r.err)
	assert.Equal(t, CodeConfig, decodeError(t, r.stdout).Code)
}

func TestBuild_OTel(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())

	r := mustRun(t, dir, "build", "--otel")
	assert.Contains(t, r.stderr, `"Name": "incr.build"`)
	assert.Contains(t, r.stderr, `"Name": "incr.exec"`)
}

func TestUpdate(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())
	mustRun(t, dir, "build")

	writeFiles(t, dir, map[string]string{"src/a.txt": "A\n"})
	result := decodeData[BuildResult](t, mustRun(t, dir, "update", "--changed", "src/a.txt", "--format", "json").stdout)
	assert.Equal(t, []string{"pipeline.read:src/a.txt", "pipeline.concat:bundle", "pipeline.build:all"}, result.Executed)
	assert.Equal(t, "A\nb\n", readFile(t, dir, "out/bundle.txt"))

	r := mustRun(t, dir, "update", "--changed", filepath.Join(dir, "src/a.txt"))
	assert.Contains(t, r.stdout, "Up to date.")
}

func TestUpdate_NothingToDo(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())

	r := runCLI(t, dir, "update")
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
	assert.Contains(t, r.err.Error(), "pass --changed or --tag")
}

func TestUpdate_DeferredTags(t *testing.T) {
	config := `
targets:
  - {name: bundle, output: out/bundle.txt, inputs: [src/a.txt]}
  - {name: release, output: out/release.txt, inputs: [src/r.txt], tags: [release]}
`
	dir := newProjectDir(t, config, map[string]string{"src/a.txt": "a\n", "src/r.txt": "r1\n"})
	mustRun(t, dir, "build")

	writeFiles(t, dir, map[string]string{"src/r.txt": "r2\n"})
	r := mustRun(t, dir, "update", "--changed", "src/r.txt")
	assert.Contains(t, r.stdout, "deferred pipeline.concat:release")
	assert.Equal(t, "r1\n", readFile(t, dir, "out/release.txt"))

	st := decodeData[pipeline.Status](t, mustRun(t, dir, "status", "--format", "json").stdout)
	assert.Equal(t, 1, st.Deferred)
	assert.True(t, st.Targets[1].Deferred)

	result := decodeData[BuildResult](t, mustRun(t, dir, "update", "--tag", "release", "--format", "json").stdout)
	assert.Equal(t, []string{"pipeline.concat:release", "pipeline.build:all"}, result.Executed)
	assert.Equal(t, "r2\n", readFile(t, dir, "out/release.txt"))
}

func TestStatus(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())

	st := decodeData[pipeline.Status](t, mustRun(t, dir, "status", "--format", "json").stdout)
	assert.Equal(t, 0, st.Tasks)
	require.Len(t, st.Targets, 2)
	assert.False(t, st.Targets[0].Built)
	assert.Equal(t, "unobserved", st.Targets[0].Observability)

	mustRun(t, dir, "build")
	st = decodeData[pipeline.Status](t, mustRun(t, dir, "status", "--format", "json").stdout)
	assert.Equal(t, 6, st.Tasks)
	assert.Equal(t, 3, st.SourceFiles)
	assert.True(t, st.Targets[0].Built)
	assert.False(t, st.Targets[0].Changed)
	assert.True(t, st.Targets[0].OutputExists)
	assert.Equal(t, "implicit-observed", st.Targets[0].Observability)

	r := mustRun(t, dir, "status")
	assert.Contains(t, r.stdout, "6 task(s), 3 source file(s), 0 deferred")
	assert.Contains(t, r.stdout, "bundle")
	assert.Contains(t, r.stdout, "built")
}

func TestGC(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())
	mustRun(t, dir, "build")

	writeFiles(t, dir, map[string]string{"incr.yaml": `
targets:
  - {name: bundle, output: out/bundle.txt, inputs: [src/a.txt, src/b.txt]}
`})
	r := mustRun(t, dir, "status")
	assert.Contains(t, r.stdout, "notes            removed")

	result := decodeData[BuildResult](t, mustRun(t, dir, "build", "--format", "json").stdout)
	assert.Equal(t, []string{"pipeline.build:all"}, result.Executed)

	gc := decodeData[GCResult](t, mustRun(t, dir, "gc", "--delete-outputs", "--format", "json").stdout)
	assert.Equal(t, []string{"pipeline.concat:notes", "pipeline.read:src/n.txt"}, gc.Deleted)
	assert.NoFileExists(t, filepath.Join(dir, "out/notes.txt"))
	assert.FileExists(t, filepath.Join(dir, "src/n.txt"))

	gc = decodeData[GCResult](t, mustRun(t, dir, "gc", "--format", "json").stdout)
	assert.Empty(t, gc.Deleted)
}

func TestDrop(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())
	mustRun(t, dir, "build")

	dropped := decodeData[DropResult](t, mustRun(t, dir, "drop", "--format", "json").stdout)
	assert.Equal(t, 6, dropped.Dropped)
	assert.FileExists(t, filepath.Join(dir, "out/bundle.txt"))

	result := decodeData[BuildResult](t, mustRun(t, dir, "build", "--format", "json").stdout)
	assert.Equal(t, firstBuild, result.Executed)
}

func TestTest_HarnessScenarios(t *testing.T) {
	scenarios := filepath.Join("..", "harness", "testdata", "scenarios")
	golden := filepath.Join("..", "harness", "testdata", "golden")

	r := runCLI(t, t.TempDir(), "test", scenarios, "--golden", golden)
	require.NoError(t, r.err, r.stdout)
	assert.Contains(t, r.stdout, "6 passed, 0 failed, 6 total")
}

func TestTest_UpdateAndFailures(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"tiny.yaml": `
name: tiny
description: "One target"
files: {src/a.txt: "a\n"}
targets: [{name: t, output: out/t.txt, inputs: [src/a.txt]}]
steps: [{action: build}]
`})

	r := runCLI(t, t.TempDir(), "test", dir)
	require.Error(t, r.err)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
	assert.Contains(t, r.stdout, "✗ tiny")
	assert.Contains(t, r.stdout, "run with --update")

	r = runCLI(t, t.TempDir(), "test", dir, "--update")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "1 passed, 0 failed, 1 total (1 golden file(s) updated)")
	assert.FileExists(t, filepath.Join(dir, "golden", "tiny.golden"))

	suite := decodeData[harness.SuiteResult](t, runCLI(t, t.TempDir(), "test", dir, "--format", "json").stdout)
	assert.Equal(t, 1, suite.Passed)

	r = runCLI(t, t.TempDir(), "test", filepath.Join(dir, "missing"))
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
}

func TestWatch(t *testing.T) {
	dir := newProjectDir(t, twoTargets, defaultFiles())

	addr := make(chan string, 1)
	opts := &WatchOptions{
		RootOptions: &RootOptions{ConfigPath: filepath.Join(dir, "incr.yaml"), Format: "text"},
		Debounce:    20 * time.Millisecond,
		MetricsAddr: "127.0.0.1:0",
		listening:   func(a string) { addr <- a },
	}
	var stdout, stderr syncBuffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, opts, cmd) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stderr.String(), "msg=watching")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, stdout.String(), "build: Executed 6 task(s).")

	writeFiles(t, dir, map[string]string{"src/n.txt": "N\n"})
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "out/notes.txt"))
		return err == nil && string(data) == "N\n"
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + <-addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `incr_engine_builds_total{kind="bottom-up",status="success"}`)
	assert.Contains(t, string(body), "incr_engine_executions_total")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Contains(t, stdout.String(), "update: Executed")
}
