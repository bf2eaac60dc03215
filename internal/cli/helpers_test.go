package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const twoTargets = `
targets:
  - name: bundle
    output: out/bundle.txt
    inputs: [src/a.txt, src/b.txt]
  - name: notes
    output: out/notes.txt
    inputs: [src/n.txt]
`

// newProjectDir writes config as incr.yaml and files into a new directory.
func newProjectDir(t *testing.T, config string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"incr.yaml": config})
	writeFiles(t, dir, files)
	return dir
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func defaultFiles() map[string]string {
	return map[string]string{"src/a.txt": "a\n", "src/b.txt": "b\n", "src/n.txt": "n\n"}
}

type cliRun struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes the root command against the project in dir.
func runCLI(t *testing.T, dir string, args ...string) cliRun {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "incr.yaml")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return cliRun{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// mustRun is runCLI for commands that must succeed.
func mustRun(t *testing.T, dir string, args ...string) cliRun {
	t.Helper()
	r := runCLI(t, dir, args...)
	require.NoError(t, r.err, "stderr:\n%s", r.stderr)
	return r
}

// decodeData decodes the data of a successful JSON response.
func decodeData[T any](t *testing.T, stdout string) T {
	t.Helper()
	var resp struct {
		Status string    `json:"status"`
		Data   T         `json:"data"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "ok", resp.Status, "error: %+v", resp.Error)
	return resp.Data
}

// decodeError decodes a JSON error response.
func decodeError(t *testing.T, stdout string) *CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	return resp.Error
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of watch.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
