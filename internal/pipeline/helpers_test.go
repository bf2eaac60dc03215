package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/store"
	"github.com/roach88/incr/internal/testutil"
	"github.com/roach88/incr/internal/tracing"
)

const twoTargets = `
store: {backend: memory}
targets:
  - name: bundle
    output: out/bundle.txt
    inputs: [src/a.txt, src/b.txt]
  - name: notes
    output: out/notes.txt
    inputs: [src/n.txt]
`

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// project is a pipeline over a temporary directory.
type project struct {
	t     *testing.T
	dir   string
	p     *Pipeline
	store store.Store
	eng   *engine.Engine
	rec   *tracing.Recorder
}

func newProject(t *testing.T, config string, files map[string]string) *project {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, files)
	pr := &project{t: t, dir: dir, store: store.NewMemoryStore(store.WithLogger(quiet))}
	pr.configure(config)
	return pr
}

// configure replaces the configuration, keeping the store.
func (pr *project) configure(config string) {
	pr.t.Helper()
	cfg, err := Parse([]byte(config), pr.dir)
	require.NoError(pr.t, err)
	pr.p = New(cfg)
	pr.rec = tracing.NewRecorder(tracing.EventExecStart, tracing.EventDeferred)
	pr.eng = pr.p.NewEngine(pr.store, engine.WithTracer(pr.rec), engine.WithLogger(quiet))
}

func (pr *project) session(fn func(s *engine.Session) error) error {
	s := pr.eng.NewSession()
	defer s.Close()
	return fn(s)
}

func (pr *project) build() ([]Artifact, error) {
	var artifacts []Artifact
	err := pr.session(func(s *engine.Session) error {
		var err error
		artifacts, err = pr.p.Build(context.Background(), s)
		return err
	})
	return artifacts, err
}

func (pr *project) mustBuild() []Artifact {
	pr.t.Helper()
	artifacts, err := pr.build()
	require.NoError(pr.t, err)
	return artifacts
}

func (pr *project) update(tags []string, paths ...string) {
	pr.t.Helper()
	err := pr.session(func(s *engine.Session) error {
		return s.UpdateAffectedBy(context.Background(), pr.p.ChangedKeys(paths), tags...)
	})
	require.NoError(pr.t, err)
}

func (pr *project) write(rel, content string) {
	pr.t.Helper()
	testutil.WriteFile(pr.t, pr.dir, rel, content)
}

func (pr *project) read(rel string) string {
	pr.t.Helper()
	return testutil.ReadFile(pr.t, pr.dir, rel)
}

// executed returns the keys executed since the last call.
func (pr *project) executed() []string {
	var keys []string
	for _, key := range pr.rec.Executed() {
		keys = append(keys, key.String())
	}
	pr.rec.Reset()
	return keys
}
