package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/resource/fsresource"
	"github.com/roach88/incr/internal/stamp"
	"github.com/roach88/incr/internal/store"
	"github.com/roach88/incr/internal/testutil"
)

var errBoom = errors.New("boom")

// traceEvent is one tracer callback, recorded for assertions.
type traceEvent struct {
	Kind   string
	Key    ir.TaskKey
	Detail string
}

type recordingTracer struct {
	NoopTracer
	events []traceEvent
}

func (r *recordingTracer) ExecStart(key ir.TaskKey, reason ExecReason) {
	r.events = append(r.events, traceEvent{Kind: "exec", Key: key, Detail: reason.String()})
}

func (r *recordingTracer) UpToDate(key ir.TaskKey) {
	r.events = append(r.events, traceEvent{Kind: "up-to-date", Key: key})
}

func (r *recordingTracer) Scheduled(key ir.TaskKey) {
	r.events = append(r.events, traceEvent{Kind: "scheduled", Key: key})
}

func (r *recordingTracer) Deferred(key ir.TaskKey) {
	r.events = append(r.events, traceEvent{Kind: "deferred", Key: key})
}

func (r *recordingTracer) ObservabilityChanged(key ir.TaskKey, from, to ir.Observability) {
	r.events = append(r.events, traceEvent{Kind: "observability", Key: key, Detail: from.String() + "->" + to.String()})
}

// executed returns the keys of executed tasks in execution start order.
func (r *recordingTracer) executed() []ir.TaskKey {
	var keys []ir.TaskKey
	for _, e := range r.events {
		if e.Kind == "exec" {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// reasons returns the exec reason per executed key.
func (r *recordingTracer) reasons() map[ir.TaskKey]string {
	out := make(map[ir.TaskKey]string)
	for _, e := range r.events {
		if e.Kind == "exec" {
			out[e.Key] = e.Detail
		}
	}
	return out
}

func (r *recordingTracer) count(kind string) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recordingTracer) reset() {
	r.events = nil
}

// fixture is an engine over a memory store and a temp directory, with file
// tasks registered.
type fixture struct {
	t      *testing.T
	dir    string
	store  *store.MemoryStore
	tracer *recordingTracer
	defs   *TaskDefs
	engine *Engine

	read    *Func[string, string]
	upper   *Func[string, string]
	length  *Func[string, int]
	write   *Func[writeInput, string]
	include *Func[string, string]
	explode *Func[string, string]
}

type writeInput struct {
	Src  string
	Dest string
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	registry := resource.NewRegistry()
	fsresource.Register(registry)

	f := &fixture{
		t:      t,
		dir:    t.TempDir(),
		store:  store.NewMemoryStore(),
		tracer: &recordingTracer{},
		defs:   NewTaskDefs(),
	}
	f.registerTasks()

	base := []EngineOption{
		WithTracer(f.tracer),
		WithDefaultStampers(nil, stamp.ResourceHash, stamp.ResourceHash),
		WithSessionIDGenerator(NewSequenceGenerator("test")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.engine = New(f.store, f.defs, registry, append(base, opts...)...)
	return f
}

func (f *fixture) registerTasks() {
	f.read = NewFunc("read", func(path string) string { return path },
		func(ctx context.Context, ec ExecContext, path string) (string, error) {
			res, err := ec.RequireResource(fsresource.Key(path))
			if err != nil {
				return "", err
			}
			b, err := res.(*fsresource.File).ReadAll()
			if err != nil {
				return "", err
			}
			return string(b), nil
		})

	f.upper = NewFunc("upper", func(path string) string { return path },
		func(ctx context.Context, ec ExecContext, path string) (string, error) {
			s, err := RequireAs[string](ctx, ec, f.read.Task(path))
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(s) == "fail" {
				return "", errBoom
			}
			return strings.ToUpper(s), nil
		})

	f.length = NewFunc("length", func(path string) string { return path },
		func(ctx context.Context, ec ExecContext, path string) (int, error) {
			s, err := RequireAs[string](ctx, ec, f.upper.Task(path))
			if err != nil {
				return 0, err
			}
			return len(s), nil
		})

	f.write = NewFunc("write", func(in writeInput) string { return in.Dest },
		func(ctx context.Context, ec ExecContext, in writeInput) (string, error) {
			s, err := RequireAs[string](ctx, ec, f.upper.Task(in.Src))
			if err != nil {
				return "", err
			}
			if err := fsresource.NewFile(in.Dest).WriteAll([]byte(s)); err != nil {
				return "", err
			}
			if err := ec.ProvideResource(fsresource.Key(in.Dest)); err != nil {
				return "", err
			}
			return in.Dest, nil
		})

	// include reads a list of file names and concatenates the files.
	f.include = NewFunc("include", func(list string) string { return list },
		func(ctx context.Context, ec ExecContext, list string) (string, error) {
			res, err := ec.RequireResource(fsresource.Key(list))
			if err != nil {
				return "", err
			}
			b, err := res.(*fsresource.File).ReadAll()
			if err != nil {
				return "", err
			}
			var out strings.Builder
			for _, name := range strings.Fields(string(b)) {
				s, err := RequireAs[string](ctx, ec, f.read.Task(filepath.Join(filepath.Dir(list), name)))
				if err != nil {
					return "", err
				}
				out.WriteString(s)
			}
			return out.String(), nil
		})

	f.explode = NewFunc("explode", func(path string) string { return path },
		func(ctx context.Context, ec ExecContext, path string) (string, error) {
			s, err := RequireAs[string](ctx, ec, f.read.Task(path))
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(s) == "panic" {
				panic("explode: " + path)
			}
			return s, nil
		})

	for _, def := range []TaskDef{f.read, f.upper, f.length, f.write, f.include, f.explode} {
		f.defs.Add(def)
	}
}

// file writes content to rel under the fixture directory and returns the
// absolute path.
func (f *fixture) file(rel, content string) string {
	f.t.Helper()
	return testutil.WriteFile(f.t, f.dir, rel, content)
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.dir, rel)
}

// require runs task in a fresh session.
func (f *fixture) require(task Task) (any, error) {
	f.t.Helper()
	s := f.engine.NewSession()
	defer s.Close()
	return s.Require(context.Background(), task)
}

func (f *fixture) mustRequire(task Task) any {
	f.t.Helper()
	out, err := f.require(task)
	require.NoError(f.t, err)
	return out
}

// update runs a bottom-up pass in a fresh session over the changed files.
func (f *fixture) update(paths []string, tags ...string) (*Session, error) {
	f.t.Helper()
	keys := make([]resource.Key, 0, len(paths))
	for _, p := range paths {
		keys = append(keys, fsresource.Key(p))
	}
	s := f.engine.NewSession()
	return s, s.UpdateAffectedBy(context.Background(), keys, tags...)
}

func (f *fixture) data(key ir.TaskKey) (ir.TaskData, bool) {
	tx := f.store.ReadTxn()
	defer tx.Close()
	return tx.Data(key)
}

func (f *fixture) observability(key ir.TaskKey) ir.Observability {
	tx := f.store.ReadTxn()
	defer tx.Close()
	return tx.Observability(key)
}

func (f *fixture) isDeferred(key ir.TaskKey) bool {
	tx := f.store.ReadTxn()
	defer tx.Close()
	return tx.IsDeferred(key)
}

func storedData(s store.Store, key ir.TaskKey) (ir.TaskData, bool) {
	tx := s.ReadTxn()
	defer tx.Close()
	return tx.Data(key)
}

func numTasks(s store.Store) int {
	tx := s.ReadTxn()
	defer tx.Close()
	return tx.NumTasks()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
