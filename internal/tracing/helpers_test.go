package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/resource/fsresource"
	"github.com/roach88/incr/internal/stamp"
	"github.com/roach88/incr/internal/store"
	"github.com/roach88/incr/internal/testutil"
)

var errFail = errors.New("fail requested")

// env is an engine with two chained file tasks: upper requires read, which
// reads one file.
type env struct {
	t      *testing.T
	engine *engine.Engine
	read   *engine.Func[string, string]
	upper  *engine.Func[string, string]
	dir    string
	path   string
}

func newEnv(t *testing.T, tracer engine.Tracer) *env {
	t.Helper()
	registry := resource.NewRegistry()
	fsresource.Register(registry)

	e := &env{t: t, dir: t.TempDir()}
	e.path = testutil.WriteFile(t, e.dir, "in.txt", "abc")

	e.read = engine.NewFunc("read", func(p string) string { return p },
		func(ctx context.Context, ec engine.ExecContext, p string) (string, error) {
			res, err := ec.RequireResource(fsresource.Key(p))
			if err != nil {
				return "", err
			}
			b, err := res.(*fsresource.File).ReadAll()
			return string(b), err
		})
	e.upper = engine.NewFunc("upper", func(p string) string { return p },
		func(ctx context.Context, ec engine.ExecContext, p string) (string, error) {
			s, err := engine.RequireAs[string](ctx, ec, e.read.Task(p))
			if err != nil {
				return "", err
			}
			if s == "fail" {
				return "", errFail
			}
			return strings.ToUpper(s), nil
		})

	e.engine = engine.New(store.NewMemoryStore(), engine.NewTaskDefs(e.read, e.upper), registry,
		engine.WithTracer(tracer),
		engine.WithDefaultStampers(nil, stamp.ResourceHash, stamp.ResourceHash),
		engine.WithSessionIDGenerator(engine.NewSequenceGenerator("trace")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return e
}

func (e *env) require() (any, error) {
	s := e.engine.NewSession()
	defer s.Close()
	return s.Require(context.Background(), e.upper.Task(e.path))
}

func (e *env) mustRequire() any {
	e.t.Helper()
	out, err := e.require()
	require.NoError(e.t, err)
	return out
}

func (e *env) write(content string) {
	e.t.Helper()
	testutil.WriteFile(e.t, e.dir, "in.txt", content)
}

func (e *env) update() error {
	s := e.engine.NewSession()
	defer s.Close()
	return s.UpdateAffectedBy(context.Background(), []resource.Key{fsresource.Key(e.path)})
}
