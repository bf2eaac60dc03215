package engine

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/store"
)

func newDouble(executions *int) *Func[int, int] {
	return NewFunc("double",
		func(n int) string { return strconv.Itoa(n) },
		func(ctx context.Context, ec ExecContext, n int) (int, error) {
			*executions++
			return n * 2, nil
		})
}

func TestDouble(t *testing.T) {
	var executions int
	double := newDouble(&executions)
	s := store.NewMemoryStore()
	e := New(s, NewTaskDefs(double), nil)

	session := e.NewSession()
	out, err := session.Require(context.Background(), double.Task(21))
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 1, executions)

	data, ok := storedData(s, double.Task(21).Key())
	require.True(t, ok)
	assert.Equal(t, 21, data.Input)
	assert.Equal(t, 42, data.Output)
	assert.Equal(t, ir.ExplicitObserved, data.Observability)
	assert.Empty(t, data.TaskRequires)
	assert.Empty(t, data.ResourceRequires)
	assert.Empty(t, data.ResourceProvides)
	require.NoError(t, session.Close())

	session = e.NewSession()
	out, err = session.Require(context.Background(), double.Task(21))
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 1, executions, "second session must reuse the stored output")
}

func TestRequire_VisitedOncePerSession(t *testing.T) {
	var executions int
	double := newDouble(&executions)
	e := New(store.NewMemoryStore(), NewTaskDefs(double), nil)

	session := e.NewSession()
	defer session.Close()
	for i := 0; i < 3; i++ {
		out, err := session.Require(context.Background(), double.Task(4))
		require.NoError(t, err)
		assert.Equal(t, 8, out)
	}
	assert.Equal(t, 1, executions)
	assert.Equal(t, 1, session.Executions())
}

func TestTopDown_Chain(t *testing.T) {
	f := newFixture(t)
	a := f.file("a.txt", "abc")

	out := f.mustRequire(f.length.Task(a))
	assert.Equal(t, 3, out)
	assert.Equal(t, []ir.TaskKey{
		f.length.Task(a).Key(),
		f.upper.Task(a).Key(),
		f.read.Task(a).Key(),
	}, f.tracer.executed())
	assert.Equal(t, "no-data", f.tracer.reasons()[f.read.Task(a).Key()])
}

func TestTopDown_NothingChangedExecutesNothing(t *testing.T) {
	f := newFixture(t)
	a := f.file("a.txt", "abc")
	f.mustRequire(f.length.Task(a))
	f.tracer.reset()

	out := f.mustRequire(f.length.Task(a))
	assert.Equal(t, 3, out)
	assert.Empty(t, f.tracer.executed())
	assert.Equal(t, 3, f.tracer.count("up-to-date"))
}

func TestTopDown_FileChangeReexecutesChain(t *testing.T) {
	f := newFixture(t)
	a := f.file("a.txt", "abc")
	f.mustRequire(f.length.Task(a))
	f.tracer.reset()

	f.file("a.txt", "abcdef")
	out := f.mustRequire(f.length.Task(a))

	assert.Equal(t, 6, out)
	reasons := f.tracer.reasons()
	assert.Equal(t, "inconsistent-resource-require", reasons[f.read.Task(a).Key()])
	assert.Equal(t, "inconsistent-task-require", reasons[f.upper.Task(a).Key()])
	assert.Equal(t, "inconsistent-task-require", reasons[f.length.Task(a).Key()])
}

func TestTopDown_EarlyCutoff(t *testing.T) {
	f := newFixture(t)
	a := f.file("a.txt", "abc")
	f.mustRequire(f.length.Task(a))
	f.tracer.reset()

	// Same output from upper: length must not run again.
	f.file("a.txt", "ABC")
	out := f.mustRequire(f.length.Task(a))

	assert.Equal(t, 3, out)
	assert.ElementsMatch(t, []ir.TaskKey{f.read.Task(a).Key(), f.upper.Task(a).Key()}, f.tracer.executed())
}

func TestTopDown_InconsistentInput(t *testing.T) {
	var executions int
	// The key ignores the input, so a new input reaches the same key.
	constant := NewFunc("constant",
		func(n int) string { return "only" },
		func(ctx context.Context, ec ExecContext, n int) (int, error) {
			executions++
			return n, nil
		})
	tracer := &recordingTracer{}
	e := New(store.NewMemoryStore(), NewTaskDefs(constant), nil, WithTracer(tracer))

	s := e.NewSession()
	_, err := s.Require(context.Background(), constant.Task(1))
	require.NoError(t, err)
	s.Close()

	s = e.NewSession()
	out, err := s.Require(context.Background(), constant.Task(2))
	require.NoError(t, err)
	assert.Equal(t, 2, out)
	assert.Equal(t, 2, executions)
	assert.Equal(t, "inconsistent-input", tracer.reasons()[constant.Task(2).Key()])
}

func TestTopDown_TransientOutput(t *testing.T) {
	var executions int
	handle := NewFunc("handle",
		func(name string) string { return name },
		func(ctx context.Context, ec ExecContext, name string) (ir.Transient[string], error) {
			executions++
			return ir.NewTransient("handle:" + name), nil
		})
	tracer := &recordingTracer{}
	s := store.NewMemoryStore()
	e := New(s, NewTaskDefs(handle), nil, WithTracer(tracer))
	task := handle.Task("db")

	session := e.NewSession()
	_, err := session.Require(context.Background(), task)
	require.NoError(t, err)
	session.Close()

	// What a reload from disk leaves behind.
	require.NoError(t, store.Update(s, func(tx store.WriteTxn) error {
		tx.SetOutput(task.Key(), ir.Transient[string]{})
		return nil
	}))

	session = e.NewSession()
	out, err := session.Require(context.Background(), task)
	require.NoError(t, err)
	v, ok := out.(ir.Transient[string]).Value()
	require.True(t, ok)
	assert.Equal(t, "handle:db", v)
	assert.Equal(t, 2, executions)
	assert.Equal(t, "inconsistent-transient-output", tracer.reasons()[task.Key()])
}

func TestTopDown_ResourceProvide(t *testing.T) {
	f := newFixture(t)
	src := f.file("src.txt", "hello")
	dest := f.path("out/dest.txt")
	task := f.write.Task(writeInput{Src: src, Dest: dest})

	f.mustRequire(task)
	data, ok := f.data(task.Key())
	require.True(t, ok)
	require.Len(t, data.ResourceProvides, 1)

	// Tampering with the output file re-executes the writer.
	f.file("out/dest.txt", "tampered")
	f.tracer.reset()
	f.mustRequire(task)

	assert.Equal(t, "inconsistent-resource-provide", f.tracer.reasons()[task.Key()])
	assert.Equal(t, "HELLO", readFile(t, dest))
}

func TestCallbacks(t *testing.T) {
	f := newFixture(t)
	a := f.file("a.txt", "abc")

	var got []any
	s := f.engine.NewSession()
	s.SetCallback(f.upper.Task(a), func(out any) { got = append(got, out) })
	_, err := s.Require(context.Background(), f.length.Task(a))
	require.NoError(t, err)
	s.Close()
	assert.Equal(t, []any{"ABC"}, got)

	// Reused outputs are reported too.
	f.mustRequire(f.length.Task(a))
	assert.Equal(t, []any{"ABC", "ABC"}, got)

	s = f.engine.NewSession()
	s.RemoveCallback(f.upper.Task(a))
	s.Close()
	f.file("a.txt", "xyz")
	f.mustRequire(f.length.Task(a))
	assert.Len(t, got, 2)
}

func TestInternalObject(t *testing.T) {
	var seen []any
	counter := NewFunc("counter",
		func(n int) string { return "counter" },
		func(ctx context.Context, ec ExecContext, n int) (int, error) {
			prev, ok := ec.Internal()
			seen = append(seen, prev)
			runs := 1
			if ok {
				runs = prev.(int) + 1
			}
			ec.SetInternal(runs)
			return n, nil
		})
	s := store.NewMemoryStore()
	e := New(s, NewTaskDefs(counter), nil)

	for i := 1; i <= 3; i++ {
		session := e.NewSession()
		_, err := session.Require(context.Background(), counter.Task(i))
		require.NoError(t, err)
		session.Close()
	}

	assert.Equal(t, []any{nil, 1, 2}, seen)
	tx := s.ReadTxn()
	defer tx.Close()
	v, ok := tx.Internal(counter.Task(3).Key())
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestPrevious(t *testing.T) {
	var previous []any
	echo := NewFunc("echo",
		func(n int) string { return "echo" },
		func(ctx context.Context, ec ExecContext, n int) (int, error) {
			if prev, ok := ec.Previous(); ok {
				previous = append(previous, prev.Output)
			}
			return n, nil
		})
	e := New(store.NewMemoryStore(), NewTaskDefs(echo), nil)

	for _, n := range []int{1, 2} {
		session := e.NewSession()
		_, err := session.Require(context.Background(), echo.Task(n))
		require.NoError(t, err)
		session.Close()
	}
	assert.Equal(t, []any{1}, previous)
}

func TestMaxExecutions(t *testing.T) {
	f := newFixture(t, WithMaxExecutions(2))
	a := f.file("a.txt", "abc")

	_, err := f.require(f.length.Task(a))
	require.Error(t, err)
	assert.True(t, IsExecutionsExceededError(err))
	assert.False(t, IsExecError(err))
}

func TestSession_Closed(t *testing.T) {
	var executions int
	double := newDouble(&executions)
	e := New(store.NewMemoryStore(), NewTaskDefs(double), nil)

	s := e.NewSession()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Require(context.Background(), double.Task(1))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_IDs(t *testing.T) {
	e := New(store.NewMemoryStore(), NewTaskDefs(), nil, WithSessionIDGenerator(NewSequenceGenerator("build")))
	assert.Equal(t, "build-1", e.NewSession().ID())
	assert.Equal(t, "build-2", e.NewSession().ID())
}
