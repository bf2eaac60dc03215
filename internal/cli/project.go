package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/pipeline"
	"github.com/roach88/incr/internal/store"
	"github.com/roach88/incr/internal/tracing"
)

// project is an opened incr.yaml project: its configuration, its store and
// an engine over both.
type project struct {
	cfg      *pipeline.Config
	pipeline *pipeline.Pipeline
	store    *store.MemoryStore
	engine   *engine.Engine
	recorder *tracing.Recorder
	logger   *slog.Logger
	closers  []func(context.Context) error
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openProject loads the configuration, opens the store and builds the
// engine. tracers are added to the logging tracer, the recorder and the
// tracers of opts. Failures are reported through out.
func openProject(ctx context.Context, opts *RootOptions, cmd *cobra.Command, out *OutputFormatter, tracers ...engine.Tracer) (*project, error) {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := pipeline.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(CodeConfig, WrapExitError(ExitCommandError, "failed to load config", err), nil)
	}
	logger.Debug("config loaded", "path", opts.ConfigPath, "targets", len(cfg.Targets))

	st, err := pipeline.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, out.Fail(CodeStore, WrapExitError(ExitCommandError, "failed to open store", err), nil)
	}

	p := &project{
		cfg:      cfg,
		pipeline: pipeline.New(cfg),
		store:    st,
		recorder: tracing.NewRecorder(tracing.EventExecStart, tracing.EventDeferred),
		logger:   logger,
		closers:  []func(context.Context) error{func(context.Context) error { return st.Close() }},
	}

	tracers = append(tracers, tracing.NewLogging(logger), p.recorder)
	tracers = append(tracers, opts.Tracers...)
	if opts.OTel {
		tp, err := newTracerProvider(cmd.ErrOrStderr())
		if err != nil {
			_ = p.Close(ctx)
			return nil, out.Fail(CodeConfig, WrapExitError(ExitCommandError, "failed to set up OpenTelemetry", err), nil)
		}
		p.closers = append(p.closers, tp.Shutdown)
		tracers = append(tracers, tracing.NewOTel(
			tracing.WithTracerProvider(tp),
			tracing.WithParentContext(ctx),
			tracing.WithOTelLogger(logger),
		))
	}

	p.engine = p.pipeline.NewEngine(st,
		engine.WithTracer(tracing.Multi(tracers...)),
		engine.WithLogger(logger),
		engine.WithShare(engine.NewSingleflightShare()),
	)
	return p, nil
}

// newTracerProvider exports spans as pretty-printed JSON to w.
func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	res := sdkresource.NewSchemaless(attribute.String("service.name", "incr"))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// session runs fn in a new session and syncs the store afterwards, also
// when fn fails: work committed before the failure is kept.
func (p *project) session(ctx context.Context, fn func(s *engine.Session) error) error {
	p.recorder.Reset()
	s := p.engine.NewSession()
	err := fn(s)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	if serr := p.store.Sync(ctx); serr != nil {
		return errors.Join(err, WrapExitError(ExitCommandError, "failed to save store", serr))
	}
	return err
}

// executed returns the tasks executed in the last session, in order.
func (p *project) executed() []string {
	return keyStrings(p.recorder.Executed())
}

// deferred returns the tasks deferred in the last session.
func (p *project) deferred() []string {
	var keys []string
	for _, ev := range p.recorder.Events() {
		if ev.Kind == tracing.EventDeferred {
			keys = append(keys, ev.Task.String())
		}
	}
	return keys
}

// Close shuts down exporters and closes the store, in reverse order of
// opening.
func (p *project) Close(ctx context.Context) error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func keyStrings(keys []ir.TaskKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
