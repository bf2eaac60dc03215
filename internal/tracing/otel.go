package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

const instrumentationName = "github.com/roach88/incr"

// OTel reports builds and executions to OpenTelemetry.
//
// Every build is a span ("incr.build") and every execution a child span
// ("incr.exec") of the build or of the execution that required it.
// Decisions that do not execute anything (inconsistencies, up-to-date
// checks, scheduling, deferral, observability changes) become span events
// on the innermost open span. Execution counts and durations go to the
// meter.
//
// Thread-safety: OTel is safe for concurrent use. Span nesting follows
// call order, which matches the engine's nesting within one session.
type OTel struct {
	tracer trace.Tracer
	meter  metric.Meter
	parent context.Context
	logger *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce  sync.Once
	executions   metric.Int64Counter
	failures     metric.Int64Counter
	upToDate     metric.Int64Counter
	execDuration metric.Float64Histogram

	mu    sync.Mutex
	spans []openSpan
}

type openSpan struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
}

var _ engine.Tracer = (*OTel)(nil)

// OTelOption configures an OTel tracer.
type OTelOption func(*OTel)

// WithTracerProvider sets the tracer provider. Default: the global one.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(o *OTel) {
		o.tracer = tp.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets the meter provider. Default: the global one.
func WithMeterProvider(mp metric.MeterProvider) OTelOption {
	return func(o *OTel) {
		o.meter = mp.Meter(instrumentationName)
	}
}

// WithParentContext nests build spans under the span in ctx.
func WithParentContext(ctx context.Context) OTelOption {
	return func(o *OTel) {
		o.parent = ctx
	}
}

// WithOTelLogger sets the logger used to report metric setup failures.
func WithOTelLogger(logger *slog.Logger) OTelOption {
	return func(o *OTel) {
		o.logger = logger
	}
}

// NewOTel creates an OTel tracer.
func NewOTel(opts ...OTelOption) *OTel {
	o := &OTel{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
		parent: context.Background(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// initMetrics creates the instruments once. Failures are logged and leave
// the affected instrument nil; tracing continues without it.
func (o *OTel) initMetrics() {
	o.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		o.executions, err = o.meter.Int64Counter("incr.task.executions",
			metric.WithDescription("Number of task executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "executions: "+err.Error())
		}

		o.failures, err = o.meter.Int64Counter("incr.task.failures",
			metric.WithDescription("Number of failed task executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "failures: "+err.Error())
		}

		o.upToDate, err = o.meter.Int64Counter("incr.task.up_to_date",
			metric.WithDescription("Number of stored tasks found up to date"),
		)
		if err != nil {
			initErrors = append(initErrors, "up_to_date: "+err.Error())
		}

		o.execDuration, err = o.meter.Float64Histogram("incr.task.duration",
			metric.WithDescription("Task execution time, including required tasks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "duration: "+err.Error())
		}

		if len(initErrors) > 0 {
			o.logger.Error("failed to initialize some engine metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// push starts a span under the innermost open one.
func (o *OTel) push(name string, attrs ...attribute.KeyValue) {
	o.mu.Lock()
	defer o.mu.Unlock()
	parent := o.parent
	if n := len(o.spans); n > 0 {
		parent = o.spans[n-1].ctx
	}
	ctx, span := o.tracer.Start(parent, name, trace.WithAttributes(attrs...))
	o.spans = append(o.spans, openSpan{ctx: ctx, span: span, start: time.Now()})
}

// pop ends the innermost span, recording err on it.
func (o *OTel) pop(err error) (time.Duration, bool) {
	o.mu.Lock()
	n := len(o.spans)
	if n == 0 {
		o.mu.Unlock()
		return 0, false
	}
	top := o.spans[n-1]
	o.spans = o.spans[:n-1]
	o.mu.Unlock()

	if err != nil {
		top.span.RecordError(err)
		top.span.SetStatus(codes.Error, err.Error())
	} else {
		top.span.SetStatus(codes.Ok, "")
	}
	top.span.End()
	return time.Since(top.start), true
}

// event adds an event to the innermost open span.
func (o *OTel) event(name string, attrs ...attribute.KeyValue) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := len(o.spans); n > 0 {
		o.spans[n-1].span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func taskAttrs(key ir.TaskKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("incr.task.def", key.DefID),
		attribute.String("incr.task.id", key.ID),
	}
}

func (o *OTel) BuildStart(kind engine.BuildKind) {
	o.initMetrics()
	o.push("incr.build", attribute.String("incr.build.kind", string(kind)))
}

func (o *OTel) BuildEnd(_ engine.BuildKind, err error) {
	o.pop(err)
}

func (o *OTel) RequireStart(ir.TaskKey) {}

func (o *OTel) RequireEnd(ir.TaskKey, error) {}

func (o *OTel) Inconsistent(key ir.TaskKey, inc engine.Inconsistency) {
	o.event("inconsistent", append(taskAttrs(key), attribute.String("incr.reason", inc.String()))...)
}

func (o *OTel) UpToDate(key ir.TaskKey) {
	o.initMetrics()
	if o.upToDate != nil {
		o.upToDate.Add(context.Background(), 1, metric.WithAttributes(attribute.String("incr.task.def", key.DefID)))
	}
	o.event("up-to-date", taskAttrs(key)...)
}

func (o *OTel) ExecStart(key ir.TaskKey, reason engine.ExecReason) {
	o.initMetrics()
	o.push("incr.exec", append(taskAttrs(key), attribute.String("incr.reason", reason.String()))...)
}

func (o *OTel) ExecEnd(key ir.TaskKey, reason engine.ExecReason, _ any, err error) {
	elapsed, ok := o.pop(err)
	if !ok {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("incr.task.def", key.DefID),
		attribute.String("incr.reason", reason.String()),
	)
	ctx := context.Background()
	if o.executions != nil {
		o.executions.Add(ctx, 1, attrs)
	}
	if err != nil && o.failures != nil {
		o.failures.Add(ctx, 1, attrs)
	}
	if o.execDuration != nil {
		o.execDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func (o *OTel) ResourceChanged(key resource.Key) {
	o.event("resource-changed", attribute.String("incr.resource", key.String()))
}

func (o *OTel) Scheduled(key ir.TaskKey) {
	o.event("scheduled", taskAttrs(key)...)
}

func (o *OTel) Deferred(key ir.TaskKey) {
	o.event("deferred", taskAttrs(key)...)
}

func (o *OTel) ObservabilityChanged(key ir.TaskKey, from, to ir.Observability) {
	o.event("observability-changed", append(taskAttrs(key),
		attribute.String("incr.observability.from", from.String()),
		attribute.String("incr.observability.to", to.String()),
	)...)
}
