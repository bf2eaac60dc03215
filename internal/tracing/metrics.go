package tracing

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

const (
	metricsNamespace = "incr"
	engineSubsystem  = "engine"
)

// Metrics exports engine activity as Prometheus metrics.
//
// Fields:
//
//   - BuildsTotal: builds by kind (top-down, bottom-up) and status (success, error)
//   - BuildDuration: build wall time by kind
//   - ExecutionsTotal: task executions by definition and exec reason
//   - FailuresTotal: failed executions by definition
//   - ExecDuration: execution wall time by definition, including required tasks
//   - UpToDateTotal: stored tasks found up to date, by definition
//   - ScheduledTotal, DeferredTotal: bottom-up queue activity
//   - ResourcesChangedTotal: changed resources handed to bottom-up passes
//
// Thread-safety: All operations are thread-safe.
type Metrics struct {
	BuildsTotal           *prometheus.CounterVec
	BuildDuration         *prometheus.HistogramVec
	ExecutionsTotal       *prometheus.CounterVec
	FailuresTotal         *prometheus.CounterVec
	ExecDuration          *prometheus.HistogramVec
	UpToDateTotal         *prometheus.CounterVec
	ScheduledTotal        prometheus.Counter
	DeferredTotal         prometheus.Counter
	ResourcesChangedTotal prometheus.Counter

	mu          sync.Mutex
	buildStarts []time.Time
	execStarts  []time.Time
}

var _ engine.Tracer = (*Metrics)(nil)

// NewMetrics creates the metrics and registers them with reg. A nil reg
// leaves them unregistered. Registering twice with one registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "builds_total",
			Help:      "Builds by kind and status",
		}, []string{"kind", "status"}),
		BuildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "build_duration_seconds",
			Help:      "Build wall time in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
		}, []string{"kind"}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "executions_total",
			Help:      "Task executions by definition and reason",
		}, []string{"def", "reason"}),
		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "failures_total",
			Help:      "Failed task executions by definition",
		}, []string{"def"}),
		ExecDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "execution_duration_seconds",
			Help:      "Task execution wall time in seconds, including required tasks",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}, []string{"def"}),
		UpToDateTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "up_to_date_total",
			Help:      "Stored tasks found up to date, by definition",
		}, []string{"def"}),
		ScheduledTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "scheduled_total",
			Help:      "Tasks scheduled by bottom-up passes",
		}),
		DeferredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "deferred_total",
			Help:      "Affected tasks deferred by their tag filter",
		}),
		ResourcesChangedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "resources_changed_total",
			Help:      "Changed resources handed to bottom-up passes",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func pushTime(stack *[]time.Time) {
	*stack = append(*stack, time.Now())
}

func popTime(stack *[]time.Time) (time.Duration, bool) {
	n := len(*stack)
	if n == 0 {
		return 0, false
	}
	start := (*stack)[n-1]
	*stack = (*stack)[:n-1]
	return time.Since(start), true
}

func (m *Metrics) BuildStart(engine.BuildKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pushTime(&m.buildStarts)
}

func (m *Metrics) BuildEnd(kind engine.BuildKind, err error) {
	m.mu.Lock()
	elapsed, ok := popTime(&m.buildStarts)
	m.mu.Unlock()

	m.BuildsTotal.WithLabelValues(string(kind), status(err)).Inc()
	if ok {
		m.BuildDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) RequireStart(ir.TaskKey) {}

func (m *Metrics) RequireEnd(ir.TaskKey, error) {}

func (m *Metrics) Inconsistent(ir.TaskKey, engine.Inconsistency) {}

func (m *Metrics) UpToDate(key ir.TaskKey) {
	m.UpToDateTotal.WithLabelValues(key.DefID).Inc()
}

func (m *Metrics) ExecStart(ir.TaskKey, engine.ExecReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pushTime(&m.execStarts)
}

func (m *Metrics) ExecEnd(key ir.TaskKey, reason engine.ExecReason, _ any, err error) {
	m.mu.Lock()
	elapsed, ok := popTime(&m.execStarts)
	m.mu.Unlock()

	m.ExecutionsTotal.WithLabelValues(key.DefID, reason.String()).Inc()
	if err != nil {
		m.FailuresTotal.WithLabelValues(key.DefID).Inc()
	}
	if ok {
		m.ExecDuration.WithLabelValues(key.DefID).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ResourceChanged(resource.Key) {
	m.ResourcesChangedTotal.Inc()
}

func (m *Metrics) Scheduled(ir.TaskKey) {
	m.ScheduledTotal.Inc()
}

func (m *Metrics) Deferred(ir.TaskKey) {
	m.DeferredTotal.Inc()
}

func (m *Metrics) ObservabilityChanged(ir.TaskKey, ir.Observability, ir.Observability) {}
