// Package prom provides a Prometheus observer for scopes and tasks, built
// on github.com/prometheus/client_golang.
//
// Metrics (with the default "coflow" namespace):
//
//	coflow_tasks_active                    gauge
//	coflow_tasks_started_total             counter
//	coflow_tasks_finished_total{outcome}   counter
//	coflow_task_duration_seconds{outcome}  histogram
//	coflow_scopes_created_total            counter
//	coflow_scopes_cancelled_total          counter
//	coflow_scope_join_wait_seconds         histogram
//	coflow_pool_queue_length{pool}         gauge (WatchPool)
//	coflow_pool_workers{pool}              gauge (WatchPool)
//
// outcome is one of completed, cancelled, failed or panicked.
package prom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NetPo4ki/go-coflow/scope"
)

// Outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomePanicked  = "panicked"
)

// Option configures New.
type Option func(*options)

type options struct {
	namespace   string
	subsystem   string
	buckets     []float64
	constLabels prometheus.Labels
}

// WithNamespace replaces the default "coflow" metric namespace.
func WithNamespace(ns string) Option { return func(o *options) { o.namespace = ns } }

func WithSubsystem(sub string) Option { return func(o *options) { o.subsystem = sub } }

// WithBuckets sets the buckets of both duration histograms.
func WithBuckets(b []float64) Option { return func(o *options) { o.buckets = b } }

func WithConstLabels(l prometheus.Labels) Option { return func(o *options) { o.constLabels = l } }

// Metrics implements scope.Observer on Prometheus collectors.
type Metrics struct {
	opts options
	reg  prometheus.Registerer

	activeTasks     prometheus.Gauge
	tasksStarted    prometheus.Counter
	tasksFinished   *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	scopesCreated   prometheus.Counter
	scopesCancelled prometheus.Counter
	joinWait        prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, optFns ...Option) (*Metrics, error) {
	o := options{namespace: "coflow", buckets: prometheus.DefBuckets}
	for _, fn := range optFns {
		fn(&o)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		opts: o,
		reg:  reg,
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: o.namespace, Subsystem: o.subsystem, ConstLabels: o.constLabels,
			Name: "tasks_active",
			Help: "Tasks currently running their body.",
		}),
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace, Subsystem: o.subsystem, ConstLabels: o.constLabels,
			Name: "tasks_started_total",
			Help: "Tasks that started their body.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace, Subsystem: o.subsystem, ConstLabels: o.constLabels,
			Name: "tasks_finished_total",
			Help: "Tasks that finished, by outcome.",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace, Subsystem: o.subsystem, ConstLabels: o.constLabels,
			Name:    "task_duration_seconds",
			Help:    "Time from task start to task end, by outcome.",
			Buckets: o.buckets,
		}, []string{"outcome"}),
		scopesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace, Subsystem: o.subsystem, ConstLabels: o.constLabels,
			Name: "scopes_created_total",
			Help: "Explicit scopes created.",
		}),
		scopesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace, Subsystem: o.subsystem, ConstLabels: o.constLabels,
			Name: "scopes_cancelled_total",
			Help: "Explicit scopes cancelled.",
		}),
		joinWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: o.namespace, Subsystem: o.subsystem, ConstLabels: o.constLabels,
			Name:    "scope_join_wait_seconds",
			Help:    "Time spent waiting in Scope.Join.",
			Buckets: o.buckets,
		}),
	}
	for _, c := range []prometheus.Collector{
		m.activeTasks, m.tasksStarted, m.tasksFinished, m.taskDuration,
		m.scopesCreated, m.scopesCancelled, m.joinWait,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WatchPool exports the queue length and worker count of p, labelled with
// the pool name.
func (m *Metrics) WatchPool(p *scope.Pool) error {
	labels := prometheus.Labels{"pool": p.Name()}
	for k, v := range m.opts.constLabels {
		labels[k] = v
	}
	queue := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.opts.namespace, Subsystem: m.opts.subsystem, ConstLabels: labels,
		Name: "pool_queue_length",
		Help: "Tasks waiting in the ready queue of a pool.",
	}, func() float64 { return float64(p.Len()) })
	workers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.opts.namespace, Subsystem: m.opts.subsystem, ConstLabels: labels,
		Name: "pool_workers",
		Help: "Workers of a pool.",
	}, func() float64 { return float64(p.Size()) })
	if err := m.reg.Register(queue); err != nil {
		return err
	}
	return m.reg.Register(workers)
}

// ScopeCreated records scope creation.
func (m *Metrics) ScopeCreated(_ context.Context) { m.scopesCreated.Inc() }

// ScopeCancelled records scope cancellation.
func (m *Metrics) ScopeCancelled(_ context.Context, _ error) { m.scopesCancelled.Inc() }

// ScopeJoined records the time a join waited.
func (m *Metrics) ScopeJoined(_ context.Context, wait time.Duration) {
	m.joinWait.Observe(wait.Seconds())
}

// TaskStarted increments active and started counters.
func (m *Metrics) TaskStarted(_ context.Context) {
	m.activeTasks.Inc()
	m.tasksStarted.Inc()
}

// TaskFinished decrements active and records the outcome and duration.
func (m *Metrics) TaskFinished(_ context.Context, dur time.Duration, err error, panicked bool) {
	m.activeTasks.Dec()
	outcome := Outcome(err, panicked)
	m.tasksFinished.WithLabelValues(outcome).Inc()
	m.taskDuration.WithLabelValues(outcome).Observe(dur.Seconds())
}

// Outcome maps the result of a task to its outcome label.
func Outcome(err error, panicked bool) string {
	switch {
	case panicked:
		return OutcomePanicked
	case err == nil:
		return OutcomeCompleted
	case scope.IsCancellation(err):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

var _ scope.Observer = (*Metrics)(nil)
