// Package prommetrics exposes graph execution metrics to Prometheus, wired
// through the same callbacks.Handler surface used for tracing (otelcallback).
package prommetrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/graphrun/graphrun/callbacks"
	"github.com/graphrun/graphrun/compose"
	"github.com/graphrun/graphrun/schema"
)

type startCtxKey struct{}

// Collector tracks node execution counts, latency, in-flight concurrency, and
// dropped AnyPredecessor deliveries.
type Collector struct {
	nodeExecutions *prometheus.CounterVec
	nodeLatency    *prometheus.HistogramVec
	inflightTasks  prometheus.Gauge
	droppedLate    prometheus.Counter

	inflight int64
}

// NewCollector registers every metric on registry (use prometheus.DefaultRegisterer
// for the global registry, or a fresh prometheus.NewRegistry() for isolation in tests).
func NewCollector(registry prometheus.Registerer) *Collector {
	factory := promauto.With(registry)

	return &Collector{
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphrun",
			Name:      "node_executions_total",
			Help:      "Count of node executions by outcome (ok/error/interrupt)",
		}, []string{"node", "outcome"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphrun",
			Name:      "node_latency_seconds",
			Help:      "Node execution latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		inflightTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphrun",
			Name:      "inflight_tasks",
			Help:      "Number of node tasks currently executing",
		}),
		droppedLate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "graphrun",
			Name:      "dropped_late_deliveries_total",
			Help:      "Deliveries dropped on an AnyPredecessor channel that already fired",
		}),
	}
}

// IncDroppedLateDelivery records a channel delivery dropped.
// Call this from whatever observes dagChannel's drop path (e.g. a logging hook).
func (c *Collector) IncDroppedLateDelivery() {
	c.droppedLate.Inc()
}

func (c *Collector) begin(ctx context.Context) context.Context {
	n := atomic.AddInt64(&c.inflight, 1)
	c.inflightTasks.Set(float64(n))
	return context.WithValue(ctx, startCtxKey{}, time.Now())
}

func (c *Collector) end(ctx context.Context, node, outcome string) {
	n := atomic.AddInt64(&c.inflight, -1)
	if n < 0 {
		atomic.StoreInt64(&c.inflight, 0)
		n = 0
	}
	c.inflightTasks.Set(float64(n))

	c.nodeExecutions.WithLabelValues(node, outcome).Inc()
	if start, ok := ctx.Value(startCtxKey{}).(time.Time); ok {
		c.nodeLatency.WithLabelValues(node).Observe(time.Since(start).Seconds())
	}
}

// Handler adapts Collector to callbacks.Handler so it can be registered like any
// other callback handler, instead of through a parallel hook system.
type Handler struct {
	c *Collector
}

// AsHandler returns a callbacks.Handler view of c.
func (c *Collector) AsHandler() *Handler {
	return &Handler{c: c}
}

func (h *Handler) OnStart(ctx context.Context, _ *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
	return h.c.begin(ctx)
}

func (h *Handler) OnStartWithStreamInput(ctx context.Context, _ *callbacks.RunInfo,
	_ *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	return h.c.begin(ctx)
}

func (h *Handler) OnEnd(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
	h.c.end(ctx, info.Name, "ok")
	return ctx
}

func (h *Handler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	_ *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	h.c.end(ctx, info.Name, "ok")
	return ctx
}

func (h *Handler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	outcome := "error"
	if _, ok := compose.IsInterruptRerunError(err); ok {
		outcome = "interrupt"
	}
	h.c.end(ctx, info.Name, outcome)
	return ctx
}
