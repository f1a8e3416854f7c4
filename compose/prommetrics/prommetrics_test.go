package prommetrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphrun/graphrun/callbacks"
	"github.com/graphrun/graphrun/compose"
)

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestHandlerRecordsOkOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(registry)
	h := collector.AsHandler()
	info := &callbacks.RunInfo{Name: "upper"}

	ctx := h.OnStart(context.Background(), info, "hello")
	h.OnEnd(ctx, info, "HELLO")

	assert.Equal(t, 1.0, counterValue(t, collector.nodeExecutions, "upper", "ok"))
	assert.Equal(t, 0.0, gaugeValue(t, collector.inflightTasks))
}

func TestHandlerRecordsErrorOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(registry)
	h := collector.AsHandler()
	info := &callbacks.RunInfo{Name: "reverse"}

	ctx := h.OnStart(context.Background(), info, "hello")
	h.OnError(ctx, info, errors.New("boom"))

	assert.Equal(t, 1.0, counterValue(t, collector.nodeExecutions, "reverse", "error"))
}

func TestHandlerRecordsInterruptOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(registry)
	h := collector.AsHandler()
	info := &callbacks.RunInfo{Name: "planner"}

	ctx := h.OnStart(context.Background(), info, "hello")
	h.OnError(ctx, info, compose.NewInterruptAndRerunErr("waiting on approval"))

	assert.Equal(t, 1.0, counterValue(t, collector.nodeExecutions, "planner", "interrupt"))
	assert.Equal(t, 0.0, counterValue(t, collector.nodeExecutions, "planner", "error"))
}

func TestIncDroppedLateDelivery(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(registry)

	collector.IncDroppedLateDelivery()
	collector.IncDroppedLateDelivery()

	var m dto.Metric
	require.NoError(t, collector.droppedLate.Write(&m))
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}
