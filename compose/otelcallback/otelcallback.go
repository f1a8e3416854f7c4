// Package otelcallback wires OpenTelemetry tracing into a graph run as a
// callbacks.Handler, one span per node execution.
package otelcallback

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/graphrun/graphrun/callbacks"
	"github.com/graphrun/graphrun/schema"
)

type spanCtxKey struct{}

// Handler opens a span on OnStart/OnStartWithStreamInput and ends it on
// OnEnd/OnEndWithStreamOutput/OnError. Its own failures never surface to the run:
// a missing tracer just falls back to the global no-op tracer provider.
type Handler struct {
	tracer trace.Tracer
}

// New returns a Handler using the tracer named instrumentationName, obtained from
// the globally configured otel.TracerProvider (set one with otel.SetTracerProvider
// before running a graph that registers this handler).
func New(instrumentationName string) *Handler {
	return &Handler{tracer: otel.Tracer(instrumentationName)}
}

func (h *Handler) startSpan(ctx context.Context, info *callbacks.RunInfo) context.Context {
	spanCtx, span := h.tracer.Start(ctx, info.Name)
	span.SetAttributes(
		attribute.String("graphrun.node", info.Name),
		attribute.String("graphrun.node_type", info.Type),
		attribute.String("graphrun.component", string(info.Component)),
	)
	return context.WithValue(spanCtx, spanCtxKey{}, span)
}

func spanFromCtx(ctx context.Context) (trace.Span, bool) {
	span, ok := ctx.Value(spanCtxKey{}).(trace.Span)
	return span, ok
}

func (h *Handler) OnStart(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
	return h.startSpan(ctx, info)
}

func (h *Handler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	_ *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	return h.startSpan(ctx, info)
}

func (h *Handler) OnEnd(ctx context.Context, _ *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
	if span, ok := spanFromCtx(ctx); ok {
		span.SetStatus(codes.Ok, "")
		span.End()
	}
	return ctx
}

func (h *Handler) OnEndWithStreamOutput(ctx context.Context, _ *callbacks.RunInfo,
	_ *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	if span, ok := spanFromCtx(ctx); ok {
		span.SetStatus(codes.Ok, "")
		span.End()
	}
	return ctx
}

func (h *Handler) OnError(ctx context.Context, _ *callbacks.RunInfo, err error) context.Context {
	if span, ok := spanFromCtx(ctx); ok {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	}
	return ctx
}
