package callbacks

import (
	"context"

	"github.com/graphrun/graphrun/components"
	"github.com/graphrun/graphrun/internal/callbacks"
	"github.com/graphrun/graphrun/schema"
)

// InitCallbacks seeds ctx with a fresh callback manager carrying the given
// RunInfo and handlers, replacing whatever manager ctx already held.
func InitCallbacks(ctx context.Context, info *RunInfo, handlers ...Handler) context.Context {
	return callbacks.InitCallbacks(ctx, info, handlers...)
}

// ReuseHandlers carries the handlers already registered on ctx forward to a
// new RunInfo, falling back to InitCallbacks when ctx has no manager yet.
func ReuseHandlers(ctx context.Context, info *RunInfo) context.Context {
	return callbacks.ReuseHandlers(ctx, info)
}

// EnsureRunInfo sets ctx's RunInfo to the given type/component when ctx has
// no manager yet, or when its manager has no RunInfo of its own.
func EnsureRunInfo(ctx context.Context, typ string, comp components.Component) context.Context {
	return callbacks.EnsureRunInfo(ctx, typ, comp)
}

// OnStart fires every registered handler's OnStart hook with input.
func OnStart[T any](ctx context.Context, input T) context.Context {
	ctx, _ = callbacks.On(ctx, input, callbacks.OnStartHandle[T], TimingOnStart, true)
	return ctx
}

// OnEnd fires every registered handler's OnEnd hook with output.
func OnEnd[T any](ctx context.Context, output T) context.Context {
	ctx, _ = callbacks.On(ctx, output, callbacks.OnEndHandle[T], TimingOnEnd, false)
	return ctx
}

// OnError fires every registered handler's OnError hook with err.
func OnError(ctx context.Context, err error) context.Context {
	ctx, _ = callbacks.On(ctx, err, callbacks.OnErrorHandle, TimingOnError, false)
	return ctx
}

// OnStartWithStreamInput fires every registered handler's
// OnStartWithStreamInput hook, handing each its own copy of input.
func OnStartWithStreamInput[T any](ctx context.Context, input *schema.StreamReader[T]) (
	context.Context, *schema.StreamReader[T]) {
	return callbacks.On(ctx, input, callbacks.OnStartWithStreamInputHandle[T], TimingOnStartWithStreamInput, true)
}

// OnEndWithStreamOutput fires every registered handler's
// OnEndWithStreamOutput hook, handing each its own copy of output.
func OnEndWithStreamOutput[T any](ctx context.Context, output *schema.StreamReader[T]) (
	context.Context, *schema.StreamReader[T]) {
	return callbacks.On(ctx, output, callbacks.OnEndWithStreamOutputHandle[T], TimingOnEndWithStreamOutput, false)
}
