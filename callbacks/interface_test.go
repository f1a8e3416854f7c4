package callbacks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/graphrun/graphrun/internal/callbacks"
)

func TestAppendGlobalHandlers(t *testing.T) {
	callbacks.GlobalHandlers = nil

	handler1 := NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *RunInfo, input CallbackInput) context.Context {
			return ctx
		}).Build()

	handler2 := NewHandlerBuilder().
		OnEndFn(func(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context {
			return ctx
		}).Build()

	AppendGlobalHandlers(handler1)

	assert.Equal(t, 1, len(callbacks.GlobalHandlers))
	assert.Contains(t, callbacks.GlobalHandlers, handler1)

	AppendGlobalHandlers(handler2)

	assert.Equal(t, 2, len(callbacks.GlobalHandlers))
	assert.Contains(t, callbacks.GlobalHandlers, handler1)
	assert.Contains(t, callbacks.GlobalHandlers, handler2)

	AppendGlobalHandlers([]Handler{}...)

	assert.Equal(t, 2, len(callbacks.GlobalHandlers))
}
