// Package tool defines the callable-tool contract a model's tool calls
// dispatch against: every tool can describe itself, and runs either to
// completion or as a stream of output chunks.
package tool

import (
	"context"

	"github.com/graphrun/graphrun/schema"
)

// BaseTool lets a tools-dispatch node discover a tool's name, description,
// and parameter schema at bind time.
type BaseTool interface {
	Info(ctx context.Context) (*schema.ToolInfo, error)
}

// InvokableTool runs to completion and returns its full result as a JSON
// string.
type InvokableTool interface {
	BaseTool

	InvokableRun(ctx context.Context, argumentsInJSON string, opts ...Option) (string, error)
}

// StreamableTool runs incrementally, yielding its result as a stream of
// string chunks rather than one final value.
type StreamableTool interface {
	BaseTool

	StreamableRun(ctx context.Context, argumentsInJSON string, opts ...Option) (*schema.StreamReader[string], error)
}
