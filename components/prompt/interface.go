// Package prompt defines the component contract for rendering a variable
// map into the message list a chat model expects as input.
package prompt

import (
	"context"

	"github.com/graphrun/graphrun/schema"
)

// ChatTemplate fills in a fixed prompt shape with per-run variables.
type ChatTemplate interface {
	Format(ctx context.Context, vs map[string]any, opts ...Option) ([]*schema.Message, error)
}
