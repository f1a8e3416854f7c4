// Package embedding defines the component contract for turning text into
// dense vectors, the building block an indexer or retriever node embeds
// against.
package embedding

import (
	"context"
)

// Embedder embeds a batch of texts into one vector per input, in order.
type Embedder interface {
	EmbedStrings(ctx context.Context, texts []string, opts ...Option) ([][]float64, error)
}
