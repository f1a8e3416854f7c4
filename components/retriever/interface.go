// Package retriever defines the component contract for turning a query into
// relevant content, the node a graph plugs in ahead of a model call to
// ground it in retrieved material.
package retriever

import (
	"context"

	"github.com/graphrun/graphrun/schema"
)

// Retriever answers a query with ranked content:
//
//	graph := compose.NewGraph[string, string]()
//	err := graph.AddRetrieverNode("retriever_node_key", r)
//
// opts narrow a single call, e.g. retriever.WithTopK(3).
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts ...Option) (*schema.StreamReader[string], error)
}
