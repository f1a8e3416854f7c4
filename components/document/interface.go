// Package document defines the loader and transformer component contracts
// that turn external content into schema.Document values and reshape them
// (split, filter, enrich) before they reach an embedder or retriever.
package document

import (
	"context"

	"github.com/graphrun/graphrun/schema"
)

// Source identifies content to load, e.g.:
//   - https://www.abc.com/docx/xxx
//   - https://www.example.com/xxx.pdf
type Source struct {
	URI string
}

// Loader fetches a Source and parses it into one or more documents.
type Loader interface {
	Load(ctx context.Context, src Source, opts ...LoaderOptions) ([]*schema.Document, error)
}

// Transformer maps a document batch to another document batch, e.g.
// splitting long documents into chunks or attaching derived metadata.
type Transformer interface {
	Transform(ctx context.Context, docs []*schema.Document, opts ...TransformerOption) ([]*schema.Document, error)
}
