package retriever

import "github.com/graphrun/graphrun/components/embedding"

type Options struct {
	Index *string

	SubIndex *string

	TopK *int

	ScoreThreshold *float64

	Embedding embedding.Embedder

	DSLInfo map[string]interface{}
}

//	docs, err := retriever.Retrieve(ctx, "query",
//		retriever.WithIndex("my_index"))
func WithIndex(index string) Option {
	return Option{
		apply: func(opts *Options) {
			opts.Index = &index
		},
	}
}

//	docs, err := retriever.Retrieve(ctx, "query",
//		retriever.WithSubIndex("sub_index"))
func WithSubIndex(subIndex string) Option {
	return Option{
		apply: func(opts *Options) {
			opts.SubIndex = &subIndex
		},
	}
}

//	docs, err := retriever.Retrieve(ctx, "query",
//		retriever.WithTopK(10))
func WithTopK(topK int) Option {
	return Option{
		apply: func(opts *Options) {
			opts.TopK = &topK
		},
	}
}

//	docs, err := retriever.Retrieve(ctx, "query",
//		retriever.WithScoreThreshold(0.8))
func WithScoreThreshold(threshold float64) Option {
	return Option{
		apply: func(opts *Options) {
			opts.ScoreThreshold = &threshold
		},
	}
}

//	emb := embedding.NewEmbedder(...)
//	docs, err := retriever.Retrieve(ctx, "query",
//		retriever.WithEmbedding(emb))
func WithEmbedding(emb embedding.Embedder) Option {
	return Option{
		apply: func(opts *Options) {
			opts.Embedding = emb
		},
	}
}

//	dsl := map[string]any{"filter": "category == 'tech'"}
//	docs, err := retriever.Retrieve(ctx, "query",
//		retriever.WithDSLInfo(dsl))
func WithDSLInfo(dsl map[string]any) Option {
	return Option{
		apply: func(opts *Options) {
			opts.DSLInfo = dsl
		},
	}
}

type Option struct {
	apply func(opts *Options)

	implSpecificOptFn any
}

func GetCommonOptions(base *Options, opts ...Option) *Options {
	if base == nil {
		base = &Options{}
	}

	for i := range opts {
		if opts[i].apply != nil {
			opts[i].apply(base)
		}
	}

	return base
}

func WrapImplSpecificOptFn[T any](optFn func(*T)) Option {
	return Option{
		implSpecificOptFn: optFn,
	}
}

//	type MyOption struct {
//		Field1 string
//	}
//	opts := retriever.GetImplSpecificOptions(&MyOption{Field1: "default"}, opts...)
func GetImplSpecificOptions[T any](base *T, opts ...Option) *T {
	if base == nil {
		base = new(T)
	}

	for i := range opts {
		opt := opts[i]
		if opt.implSpecificOptFn != nil {
			optFn, ok := opt.implSpecificOptFn.(func(*T))
			if ok {
				optFn(base)
			}
		}
	}

	return base
}
