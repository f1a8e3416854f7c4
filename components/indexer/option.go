package indexer

import "github.com/graphrun/graphrun/components/embedding"

type Options struct {
	SubIndexes []string

	Embedding embedding.Embedder
}

//	ids, err := indexer.Store(ctx, docs,
//		indexer.WithSubIndexes([]string{"sub_index_1", "sub_index_2"}))
func WithSubIndexes(subIndexes []string) Option {
	return Option{
		apply: func(opts *Options) {
			opts.SubIndexes = subIndexes
		},
	}
}

//	emb := embedding.NewEmbedder(...)
//	ids, err := indexer.Store(ctx, docs,
//		indexer.WithEmbedding(emb))
func WithEmbedding(emb embedding.Embedder) Option {
	return Option{
		apply: func(opts *Options) {
			opts.Embedding = emb
		},
	}
}

type Option struct {
	apply func(opts *Options)

	implSpecificOptFn any
}

//	indexerOption := &indexer.Options{
//		SubIndexes: []string{"default_sub_index"},
//	}
//	indexerOption := indexer.GetCommonOptions(indexerOption, opts...)
func GetCommonOptions(base *Options, opts ...Option) *Options {
	if base == nil {
		base = &Options{}
	}

	for i := range opts {
		opt := opts[i]
		if opt.apply != nil {
			opt.apply(base)
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
//	opts := indexer.GetImplSpecificOptions(&MyOption{Field1: "default"}, opts...)
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
