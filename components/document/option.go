package document

import "github.com/graphrun/graphrun/components/document/parser"

type LoaderOptions struct {
	ParserOptions []parser.Option
}

type LoaderOption struct {
	apply func(opts *LoaderOptions)

	implSpecificOptFn any
}

//	type customOptions struct {
//	    conf string
//	}
//
//	func WithConf(conf string) LoaderOption {
//	    return WrapLoaderImplSpecificOptFn(func(o *customOptions) {
//			o.conf = conf
//		})
//	}
func WrapLoaderImplSpecificOptFn[T any](optFn func(*T)) LoaderOption {
	return LoaderOption{
		implSpecificOptFn: optFn,
	}
}

//	type MyOption struct {
//		Field1 string
//	}
//	opts := loader.GetLoaderImplSpecificOptions(&MyOption{Field1: "default"}, opts...)
func GetLoaderImplSpecificOptions[T any](base *T, opts ...LoaderOption) *T {
	if base == nil {
		base = new(T)
	}

	for i := range opts {
		opt := opts[i]
		if opt.implSpecificOptFn != nil {
			s, ok := opt.implSpecificOptFn.(func(*T))
			if ok {
				s(base)
			}
		}
	}

	return base
}

func GetLoaderCommonOptions(base *LoaderOptions, opts ...LoaderOption) *LoaderOptions {
	if base == nil {
		base = &LoaderOptions{}
	}

	for i := range opts {
		opt := opts[i]
		if opt.apply != nil {
			opt.apply(base)
		}
	}

	return base
}

//	loader := document.NewLoader(...)
//	docs, err := loader.Load(ctx, src,
//		document.WithParserOptions(parser.WithEncoding("utf-8")))
func WithParserOptions(opts ...parser.Option) LoaderOption {
	return LoaderOption{
		apply: func(o *LoaderOptions) {
			o.ParserOptions = opts
		},
	}
}

type TransformerOption struct {
	implSpecificOptFn any
}

//	type customOptions struct {
//	    conf string
//	}
//
//	func WithConf(conf string) TransformerOption {
//	    return WrapTransformerImplSpecificOptFn(func(o *customOptions) {
//			o.conf = conf
//		})
//	}
func WrapTransformerImplSpecificOptFn[T any](optFn func(*T)) TransformerOption {
	return TransformerOption{
		implSpecificOptFn: optFn,
	}
}

//	type MyOption struct {
//		Field1 string
//	}
//	opts := transformer.GetTransformerImplSpecificOptions(&MyOption{Field1: "default"}, opts...)
func GetTransformerImplSpecificOptions[T any](base *T, opts ...TransformerOption) *T {
	if base == nil {
		base = new(T)
	}

	for i := range opts {
		opt := opts[i]
		if opt.implSpecificOptFn != nil {
			s, ok := opt.implSpecificOptFn.(func(*T))
			if ok {
				s(base)
			}
		}
	}

	return base
}
