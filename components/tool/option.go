package tool

type Option struct {
	implSpecificOptFn any
}

//	type customOptions struct {
//	    conf string
//	}
//
//	func WithConf(conf string) Option {
//	    return WrapImplSpecificOptFn(func(o *customOptions) {
//			o.conf = conf
//		}
//	}
//
//
//	result, err := tool.InvokableRun(ctx, args, WithConf("value"))
func WrapImplSpecificOptFn[T any](optFn func(*T)) Option {
	return Option{
		implSpecificOptFn: optFn,
	}
}

//	type customOptions struct {
//	    conf string
//	}
//	defaultOptions := &customOptions{}
//
//	customOptions := tool.GetImplSpecificOptions(defaultOptions, opts...)
//
//	func (t *MyTool) InvokableRun(ctx context.Context, args string, opts ...Option) (string, error) {
//	    customOpts := tool.GetImplSpecificOptions(&customOptions{}, opts...)
//	    ...
//	}
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
