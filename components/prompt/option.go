package prompt

type Option struct {
	implSpecificOptFn any
}

//	type CustomTemplateOption struct {
//	    Culture string
//	}
//
//	func WithCulture(culture string) Option {
//	    return WrapImplSpecificOptFn(func(o *CustomTemplateOption) {
//			o.Culture = culture
//		})
//	}
//
//	template := prompt.FromMessages(...)
//	formatted := template.Format(ctx, vars, WithCulture("zh-CN"))
func WrapImplSpecificOptFn[T any](optFn func(*T)) Option {
	return Option{
		implSpecificOptFn: optFn,
	}
}

//	func (t *CustomChatTemplate) Format(ctx context.Context, vs map[string]any, opts ...Option) ([]*schema.Message, error) {
//	    customOpts := GetImplSpecificOptions(&CustomTemplateOption{
//	        Culture: "en-US",
//	    }, opts...)
//
//	    ...
//	}
func GetImplSpecificOptions[T any](base *T, opts ...Option) *T {
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
