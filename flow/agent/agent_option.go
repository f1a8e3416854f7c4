package agent

import "github.com/graphrun/graphrun/compose"

type AgentOption struct {
	implSpecificOptFn any
	composeOptions    []compose.Option
}

func GetComposeOptions(opts ...AgentOption) []compose.Option {
	var result []compose.Option
	for _, opt := range opts {
		result = append(result, opt.composeOptions...)
	}
	return result
}

//	opt := WithComposeOptions(
//		compose.WithToolsNodeOption(compose.WithToolList(myTools...)),
//		compose.WithCallbacks(myCallback),
//	)
//	agent.Generate(ctx, messages, opt)
func WithComposeOptions(opts ...compose.Option) AgentOption {
	return AgentOption{
		composeOptions: opts,
	}
}

//	type MyAgentConfig struct {
//		MaxIterations int
//		Temperature   float64
//	}
//
//	opt := WrapImplSpecificOptFn(func(c *MyAgentConfig) {
//		c.MaxIterations = 10
//		c.Temperature = 0.7
//	})
//	agent := NewMyAgent(ctx, config, opt)
func WrapImplSpecificOptFn[T any](optFn func(*T)) AgentOption {
	return AgentOption{
		implSpecificOptFn: optFn,
	}
}

//	opts := []AgentOption{
//		WrapImplSpecificOptFn(func(c *MyAgentConfig) {
//			c.Name = "Alice"
//		}),
//		WrapImplSpecificOptFn(func(c *MyAgentConfig) {
//			c.Age = 30
//		}),
//	}
//	config := GetImplSpecificOptions[MyAgentConfig](nil, opts...)
func GetImplSpecificOptions[T any](base *T, opts ...AgentOption) *T {
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
