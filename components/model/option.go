package model

import "github.com/graphrun/graphrun/schema"

type Options struct {
	Temperature *float32

	MaxTokens *int

	Model *string

	TopP *float32

	Stop []string

	Tools []*schema.ToolInfo

	ToolChoice *schema.ToolChoice
}

type Option struct {
	apply func(opts *Options)

	implSpecificOptFn any
}

//	model.Generate(ctx, messages,
//		model.WithTemperature(0.0))
func WithTemperature(temperature float32) Option {
	return Option{
		apply: func(opts *Options) {
			opts.Temperature = &temperature
		}}
}

//	resp, err := model.Generate(ctx, messages,
//		model.WithMaxTokens(100))
func WithMaxTokens(maxTokens int) Option {
	return Option{
		apply: func(opts *Options) {
			opts.MaxTokens = &maxTokens
		},
	}
}

//	resp, err := model.Generate(ctx, messages,
//		model.WithModel("gpt-4"))
func WithModel(name string) Option {
	return Option{
		apply: func(opts *Options) {
			opts.Model = &name
		},
	}
}

//	resp, err := model.Generate(ctx, messages,
//		model.WithTopP(0.9))
func WithTopP(topP float32) Option {
	return Option{
		apply: func(opts *Options) {
			opts.TopP = &topP
		},
	}
}

//	resp, err := model.Generate(ctx, messages,
//		model.WithStop([]string{"\n", "END"}))
func WithStop(stop []string) Option {
	return Option{
		apply: func(opts *Options) {
			opts.Stop = stop
		},
	}
}

//	tools := []*schema.ToolInfo{...}
//	resp, err := model.Generate(ctx, messages,
//		model.WithTools(tools))
func WithTools(tools []*schema.ToolInfo) Option {
	if tools == nil {
		tools = []*schema.ToolInfo{}
	}
	return Option{
		apply: func(opts *Options) {
			opts.Tools = tools
		},
	}
}

//	resp, err := model.Generate(ctx, messages,
//		model.WithToolChoice(toolChoice))
func WithToolChoice(toolChoice schema.ToolChoice) Option {
	return Option{
		apply: func(opts *Options) {
			opts.ToolChoice = &toolChoice
		},
	}
}

//	type AzureOption struct {
//		APIVersion string
//	}
//
//	azureOpt := func(opt *AzureOption) {
//		opt.APIVersion = "2023-05-15"
//	}
//
//	opt := model.WrapImplSpecificOptFn(azureOpt)
func WrapImplSpecificOptFn[T any](optFn func(*T)) Option {
	return Option{
		implSpecificOptFn: optFn,
	}
}

//	type MyOption struct {
//		Field1 string
//		Field2 int
//	}
//
//	opts := model.GetImplSpecificOptions[MyOption](&MyOption{
//		Field1: "default",
//	}, opts...)
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

//	opts := model.GetCommonOptions(nil,
//		model.WithTemperature(0.7),
//		model.WithMaxTokens(100))
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
