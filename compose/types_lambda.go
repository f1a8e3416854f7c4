package compose

import (
	"context"
	"fmt"

	"github.com/graphrun/graphrun/schema"
)

type Invoke[I, O, TOption any] func(ctx context.Context, input I, opts ...TOption) (output O, err error)

type Stream[I, O, TOption any] func(ctx context.Context,
	input I, opts ...TOption) (output *schema.StreamReader[O], err error)

type Collect[I, O, TOption any] func(ctx context.Context,
	input *schema.StreamReader[I], opts ...TOption) (output O, err error)

type Transform[I, O, TOption any] func(ctx context.Context,
	input *schema.StreamReader[I], opts ...TOption) (output *schema.StreamReader[O], err error)

type InvokeWOOpt[I, O any] func(ctx context.Context, input I) (output O, err error)

type StreamWOOpt[I, O any] func(ctx context.Context,
	input I) (output *schema.StreamReader[O], err error)

type CollectWOOpt[I, O any] func(ctx context.Context,
	input *schema.StreamReader[I]) (output O, err error)

type TransformWOOpts[I, O any] func(ctx context.Context,
	input *schema.StreamReader[I]) (output *schema.StreamReader[O], err error)

//	lambda := compose.InvokableLambda(func(ctx context.Context, input string) (output string, err error) {
//		return input, nil
//	})
type Lambda struct {
	executor *composableRunnable
}

type lambdaOpts struct {
	enableComponentCallback bool
	componentImplType       string
}

type LambdaOpt func(o *lambdaOpts)

func WithLambdaCallbackEnable(y bool) LambdaOpt {
	return func(o *lambdaOpts) {
		o.enableComponentCallback = y
	}
}

func WithLambdaType(t string) LambdaOpt {
	return func(o *lambdaOpts) {
		o.componentImplType = t
	}
}

type unreachableOption struct{}

func InvokableLambdaWithOption[I, O, TOption any](i Invoke[I, O, TOption], opts ...LambdaOpt) *Lambda {
	return anyLambda(i, nil, nil, nil, opts...)
}

func InvokableLambda[I, O any](i InvokeWOOpt[I, O], opts ...LambdaOpt) *Lambda {
	f := func(ctx context.Context, input I, opts_ ...unreachableOption) (output O, err error) {
		return i(ctx, input)
	}

	return anyLambda(f, nil, nil, nil, opts...)
}

func StreamableLambdaWithOption[I, O, TOption any](s Stream[I, O, TOption], opts ...LambdaOpt) *Lambda {
	return anyLambda(nil, s, nil, nil, opts...)
}

func StreamableLambda[I, O any](s StreamWOOpt[I, O], opts ...LambdaOpt) *Lambda {
	f := func(ctx context.Context, input I, opts_ ...unreachableOption) (
		output *schema.StreamReader[O], err error) {

		return s(ctx, input)
	}

	return anyLambda(nil, f, nil, nil, opts...)
}

func CollectableLambdaWithOption[I, O, TOption any](c Collect[I, O, TOption], opts ...LambdaOpt) *Lambda {
	return anyLambda(nil, nil, c, nil, opts...)
}

func CollectableLambda[I, O any](c CollectWOOpt[I, O], opts ...LambdaOpt) *Lambda {
	f := func(ctx context.Context, input *schema.StreamReader[I],
		opts_ ...unreachableOption) (output O, err error) {

		return c(ctx, input)
	}

	return anyLambda(nil, nil, f, nil, opts...)
}

func TransformableLambdaWithOption[I, O, TOption any](t Transform[I, O, TOption], opts ...LambdaOpt) *Lambda {
	return anyLambda(nil, nil, nil, t, opts...)
}

func TransformableLambda[I, O any](t TransformWOOpts[I, O], opts ...LambdaOpt) *Lambda {

	f := func(ctx context.Context, input *schema.StreamReader[I],
		opts_ ...unreachableOption) (output *schema.StreamReader[O], err error) {

		return t(ctx, input)
	}

	return anyLambda(nil, nil, nil, f, opts...)
}

//	invokeFunc := func(ctx context.Context, input string, opts ...myOption) (output string, err error) {
//	}
//	streamFunc := func(ctx context.Context, input string, opts ...myOption) (output *schema.StreamReader[string], err error) {
//	}
//
//	lambda := compose.AnyLambda(invokeFunc, streamFunc, nil, nil)
func AnyLambda[I, O, TOption any](i Invoke[I, O, TOption], s Stream[I, O, TOption],
	c Collect[I, O, TOption], t Transform[I, O, TOption], opts ...LambdaOpt) (*Lambda, error) {

	if i == nil && s == nil && c == nil && t == nil {
		return nil, fmt.Errorf("needs to have at least one of four lambda types: invoke/stream/collect/transform, got none")
	}

	return anyLambda(i, s, c, t, opts...), nil
}

func anyLambda[I, O, TOption any](i Invoke[I, O, TOption], s Stream[I, O, TOption],
	c Collect[I, O, TOption], t Transform[I, O, TOption], opts ...LambdaOpt) *Lambda {

	opt := getLambdaOpt(opts...)

	executor := runnableLambda(i, s, c, t,
		!opt.enableComponentCallback,
	)
	executor.meta = &executorMeta{
		component:                  ComponentOfLambda,
		isComponentCallbackEnabled: opt.enableComponentCallback,
		componentImplType:          opt.componentImplType,
	}

	return &Lambda{
		executor: executor,
	}
}

func getLambdaOpt(opts ...LambdaOpt) *lambdaOpts {
	opt := &lambdaOpts{
		enableComponentCallback: false,
		componentImplType:       "",
	}

	for _, optFn := range opts {
		optFn(opt)
	}
	return opt
}

//	lambda := compose.ToList[*schema.Message]()
//	chain := compose.NewChain[[]*schema.Message, []*schema.Message]()
//
//	chain.AddChatModel(chatModel) // chatModel returns *schema.Message, but we need []*schema.Message
//	chain.AddLambda(lambda) // convert *schema.Message to []*schema.Message
func ToList[I any](opts ...LambdaOpt) *Lambda {
	i := func(ctx context.Context, input I, opts_ ...unreachableOption) (output []I, err error) {
		return []I{input}, nil
	}

	f := func(ctx context.Context, inputS *schema.StreamReader[I], opts_ ...unreachableOption) (outputS *schema.StreamReader[[]I], err error) {
		return schema.StreamReaderWithConvert(inputS, func(i I) ([]I, error) {
			return []I{i}, nil
		}), nil
	}

	return anyLambda(i, nil, nil, f, opts...)
}

//	parser := schema.NewMessageJSONParser[MyStruct](&schema.MessageJSONParseConfig{
//		ParseFrom: schema.MessageParseFromContent,
//	})
//	parserLambda := MessageParser(parser)
//
//	chain := NewChain[*schema.Message, MyStruct]()
//	chain.AppendChatModel(chatModel)
//	chain.AppendLambda(parserLambda)
//
//	r, err := chain.Compile(context.Background())
//
//	// parsed is a MyStruct object
//	parsed, err := r.Invoke(context.Background(), &schema.Message{
//		Role:    schema.MessageRoleUser,
//		Content: "return a json string for my struct",
//	})
func MessageParser[T any](p schema.MessageParser[T], opts ...LambdaOpt) *Lambda {
	i := func(ctx context.Context, input *schema.Message, opts_ ...unreachableOption) (output T, err error) {
		return p.Parse(ctx, input)
	}

	opts = append([]LambdaOpt{WithLambdaType("MessageParse")}, opts...)

	return anyLambda(i, nil, nil, nil, opts...)
}
