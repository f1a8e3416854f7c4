package compose

import (
	"context"
	"fmt"
	"reflect"

	"github.com/graphrun/graphrun/internal/generic"
	"github.com/graphrun/graphrun/schema"
)

// Runnable is the four-method execution contract every compiled graph (and
// every node inside one) answers to. An implementation needs to supply only
// some of the four natively; the missing ones are derived in
// newRunnablePacker by wrapping values into one-element streams on the way
// in and concatenating streams on the way out.
type Runnable[I, O any] interface {
	Invoke(ctx context.Context, input I, opts ...Option) (output O, err error)
	Stream(ctx context.Context, input I, opts ...Option) (output *schema.StreamReader[O], err error)
	Collect(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (output O, err error)
	Transform(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (output *schema.StreamReader[O], err error)
}

type invoke func(ctx context.Context, input any, opts ...any) (output any, err error)

type transform func(ctx context.Context, input streamReader, opts ...any) (output streamReader, err error)

// composableRunnable is the type-erased executor the graph machinery moves
// around: the invoke and transform entry points (the other two methods are
// expressible through these at the erased level), plus the static types the
// edge checker needs.
type composableRunnable struct {
	i invoke
	t transform

	inputType  reflect.Type
	outputType reflect.Type
	optionType reflect.Type

	*genericHelper

	isPassthrough bool

	meta *executorMeta

	nodeInfo *nodeInfo
}

func runnableLambda[I, O, TOption any](i Invoke[I, O, TOption], s Stream[I, O, TOption], c Collect[I, O, TOption],
	t Transform[I, O, TOption], enableCallback bool) *composableRunnable {
	return newRunnablePacker(i, s, c, t, enableCallback).toComposableRunnable()
}

// runnablePacker holds a full set of the four methods for one (I, O,
// TOption) triple; after newRunnablePacker all four slots are non-nil.
type runnablePacker[I, O, TOption any] struct {
	i Invoke[I, O, TOption]
	s Stream[I, O, TOption]
	c Collect[I, O, TOption]
	t Transform[I, O, TOption]
}

func (rp *runnablePacker[I, O, TOption]) Invoke(ctx context.Context,
	input I, opts ...TOption) (output O, err error) {
	return rp.i(ctx, input, opts...)
}

func (rp *runnablePacker[I, O, TOption]) Stream(ctx context.Context,
	input I, opts ...TOption) (output *schema.StreamReader[O], err error) {
	return rp.s(ctx, input, opts...)
}

func (rp *runnablePacker[I, O, TOption]) Collect(ctx context.Context,
	input *schema.StreamReader[I], opts ...TOption) (output O, err error) {
	return rp.c(ctx, input, opts...)
}

func (rp *runnablePacker[I, O, TOption]) Transform(ctx context.Context,
	input *schema.StreamReader[I], opts ...TOption) (output *schema.StreamReader[O], err error) {
	return rp.t(ctx, input, opts...)
}

// wrapRunnableCtx rewires all four methods to pass through ctxWrapper
// first, so per-call option handling can install run-scoped context values.
func (rp *runnablePacker[I, O, TOption]) wrapRunnableCtx(ctxWrapper func(ctx context.Context, opts ...TOption) context.Context) {
	i, s, c, t := rp.i, rp.s, rp.c, rp.t
	rp.i = func(ctx context.Context, input I, opts ...TOption) (O, error) {
		return i(ctxWrapper(ctx, opts...), input, opts...)
	}
	rp.s = func(ctx context.Context, input I, opts ...TOption) (*schema.StreamReader[O], error) {
		return s(ctxWrapper(ctx, opts...), input, opts...)
	}
	rp.c = func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (O, error) {
		return c(ctxWrapper(ctx, opts...), input, opts...)
	}
	rp.t = func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (*schema.StreamReader[O], error) {
		return t(ctxWrapper(ctx, opts...), input, opts...)
	}
}

func (rp *runnablePacker[I, O, TOption]) toComposableRunnable() *composableRunnable {
	inputType := generic.TypeOf[I]()

	cr := &composableRunnable{
		genericHelper: newGenericHelper[I, O](),
		inputType:     inputType,
		outputType:    generic.TypeOf[O](),
		optionType:    generic.TypeOf[TOption](),
	}

	cr.i = func(ctx context.Context, input any, opts ...any) (any, error) {
		in, ok := input.(I)
		if !ok {
			// a nil passed through `any` is an untyped nil, so the assertion
			// above fails even when I is an interface a nil would satisfy;
			// substitute a typed nil of I in that one case.
			if input != nil || inputType.Kind() != reflect.Interface {
				panic(newUnexpectedInputTypeErr(inputType, reflect.TypeOf(input)))
			}
		}

		tos, err := convertOption[TOption](opts...)
		if err != nil {
			return nil, err
		}
		return rp.Invoke(ctx, in, tos...)
	}

	cr.t = func(ctx context.Context, input streamReader, opts ...any) (streamReader, error) {
		in, ok := unpackStreamReader[I](input)
		if !ok {
			panic(newUnexpectedInputTypeErr(reflect.TypeOf(in), input.getType()))
		}

		tos, err := convertOption[TOption](opts...)
		if err != nil {
			return nil, err
		}

		out, err := rp.Transform(ctx, in, tos...)
		if err != nil {
			return nil, err
		}

		return packStreamReader(out), nil
	}

	return cr
}

// drainStream reads sr to the end and concatenates the chunks into one
// value; the element type must have a registered concat function (or be a
// single chunk).
func drainStream[T any](sr *schema.StreamReader[T]) (T, error) {
	c, err := concatStreamReader(sr)
	if err != nil {
		var t T
		return t, fmt.Errorf("concat stream reader fail: %w", err)
	}

	return c, nil
}

// oneElementStream lifts a single value into a stream that yields it and
// ends.
func oneElementStream[T any](v T) *schema.StreamReader[T] {
	return schema.StreamReaderFromArray([]T{v})
}

// newRunnablePacker fills in whichever of the four methods the caller left
// nil. Each derivation prefers the implementation that loses the least:
// Invoke falls back to Stream (drain the output) before Collect (lift the
// input) before Transform (both); Stream prefers Transform over Invoke over
// Collect; and so on. The callback wrappers, when enabled, are applied to
// the natively-provided methods only — derived methods inherit them through
// the method they delegate to.
func newRunnablePacker[I, O, TOption any](i Invoke[I, O, TOption], s Stream[I, O, TOption],
	c Collect[I, O, TOption], t Transform[I, O, TOption], enableCallback bool) *runnablePacker[I, O, TOption] {

	if enableCallback {
		if i != nil {
			i = invokeWithCallbacks(i)
		}
		if s != nil {
			s = streamWithCallbacks(s)
		}
		if c != nil {
			c = collectWithCallbacks(c)
		}
		if t != nil {
			t = transformWithCallbacks(t)
		}
	}

	r := &runnablePacker[I, O, TOption]{i: i, s: s, c: c, t: t}

	if r.i == nil {
		switch {
		case s != nil: // Invoke = Stream + drain output
			r.i = func(ctx context.Context, input I, opts ...TOption) (O, error) {
				sr, err := s(ctx, input, opts...)
				if err != nil {
					var o O
					return o, err
				}
				return drainStream(sr)
			}
		case c != nil: // Invoke = lift input + Collect
			r.i = func(ctx context.Context, input I, opts ...TOption) (O, error) {
				return c(ctx, oneElementStream(input), opts...)
			}
		default: // Invoke = lift input + Transform + drain output
			r.i = func(ctx context.Context, input I, opts ...TOption) (O, error) {
				sr, err := t(ctx, oneElementStream(input), opts...)
				if err != nil {
					var o O
					return o, err
				}
				return drainStream(sr)
			}
		}
	}

	if r.s == nil {
		switch {
		case t != nil: // Stream = lift input + Transform
			r.s = func(ctx context.Context, input I, opts ...TOption) (*schema.StreamReader[O], error) {
				return t(ctx, oneElementStream(input), opts...)
			}
		case i != nil: // Stream = Invoke + lift output
			r.s = func(ctx context.Context, input I, opts ...TOption) (*schema.StreamReader[O], error) {
				out, err := i(ctx, input, opts...)
				if err != nil {
					return nil, err
				}
				return oneElementStream(out), nil
			}
		default: // Stream = lift input + Collect + lift output
			r.s = func(ctx context.Context, input I, opts ...TOption) (*schema.StreamReader[O], error) {
				out, err := c(ctx, oneElementStream(input), opts...)
				if err != nil {
					return nil, err
				}
				return oneElementStream(out), nil
			}
		}
	}

	if r.c == nil {
		switch {
		case t != nil: // Collect = Transform + drain output
			r.c = func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (O, error) {
				sr, err := t(ctx, input, opts...)
				if err != nil {
					var o O
					return o, err
				}
				return drainStream(sr)
			}
		case i != nil: // Collect = drain input + Invoke
			r.c = func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (O, error) {
				in, err := drainStream(input)
				if err != nil {
					var o O
					return o, err
				}
				return i(ctx, in, opts...)
			}
		default: // Collect = drain input + Stream + drain output
			r.c = func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (O, error) {
				var o O
				in, err := drainStream(input)
				if err != nil {
					return o, err
				}
				sr, err := s(ctx, in, opts...)
				if err != nil {
					return o, err
				}
				return drainStream(sr)
			}
		}
	}

	if r.t == nil {
		switch {
		case s != nil: // Transform = drain input + Stream
			r.t = func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (*schema.StreamReader[O], error) {
				in, err := drainStream(input)
				if err != nil {
					return nil, err
				}
				return s(ctx, in, opts...)
			}
		case c != nil: // Transform = Collect + lift output
			r.t = func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (*schema.StreamReader[O], error) {
				out, err := c(ctx, input, opts...)
				if err != nil {
					return nil, err
				}
				return oneElementStream(out), nil
			}
		default: // Transform = drain input + Invoke + lift output
			r.t = func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (*schema.StreamReader[O], error) {
				in, err := drainStream(input)
				if err != nil {
					return nil, err
				}
				out, err := i(ctx, in, opts...)
				if err != nil {
					return nil, err
				}
				return oneElementStream(out), nil
			}
		}
	}

	return r
}

// toGenericRunnable narrows a type-erased composableRunnable back to a
// typed packer, re-asserting outputs against O on the way out.
func toGenericRunnable[I, O any](cr *composableRunnable, ctxWrapper func(ctx context.Context, opts ...Option) context.Context) (
	*runnablePacker[I, O, Option], error) {

	i := func(ctx context.Context, input I, opts ...Option) (output O, err error) {
		out, err := cr.i(ctx, input, toAnyList(opts)...)
		if err != nil {
			return output, err
		}

		to, ok := out.(O)
		if !ok {
			// same untyped-nil caveat as toComposableRunnable, on the output
			// side this time
			if out != nil || generic.TypeOf[O]().Kind() != reflect.Interface {
				panic(newUnexpectedInputTypeErr(generic.TypeOf[O](), reflect.TypeOf(out)))
			}
		}
		return to, nil
	}

	t := func(ctx context.Context, input *schema.StreamReader[I],
		opts ...Option) (*schema.StreamReader[O], error) {
		out, err := cr.t(ctx, packStreamReader(input), toAnyList(opts)...)
		if err != nil {
			return nil, err
		}

		output, ok := unpackStreamReader[O](out)
		if !ok {
			panic("impossible")
		}

		return output, nil
	}

	r := newRunnablePacker(i, nil, nil, t, false)
	r.wrapRunnableCtx(ctxWrapper)

	return r, nil
}

// inputKeyedComposableRunnable wraps r so its input arrives wrapped as
// {key: value} inside a map, as nodes with WithInputKey expect.
func inputKeyedComposableRunnable(key string, r *composableRunnable) *composableRunnable {
	wrapper := *r
	wrapper.genericHelper = wrapper.genericHelper.forMapInput()
	wrapper.inputType = generic.TypeOf[map[string]any]()

	i := r.i
	wrapper.i = func(ctx context.Context, input any, opts ...any) (any, error) {
		v, ok := input.(map[string]any)[key]
		if !ok {
			return nil, fmt.Errorf("cannot find input key: %s", key)
		}
		return i(ctx, v, opts...)
	}

	t := r.t
	wrapper.t = func(ctx context.Context, input streamReader, opts ...any) (output streamReader, err error) {
		nInput, ok := r.inputStreamFilter(key, input)
		if !ok {
			return nil, fmt.Errorf("inputStreamFilter failed, key= %s, node name= %s, err= %w", key, r.nodeInfo.name, err)
		}
		return t(ctx, nInput, opts...)
	}

	return &wrapper
}

// outputKeyedComposableRunnable wraps r so its output leaves wrapped as
// {key: value}, as nodes with WithOutputKey promise their successors.
func outputKeyedComposableRunnable(key string, r *composableRunnable) *composableRunnable {
	wrapper := *r
	wrapper.genericHelper = wrapper.genericHelper.forMapOutput()
	wrapper.outputType = generic.TypeOf[map[string]any]()

	i := r.i
	wrapper.i = func(ctx context.Context, input any, opts ...any) (any, error) {
		out, err := i(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		return map[string]any{key: out}, nil
	}

	t := r.t
	wrapper.t = func(ctx context.Context, input streamReader, opts ...any) (streamReader, error) {
		out, err := t(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		return out.withKey(key), nil
	}

	return &wrapper
}

func composablePassthrough() *composableRunnable {
	r := &composableRunnable{isPassthrough: true, nodeInfo: &nodeInfo{}}

	r.i = func(ctx context.Context, input any, opts ...any) (any, error) {
		return input, nil
	}

	r.t = func(ctx context.Context, input streamReader, opts ...any) (streamReader, error) {
		return input, nil
	}

	r.meta = &executorMeta{
		component:                  ComponentOfPassthrough,
		isComponentCallbackEnabled: false,
		componentImplType:          "Passthrough",
	}

	return r
}
