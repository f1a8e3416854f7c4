package compose

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/graphrun/graphrun/internal/generic"
	"github.com/graphrun/graphrun/schema"
)

// GenLocalState produces the per-run shared state when a graph compiled with
// WithGenLocalState starts a new run.
type GenLocalState[S any] func(ctx context.Context) (state S)

// runStateKey is the context key under which a run's stateHolder travels.
type runStateKey struct{}

// stateHolder pairs the user state with the mutex that serializes every
// access to it. One holder exists per top-level run; subgraphs without their
// own generator share it through the context.
type stateHolder struct {
	value any
	mu    sync.Mutex
}

type StatePreHandler[I, S any] func(ctx context.Context, in I, state S) (I, error)

type StatePostHandler[O, S any] func(ctx context.Context, out O, state S) (O, error)

type StreamStatePreHandler[I, S any] func(ctx context.Context, in *schema.StreamReader[I], state S) (*schema.StreamReader[I], error)

type StreamStatePostHandler[O, S any] func(ctx context.Context, out *schema.StreamReader[O], state S) (*schema.StreamReader[O], error)

// withState adapts a (value, state) -> value function into the plain
// value -> value shape composableRunnable wants, resolving and locking the
// run state around each call. The four handler converters below are all
// instances of this.
func withState[T, S any](f func(ctx context.Context, v T, state S) (T, error)) func(ctx context.Context, v T, opts ...any) (T, error) {
	return func(ctx context.Context, v T, opts ...any) (T, error) {
		state, unlock, err := lockState[S](ctx)
		if err != nil {
			return v, err
		}
		defer unlock()
		return f(ctx, v, state)
	}
}

func statePreRunnable[I, S any](handler StatePreHandler[I, S]) *composableRunnable {
	return runnableLambda[I, I](withState[I, S](handler), nil, nil, nil, false)
}

func statePostRunnable[O, S any](handler StatePostHandler[O, S]) *composableRunnable {
	return runnableLambda[O, O](withState[O, S](handler), nil, nil, nil, false)
}

func streamStatePreRunnable[I, S any](handler StreamStatePreHandler[I, S]) *composableRunnable {
	return runnableLambda[I, I](nil, nil, nil, withState[*schema.StreamReader[I], S](handler), false)
}

func streamStatePostRunnable[O, S any](handler StreamStatePostHandler[O, S]) *composableRunnable {
	return runnableLambda[O, O](nil, nil, nil, withState[*schema.StreamReader[O], S](handler), false)
}

// ProcessState gives handler exclusive access to the run's state for the
// duration of the call. It is the only way user code touches state:
//
//	lambdaFunc := func(ctx context.Context, in string, opts ...any) (string, error) {
//		err := compose.ProcessState[*testState](ctx, func(ctx context.Context, state *testState) error {
//			state.Count++
//			return nil
//		})
//		if err != nil {
//			return "", err
//		}
//		return in, nil
//	}
func ProcessState[S any](ctx context.Context, handler func(context.Context, S) error) error {
	state, unlock, err := lockState[S](ctx)
	if err != nil {
		return fmt.Errorf("get state from context fail: %w", err)
	}
	defer unlock()
	return handler(ctx, state)
}

// lockState resolves the run's state from ctx as S and acquires its mutex.
// The caller must invoke the returned unlock exactly once.
func lockState[S any](ctx context.Context) (S, func(), error) {
	var zero S

	v := ctx.Value(runStateKey{})
	if v == nil {
		return zero, nil, fmt.Errorf("have not set state")
	}

	holder := v.(*stateHolder)
	state, ok := holder.value.(S)
	if !ok {
		return zero, nil, fmt.Errorf("unexpected state type. expected: %v, got: %v",
			generic.TypeOf[S](), reflect.TypeOf(holder.value))
	}

	holder.mu.Lock()
	return state, holder.mu.Unlock, nil
}
