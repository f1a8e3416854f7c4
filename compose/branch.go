package compose

import (
	"context"
	"fmt"
	"reflect"

	"github.com/graphrun/graphrun/internal/generic"
	"github.com/graphrun/graphrun/schema"
)

// GraphBranchCondition picks a single successor node name from the input.
type GraphBranchCondition[T any] func(ctx context.Context, in T) (endNode string, err error)

// StreamGraphBranchCondition is the streaming variant of GraphBranchCondition:
// the condition may inspect leading chunks of the stream to decide routing.
type StreamGraphBranchCondition[T any] func(ctx context.Context, in *schema.StreamReader[T]) (endNode string, err error)

// GraphMultiBranchCondition picks a set of successor node names from the
// input; every selected node runs.
type GraphMultiBranchCondition[T any] func(ctx context.Context, in T) (endNode map[string]bool, err error)

// StreamGraphMultiBranchCondition is the streaming variant of
// GraphMultiBranchCondition.
type StreamGraphMultiBranchCondition[T any] func(ctx context.Context, in *schema.StreamReader[T]) (endNodes map[string]bool, err error)

// GraphBranch attaches a routing decision to a node's output. Exactly one of
// pickFromValue/pickFromStream fires per evaluation, depending on whether the
// source node's output arrived as a value or a stream; the returned names are
// already validated against targets.
type GraphBranch struct {
	pickFromValue  func(ctx context.Context, input any) (selected []string, err error)
	pickFromStream func(ctx context.Context, input streamReader) (selected []string, err error)

	inputType reflect.Type
	*genericHelper

	targets map[string]bool

	// order disambiguates multiple branches registered on the same source
	// node when building the run plan.
	order int

	controlOnly bool
}

// GetEndNode returns the branch's declared set of allowed targets.
func (gb *GraphBranch) GetEndNode() map[string]bool {
	return gb.targets
}

// checkTargets turns a condition's chosen set into a slice, rejecting any
// name outside the branch's declared targets.
func checkTargets(chosen map[string]bool, allowed map[string]bool) ([]string, error) {
	selected := make([]string, 0, len(chosen))
	for name := range chosen {
		if !allowed[name] {
			return nil, fmt.Errorf("branch invocation returns unintended end node: %s", name)
		}
		selected = append(selected, name)
	}
	return selected, nil
}

// wrapBranchRunnable erases the condition's input type T behind the two
// any-typed pickers the runner calls.
func wrapBranchRunnable[T any](r *runnablePacker[T, []string, any], targets map[string]bool) *GraphBranch {
	pickFromValue := func(ctx context.Context, input any) ([]string, error) {
		in, ok := input.(T)
		if !ok {
			// a nil passed through `any` loses its static type; if T is itself
			// an interface, construct a typed nil of T instead of failing the
			// assertion below.
			if input != nil || generic.TypeOf[T]().Kind() != reflect.Interface {
				panic(newUnexpectedInputTypeErr(generic.TypeOf[T](), reflect.TypeOf(input)))
			}
		}
		return r.Invoke(ctx, in)
	}

	pickFromStream := func(ctx context.Context, input streamReader) ([]string, error) {
		in, ok := unpackStreamReader[T](input)
		if !ok {
			panic(newUnexpectedInputTypeErr(generic.TypeOf[T](), input.getType()))
		}
		return r.Collect(ctx, in)
	}

	return &GraphBranch{
		pickFromValue:  pickFromValue,
		pickFromStream: pickFromStream,
		inputType:      generic.TypeOf[T](),
		genericHelper:  newGenericHelper[T, T](),
		targets:        targets,
	}
}

// NewGraphMultiBranch builds a branch whose condition may select several
// targets at once; every selected target receives the value.
func NewGraphMultiBranch[T any](condition GraphMultiBranchCondition[T], endNodes map[string]bool) *GraphBranch {
	pick := func(ctx context.Context, in T, opts ...any) ([]string, error) {
		chosen, err := condition(ctx, in)
		if err != nil {
			return nil, err
		}
		return checkTargets(chosen, endNodes)
	}

	return wrapBranchRunnable(newRunnablePacker(pick, nil, nil, nil, false), endNodes)
}

// NewStreamGraphMultiBranch is the streaming-input variant of NewGraphMultiBranch.
func NewStreamGraphMultiBranch[T any](condition StreamGraphMultiBranchCondition[T],
	endNodes map[string]bool) *GraphBranch {

	pick := func(ctx context.Context, in *schema.StreamReader[T], opts ...any) ([]string, error) {
		chosen, err := condition(ctx, in)
		if err != nil {
			return nil, err
		}
		return checkTargets(chosen, endNodes)
	}

	return wrapBranchRunnable(newRunnablePacker(nil, nil, pick, nil, false), endNodes)
}

// NewGraphBranch builds a single-target branch from a condition function.
//
//	cond := func(ctx context.Context, in int) (string, error) {
//		if in >= 10 {
//			return "high", nil
//		}
//		return "low", nil
//	}
//	branch := compose.NewGraphBranch(cond, map[string]bool{"high": true, "low": true})
//	graph.AddBranch("classify", branch)
func NewGraphBranch[T any](condition GraphBranchCondition[T], endNodes map[string]bool) *GraphBranch {
	return NewGraphMultiBranch(func(ctx context.Context, in T) (map[string]bool, error) {
		name, err := condition(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]bool{name: true}, nil
	}, endNodes)
}

// NewStreamGraphBranch is the streaming-input variant of NewGraphBranch: the
// condition can route on the stream's leading chunks without draining it.
func NewStreamGraphBranch[T any](condition StreamGraphBranchCondition[T], endNodes map[string]bool) *GraphBranch {
	return NewStreamGraphMultiBranch(func(ctx context.Context, in *schema.StreamReader[T]) (map[string]bool, error) {
		name, err := condition(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]bool{name: true}, nil
	}, endNodes)
}
