// Package callbacks exposes the lifecycle hooks a graph node fires during a
// run: before invocation, after a successful return, on error, and on each
// side of a streamed boundary. Hook registration happens two ways — globally
// via AppendGlobalHandlers, or per-run through the Option values a caller
// passes to Invoke/Stream/Collect/Transform.
package callbacks

import "github.com/graphrun/graphrun/internal/callbacks"

// CallbackTiming names one of the five points in a node's lifecycle a
// Handler can observe.
type CallbackTiming = callbacks.CallbackTiming

const (
	TimingOnStart CallbackTiming = iota
	TimingOnEnd
	TimingOnError
	TimingOnStartWithStreamInput
	TimingOnEndWithStreamOutput
)

type (
	// RunInfo carries the identifying details of the node a callback fired
	// for: its key, its component kind, and the graph it belongs to.
	RunInfo = callbacks.RunInfo

	// CallbackInput is the data a node hands its callbacks on entry. Its
	// concrete shape is component-specific — a model node's input looks
	// nothing like a retriever's — so handlers recover it with a
	// component's own ConvCallbackInput helper rather than a direct
	// type assertion:
	//
	//	in := model.ConvCallbackInput(raw)
	//	if in == nil {
	//		return // not a model callback, ignore
	//	}
	CallbackInput = callbacks.CallbackInput

	// CallbackOutput mirrors CallbackInput on the way out of a node.
	CallbackOutput = callbacks.CallbackOutput

	// Handler reacts to some subset of the five CallbackTiming points.
	// Implement TimingChecker alongside it to skip timings a handler
	// doesn't care about; callbacks.NewHandlerBuilder does this for you.
	Handler = callbacks.Handler

	// TimingChecker lets a Handler opt out of timings it has no hook for,
	// so the dispatcher can skip calling it rather than invoking a no-op.
	TimingChecker = callbacks.TimingChecker
)

// AppendGlobalHandlers registers handlers that fire for every node in every
// graph, ahead of any run-scoped handlers passed via Option. Call it during
// process init only — it is not safe to call concurrently with a run.
func AppendGlobalHandlers(handlers ...Handler) {
	callbacks.GlobalHandlers = append(callbacks.GlobalHandlers, handlers...)
}
