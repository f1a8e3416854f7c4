// Package callbacks lets callers observe node execution inside a graphrun
// graph without modifying the nodes themselves: logging, metrics, tracing,
// and audit trails all attach here instead of inside component code.
//
// A handler implements any subset of the five timings:
//   - OnStart: a node begins executing.
//   - OnEnd: a node finishes successfully.
//   - OnError: a node fails.
//   - OnStartWithStreamInput: a node begins consuming a stream.
//   - OnEndWithStreamOutput: a node finishes producing a stream.
//
// Handlers are built one of three ways: HandlerBuilder for a functional,
// closure-based handler; the helper builders in utils/callbacks for
// component-specific typed handlers; or aspect injection, where a component
// implementation calls the OnStart/OnEnd/OnError functions directly. Global
// handlers (registered once) and per-run handlers (passed to Invoke/Stream)
// compose, and both run under the per-node callback manager the graph
// injects into the context automatically.
package callbacks
