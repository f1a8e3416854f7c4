// Package compose is graphrun's orchestration core: it turns a declared
// set of components and their connections into a compiled, runnable
// pipeline.
//
// # Orchestration styles
//
// Three ways to declare a pipeline, all compiling down to the same graph
// IR and channel machinery:
//
//   - Chain: a simple linear sequence, built with
//     chain.AppendXxx(...).AppendXxx(...). Good for straight-line flows
//     like prompt -> model -> tools.
//   - Graph: a general directed graph with branches, fan-in, and
//     (in Pregel mode) cycles. Nodes are added by name and wired with
//     AddEdge/AddBranch.
//   - Workflow: a declarative, field-mapping-first style where each node
//     declares AddInput/AddDependency against named predecessor fields
//     rather than whole-value edges.
//
// # Execution paradigms
//
// Every compiled graph exposes all four of Invoke, Stream, Collect, and
// Transform regardless of which paradigm the underlying nodes actually
// implement; the runtime adapts between value and stream automatically
// (see the Runnable contract in this package and schema.StreamReader).
//
// # Core capabilities
//
//   - Generic, build-time-checked edges: AddEdge validates that a
//     source's output type can reach a target's input type the moment
//     it's called. An edge touching a passthrough node is checked once
//     that node's type has been inferred, and an edge whose types only
//     may match (an interface or any source) is checked again at run time.
//   - Field mapping: a FieldMapping can route a single struct field (or a
//     whole value) from a source's output into a target's input, with an
//     optional transform in between.
//   - Callbacks: every node is wrapped with the OnStart/OnEnd/OnError
//     lifecycle from the callbacks package automatically.
//   - State: an optional per-run value shared across nodes (and
//     subgraphs, unless they declare their own), mutated only through
//     ProcessState so concurrent nodes never race on it.
//   - Interrupt and checkpoint: a node can interrupt a run; the pending
//     channel contents and state are captured into a checkpoint a
//     CheckPointStore can persist, and a later Invoke can resume from it.
//   - Branching: a node's output can be routed to a subset of its declared
//     successors based on a runtime condition.
//
// # Quick start
//
//	chain := compose.NewChain[map[string]any, *schema.Message]()
//	chain.AppendChatTemplate(tpl).
//		AppendChatModel(model)
//	r, _ := chain.Compile(ctx)
//	out, _ := r.Invoke(ctx, map[string]any{"query": "hello"})
//
//	g := compose.NewGraph[map[string]any, *schema.Message]()
//	g.AddChatTemplateNode("tpl", tpl)
//	g.AddChatModelNode("model", model)
//	g.AddEdge(compose.START, "tpl")
//	g.AddEdge("tpl", "model")
//	g.AddEdge("model", compose.END)
//	r, _ = g.Compile(ctx)
//	out, _ = r.Invoke(ctx, map[string]any{"query": "hello"})
package compose
