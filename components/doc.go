// Package components defines the shared types every concrete component
// package (model, tool, prompt, retriever, indexer, embedding, document)
// builds on:
//   - Typer: identifies a component's concrete implementation for
//     diagnostics and callback tagging.
//   - Checker: lets a component opt out of the default callback injection
//     the graph otherwise applies to it automatically.
//   - Component: the enumeration of component kinds a graph node can wrap.
package components
