// Package model defines the interfaces a chat model component implements
// to take part in a graph.
//
// BaseChatModel exposes Generate and Stream, the synchronous and streaming
// forms of a single turn of chat completion. ToolCallingChatModel extends
// it with an immutable WithTools binding so a model node can be configured
// with the tools it is allowed to call without mutating the original
// instance.
//
// Prefer ToolCallingChatModel over mutating a BaseChatModel's tool set in
// place; WithTools returns a new bound model, so the same base model can be
// reused with different tool sets across nodes.
package model
