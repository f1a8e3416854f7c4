// Package model defines the chat-model component contract: turn a message
// history into a response message, either all at once or as a stream of
// deltas a caller concatenates.
package model

import (
	"context"

	"github.com/graphrun/graphrun/schema"
)

// BaseChatModel is the minimum a chat-model node needs: generate a full
// response, or stream one chunk at a time.
//
//go:generate  mockgen -destination ../../internal/mock/components/model/ChatModel_mock.go --package model -source interface.go
type BaseChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...Option) (*schema.Message, error)

	Stream(ctx context.Context, input []*schema.Message, opts ...Option) (*schema.StreamReader[*schema.Message], error)
}

// ToolCallingChatModel additionally knows how to bind a fixed tool set to
// itself, returning a model instance that will emit tool-call messages
// rather than plain text when it decides a tool applies.
type ToolCallingChatModel interface {
	BaseChatModel

	WithTools(tools []*schema.ToolInfo) (ToolCallingChatModel, error)
}
