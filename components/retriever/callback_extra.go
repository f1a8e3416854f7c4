package retriever

import (
	"github.com/graphrun/graphrun/callbacks"
	"github.com/graphrun/graphrun/schema"
)

type CallbackInput struct {
	Query string

	TopK int

	//   - "category = 'tech'"
	//   - "score > 0.8"
	//   - "tags @> '[\"important\"]'"
	Filter string

	ScoreThreshold *float64

	Extra map[string]any
}

type CallbackOutput struct {
	Docs []*schema.Document

	Extra map[string]any
}

//	converted := ConvCallbackInput(input)
func ConvCallbackInput(src callbacks.CallbackInput) *CallbackInput {
	switch t := src.(type) {
	case *CallbackInput:
		return t
	case string:
		return &CallbackInput{
			Query: t,
		}
	default:
		return nil
	}
}

//	output := &CallbackOutput{Docs: docs}
//	converted := ConvCallbackOutput(output)
//
//	converted := ConvCallbackOutput(docs)
func ConvCallbackOutput(src callbacks.CallbackOutput) *CallbackOutput {
	switch t := src.(type) {
	case *CallbackOutput:
		return t
	case []*schema.Document:
		return &CallbackOutput{
			Docs: t,
		}
	default:
		return nil
	}
}
