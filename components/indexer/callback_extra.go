package indexer

import (
	"github.com/graphrun/graphrun/callbacks"
	"github.com/graphrun/graphrun/schema"
)

type CallbackInput struct {
	Docs []*schema.Document

	Extra map[string]any
}

type CallbackOutput struct {
	IDs []string

	Extra map[string]any
}

//	input := &CallbackInput{Docs: docs}
//	converted := ConvCallbackInput(input)
//
//	converted := ConvCallbackInput(docs)
func ConvCallbackInput(src callbacks.CallbackInput) *CallbackInput {
	switch t := src.(type) {
	case *CallbackInput:
		return t
	case []*schema.Document:
		return &CallbackInput{
			Docs: t,
		}
	default:
		return nil
	}
}

//	output := &CallbackOutput{IDs: ids}
//	converted := ConvCallbackOutput(output)
//
//	converted := ConvCallbackOutput(ids)
func ConvCallbackOutput(src callbacks.CallbackOutput) *CallbackOutput {
	switch t := src.(type) {
	case *CallbackOutput:
		return t
	case []string:
		return &CallbackOutput{
			IDs: t,
		}
	default:
		return nil
	}
}
