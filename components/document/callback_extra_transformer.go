package document

import (
	"github.com/graphrun/graphrun/callbacks"
	"github.com/graphrun/graphrun/schema"
)

type TransformerCallbackInput struct {
	Input []*schema.Document

	Extra map[string]any
}

type TransformerCallbackOutput struct {
	Output []*schema.Document

	Extra map[string]any
}

//	input := &TransformerCallbackInput{Input: docs}
//	converted := ConvTransformerCallbackInput(input)
//
//	converted := ConvTransformerCallbackInput(docs)
func ConvTransformerCallbackInput(src callbacks.CallbackInput) *TransformerCallbackInput {
	switch t := src.(type) {
	case *TransformerCallbackInput:
		return t
	case []*schema.Document:
		return &TransformerCallbackInput{
			Input: t,
		}
	default:
		return nil
	}
}

//	output := &TransformerCallbackOutput{Output: docs}
//	converted := ConvTransformerCallbackOutput(output)
//
//	converted := ConvTransformerCallbackOutput(docs)
func ConvTransformerCallbackOutput(src callbacks.CallbackOutput) *TransformerCallbackOutput {
	switch t := src.(type) {
	case *TransformerCallbackOutput:
		return t
	case []*schema.Document:
		return &TransformerCallbackOutput{
			Output: t,
		}
	default:
		return nil
	}
}
