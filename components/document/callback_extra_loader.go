package document

import (
	"github.com/graphrun/graphrun/callbacks"
	"github.com/graphrun/graphrun/schema"
)

type LoaderCallbackInput struct {
	//   - S3: s3://bucket/key
	//   - HTTP: https://example.com/doc
	Source Source

	Extra map[string]any
}

type LoaderCallbackOutput struct {
	Source Source

	Docs []*schema.Document

	Extra map[string]any
}

//	input := &LoaderCallbackInput{Source: src}
//	converted := ConvLoaderCallbackInput(input)
//	// converted == input
//
//	converted := ConvLoaderCallbackInput(Source{URI: "s3://bucket/doc"})
func ConvLoaderCallbackInput(src callbacks.CallbackInput) *LoaderCallbackInput {
	switch t := src.(type) {
	case *LoaderCallbackInput:
		return t
	case Source:
		return &LoaderCallbackInput{
			Source: t,
		}
	default:
		return nil
	}
}

//	output := &LoaderCallbackOutput{Docs: docs}
//	converted := ConvLoaderCallbackOutput(output)
//	// converted == output
//
//	output := []*schema.Document{...}
//	converted := ConvLoaderCallbackOutput(output)
func ConvLoaderCallbackOutput(src callbacks.CallbackOutput) *LoaderCallbackOutput {
	switch t := src.(type) {
	case *LoaderCallbackOutput:
		return t
	case []*schema.Document:
		return &LoaderCallbackOutput{
			Docs: t,
		}
	default:
		return nil
	}
}
