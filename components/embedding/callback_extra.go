package embedding

import "github.com/graphrun/graphrun/callbacks"

type TokenUsage struct {
	PromptTokens int

	CompletionTokens int

	TotalTokens int
}

type Config struct {
	//   - text-embedding-ada-002 (OpenAI)
	//   - sentence-transformers/all-MiniLM-L6-v2
	//   - bge-large-zh (BAAI)
	Model string

	EncodingFormat string
}

type ComponentExtra struct {
	Config *Config

	TokenUsage *TokenUsage
}

type CallbackInput struct {
	Texts []string

	Config *Config

	Extra map[string]any
}

type CallbackOutput struct {
	Embeddings [][]float64

	Config *Config

	TokenUsage *TokenUsage

	Extra map[string]any
}

//	input := &CallbackInput{Texts: texts}
//	converted := ConvCallbackInput(input)
//
//	converted := ConvCallbackInput([]string{"text1", "text2"})
func ConvCallbackInput(src callbacks.CallbackInput) *CallbackInput {
	switch t := src.(type) {
	case *CallbackInput:
		return t
	case []string:
		return &CallbackInput{
			Texts: t,
		}
	default:
		return nil
	}
}

//	output := &CallbackOutput{Embeddings: vectors}
//	converted := ConvCallbackOutput(output)
//
//	converted := ConvCallbackOutput(vectors)
func ConvCallbackOutput(src callbacks.CallbackOutput) *CallbackOutput {
	switch t := src.(type) {
	case *CallbackOutput:
		return t
	case [][]float64:
		return &CallbackOutput{
			Embeddings: t,
		}
	default:
		return nil
	}
}
