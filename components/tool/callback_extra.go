package tool

import "github.com/graphrun/graphrun/callbacks"

type CallbackInput struct {
	ArgumentsInJSON string

	//   - "trace_id": "abc-123-def"
	//   - "user_id": "user_456"
	//   - "source": "chat_interface"
	//   - "priority": "high"
	Extra map[string]any
}

type CallbackOutput struct {
	Response string

	//   - "duration_ms": "123.45"
	//   - "status": "success"
	//   - "error_code": "E001"
	//   - "result_size": "1024"
	//   - "cache_hit": "false"
	Extra map[string]any
}

//	input := &tool.CallbackInput{ArgumentsInJSON: `{"query": "test"}`}
//	converted := tool.ConvCallbackInput(input)
//	// converted == input
//
//	converted := tool.ConvCallbackInput(input)
//
//	input := 123
//	converted := tool.ConvCallbackInput(input)
//	// converted == nil
func ConvCallbackInput(src callbacks.CallbackInput) *CallbackInput {
	switch t := src.(type) {
	case *CallbackInput:
		return t
	case string:
		return &CallbackInput{ArgumentsInJSON: t}
	default:
		return nil
	}
}

//	converted := tool.ConvCallbackOutput(output)
//	// converted == output
//
//	converted := tool.ConvCallbackOutput(output)
//
//	output := []string{"result"}
//	converted := tool.ConvCallbackOutput(output)
//	// converted == nil
func ConvCallbackOutput(src callbacks.CallbackOutput) *CallbackOutput {
	switch t := src.(type) {
	case *CallbackOutput:
		return t
	case string:
		return &CallbackOutput{Response: t}
	default:
		return nil
	}
}
