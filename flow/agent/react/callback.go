package react

import (
	"github.com/graphrun/graphrun/callbacks"
	template "github.com/graphrun/graphrun/utils/callbacks"
)

//	callback := BuildAgentCallback(modelHandler, toolHandler)
//	agent, err := react.NewAgent(ctx, &react.AgentConfig{})
//	if err != nil {...}
//	agent.Generate(ctx, input, agent.WithComposeOptions(compose.WithCallbacks(callback)))
func BuildAgentCallback(modelHandler *template.ModelCallbackHandler, toolHandler *template.ToolCallbackHandler) callbacks.Handler {
	return template.NewHandlerHelper().ChatModel(modelHandler).Tool(toolHandler).Handler()
}
