package agent

import (
	"errors"

	"github.com/graphrun/graphrun/components/model"
	"github.com/graphrun/graphrun/schema"
)

//	model, err := ChatModelWithTools(myModel, toolInfos)
//	if err != nil {...}
func ChatModelWithTools(toolCallingModel model.ToolCallingChatModel,
	toolInfos []*schema.ToolInfo) (model.BaseChatModel, error) {

	if toolCallingModel == nil {
		return nil, errors.New("toolCallingModel is nil")
	}

	if len(toolInfos) == 0 {
		return toolCallingModel, nil
	}

	return toolCallingModel.WithTools(toolInfos)
}
