package prompt

import (
	"context"

	"github.com/graphrun/graphrun/callbacks"
	"github.com/graphrun/graphrun/components"
	"github.com/graphrun/graphrun/schema"
)

type DefaultChatTemplate struct {
	templates []schema.MessagesTemplate

	formatType schema.FormatType
}

//	template := prompt.FromMessages(
//		schema.FString,
//	)
//
//	chain := compose.NewChain[map[string]any, []*schema.Message]()
//	chain.AppendChatTemplate(template)
func FromMessages(formatType schema.FormatType, templates ...schema.MessagesTemplate) *DefaultChatTemplate {
	return &DefaultChatTemplate{
		templates:  templates,
		formatType: formatType,
	}
}

func (t *DefaultChatTemplate) Format(ctx context.Context,
	vs map[string]any, opts ...Option) (result []*schema.Message, err error) {
	callbacks.EnsureRunInfo(ctx, t.GetType(), components.ComponentOfPrompt)

	callbacks.OnStart(ctx, &CallbackInput{
		Variables: vs,
		Templates: t.templates,
	})

	defer func() {
		if err != nil {
			_ = callbacks.OnError(ctx, err)
		}
	}()

	result = make([]*schema.Message, 0, len(t.templates))

	for _, template := range t.templates {
		msgs, err := template.Format(ctx, vs, t.formatType)
		if err != nil {
			return nil, err
		}

		result = append(result, msgs...)
	}

	_ = callbacks.OnEnd(ctx, &CallbackOutput{
		Result:    result,
		Templates: t.templates,
	})

	return result, nil
}

func (t *DefaultChatTemplate) GetType() string {
	return "Default"
}

func (t *DefaultChatTemplate) IsCallbacksEnabled() bool {
	return true
}
