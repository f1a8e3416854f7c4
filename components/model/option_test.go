package model

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/graphrun/graphrun/schema"
)

func TestOptions(t *testing.T) {
	convey.Convey("merges common options", t, func() {
		var (
			modelName           = "model"
			temperature float32 = 0.9
			maxToken            = 5000
			topP        float32 = 0.8

			defaultModel               = "default_model"
			defaultTemperature float32 = 1.0
			defaultMaxTokens           = 1000
			defaultTopP        float32 = 0.5

			tools = []*schema.ToolInfo{
				{Name: "asd"},
				{Name: "qwe"},
			}
			toolChoice = schema.ToolChoiceForced
		)

		opts := GetCommonOptions(
			&Options{
				Model:       &defaultModel,
				Temperature: &defaultTemperature,
				MaxTokens:   &defaultMaxTokens,
				TopP:        &defaultTopP,
			},
			WithModel(modelName),
			WithTemperature(temperature),
			WithMaxTokens(maxToken),
			WithTopP(topP),
			WithStop([]string{"hello", "bye"}),
			WithTools(tools),
			WithToolChoice(toolChoice),
		)

		convey.So(opts, convey.ShouldResemble, &Options{
			Model:       &modelName,
			Temperature: &temperature,
			MaxTokens:   &maxToken,
			TopP:        &topP,
			Stop:        []string{"hello", "bye"},
			Tools:       tools,
			ToolChoice:  &toolChoice,
		})
	})

	convey.Convey("handles a nil tool option", t, func() {
		opts := GetCommonOptions(
			&Options{
				Tools: []*schema.ToolInfo{
					{Name: "asd"},
					{Name: "qwe"},
				},
			},
			WithTools(nil),
		)

		convey.So(opts.Tools, convey.ShouldNotBeNil)

		convey.So(len(opts.Tools), convey.ShouldEqual, 0)
	})
}

type implOption struct {
	userID int64
	name   string
}

//	opt := GetImplSpecificOptions(&implOption{}, WithUserID(101))
func WithUserID(uid int64) Option {
	return WrapImplSpecificOptFn[implOption](func(i *implOption) {
		i.userID = uid
	})
}

//	opt := GetImplSpecificOptions(&implOption{}, WithName("Wang"))
func WithName(n string) Option {
	return WrapImplSpecificOptFn[implOption](func(i *implOption) {
		i.name = n
	})
}

func TestImplSpecificOption(t *testing.T) {
	convey.Convey("extracts implementation-specific options", t, func() {
		opt := GetImplSpecificOptions(
			&implOption{},
			WithUserID(101),
			WithName("Wang"),
		)

		convey.So(opt, convey.ShouldEqual, &implOption{
			userID: 101,
			name:   "Wang",
		})
	})
}
