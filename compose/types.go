package compose

import "github.com/graphrun/graphrun/components"

type component = components.Component

const (
	ComponentOfUnknown component = "unknown"

	ComponentOfGraph component = "Graph"

	ComponentOfWorkflow component = "Workflow"

	ComponentOfChain component = "Chain"

	ComponentOfPassthrough component = "Passthrough"

	ComponentOfToolsNode component = "ToolsNode"

	ComponentOfLambda component = "LambdaNode"
)

type NodeTriggerMode string

const (
	AnyPredecessor NodeTriggerMode = "any_predecessor"

	AllPredecessor NodeTriggerMode = "all_predecessor"
)
