package compose

import (
	"context"
	"reflect"

	"github.com/graphrun/graphrun/components"
)

type GraphNodeInfo struct {
	Component components.Component
	Instance any
	GraphAddNodeOpts []GraphAddNodeOpt
	InputType, OutputType reflect.Type
	Name string
	InputKey, OutputKey string
	GraphInfo *GraphInfo
	Mappings []*FieldMapping
}

type GraphInfo struct {
	CompileOptions []GraphCompileOption
	Nodes map[string]GraphNodeInfo // node key -> node info
	Edges map[string][]string // edge start node key -> edge end node key, control edges
	DataEdges map[string][]string
	Branches map[string][]GraphBranch // branch start node key -> branch
	InputType, OutputType reflect.Type
	Name string

	NewGraphOptions []NewGraphOption
	GenStateFn func(context.Context) any
}

type GraphCompileCallback interface {
	OnFinish(ctx context.Context, info *GraphInfo)
}
