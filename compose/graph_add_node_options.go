package compose

import (
	"reflect"

	"github.com/graphrun/graphrun/internal/generic"
)

type graphAddNodeOpts struct {
	nodeOptions *nodeOptions
	processor *processorOpts

	needState bool
}

//	graph.AddLambdaNode("node_name", node,
//		compose.WithInputKey("input_key"),
//		compose.WithOutputKey("output_key"))
type GraphAddNodeOpt func(o *graphAddNodeOpts)

type nodeOptions struct {
	nodeName string

	nodeKey string

	inputKey  string
	outputKey string

	triggerMode NodeTriggerMode

	graphCompileOption []GraphCompileOption
}

func WithNodeName(n string) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.nodeOptions.nodeName = n
	}
}

func WithNodeKey(key string) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.nodeOptions.nodeKey = key
	}
}

func WithInputKey(k string) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.nodeOptions.inputKey = k
	}
}

func WithOutputKey(k string) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.nodeOptions.outputKey = k
	}
}

// WithPerNodeTriggerMode overrides the graph's default fan-in discipline for this node only.
// AllPredecessor waits for every incoming edge before firing. AnyPredecessor in a DAG graph
// fires on the first delivery and drops the rest with a warning; in a Pregel graph it fires
// in every superstep that brings a delivery. Unset nodes inherit the graph's mode.
func WithPerNodeTriggerMode(mode NodeTriggerMode) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.nodeOptions.triggerMode = mode
	}
}

func WithGraphCompileOptions(opts ...GraphCompileOption) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.nodeOptions.graphCompileOption = opts
	}
}

func WithStatePreHandler[I, S any](pre StatePreHandler[I, S]) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.processor.statePreHandler = statePreRunnable(pre)
		o.processor.preStateType = generic.TypeOf[S]()
		o.needState = true
	}
}

func WithStatePostHandler[O, S any](post StatePostHandler[O, S]) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.processor.statePostHandler = statePostRunnable(post)
		o.processor.postStateType = generic.TypeOf[S]()
		o.needState = true
	}
}

func WithStreamStatePreHandler[I, S any](pre StreamStatePreHandler[I, S]) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.processor.statePreHandler = streamStatePreRunnable(pre)
		o.processor.preStateType = generic.TypeOf[S]()
		o.needState = true
	}
}

func WithStreamStatePostHandler[O, S any](post StreamStatePostHandler[O, S]) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.processor.statePostHandler = streamStatePostRunnable(post)
		o.processor.postStateType = generic.TypeOf[S]()
		o.needState = true
	}
}

type processorOpts struct {
	statePreHandler *composableRunnable
	preStateType reflect.Type

	statePostHandler *composableRunnable
	postStateType reflect.Type
}

func getGraphAddNodeOpts(opts ...GraphAddNodeOpt) *graphAddNodeOpts {
	opt := &graphAddNodeOpts{
		nodeOptions: &nodeOptions{
			nodeName: "",
			nodeKey:  "",
		},
		processor: &processorOpts{
			statePreHandler:  nil,
			statePostHandler: nil,
		},
	}

	for _, fn := range opts {
		fn(opt)
	}

	return opt
}
