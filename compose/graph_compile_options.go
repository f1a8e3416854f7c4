package compose

type graphCompileOptions struct {
	maxRunSteps int
	graphName string
	nodeTriggerMode NodeTriggerMode

	callbacks []GraphCompileCallback

	origOpts []GraphCompileOption

	checkPointStore CheckPointStore
	serializer Serializer
	interruptBeforeNodes []string
	interruptAfterNodes  []string

	eagerDisabled bool

	mergeConfigs map[string]FanInMergeConfig
}

func newGraphCompileOptions(opts ...GraphCompileOption) *graphCompileOptions {
	option := &graphCompileOptions{}

	for _, o := range opts {
		o(option)
	}

	option.origOpts = opts

	return option
}

//	graph.Compile(ctx,
//		compose.WithGraphName("my_graph"),
//		compose.WithMaxRunSteps(100),
//		compose.WithFanInMergeConfig(configs))
type GraphCompileOption func(*graphCompileOptions)

func WithMaxRunSteps(maxSteps int) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.maxRunSteps = maxSteps
	}
}

func WithGraphName(graphName string) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.graphName = graphName
	}
}

func WithEagerExecution() GraphCompileOption {
	return func(o *graphCompileOptions) {
		return
	}
}

func WithEagerExecutionDisabled() GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.eagerDisabled = true
	}
}

func WithNodeTriggerMode(triggerMode NodeTriggerMode) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.nodeTriggerMode = triggerMode
	}
}

func WithGraphCompileCallbacks(cbs ...GraphCompileCallback) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.callbacks = append(o.callbacks, cbs...)
	}
}

type FanInMergeConfig struct {
	StreamMergeWithSourceEOF bool
}

//	configs := map[string]FanInMergeConfig{
//	    "aggregator_node": {
//	        StreamMergeWithSourceEOF: true,
//	    },
//	}
//	compose.WithFanInMergeConfig(configs)
func WithFanInMergeConfig(confs map[string]FanInMergeConfig) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.mergeConfigs = confs
	}
}

func InitGraphCompileCallbacks(cbs []GraphCompileCallback) {
	globalGraphCompileCallbacks = cbs
}

var globalGraphCompileCallbacks []GraphCompileCallback
