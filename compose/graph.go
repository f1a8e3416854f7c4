// Package compose implements the graph build surface and its two run
// disciplines: a Pregel-style superstep loop that tolerates cycles, and a
// one-shot DAG runner for acyclic graphs. A graph is built by adding nodes,
// data/control edges, and branches, then compiled once into a Runnable;
// after compilation the graph is immutable.
package compose

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/graphrun/graphrun/components/document"
	"github.com/graphrun/graphrun/components/embedding"
	"github.com/graphrun/graphrun/components/indexer"
	"github.com/graphrun/graphrun/components/model"
	"github.com/graphrun/graphrun/components/prompt"
	"github.com/graphrun/graphrun/components/retriever"
	"github.com/graphrun/graphrun/internal/generic"
	"github.com/graphrun/graphrun/internal/gmap"
)

// START and END are reserved node keys identifying the graph's own input
// and output; callers wire edges to/from them but never add a node under
// either name.
const START = "start"

const END = "end"

// graphRunType selects which runner a compiled graph uses. Pregel is the
// default: nodes run in supersteps and cycles are allowed. DAG forbids
// cycles and runs each node at most once per invocation.
type graphRunType string

const (
	runTypePregel graphRunType = "Pregel"

	runTypeDAG graphRunType = "DAG"
)

func (g graphRunType) String() string {
	return string(g)
}

// graph is the mutable build-time representation shared by Graph[I, O],
// Chain, and Workflow — each is a thin typed wrapper around one of these.
// Once compile succeeds, g.compiled latches true and every further mutation
// is rejected.
type graph struct {
	nodes        map[string]*graphNode
	controlEdges map[string][]string
	dataEdges    map[string][]string
	branches     map[string][]*GraphBranch
	startNodes   []string
	endNodes     []string

	// pendingEdges holds data edges whose endpoint types couldn't be checked
	// yet because one side is a passthrough with no inferred type; every
	// AddEdge retries the whole set, since each inference can unblock others.
	pendingEdges map[string][]pendingEdge

	stateType      reflect.Type
	stateGenerator func(ctx context.Context) any
	newOpts        []NewGraphOption

	expectedInputType, expectedOutputType reflect.Type

	*genericHelper

	fieldMappingRecords map[string][]*FieldMapping

	buildError error
	cmp        component

	compiled bool

	handlerOnEdges   map[string]map[string][]handlerPair
	handlerPreNode   map[string][]handlerPair
	handlerPreBranch map[string][][]handlerPair
}

type newGraphConfig struct {
	inputType, outputType reflect.Type
	gh                    *genericHelper
	cmp                   component
	stateType             reflect.Type
	stateGenerator        func(ctx context.Context) any
	newOpts               []NewGraphOption
}

func newGraphFromGeneric[I, O any](
	cmp component,
	stateGenerator func(ctx context.Context) any,
	stateType reflect.Type,
	opts []NewGraphOption,
) *graph {
	return newGraph(&newGraphConfig{
		inputType:      generic.TypeOf[I](),
		outputType:     generic.TypeOf[O](),
		gh:             newGenericHelper[I, O](),
		cmp:            cmp,
		stateType:      stateType,
		stateGenerator: stateGenerator,
		newOpts:        opts,
	})
}

func newGraph(cfg *newGraphConfig) *graph {
	return &graph{
		nodes:        make(map[string]*graphNode),
		dataEdges:    make(map[string][]string),
		controlEdges: make(map[string][]string),
		branches:     make(map[string][]*GraphBranch),

		pendingEdges: make(map[string][]pendingEdge),

		expectedInputType:  cfg.inputType,
		expectedOutputType: cfg.outputType,
		genericHelper:      cfg.gh,

		fieldMappingRecords: make(map[string][]*FieldMapping),

		cmp: cfg.cmp,

		stateType:      cfg.stateType,
		stateGenerator: cfg.stateGenerator,
		newOpts:        cfg.newOpts,

		handlerOnEdges:   make(map[string]map[string][]handlerPair),
		handlerPreNode:   make(map[string][]handlerPair),
		handlerPreBranch: make(map[string][][]handlerPair),
	}
}

func (g *graph) component() component {
	return g.cmp
}

func isChain(cmp component) bool {
	return cmp == ComponentOfChain
}

func isWorkflow(cmp component) bool {
	return cmp == ComponentOfWorkflow
}

var ErrGraphCompiled = errors.New("graph has been compiled, cannot be modified")

// addNode registers node under key, after checking it against reserved
// names, duplicate keys, and (when present) the pre/post state-handler type
// agreement with both the graph's state type and the node's own input/
// output types. Any rejection latches g.buildError so later calls on the
// same graph short-circuit instead of compounding errors.
func (g *graph) addNode(key string, node *graphNode, options *graphAddNodeOpts) (err error) {
	if g.buildError != nil {
		return g.buildError
	}

	if g.compiled {
		return ErrGraphCompiled
	}

	defer func() {
		if err != nil {
			g.buildError = err
		}
	}()

	if key == END || key == START {
		return fmt.Errorf("node '%s' is reserved, cannot add manually", key)
	}

	if _, ok := g.nodes[key]; ok {
		return fmt.Errorf("node '%s' already present", key)
	}

	// check options
	if options.needState {
		if g.stateGenerator == nil {
			return fmt.Errorf("node '%s' needs state but graph state is not enabled", key)
		}
	}

	if options.nodeOptions.nodeKey != "" {
		if !isChain(g.cmp) {
			return errors.New("only chain support node key option")
		}
	}
	// end: check options

	// check pre- / post-handler type
	if options.processor != nil {
		if options.processor.statePreHandler != nil {
			// check state type
			if g.stateType != options.processor.preStateType {
				return fmt.Errorf("node[%s]'s pre handler state type[%v] is different from graph[%v]", key, options.processor.preStateType, g.stateType)
			}
			// check input type
			if node.inputType() == nil && options.processor.statePreHandler.outputType != reflect.TypeOf((*any)(nil)).Elem() {
				return fmt.Errorf("passthrough node[%s]'s pre handler type isn't any", key)
			} else if node.inputType() != nil && node.inputType() != options.processor.statePreHandler.outputType {
				return fmt.Errorf("node[%s]'s pre handler type[%v] is different from its input type[%v]", key, options.processor.statePreHandler.outputType, node.inputType())
			}
		}
		if options.processor.statePostHandler != nil {
			// check state type
			if g.stateType != options.processor.postStateType {
				return fmt.Errorf("node[%s]'s post handler state type[%v] is different from graph[%v]", key, options.processor.postStateType, g.stateType)
			}
			// check input type
			if node.outputType() == nil && options.processor.statePostHandler.inputType != reflect.TypeOf((*any)(nil)).Elem() {
				return fmt.Errorf("passthrough node[%s]'s post handler type isn't any", key)
			} else if node.outputType() != nil && node.outputType() != options.processor.statePostHandler.inputType {
				return fmt.Errorf("node[%s]'s post handler type[%v] is different from its output type[%v]", key, options.processor.statePostHandler.inputType, node.outputType())
			}
		}
	}

	g.nodes[key] = node

	return nil
}

// addEdgeWithMappings records an edge from startNode to endNode. An edge
// carries control flow (firing endNode's channel) and/or a data flow
// (delivering startNode's output, possibly reshaped by mappings) — noControl
// and noData opt out of one side for edges that are purely one or the
// other, such as a branch's synthetic data-only edges.
func (g *graph) addEdgeWithMappings(startNode, endNode string, noControl bool, noData bool, mappings ...*FieldMapping) (err error) {
	if g.buildError != nil {
		return g.buildError
	}
	if g.compiled {
		return ErrGraphCompiled
	}

	if noControl && noData {
		return fmt.Errorf("edge[%s]-[%s] cannot be both noDirectDependency and noDataFlow", startNode, endNode)
	}

	defer func() {
		if err != nil {
			g.buildError = err
		}
	}()

	if startNode == END {
		return errors.New("END cannot be a start node")
	}
	if endNode == START {
		return errors.New("START cannot be an end node")
	}

	if _, ok := g.nodes[startNode]; !ok && startNode != START {
		return fmt.Errorf("edge start node '%s' needs to be added to graph first", startNode)
	}
	if _, ok := g.nodes[endNode]; !ok && endNode != END {
		return fmt.Errorf("edge end node '%s' needs to be added to graph first", endNode)
	}

	if !noControl {
		if edgeExists(g.controlEdges[startNode], endNode) {
			return fmt.Errorf("control edge[%s]-[%s] have been added yet", startNode, endNode)
		}

		g.controlEdges[startNode] = append(g.controlEdges[startNode], endNode)
		g.recordTerminalEndpoints(startNode, endNode)
	}

	if !noData {
		if edgeExists(g.dataEdges[startNode], endNode) {
			return fmt.Errorf("data edge[%s]-[%s] have been added yet", startNode, endNode)
		}

		g.addToValidateMap(startNode, endNode, mappings)
		if err = g.updateToValidateMap(); err != nil {
			return err
		}
		g.dataEdges[startNode] = append(g.dataEdges[startNode], endNode)
	}

	return nil
}

func edgeExists(ends []string, endNode string) bool {
	for _, e := range ends {
		if e == endNode {
			return true
		}
	}
	return false
}

// recordTerminalEndpoints tracks which nodes hang directly off START and
// which feed END; compile requires at least one of each.
func (g *graph) recordTerminalEndpoints(startNode, endNode string) {
	if startNode == START {
		g.startNodes = append(g.startNodes, endNode)
	}
	if endNode == END {
		g.endNodes = append(g.endNodes, startNode)
	}
}

func (g *graph) AddEmbeddingNode(key string, node embedding.Embedder, opts ...GraphAddNodeOpt) error {
	gNode, options := toEmbeddingNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddRetrieverNode(key string, node retriever.Retriever, opts ...GraphAddNodeOpt) error {
	gNode, options := toRetrieverNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddLoaderNode(key string, node document.Loader, opts ...GraphAddNodeOpt) error {
	gNode, options := toLoaderNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddIndexerNode(key string, node indexer.Indexer, opts ...GraphAddNodeOpt) error {
	gNode, options := toIndexerNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddChatModelNode(key string, node model.BaseChatModel, opts ...GraphAddNodeOpt) error {
	gNode, options := toChatModelNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddChatTemplateNode(key string, node prompt.ChatTemplate, opts ...GraphAddNodeOpt) error {
	gNode, options := toChatTemplateNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddToolsNode(key string, node *ToolsNode, opts ...GraphAddNodeOpt) error {
	gNode, options := toToolsNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddDocumentTransformerNode(key string, node document.Transformer, opts ...GraphAddNodeOpt) error {
	gNode, options := toDocumentTransformerNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddLambdaNode(key string, node *Lambda, opts ...GraphAddNodeOpt) error {
	gNode, options := toLambdaNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddGraphNode(key string, node AnyGraph, opts ...GraphAddNodeOpt) error {
	gNode, options := toAnyGraphNode(node, opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddPassthroughNode(key string, opts ...GraphAddNodeOpt) error {
	gNode, options := toPassthroughNode(opts...)
	return g.addNode(key, gNode, options)
}

func (g *graph) AddBranch(startNode string, branch *GraphBranch) (err error) {
	return g.addBranch(startNode, branch, false)
}

func (g *graph) addBranch(startNode string, branch *GraphBranch, skipData bool) (err error) {
	if g.buildError != nil {
		return g.buildError
	}

	if g.compiled {
		return ErrGraphCompiled
	}

	defer func() {
		if err != nil {
			g.buildError = err
		}
	}()

	if startNode == END {
		return errors.New("END cannot be a start node")
	}

	if _, ok := g.nodes[startNode]; !ok && startNode != START {
		return fmt.Errorf("branch start node '%s' needs to be added to graph first", startNode)
	}

	if _, ok := g.handlerPreBranch[startNode]; !ok {
		g.handlerPreBranch[startNode] = [][]handlerPair{}
	}
	branch.order = len(g.handlerPreBranch[startNode])

	if startNode != START && g.nodes[startNode].executorMeta.component == ComponentOfPassthrough {
		g.nodes[startNode].cr.inputType = branch.inputType
		g.nodes[startNode].cr.outputType = branch.inputType
		g.nodes[startNode].cr.genericHelper = branch.genericHelper.forPredecessorPassthrough()
	}

	result := checkAssignable(g.getNodeOutputType(startNode), branch.inputType)
	if result == assignableTypeMustNot {
		return fmt.Errorf("condition's input type[%s] and start node[%s]'s output type[%s] are mismatched", branch.inputType.String(), startNode, g.getNodeOutputType(startNode).String())
	} else if result == assignableTypeMay {
		g.handlerPreBranch[startNode] = append(g.handlerPreBranch[startNode], []handlerPair{branch.inputConverter})
	} else {
		g.handlerPreBranch[startNode] = append(g.handlerPreBranch[startNode], []handlerPair{})
	}

	for endNode := range branch.targets {
		if !skipData {
			if _, ok := g.nodes[endNode]; !ok && endNode != END {
				return fmt.Errorf("branch end node '%s' needs to be added to graph first", endNode)
			}

			g.addToValidateMap(startNode, endNode, nil)
			if e := g.updateToValidateMap(); e != nil {
				return e
			}
		}

		g.recordTerminalEndpoints(startNode, endNode)
	}
	if skipData {
		branch.controlOnly = true
	}

	g.branches[startNode] = append(g.branches[startNode], branch)

	return nil
}

// pendingEdge is one data edge awaiting type resolution at its endpoint.
type pendingEdge struct {
	endNode  string
	mappings []*FieldMapping
}

func (g *graph) addToValidateMap(startNode, endNode string, mapping []*FieldMapping) {
	g.pendingEdges[startNode] = append(g.pendingEdges[startNode], pendingEdge{endNode: endNode, mappings: mapping})
}

func (g *graph) addEdgeHandler(from, to string, pair handlerPair) {
	if _, ok := g.handlerOnEdges[from]; !ok {
		g.handlerOnEdges[from] = make(map[string][]handlerPair)
	}
	g.handlerOnEdges[from][to] = append(g.handlerOnEdges[from][to], pair)
}

// resolvePendingEdge type-checks one edge whose endpoint types are both
// known by now, registering whatever request-time handlers the check calls
// for.
func (g *graph) resolvePendingEdge(startNode string, pe pendingEdge, outType, inType reflect.Type) error {
	if len(pe.mappings) == 0 {
		switch checkAssignable(outType, inType) {
		case assignableTypeMustNot:
			return fmt.Errorf("graph edge[%s]-[%s]: start node's output type[%s] and end node's input type[%s] mismatch",
				startNode, pe.endNode, outType.String(), inType.String())
		case assignableTypeMay:
			g.addEdgeHandler(startNode, pe.endNode, g.getNodeGenericHelper(pe.endNode).inputConverter)
		}
		return nil
	}

	g.fieldMappingRecords[pe.endNode] = append(g.fieldMappingRecords[pe.endNode], pe.mappings...)

	checker, deferredSourcePaths, err := typecheckMappings(outType, inType, pe.mappings)
	if err != nil {
		return err
	}

	g.addEdgeHandler(startNode, pe.endNode, handlerPair{
		invoke: func(value any) (any, error) {
			return mappingExtractor(pe.mappings, false, deferredSourcePaths)(value)
		},
		transform: streamMappingExtractor(pe.mappings, deferredSourcePaths),
	})

	if checker != nil {
		g.addEdgeHandler(startNode, pe.endNode, *checker)
	}

	return nil
}

// updateToValidateMap sweeps the pending-edge set until it stops shrinking:
// an edge with one typed and one untyped (passthrough) endpoint propagates
// the known type across, which may in turn unblock other pending edges.
// Edges whose both endpoints are typed leave the set through
// resolvePendingEdge.
func (g *graph) updateToValidateMap() error {
	for changed := true; changed; {
		changed = false

		for startNode, pending := range g.pendingEdges {
			outType := g.getNodeOutputType(startNode)

			remaining := pending[:0]
			for _, pe := range pending {
				inType := g.getNodeInputType(pe.endNode)

				if outType == nil && inType == nil {
					remaining = append(remaining, pe)
					continue
				}

				changed = true

				switch {
				case inType == nil:
					// typed predecessor feeding an untyped passthrough
					g.nodes[pe.endNode].cr.inputType = outType
					g.nodes[pe.endNode].cr.outputType = outType
					g.nodes[pe.endNode].cr.genericHelper = g.getNodeGenericHelper(startNode).forSuccessorPassthrough()
				case outType == nil:
					// untyped passthrough feeding a typed successor
					g.nodes[startNode].cr.inputType = inType
					g.nodes[startNode].cr.outputType = inType
					g.nodes[startNode].cr.genericHelper = g.getNodeGenericHelper(pe.endNode).forPredecessorPassthrough()
				default:
					if err := g.resolvePendingEdge(startNode, pe, outType, inType); err != nil {
						return err
					}
				}
			}
			g.pendingEdges[startNode] = remaining
		}
	}

	return nil
}

func (g *graph) getNodeGenericHelper(name string) *genericHelper {
	if name == START {
		return g.genericHelper.forPredecessorPassthrough()
	} else if name == END {
		return g.genericHelper.forSuccessorPassthrough()
	}
	return g.nodes[name].getGenericHelper()
}

func (g *graph) getNodeInputType(name string) reflect.Type {
	if name == START {
		return g.inputType()
	} else if name == END {
		return g.outputType()
	}
	return g.nodes[name].inputType()
}

func (g *graph) getNodeOutputType(name string) reflect.Type {
	if name == START {
		return g.inputType()
	} else if name == END {
		return g.outputType()
	}
	return g.nodes[name].outputType()
}

func (g *graph) inputType() reflect.Type {
	return g.expectedInputType
}

func (g *graph) outputType() reflect.Type {
	return g.expectedOutputType
}

// compile freezes the graph into a runner: it picks Pregel or DAG based on
// the node trigger mode option (workflows always get DAG), resolves every
// node's compiled Runnable and the field-mapping/type-conversion handlers
// sitting on its edges, builds the predecessor/successor index the runner
// walks at execution time, and — for DAG mode — rejects the graph outright
// if validateDAG finds a cycle.
func (g *graph) compile(ctx context.Context, opt *graphCompileOptions) (*composableRunnable, error) {
	if g.buildError != nil {
		return nil, g.buildError
	}

	runType := runTypePregel
	cb := pregelChannelBuilder
	if isChain(g.cmp) || isWorkflow(g.cmp) {
		if opt != nil && opt.nodeTriggerMode != "" {
			return nil, errors.New(fmt.Sprintf("%s doesn't support node trigger mode option", g.cmp))
		}
	}
	if (opt != nil && opt.nodeTriggerMode == AllPredecessor) || isWorkflow(g.cmp) {
		runType = runTypeDAG
		cb = dagChannelBuilder
	}

	eager := false
	if isWorkflow(g.cmp) || runType == runTypeDAG {
		eager = true
	}
	if opt != nil && opt.eagerDisabled {
		eager = false
	}

	if len(g.startNodes) == 0 {
		return nil, errors.New("start node not set")
	}
	if len(g.endNodes) == 0 {
		return nil, errors.New("end node not set")
	}

	for _, v := range g.pendingEdges {
		if len(v) > 0 {
			return nil, fmt.Errorf("some node's input or output types cannot be inferred: %v", g.pendingEdges)
		}
	}

	for key := range g.fieldMappingRecords {
		toMap := make(map[string]bool)
		for _, mapping := range g.fieldMappingRecords[key] {
			if _, ok := toMap[mapping.to]; ok {
				return nil, fmt.Errorf("duplicate mapping target field: %s of node[%s]", mapping.to, key)
			}
			toMap[mapping.to] = true
		}

		g.handlerPreNode[key] = append(g.handlerPreNode[key], g.getNodeGenericHelper(key).inputFieldMappingConverter)
	}

	key2SubGraphs := g.beforeChildGraphsCompile(opt)
	chanSubscribeTo := make(map[string]*chanCall)
	for name, node := range g.nodes {
		node.beforeChildGraphCompile(name, key2SubGraphs)

		r, err := node.compileIfNeeded(ctx)
		if err != nil {
			return nil, err
		}

		chCall := &chanCall{
			action:   r,
			writeTo:  g.dataEdges[name],
			controls: g.controlEdges[name],

			preProcessor:  node.nodeInfo.preProcessor,
			postProcessor: node.nodeInfo.postProcessor,
		}

		branches := g.branches[name]
		if len(branches) > 0 {
			branchRuns := make([]*GraphBranch, 0, len(branches))
			branchRuns = append(branchRuns, branches...)
			chCall.writeToBranches = branchRuns
		}

		chanSubscribeTo[name] = chCall
	}

	controlPredecessors, dataPredecessors := g.buildPredecessorIndex()

	inputChannels := &chanCall{
		writeTo:         g.dataEdges[START],
		controls:        g.controlEdges[START],
		writeToBranches: make([]*GraphBranch, len(g.branches[START])),
	}
	copy(inputChannels.writeToBranches, g.branches[START])

	var mergeConfigs map[string]FanInMergeConfig
	if opt != nil {
		mergeConfigs = opt.mergeConfigs
	}
	if mergeConfigs == nil {
		mergeConfigs = make(map[string]FanInMergeConfig)
	}

	r := &runner{
		chanSubscribeTo:     chanSubscribeTo,
		controlPredecessors: controlPredecessors,
		dataPredecessors:    dataPredecessors,

		inputChannels: inputChannels,

		eager: eager,

		chanBuilder: cb,

		inputType:     g.inputType(),
		outputType:    g.outputType(),
		genericHelper: g.genericHelper,

		preBranchHandlerManager: &preBranchHandlerManager{h: g.handlerPreBranch},
		preNodeHandlerManager:   &preNodeHandlerManager{h: g.handlerPreNode},
		edgeHandlerManager:      &edgeHandlerManager{h: g.handlerOnEdges},

		mergeConfigs: mergeConfigs,
	}

	successors := make(map[string][]string)
	for ch := range r.chanSubscribeTo {
		successors[ch] = getSuccessors(r.chanSubscribeTo[ch])
	}
	r.successors = successors

	if g.stateGenerator != nil {
		r.runCtx = func(ctx context.Context) context.Context {
			return context.WithValue(ctx, runStateKey{}, &stateHolder{
				value: g.stateGenerator(ctx),
			})
		}
	}

	if runType == runTypeDAG {
		err := validateDAG(r.chanSubscribeTo, controlPredecessors)
		if err != nil {
			return nil, err
		}
		r.dag = true
	}

	if opt != nil {
		inputPairs := make(map[string]streamConvertPair)
		outputPairs := make(map[string]streamConvertPair)
		for key, c := range r.chanSubscribeTo {
			inputPairs[key] = c.action.inputStreamConvertPair
			outputPairs[key] = c.action.outputStreamConvertPair
		}
		inputPairs[END] = r.outputConvertStreamPair
		outputPairs[START] = r.inputConvertStreamPair
		r.checkPointer = newCheckPointer(inputPairs, outputPairs, opt.checkPointStore, opt.serializer)

		r.interruptBeforeNodes = opt.interruptBeforeNodes
		r.interruptAfterNodes = opt.interruptAfterNodes
		r.options = *opt
	}

	// default options
	if r.dag && r.options.maxRunSteps > 0 {
		return nil, fmt.Errorf("cannot set max run steps in dag mode")
	} else if !r.dag && r.options.maxRunSteps == 0 {
		r.options.maxRunSteps = len(r.chanSubscribeTo) + 10
	}

	g.compiled = true

	g.onCompileFinish(ctx, opt, key2SubGraphs)

	return r.toComposableRunnable(), nil
}

// buildPredecessorIndex inverts the edge tables: for every node, who fires
// it (control) and who feeds it (data). Branch targets count as control
// predecessors of every declared target, and as data predecessors too
// unless the branch is control-only.
func (g *graph) buildPredecessorIndex() (controlPredecessors, dataPredecessors map[string][]string) {
	controlPredecessors = make(map[string][]string)
	dataPredecessors = make(map[string][]string)

	for start, ends := range g.controlEdges {
		for _, end := range ends {
			controlPredecessors[end] = append(controlPredecessors[end], start)
		}
	}
	for start, ends := range g.dataEdges {
		for _, end := range ends {
			dataPredecessors[end] = append(dataPredecessors[end], start)
		}
	}
	for start, branches := range g.branches {
		for _, branch := range branches {
			for end := range branch.targets {
				controlPredecessors[end] = append(controlPredecessors[end], start)
				if !branch.controlOnly {
					dataPredecessors[end] = append(dataPredecessors[end], start)
				}
			}
		}
	}

	return controlPredecessors, dataPredecessors
}

func getSuccessors(c *chanCall) []string {
	ret := make([]string, len(c.writeTo))
	copy(ret, c.writeTo)
	ret = append(ret, c.controls...)
	for _, branch := range c.writeToBranches {
		for node := range branch.targets {
			ret = append(ret, node)
		}
	}
	return ret
}

type subGraphCompileCallback struct {
	closure func(ctx context.Context, info *GraphInfo)
}

func (s *subGraphCompileCallback) OnFinish(ctx context.Context, info *GraphInfo) {
	s.closure(ctx, info)
}

func (g *graph) beforeChildGraphsCompile(opt *graphCompileOptions) map[string]*GraphInfo {
	if opt == nil || len(opt.callbacks) == 0 {
		return nil
	}

	return make(map[string]*GraphInfo)
}

func (gn *graphNode) beforeChildGraphCompile(nodeKey string, key2SubGraphs map[string]*GraphInfo) {
	if gn.g == nil || key2SubGraphs == nil {
		return
	}

	subGraphCallback := func(ctx2 context.Context, subGraph *GraphInfo) {
		key2SubGraphs[nodeKey] = subGraph
	}

	gn.nodeInfo.compileOption.callbacks = append(gn.nodeInfo.compileOption.callbacks, &subGraphCompileCallback{closure: subGraphCallback})
}

func (g *graph) toGraphInfo(opt *graphCompileOptions, key2SubGraphs map[string]*GraphInfo) *GraphInfo {
	gInfo := &GraphInfo{
		CompileOptions: opt.origOpts,
		Nodes:          make(map[string]GraphNodeInfo, len(g.nodes)),
		Edges:          gmap.Clone(g.controlEdges),
		DataEdges:      gmap.Clone(g.dataEdges),
		Branches: gmap.Map(g.branches, func(startNode string, branches []*GraphBranch) (string, []GraphBranch) {
			branchInfo := make([]GraphBranch, 0, len(branches))
			for _, b := range branches {
				branchInfo = append(branchInfo, GraphBranch{
					pickFromValue:  b.pickFromValue,
					pickFromStream: b.pickFromStream,
					inputType:      b.inputType,
					genericHelper:  b.genericHelper,
					targets:        gmap.Clone(b.targets),
				})
			}
			return startNode, branchInfo
		}),
		InputType:       g.expectedInputType,
		OutputType:      g.expectedOutputType,
		Name:            opt.graphName,
		GenStateFn:      g.stateGenerator,
		NewGraphOptions: g.newOpts,
	}

	for key := range g.nodes {
		gNode := g.nodes[key]
		if gNode.executorMeta.component == ComponentOfPassthrough {
			gInfo.Nodes[key] = GraphNodeInfo{
				Component:        gNode.executorMeta.component,
				GraphAddNodeOpts: gNode.opts,
				InputType:        gNode.cr.inputType,
				OutputType:       gNode.cr.outputType,
				Name:             gNode.nodeInfo.name,
				InputKey:         gNode.cr.nodeInfo.inputKey,
				OutputKey:        gNode.cr.nodeInfo.outputKey,
			}
			continue
		}

		gNodeInfo := &GraphNodeInfo{
			Component:        gNode.executorMeta.component,
			Instance:         gNode.instance,
			GraphAddNodeOpts: gNode.opts,
			InputType:        gNode.cr.inputType,
			OutputType:       gNode.cr.outputType,
			Name:             gNode.nodeInfo.name,
			InputKey:         gNode.cr.nodeInfo.inputKey,
			OutputKey:        gNode.cr.nodeInfo.outputKey,
			Mappings:         g.fieldMappingRecords[key],
		}

		if gi, ok := key2SubGraphs[key]; ok {
			gNodeInfo.GraphInfo = gi
		}

		gInfo.Nodes[key] = *gNodeInfo
	}

	return gInfo
}

func (g *graph) onCompileFinish(ctx context.Context, opt *graphCompileOptions, key2SubGraphs map[string]*GraphInfo) {
	if opt == nil {
		return
	}

	if len(opt.callbacks) == 0 {
		return
	}

	gInfo := g.toGraphInfo(opt, key2SubGraphs)

	for _, cb := range opt.callbacks {
		cb.OnFinish(ctx, gInfo)
	}
}

func (g *graph) getGenericHelper() *genericHelper {
	return g.genericHelper
}

func (g *graph) GetType() string {
	return ""
}

// transferTask pushes each task in script as late as the control edges in
// invertedEdges allow, used to group independent nodes into the same
// execution wave for display/debugging purposes.
func transferTask(script [][]string, invertedEdges map[string][]string) [][]string {
	utilMap := map[string]bool{}
	for i := len(script) - 1; i >= 0; i-- {
		for j := 0; j < len(script[i]); j++ {
			if _, ok := utilMap[script[i][j]]; ok {
				script[i] = append(script[i][:j], script[i][j+1:]...)
				j--
				continue
			}
			utilMap[script[i][j]] = true

			target := i
			for k := i + 1; k < len(script); k++ {
				hasDependencies := false
				for l := range script[k] {
					for _, dependency := range invertedEdges[script[i][j]] {
						if script[k][l] == dependency {
							hasDependencies = true
							break
						}
					}
					if hasDependencies {
						break
					}
				}
				if hasDependencies {
					break
				}
				target = k
			}
			if target != i {
				script[target] = append(script[target], script[i][j])
				script[i] = append(script[i][:j], script[i][j+1:]...)
				j--
			}
		}
	}

	return script
}

// controlSuccessorsOf lists every node c fires: plain control edges plus
// all declared branch targets, END excluded.
func controlSuccessorsOf(c *chanCall) []string {
	var succ []string
	for _, node := range c.controls {
		if node != END {
			succ = append(succ, node)
		}
	}
	for _, branch := range c.writeToBranches {
		for node := range branch.targets {
			if node != END {
				succ = append(succ, node)
			}
		}
	}
	return succ
}

// validateDAG runs a Kahn's-algorithm topological sort over the control
// edges; any node whose in-degree never reaches zero sits on a cycle, and
// findLoops walks those nodes' successors to report the offending path(s).
func validateDAG(chanSubscribeTo map[string]*chanCall, controlPredecessors map[string][]string) error {
	// in-degree per node, with START not counted (it always fires)
	indegree := map[string]int{}
	for node := range chanSubscribeTo {
		indegree[node] = 0
		for _, pre := range controlPredecessors[node] {
			if pre != START {
				indegree[node]++
			}
		}
	}

	queue := make([]string, 0, len(indegree))
	for node, deg := range indegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		indegree[node] = -1

		for _, succ := range controlSuccessorsOf(chanSubscribeTo[node]) {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	var loopStarts []string
	for node, deg := range indegree {
		if deg > 0 {
			loopStarts = append(loopStarts, node)
		}
	}
	if len(loopStarts) > 0 {
		return fmt.Errorf("%w: %s", DAGInvalidLoopErr, formatLoops(findLoops(loopStarts, chanSubscribeTo)))
	}
	return nil
}

var DAGInvalidLoopErr = errors.New("DAG is invalid, has loop")

// findLoops depth-first searches from each node validateDAG flagged as
// never reaching in-degree zero, reporting every distinct cycle reachable
// from it.
func findLoops(startNodes []string, chanCalls map[string]*chanCall) [][]string {
	controlSuccessors := map[string][]string{}
	for node, ch := range chanCalls {
		controlSuccessors[node] = append(controlSuccessors[node], ch.controls...)
		for _, b := range ch.writeToBranches {
			for end := range b.targets {
				controlSuccessors[node] = append(controlSuccessors[node], end)
			}
		}
	}

	visited := map[string]bool{}
	var dfs func(path []string) [][]string
	dfs = func(path []string) [][]string {
		var ret [][]string
		pathEnd := path[len(path)-1]
		successors, ok := controlSuccessors[pathEnd]
		if !ok {
			return nil
		}
		for _, successor := range successors {
			visited[successor] = true

			if successor == END {
				continue
			}

			var looped bool
			for i, node := range path {
				if node == successor {
					ret = append(ret, append(path[i:], successor))
					looped = true
					break
				}
			}
			if looped {
				continue
			}

			ret = append(ret, dfs(append(path, successor))...)
		}
		return ret
	}

	var ret [][]string
	for _, node := range startNodes {
		if !visited[node] {
			ret = append(ret, dfs([]string{node})...)
		}
	}
	return ret
}

func formatLoops(loops [][]string) string {
	sb := strings.Builder{}
	for _, loop := range loops {
		if len(loop) == 0 {
			continue
		}
		sb.WriteString("[")
		sb.WriteString(loop[0])
		for i := 1; i < len(loop); i++ {
			sb.WriteString("->")
			sb.WriteString(loop[i])
		}
		sb.WriteString("]")
	}
	return sb.String()
}

// NewNodePath addresses a node inside a (possibly nested) subgraph by the
// chain of node keys leading to it, outermost first.
func NewNodePath(nodeKeyPath ...string) *NodePath {
	return &NodePath{path: nodeKeyPath}
}

// NodePath is an opaque handle used by interrupt/checkpoint state to name a
// node that may live several subgraph levels deep.
type NodePath struct {
	path []string
}

func (p *NodePath) GetPath() []string {
	return p.path
}
