// Chain is a linear-build convenience layer over Graph: each Append call
// wires its node behind whatever was appended last, so simple
// node-after-node pipelines never need an explicit AddEdge call. Branches
// and parallel fan-outs temporarily widen the tail to more than one node;
// the next Append then wires from all of them.
package compose

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/graphrun/graphrun/components/document"
	"github.com/graphrun/graphrun/components/embedding"
	"github.com/graphrun/graphrun/components/indexer"
	"github.com/graphrun/graphrun/components/model"
	"github.com/graphrun/graphrun/components/prompt"
	"github.com/graphrun/graphrun/components/retriever"
	"github.com/graphrun/graphrun/internal/generic"
	"github.com/graphrun/graphrun/internal/gmap"
	"github.com/graphrun/graphrun/internal/gslice"
)

var ErrChainCompiled = errors.New("chain has been compiled, cannot be modified")

//	chain1 := NewChain[inputType, outputType]()
//	graph := NewGraph[]()
//
//	chain2 := NewChain[inputType, outputType]()
//	chain2.AppendGraph(chain1)
type Chain[I, O any] struct {
	err error

	core *Graph[I, O]

	// autoIdx feeds autoKey's generated node names.
	autoIdx int

	// tailKeys is the set of nodes the next Append wires itself behind.
	// Usually one entry; AppendParallel and AppendBranch widen it.
	tailKeys []string

	sealed bool
}

func NewChain[I, O any](opts ...NewGraphOption) *Chain[I, O] {
	ch := &Chain[I, O]{
		core: NewGraph[I, O](opts...),
	}

	ch.core.cmp = ComponentOfChain

	return ch
}

// seal wires every current tail key to END exactly once; a chain with zero
// nodes appended is a build error, not an empty-but-valid chain.
func (c *Chain[I, O]) seal() error {
	if c.sealed {
		return nil
	}

	if c.err != nil {
		return c.err
	}

	if len(c.tailKeys) == 0 {
		return fmt.Errorf("pre node keys not set, number of nodes in chain= %d", len(c.core.nodes))
	}

	for _, tail := range c.tailKeys {
		if err := c.core.AddEdge(tail, END); err != nil {
			return err
		}
	}

	c.sealed = true

	return nil
}

// compile seals the chain then delegates to the underlying graph's compile.
func (c *Chain[I, O]) compile(ctx context.Context, option *graphCompileOptions) (*composableRunnable, error) {
	if err := c.seal(); err != nil {
		return nil, err
	}

	return c.core.compile(ctx, option)
}

//	chain := NewChain[string, string]()
//	r, err := chain.Compile(ctx)
//	if err != nil {}
func (c *Chain[I, O]) Compile(ctx context.Context, opts ...GraphCompileOption) (Runnable[I, O], error) {
	if err := c.seal(); err != nil {
		return nil, err
	}

	return c.core.Compile(ctx, opts...)
}

func (c *Chain[I, O]) getGenericHelper() *genericHelper {
	return newGenericHelper[I, O]()
}

func (c *Chain[I, O]) inputType() reflect.Type {
	return generic.TypeOf[I]()
}

func (c *Chain[I, O]) outputType() reflect.Type {
	return generic.TypeOf[O]()
}

func (c *Chain[I, O]) component() component {
	return c.core.component()
}

//	model, err := openai.NewChatModel(ctx, config)
//	if err != nil {...}
//	chain.AppendChatModel(model)
func (c *Chain[I, O]) AppendChatModel(node model.BaseChatModel, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toChatModelNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	chatTemplate := prompt.FromMessages(schema.FString, &schema.Message{
//		Role:    schema.System,
//		Content: "You are acting as a {role}.",
//	})
//
//	chain.AppendChatTemplate(chatTemplate)
func (c *Chain[I, O]) AppendChatTemplate(node prompt.ChatTemplate, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toChatTemplateNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
//		Tools: []tool.BaseTool{...},
//	})
//
//	chain.AppendToolsNode(toolsNode)
func (c *Chain[I, O]) AppendToolsNode(node *ToolsNode, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toToolsNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	markdownSplitter, err := markdown.NewHeaderSplitter(ctx, &markdown.HeaderSplitterConfig{})
//
//	chain.AppendDocumentTransformer(markdownSplitter)
func (c *Chain[I, O]) AppendDocumentTransformer(node document.Transformer, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toDocumentTransformerNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	lambdaNode := compose.InvokableLambda(func(ctx context.Context, docs []*schema.Document) (string, error) {...})
//	chain.AppendLambda(lambdaNode)
func (c *Chain[I, O]) AppendLambda(node *Lambda, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toLambdaNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	embedder, err := openai.NewEmbedder(ctx, config)
//	if err != nil {...}
//	chain.AppendEmbedding(embedder)
func (c *Chain[I, O]) AppendEmbedding(node embedding.Embedder, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toEmbeddingNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	retriever, err := vectorstore.NewRetriever(ctx, config)
//	if err != nil {...}
//	chain.AppendRetriever(retriever)
func (c *Chain[I, O]) AppendRetriever(node retriever.Retriever, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toRetrieverNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{})
//	if err != nil {...}
//	chain.AppendLoader(loader)
func (c *Chain[I, O]) AppendLoader(node document.Loader, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toLoaderNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	indexer, err := vectorstore.NewIndexer(ctx, config)
//	if err != nil {...}
//	chain.AppendIndexer(indexer)
func (c *Chain[I, O]) AppendIndexer(node indexer.Indexer, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toIndexerNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	graph := compose.NewGraph[string, string]()
//	chain.AppendGraph(graph)
func (c *Chain[I, O]) AppendGraph(node AnyGraph, opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toAnyGraphNode(node, opts...)
	c.appendNode(gNode, options)
	return c
}

//	chain.AppendPassthrough()
func (c *Chain[I, O]) AppendPassthrough(opts ...GraphAddNodeOpt) *Chain[I, O] {
	gNode, options := toPassthroughNode(opts...)
	c.appendNode(gNode, options)
	return c
}

//	cb := compose.NewChainBranch(conditionFunc)
//	cb.AddChatTemplate("chat_template_key_01", chatTemplate)
//	cb.AddChatTemplate("chat_template_key_02", chatTemplate2)
//	chain.AppendBranch(cb)
//
// AppendBranch wires each of b's candidate nodes into the underlying graph
// under a generated key, rewires the branch's pickers to translate the
// caller-facing branch keys into those generated node keys, and widens the
// chain's tail to the full set of candidates — the graph itself resolves at
// run time which one(s) actually fired.
func (c *Chain[I, O]) AppendBranch(b *ChainBranch) *Chain[I, O] {
	if b == nil {
		c.reportError(fmt.Errorf("append branch invalid, branch is nil"))
		return c
	}

	if b.err != nil {
		c.reportError(fmt.Errorf("append branch error: %w", b.err))
		return c
	}

	if len(b.key2BranchNode) == 0 {
		c.reportError(fmt.Errorf("append branch invalid, nodeList is empty"))
		return c
	}

	if len(b.key2BranchNode) == 1 {
		c.reportError(fmt.Errorf("append branch invalid, nodeList length = 1"))
		return c
	}

	startNode, ok := c.singleTail("branch")
	if !ok {
		return c
	}

	prefix := c.autoKey()
	key2NodeKey := make(map[string]string, len(b.key2BranchNode))

	for key, node := range b.key2BranchNode {
		nodeKey := explicitNodeKey(node.Second)
		if nodeKey == "" {
			nodeKey = fmt.Sprintf("%s_branch_%s", prefix, key)
		}

		if err := c.core.addNode(nodeKey, node.First, node.Second); err != nil {
			c.reportError(fmt.Errorf("add branch node[%s] to chain failed: %w", nodeKey, err))
			return c
		}

		key2NodeKey[key] = nodeKey
	}

	// remap translates the branch-key names the user's condition returns
	// into the generated graph node keys registered above.
	remap := func(ends []string, err error) ([]string, error) {
		if err != nil {
			return nil, err
		}
		nodeKeys := make([]string, 0, len(ends))
		for _, end := range ends {
			nodeKey, ok := key2NodeKey[end]
			if !ok {
				return nil, fmt.Errorf("branch invocation returns unintended end node: %s", end)
			}
			nodeKeys = append(nodeKeys, nodeKey)
		}
		return nodeKeys, nil
	}

	gBranch := *b.internalBranch
	gBranch.pickFromValue = func(ctx context.Context, in any) ([]string, error) {
		return remap(b.internalBranch.pickFromValue(ctx, in))
	}
	gBranch.pickFromStream = func(ctx context.Context, sr streamReader) ([]string, error) {
		return remap(b.internalBranch.pickFromStream(ctx, sr))
	}
	gBranch.targets = gslice.ToMap(gmap.Values(key2NodeKey), func(k string) (string, bool) {
		return k, true
	})

	if err := c.core.AddBranch(startNode, &gBranch); err != nil {
		c.reportError(fmt.Errorf("chain append branch failed: %w", err))
		return c
	}

	c.tailKeys = gmap.Values(key2NodeKey)

	return c
}

//	parallel := compose.NewParallel()
//	parallel.AddChatModel("openai", model1) // => "openai": *schema.Message{}
//	parallel.AddChatModel("maas", model2)   // => "maas": *schema.Message{}
//
// AppendParallel wires every node in p as a sibling successor of the
// current tail, all under the same generated-key prefix, and widens the
// tail to all of them at once — the following Append then fans them back
// in, implicitly requiring whatever merge behavior their common successor's
// input type needs.
func (c *Chain[I, O]) AppendParallel(p *Parallel) *Chain[I, O] {
	if p == nil {
		c.reportError(fmt.Errorf("append parallel invalid, parallel is nil"))
		return c
	}

	if p.err != nil {
		c.reportError(fmt.Errorf("append parallel invalid, parallel error: %w", p.err))
		return c
	}

	if len(p.nodes) <= 1 {
		c.reportError(fmt.Errorf("append parallel invalid, not enough nodes, count = %d", len(p.nodes)))
		return c
	}

	startNode, ok := c.singleTail("parallel")
	if !ok {
		return c
	}

	prefix := c.autoKey()
	nodeKeys := make([]string, 0, len(p.nodes))

	for i, node := range p.nodes {
		nodeKey := explicitNodeKey(node.Second)
		if nodeKey == "" {
			nodeKey = fmt.Sprintf("%s_parallel_%d", prefix, i)
		}

		if err := c.core.addNode(nodeKey, node.First, node.Second); err != nil {
			c.reportError(fmt.Errorf("add parallel node to chain failed, key=%s, err: %w", nodeKey, err))
			return c
		}

		if err := c.core.AddEdge(startNode, nodeKey); err != nil {
			c.reportError(fmt.Errorf("add parallel edge failed, from=%s, to=%s, err: %w", startNode, nodeKey, err))
			return c
		}

		nodeKeys = append(nodeKeys, nodeKey)
	}

	c.tailKeys = nodeKeys

	return c
}

// singleTail resolves the single node a branch or parallel hangs off: START
// for an empty chain, the sole tail otherwise. A widened tail (an earlier
// branch/parallel not yet fanned back in) is a build error.
func (c *Chain[I, O]) singleTail(what string) (string, bool) {
	switch len(c.tailKeys) {
	case 0:
		return START, true
	case 1:
		return c.tailKeys[0], true
	default:
		c.reportError(fmt.Errorf("append %s invalid, multiple previous nodes: %v ", what, c.tailKeys))
		return "", false
	}
}

// explicitNodeKey returns the node key the caller set via WithNodeKey, or ""
// when the chain should generate one.
func explicitNodeKey(opts *graphAddNodeOpts) string {
	if opts != nil && opts.nodeOptions != nil {
		return opts.nodeOptions.nodeKey
	}
	return ""
}

// autoKey hands out a sequential default key for nodes the caller didn't
// name explicitly via a node option.
func (c *Chain[I, O]) autoKey() string {
	idx := c.autoIdx
	c.autoIdx++
	return fmt.Sprintf("node_%d", idx)
}

// reportError latches the chain's first build error and ignores later ones,
// so the original failure surfaces at Compile instead of being masked by a
// later one. Once it is set, Append calls that go through appendNode become
// no-ops; AppendBranch and AppendParallel do not check it and still run.
func (c *Chain[I, O]) reportError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// appendNode is the common tail of every Append* method: register the node
// under its key, wire an edge from every current tail key to it, then
// collapse the tail to just this node.
func (c *Chain[I, O]) appendNode(node *graphNode, options *graphAddNodeOpts) {
	if c.err != nil {
		return
	}

	if c.core.compiled {
		c.reportError(ErrChainCompiled)
		return
	}

	if node == nil {
		c.reportError(fmt.Errorf("chain add node invalid, node is nil"))
		return
	}

	defaultKey := c.autoKey()
	nodeKey := options.nodeOptions.nodeKey
	if nodeKey == "" {
		nodeKey = defaultKey
	}

	if err := c.core.addNode(nodeKey, node, options); err != nil {
		c.reportError(err)
		return
	}

	if len(c.tailKeys) == 0 {
		c.tailKeys = []string{START}
	}

	for _, tail := range c.tailKeys {
		if err := c.core.AddEdge(tail, nodeKey); err != nil {
			c.reportError(err)
			return
		}
	}

	c.tailKeys = []string{nodeKey}
}
