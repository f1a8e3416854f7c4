package compose

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/graphrun/graphrun/callbacks"
	"github.com/graphrun/graphrun/components/model"
	"github.com/graphrun/graphrun/components/prompt"
	"github.com/graphrun/graphrun/internal/serialization"
	"github.com/graphrun/graphrun/schema"
)

type chatModel struct {
	msgs []*schema.Message
}

func (c *chatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return c.msgs[0], nil
}

func (c *chatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](len(c.msgs))
	go func() {
		defer sw.Close()
		for _, msg := range c.msgs {
			sw.Send(msg, nil)
		}
	}()
	return sr, nil
}

func TestSingleGraph(t *testing.T) {
	const (
		nodeOfModel  = "model"
		nodeOfPrompt = "prompt"
	)

	ctx := context.Background()

	g := NewGraph[map[string]any, *schema.Message]()

	pt := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("what is the weather like in {location}?"),
	)

	cm := &chatModel{msgs: []*schema.Message{
		schema.AssistantMessage("the weather is nice", nil),
	}}

	_ = g.AddChatTemplateNode("prompt", pt)
	_ = g.AddChatModelNode(nodeOfModel, cm, WithNodeName("MockChatModel"))
	_ = g.AddEdge(START, nodeOfPrompt)
	_ = g.AddEdge(nodeOfPrompt, nodeOfModel)
	_ = g.AddEdge(nodeOfModel, END)

	start := time.Now()
	r, err := g.Compile(context.Background(), WithMaxRunSteps(10))
	fmt.Println("compile duration", time.Since(start))
	assert.NoError(t, err)

	in := map[string]any{"location": "suzhou"}
	start = time.Now()
	ret, err := r.Invoke(ctx, in)
	fmt.Println("invoke duration", time.Since(start))
	assert.NoError(t, err)
	fmt.Println("invoke result: ", ret)

	start = time.Now()
	s, err := r.Stream(ctx, in)
	fmt.Println("invoke duration", time.Since(start))
	assert.NoError(t, err)
	ret, _ = concatStreamReader(s)
	fmt.Println("stream result: ", ret)

	start = time.Now()
	sr, sw := schema.Pipe[map[string]any](1)
	_ = sw.Send(in, nil)
	sw.Close()
	fmt.Println("pipe send duration", time.Since(start))

	start = time.Now()
	s, err = r.Transform(ctx, sr)
	fmt.Println("transform duration", time.Since(start))
	assert.NoError(t, err)
	ret, _ = concatStreamReader(s)
	fmt.Println("transform result: ", ret)

	in = map[string]any{"key with no match": "suzhou"}
	_, err = r.Invoke(ctx, in)
	assert.Errorf(t, err, "key not found: location")

	_, err = r.Stream(ctx, in)
	assert.Errorf(t, err, "key not found: location")

	sr, sw = schema.Pipe[map[string]any](1)
	_ = sw.Send(in, nil)
	sw.Close()
	_, err = r.Transform(ctx, sr)
	assert.Errorf(t, err, "key not found: location")
}

type person interface {
	Say() string
}

type doctor struct {
	say string
}

func (d *doctor) Say() string {
	return d.say
}

func TestGraphWithImplementableType(t *testing.T) {
	const (
		node1 = "1st"
		node2 = "2nd"
	)

	ctx := context.Background()

	g := NewGraph[string, string]()

	err := g.AddLambdaNode(node1, InvokableLambda(func(ctx context.Context, input string) (output *doctor, err error) {
		return &doctor{say: input}, nil
	}))
	assert.NoError(t, err)

	err = g.AddLambdaNode(node2, InvokableLambda(func(ctx context.Context, input person) (output string, err error) {
		return input.Say(), nil
	}))
	assert.NoError(t, err)

	_ = g.AddEdge(START, node1)
	_ = g.AddEdge(node1, node2)
	_ = g.AddEdge(node2, END)

	r, err := g.Compile(ctx, WithMaxRunSteps(10))
	assert.NoError(t, err)

	_, err = r.Invoke(ctx, "how are you", WithRuntimeMaxSteps(1))
	assert.Error(t, err)
	assert.ErrorContains(t, err, "exceeds max steps")

	_, err = r.Invoke(ctx, "how are you", WithRuntimeMaxSteps(1))
	assert.Error(t, err)
	assert.ErrorContains(t, err, "exceeds max steps")

	out, err := r.Invoke(ctx, "how are you")
	assert.NoError(t, err)
	assert.Equal(t, "how are you", out)

	outStream, err := r.Stream(ctx, "I am fine")
	assert.NoError(t, err)
	defer outStream.Close()
	say, err := outStream.Recv()
	assert.NoError(t, err)
	assert.Equal(t, "I am fine", say)
}

func TestNestedGraph(t *testing.T) {
	const (
		nodeOfLambda1  = "lambda1"
		nodeOfLambda2  = "lambda2"
		nodeOfSubGraph = "sub_graph"
		nodeOfModel    = "model"
		nodeOfPrompt   = "prompt"
	)

	g := NewGraph[string, *schema.Message]()
	sg := NewGraph[map[string]any, *schema.Message]()

	_ = sg.AddChatTemplateNode(
		"prompt",
		prompt.FromMessages(schema.FString,
			schema.UserMessage("what is the weather like in {location}?"),
		))
	_ = sg.AddChatModelNode(
		nodeOfModel,
		&chatModel{msgs: []*schema.Message{
			schema.AssistantMessage("the weather is decent", nil),
		}},
		WithNodeName("MockChatModel"))
	_ = sg.AddEdge(START, nodeOfPrompt)
	_ = sg.AddEdge(nodeOfPrompt, nodeOfModel)
	_ = sg.AddEdge(nodeOfModel, END)

	_ = g.AddLambdaNode(nodeOfLambda1,
		InvokableLambda[string, map[string]any](
			func(ctx context.Context, input string) (output map[string]any, err error) {
				return map[string]any{"location": input}, nil
			}),
		WithNodeName("Lambda1"))
	_ = g.AddGraphNode(nodeOfSubGraph,
		sg,
		WithNodeName("SubGraphName"))
	_ = g.AddLambdaNode(nodeOfLambda2,
		InvokableLambda[*schema.Message, *schema.Message](
			func(ctx context.Context, input *schema.Message) (output *schema.Message, err error) {
				input.Content = fmt.Sprintf("after lambda 2: %s", input.Content)
				return input, nil
			}))
	_ = g.AddEdge(START, nodeOfLambda1)
	_ = g.AddEdge(nodeOfLambda1, nodeOfSubGraph)
	_ = g.AddEdge(nodeOfSubGraph, nodeOfLambda2)
	_ = g.AddEdge(nodeOfLambda2, END)

	ctx := context.Background()
	r, err := g.Compile(ctx,
		WithMaxRunSteps(10),
		WithGraphName("GraphName"),
	)
	assert.NoError(t, err)

	ck := "depth"
	cb := callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			v, ok := ctx.Value(ck).(int)
			if ok {
				v++
			}
			return context.WithValue(ctx, ck, v)
		}).OnStartWithStreamInputFn(func(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
		input.Close()

		v, ok := ctx.Value(ck).(int)
		if ok {
			v++
		}
		return context.WithValue(ctx, ck, v)
	}).Build()

	_, err = r.Invoke(ctx, "suzhou", WithCallbacks(cb))
	assert.NoError(t, err)

	rs, err := r.Stream(ctx, "suzhou", WithCallbacks(cb))
	assert.NoError(t, err)
	for {
		_, err = rs.Recv()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
	}

	sr, sw := schema.Pipe[string](5)
	_ = sw.Send("suzhou", nil)
	sw.Close()
	_, err = r.Collect(ctx, sr, WithCallbacks(cb))
	assert.NoError(t, err)

	sr, sw = schema.Pipe[string](5)
	_ = sw.Send("suzhou", nil)
	sw.Close()
	rt, err := r.Transform(ctx, sr, WithCallbacks(cb))
	assert.NoError(t, err)
	for {
		_, err = rt.Recv()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
	}
}

func TestValidate(t *testing.T) {
	g := NewGraph[string, string]()
	err := g.AddLambdaNode("1", InvokableLambda(func(ctx context.Context, input string) (output string, err error) { return "", nil }))
	assert.NoError(t, err)

	err = g.AddLambdaNode("2", InvokableLambda(func(ctx context.Context, input int) (output string, err error) { return "", nil }))

	err = g.AddEdge("1", "2")
	assert.ErrorContains(t, err, "graph edge[1]-[2]: start node's output type[string] and end node's input type[int] mismatch")

	g = NewGraph[string, string]()
	err = g.AddLambdaNode("1", InvokableLambda(func(ctx context.Context, input string) (output string, err error) { return "", nil }))
	assert.NoError(t, err)

	err = g.AddPassthroughNode("2")
	assert.NoError(t, err)

	err = g.AddLambdaNode("3", InvokableLambda(func(ctx context.Context, input int) (output string, err error) { return "", nil }))
	assert.NoError(t, err)

	err = g.AddEdge("1", "2")
	assert.NoError(t, err)
	err = g.AddEdge("2", "3")
	assert.ErrorContains(t, err, "graph edge[2]-[3]: start node's output type[string] and end node's input type[int] mismatch")

	g2 := NewGraph[any, string]()
	err = g2.AddLambdaNode("1", InvokableLambda(func(ctx context.Context, input any) (output any, err error) { return input, nil }))
	assert.NoError(t, err)
	err = g2.AddPassthroughNode("2")
	assert.NoError(t, err)
	err = g2.AddLambdaNode("3", InvokableLambda(func(ctx context.Context, input int) (output string, err error) { return strconv.Itoa(input), nil }))
	assert.NoError(t, err)
	err = g2.AddEdge(START, "1")
	assert.NoError(t, err)
	err = g2.AddEdge("1", "2")
	assert.NoError(t, err)
	err = g2.AddEdge("2", "3")
	assert.NoError(t, err)
	err = g2.AddEdge("3", END)
	assert.NoError(t, err)
	ru, err := g2.Compile(context.Background())
	assert.NoError(t, err)
	// success
	result, err := ru.Invoke(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, "1", result)
	// fail
	_, err = ru.Invoke(context.Background(), "1")
	assert.ErrorContains(t, err, "failed to calculate next tasks: failed to update and get channels: get value from ready channel[3] fail: runtime type check fail, expected type: int, actual type: string")

	g = NewGraph[string, string]()
	err = g.AddLambdaNode("1", InvokableLambda(func(ctx context.Context, input int) (output string, err error) { return "", nil }))
	assert.NoError(t, err)
	err = g.AddLambdaNode("2", InvokableLambda(func(ctx context.Context, input string) (output int, err error) { return 0, nil }))
	assert.NoError(t, err)
	err = g.AddEdge("1", "2")
	assert.NoError(t, err)
	err = g.AddEdge(START, "1")
	assert.ErrorContains(t, err, "graph edge[start]-[1]: start node's output type[string] and end node's input type[int] mismatch")

	type A interface {
		A()
	}
	type B interface {
		B()
	}
	type AB interface{}
	lA := InvokableLambda(func(ctx context.Context, input A) (output string, err error) { return "", nil })
	lB := InvokableLambda(func(ctx context.Context, input B) (output string, err error) { return "", nil })
	lAB := InvokableLambda(func(ctx context.Context, input string) (output AB, err error) { return nil, nil })

	p := NewParallel().AddLambda("1", lA).AddLambda("2", lB).AddLambda("3", lAB)
	c := NewChain[string, map[string]any]().AppendLambda(lAB).AppendParallel(p)
	_, err = c.Compile(context.Background())
	assert.NoError(t, err)

	p = NewParallel().AddLambda("1", lA).AddLambda("2", lAB)
	c = NewChain[string, map[string]any]().AppendParallel(p)
	_, err = c.Compile(context.Background())
	assert.ErrorContains(t, err, "add parallel edge failed, from=start, to=node_0_parallel_0, err: graph edge[start]-[node_0_parallel_0]: start node's output type[string] and end node's input type[compose.A] mismatch")

	gg := NewGraph[string, A]()
	err = gg.AddLambdaNode("nodeA", InvokableLambda(func(ctx context.Context, input A) (output A, err error) { return nil, nil }))
	assert.NoError(t, err)

	err = gg.AddLambdaNode("nodeA2", InvokableLambda(func(ctx context.Context, input A) (output A, err error) { return nil, nil }))
	assert.NoError(t, err)

	err = gg.AddLambdaNode("nodeB", InvokableLambda(func(ctx context.Context, input A) (output B, err error) { return nil, nil }))
	assert.NoError(t, err)

	err = gg.AddEdge("nodeA", END)
	assert.NoError(t, err)
	err = gg.AddEdge("nodeB", END)
	assert.ErrorContains(t, err, "graph edge[nodeB]-[end]: start node's output type[compose.B] and end node's input type[compose.A] mismatch")

	err = gg.AddEdge("nodeA2", END)
	assert.ErrorContains(t, err, "graph edge[nodeB]-[end]: start node's output type[compose.B] and end node's input type[compose.A] mismatch")

	// test any type
	anyG := NewGraph[any, string]()
	err = anyG.AddLambdaNode("node1", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return input + "node1", nil }))
	assert.NoError(t, err)

	err = anyG.AddLambdaNode("node2", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return input + "node2", nil }))
	assert.NoError(t, err)

	err = anyG.AddEdge(START, "node1")
	assert.NoError(t, err)

	err = anyG.AddEdge("node1", "node2")
	assert.NoError(t, err)

	err = anyG.AddEdge("node2", END)
	assert.NoError(t, err)

	r, err := anyG.Compile(context.Background())
	assert.NoError(t, err)
	result, err = r.Invoke(context.Background(), "start")
	assert.NoError(t, err)
	assert.Equal(t, "startnode1node2", result)

	streamResult, err := r.Stream(context.Background(), "start")
	assert.NoError(t, err)

	result = ""
	for {
		chunk, err := streamResult.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			assert.NoError(t, err)
		}
		result += chunk
	}

	assert.Equal(t, "startnode1node2", result)

	// test any type runtime error
	anyG = NewGraph[any, string]()
	err = anyG.AddLambdaNode("node1", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return 123, nil }))
	if err != nil {
		t.Fatal(err)
	}
	err = anyG.AddLambdaNode("node2", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return input + "node2", nil }))
	if err != nil {
		t.Fatal(err)
	}
	err = anyG.AddEdge(START, "node1")
	if err != nil {
		t.Fatal(err)
	}
	err = anyG.AddEdge("node1", "node2")
	assert.NoError(t, err)
	err = anyG.AddEdge("node2", END)
	assert.NoError(t, err)
	r, err = anyG.Compile(context.Background())
	assert.NoError(t, err)
	_, err = r.Invoke(context.Background(), "start")
	assert.ErrorContains(t, err, "[GraphRunError] failed to calculate next tasks: failed to update and get channels: get value from ready channel[node2] fail: runtime type check fail, expected type: string, actual type: int")
	_, err = r.Stream(context.Background(), "start")
	assert.ErrorContains(t, err, "runtime type check fail")

	// test branch any type
	// success
	g = NewGraph[string, string]()
	err = g.AddLambdaNode("node1", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return input + "node1", nil }))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("node2", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return input + "node2", nil }))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("node3", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return input + "node3", nil }))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddBranch("node1", NewGraphBranch(func(ctx context.Context, in string) (endNode string, err error) {
		return "node2", nil
	}, map[string]bool{"node2": true, "node3": true}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge(START, "node1")
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge("node2", END)
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge("node3", END)
	if err != nil {
		t.Fatal(err)
	}
	rr, err := g.Compile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ret, err := rr.Invoke(context.Background(), "start")
	assert.NoError(t, err)
	assert.Equal(t, "startnode1node2", ret)
	streamResult, err = rr.Stream(context.Background(), "start")
	assert.NoError(t, err)
	ret, err = concatStreamReader(streamResult)
	assert.NoError(t, err)
	assert.Equal(t, "startnode1node2", ret)

	// fail
	g = NewGraph[string, string]()
	err = g.AddLambdaNode("node1", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return 1 /*error type*/, nil }))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("node2", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return input + "node2", nil }))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("node3", InvokableLambda(func(ctx context.Context, input string) (output any, err error) { return input + "node3", nil }))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddBranch("node1", NewGraphBranch(func(ctx context.Context, in string) (endNode string, err error) {
		return "node2", nil
	}, map[string]bool{"node2": true, "node3": true}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge(START, "node1")
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge("node2", END)
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge("node3", END)
	if err != nil {
		t.Fatal(err)
	}
	rr, err = g.Compile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_, err = rr.Invoke(context.Background(), "start")
	assert.ErrorContains(t, err, "runtime type check fail")
	_, err = rr.Stream(context.Background(), "start")
	assert.ErrorContains(t, err, "runtime type check fail")
}

func TestValidateMultiAnyValueBranch(t *testing.T) {
	g := NewGraph[string, map[string]any]()

	err := g.AddLambdaNode("node1", InvokableLambda(func(ctx context.Context, input string) (output any, err error) {
		return input + "node1", nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node2", InvokableLambda(func(ctx context.Context, input string) (output map[string]any, err error) {
		return map[string]any{"node2": true}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node3", InvokableLambda(func(ctx context.Context, input string) (output map[string]any, err error) {
		return map[string]any{"node3": true}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node4", InvokableLambda(func(ctx context.Context, input string) (output map[string]any, err error) {
		return map[string]any{"node4": true}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node5", InvokableLambda(func(ctx context.Context, input string) (output map[string]any, err error) {
		return map[string]any{"node5": true}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddBranch("node1", NewGraphBranch(func(ctx context.Context, in string) (endNode string, err error) {
		return "node2", nil
	}, map[string]bool{"node2": true, "node3": true}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddBranch("node1", NewGraphBranch(func(ctx context.Context, in string) (endNode string, err error) {
		return "node4", nil
	}, map[string]bool{"node4": true, "node5": true}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge(START, "node1")
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node2", END)
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node3", END)
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node4", END)
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node5", END)
	if err != nil {
		t.Fatal(err)
	}

	rr, err := g.Compile(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ret, err := rr.Invoke(context.Background(), "start")
	if err != nil {
		t.Fatal(err)
	}
	if !ret["node2"].(bool) || !ret["node4"].(bool) {
		t.Fatal("test branch any type fail, result is unexpected")
	}

	streamResult, err := rr.Stream(context.Background(), "start")
	if err != nil {
		t.Fatal(err)
	}
	ret, err = concatStreamReader(streamResult)
	if err != nil {
		t.Fatal(err)
	}
	if !ret["node2"].(bool) || !ret["node4"].(bool) {
		t.Fatal("test branch any type fail, result is unexpected")
	}

	g = NewGraph[string, map[string]any]()

	err = g.AddLambdaNode("node1", InvokableLambda(func(ctx context.Context, input string) (output any, err error) {
		return input + "node1", nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node2", InvokableLambda(func(ctx context.Context, input string) (output map[string]any, err error) {
		return map[string]any{"node2": true}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node3", InvokableLambda(func(ctx context.Context, input string) (output map[string]any, err error) {
		return map[string]any{"node3": true}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node4", InvokableLambda(func(ctx context.Context, input string) (output map[string]any, err error) {
		return map[string]any{"node4": true}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node5", InvokableLambda(func(ctx context.Context, input string) (output map[string]any, err error) {
		return map[string]any{"node5": true}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddBranch("node1", NewGraphBranch(func(ctx context.Context, in string) (endNode string, err error) {
		return "node2", nil
	}, map[string]bool{"node2": true, "node3": true}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddBranch("node1", NewGraphBranch(func(ctx context.Context, in int /*wrong type: should be string*/) (endNode string, err error) {
		return "node4", nil
	}, map[string]bool{"node4": true, "node5": true}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge(START, "node1")
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node2", END)
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node3", END)
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node4", END)
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node5", END)
	if err != nil {
		t.Fatal(err)
	}

	rr, err = g.Compile(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	_, err = rr.Invoke(context.Background(), "start")
	if err == nil || !strings.Contains(err.Error(), "runtime") {
		t.Fatal("test multi branch any type fail, haven't report runtime error")
	}

	_, err = rr.Stream(context.Background(), "start")
	if err == nil || !strings.Contains(err.Error(), "runtime") {
		t.Fatal("test multi branch any type fail, haven't report runtime error")
	}
}

func TestAnyTypeWithKey(t *testing.T) {
	g := NewGraph[any, map[string]any]()

	err := g.AddLambdaNode("node1", InvokableLambda(func(ctx context.Context, input string) (output any, err error) {
		return input + "node1", nil
	}), WithInputKey("node1"))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node2", InvokableLambda(func(ctx context.Context, input string) (output any, err error) {
		return input + "node2", nil
	}), WithOutputKey("node2"))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge(START, "node1")
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node1", "node2")
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node2", END)
	if err != nil {
		t.Fatal(err)
	}

	r, err := g.Compile(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	result, err := r.Invoke(context.Background(), map[string]any{"node1": "start"})
	if err != nil {
		t.Fatal(err)
	}
	if result["node2"] != "startnode1node2" {
		t.Fatal("test any type with key fail, result is unexpected")
	}

	streamResult, err := r.Stream(context.Background(), map[string]any{"node1": "start"})
	if err != nil {
		t.Fatal(err)
	}
	ret, err := concatStreamReader(streamResult)
	if err != nil {
		t.Fatal(err)
	}
	if ret["node2"] != "startnode1node2" {
		t.Fatal("test any type with key fail, result is unexpected")
	}
}

func TestInputKey(t *testing.T) {
	g := NewGraph[map[string]any, map[string]any]()

	err := g.AddChatTemplateNode("1", prompt.FromMessages(schema.FString, schema.UserMessage("{var1}")), WithOutputKey("1"), WithInputKey("1"))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddChatTemplateNode("2", prompt.FromMessages(schema.FString, schema.UserMessage("{var2}")), WithOutputKey("2"), WithInputKey("2"))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddChatTemplateNode("3", prompt.FromMessages(schema.FString, schema.UserMessage("{var3}")), WithOutputKey("3"), WithInputKey("3"))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge(START, "1")
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge(START, "2")
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge(START, "3")
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("1", END)
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("2", END)
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("3", END)
	if err != nil {
		t.Fatal(err)
	}

	r, err := g.Compile(context.Background(), WithMaxRunSteps(100))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	//   - "1": []*schema.Message{Content: "a"}
	//   - "2": []*schema.Message{Content: "b"}
	//   - "3": []*schema.Message{Content: "c"}
	result, err := r.Invoke(ctx, map[string]any{
		"1": map[string]any{"var1": "a"},
		"2": map[string]any{"var2": "b"},
		"3": map[string]any{"var3": "c"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if result["1"].([]*schema.Message)[0].Content != "a" ||
		result["2"].([]*schema.Message)[0].Content != "b" ||
		result["3"].([]*schema.Message)[0].Content != "c" {
		t.Fatal("invoke different")
	}

	sr, sw := schema.Pipe[map[string]any](10)

	sw.Send(map[string]any{"1": map[string]any{"var1": "a"}}, nil)
	sw.Send(map[string]any{"2": map[string]any{"var2": "b"}}, nil)
	sw.Send(map[string]any{"3": map[string]any{"var3": "c"}}, nil)
	sw.Close()

	streamResult, err := r.Transform(ctx, sr)
	if err != nil {
		t.Fatal(err)
	}
	defer streamResult.Close()

	result = make(map[string]any)
	for {
		chunk, err := streamResult.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		for k, v := range chunk {
			result[k] = v
		}
	}
	if result["1"].([]*schema.Message)[0].Content != "a" ||
		result["2"].([]*schema.Message)[0].Content != "b" ||
		result["3"].([]*schema.Message)[0].Content != "c" {
		t.Fatal("transform different")
	}
}

//	1 ← 3 ← 5 ← 7 ← 8
//	│   ↑   ↑   ↑
//	└── 4 ── 6 ──┘
//	2 ←─────┘
func TestTransferTask(t *testing.T) {
	in := [][]string{
		{
			"1",
			"2",
		},
		{
			"3",
			"4",
			"5",
			"6",
		},
		{
			"5",
			"6",
			"7",
		},
		{
			"7",
			"8",
		},
		{
			"8",
		},
	}

	invertedEdges := map[string][]string{
		"1": {"3", "4"},
		"2": {"5", "6"},
		"3": {"5"},
		"4": {"6"},
		"5": {"7"},
		"7": {"8"},
	}

	in = transferTask(in, invertedEdges)

	expected := [][]string{
		{
			"1",
		},
		{
			"3",
			"2",
		},
		{
			"5",
		},
		{
			"7",
			"4",
		},
		{
			"8",
			"6",
		},
	}

	if !reflect.DeepEqual(expected, in) {
		t.Fatal("not equal")
	}
}

//	START
//	  |
//	  v
//	node1 -----> node2
//	  |           |
//	  v           v
//	 END        END
func TestPregelEnd(t *testing.T) {
	g := NewGraph[string, string]()

	err := g.AddLambdaNode("node1", InvokableLambda(func(ctx context.Context, input string) (output string, err error) {
		return "node1", nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddLambdaNode("node2", InvokableLambda(func(ctx context.Context, input string) (output string, err error) {
		return "node2", nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge(START, "node1")
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node1", END)
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node1", "node2")
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge("node2", END)
	if err != nil {
		t.Fatal(err)
	}

	runner, err := g.Compile(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	out, err := runner.Invoke(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if out != "node1" {
		t.Fatal("graph output is unexpected")
	}
}

type cb struct {
	gInfo *GraphInfo
}

func (c *cb) OnFinish(ctx context.Context, info *GraphInfo) {
	c.gInfo = info
}

func TestGraphCompileCallback(t *testing.T) {
	t.Run("graph compile callback", func(t *testing.T) {
		type s struct{}

		g := NewGraph[map[string]any, map[string]any](WithGenLocalState(func(ctx context.Context) *s { return &s{} }))

		lambda := InvokableLambda(func(ctx context.Context, input string) (output string, err error) {
			return "node1", nil
		})
		lambdaOpts := []GraphAddNodeOpt{WithNodeName("lambda_1"), WithInputKey("input_key")}
		err := g.AddLambdaNode("node1", lambda, lambdaOpts...)
		assert.NoError(t, err)

		err = g.AddPassthroughNode("pass1")
		assert.NoError(t, err)
		err = g.AddPassthroughNode("pass2")
		assert.NoError(t, err)

		condition := func(ctx context.Context, input string) (string, error) {
			return input, nil
		}

		branch := NewGraphBranch(condition, map[string]bool{"pass1": true, "pass2": true})
		err = g.AddBranch("node1", branch)
		assert.NoError(t, err)

		// START → node1
		err = g.AddEdge(START, "node1")
		assert.NoError(t, err)

		lambda2 := InvokableLambda(func(ctx context.Context, input string) (output string, err error) {
			return "node2", nil
		})
		lambdaOpts2 := []GraphAddNodeOpt{WithNodeName("lambda_2")}
		subSubGraph := NewGraph[string, string]()
		err = subSubGraph.AddLambdaNode("sub1", lambda2, lambdaOpts2...)
		assert.NoError(t, err)
		err = subSubGraph.AddEdge(START, "sub1")
		assert.NoError(t, err)
		err = subSubGraph.AddEdge("sub1", END)
		assert.NoError(t, err)

		subGraph := NewGraph[string, string]()
		var ssGraphCompileOpts []GraphCompileOption
		ssGraphOpts := []GraphAddNodeOpt{WithGraphCompileOptions(ssGraphCompileOpts...)}
		err = subGraph.AddGraphNode("sub_sub_1", subSubGraph, ssGraphOpts...)
		assert.NoError(t, err)
		err = subGraph.AddEdge(START, "sub_sub_1")
		assert.NoError(t, err)
		err = subGraph.AddEdge("sub_sub_1", END)
		assert.NoError(t, err)

		subGraphCompileOpts := []GraphCompileOption{WithMaxRunSteps(2), WithGraphName("sub_graph")}
		subGraphOpts := []GraphAddNodeOpt{WithGraphCompileOptions(subGraphCompileOpts...)}
		err = g.AddGraphNode("sub_graph", subGraph, subGraphOpts...)
		assert.NoError(t, err)

		// pass1/pass2 → sub_graph
		err = g.AddEdge("pass1", "sub_graph")
		assert.NoError(t, err)
		err = g.AddEdge("pass2", "sub_graph")
		assert.NoError(t, err)

		lambda3 := InvokableLambda(func(ctx context.Context, input string) (output string, err error) {
			return "node3", nil
		})
		lambdaOpts3 := []GraphAddNodeOpt{WithNodeName("lambda_3"), WithOutputKey("lambda_3")}
		err = g.AddLambdaNode("node3", lambda3, lambdaOpts3...)
		assert.NoError(t, err)

		lambda4 := InvokableLambda(func(ctx context.Context, input string) (output string, err error) {
			return "node4", nil
		})
		lambdaOpts4 := []GraphAddNodeOpt{WithNodeName("lambda_4"), WithOutputKey("lambda_4")}
		err = g.AddLambdaNode("node4", lambda4, lambdaOpts4...)
		assert.NoError(t, err)

		// sub_graph → node3/node4 → END
		err = g.AddEdge("sub_graph", "node3")
		assert.NoError(t, err)
		err = g.AddEdge("sub_graph", "node4")
		assert.NoError(t, err)
		err = g.AddEdge("node3", END)
		assert.NoError(t, err)
		err = g.AddEdge("node4", END)
		assert.NoError(t, err)

		c := &cb{}
		opt := []GraphCompileOption{WithGraphCompileCallbacks(c), WithGraphName("top_level")}
		_, err = g.Compile(context.Background(), opt...)
		assert.NoError(t, err)

		expected := &GraphInfo{
			CompileOptions: opt,
			Nodes: map[string]GraphNodeInfo{
				"node1": {
					Component:        ComponentOfLambda,
					Instance:         lambda,
					GraphAddNodeOpts: lambdaOpts,
					InputType:        reflect.TypeOf(""),
					OutputType:       reflect.TypeOf(""),
					Name:             "lambda_1",
					InputKey:         "input_key",
				},
				"pass1": {
					Component:  ComponentOfPassthrough,
					InputType:  reflect.TypeOf(""),
					OutputType: reflect.TypeOf(""),
					Name:       "",
				},
				"pass2": {
					Component:  ComponentOfPassthrough,
					InputType:  reflect.TypeOf(""),
					OutputType: reflect.TypeOf(""),
					Name:       "",
				},
				"sub_graph": {
					Component:        ComponentOfGraph,
					Instance:         subGraph,
					GraphAddNodeOpts: subGraphOpts,
					InputType:        reflect.TypeOf(""),
					OutputType:       reflect.TypeOf(""),
					Name:             "",
					GraphInfo: &GraphInfo{
						CompileOptions: subGraphCompileOpts,
						Nodes: map[string]GraphNodeInfo{
							"sub_sub_1": {
								Component:        ComponentOfGraph,
								Instance:         subSubGraph,
								GraphAddNodeOpts: ssGraphOpts,
								InputType:        reflect.TypeOf(""),
								OutputType:       reflect.TypeOf(""),
								Name:             "",
								GraphInfo: &GraphInfo{
									CompileOptions: ssGraphCompileOpts,
									Nodes: map[string]GraphNodeInfo{
										"sub1": {
											Component:        ComponentOfLambda,
											Instance:         lambda2,
											GraphAddNodeOpts: lambdaOpts2,
											InputType:        reflect.TypeOf(""),
											OutputType:       reflect.TypeOf(""),
											Name:             "lambda_2",
										},
									},
									Edges: map[string][]string{
										START:  {"sub1"},
										"sub1": {END},
									},
									DataEdges: map[string][]string{
										START:  {"sub1"},
										"sub1": {END},
									},
									Branches:   map[string][]GraphBranch{},
									InputType:  reflect.TypeOf(""),
									OutputType: reflect.TypeOf(""),
								},
							},
						},
						Edges: map[string][]string{
							START:       {"sub_sub_1"},
							"sub_sub_1": {END},
						},
						DataEdges: map[string][]string{
							START:       {"sub_sub_1"},
							"sub_sub_1": {END},
						},
						Branches:   map[string][]GraphBranch{},
						InputType:  reflect.TypeOf(""),
						OutputType: reflect.TypeOf(""),
						Name:       "sub_graph",
					},
				},
				"node3": {
					Component:        ComponentOfLambda,
					Instance:         lambda3,
					GraphAddNodeOpts: lambdaOpts3,
					InputType:        reflect.TypeOf(""),
					OutputType:       reflect.TypeOf(""),
					Name:             "lambda_3",
					OutputKey:        "lambda_3",
				},
				"node4": {
					Component:        ComponentOfLambda,
					Instance:         lambda4,
					GraphAddNodeOpts: lambdaOpts4,
					InputType:        reflect.TypeOf(""),
					OutputType:       reflect.TypeOf(""),
					Name:             "lambda_4",
					OutputKey:        "lambda_4",
				},
			},
			Edges: map[string][]string{
				START:       {"node1"},
				"pass1":     {"sub_graph"},
				"pass2":     {"sub_graph"},
				"sub_graph": {"node3", "node4"},
				"node3":     {END},
				"node4":     {END},
			},
			DataEdges: map[string][]string{
				START:       {"node1"},
				"pass1":     {"sub_graph"},
				"pass2":     {"sub_graph"},
				"sub_graph": {"node3", "node4"},
				"node3":     {END},
				"node4":     {END},
			},
			Branches: map[string][]GraphBranch{
				"node1": {*branch},
			},
			InputType:  reflect.TypeOf(map[string]any{}),
			OutputType: reflect.TypeOf(map[string]any{}),
			Name:       "top_level",
		}

		stateFn := c.gInfo.GenStateFn
		assert.NotNil(t, stateFn)
		assert.Equal(t, &s{}, stateFn(context.Background()))

		assert.Equal(t, 1, len(c.gInfo.NewGraphOptions))
		c.gInfo.NewGraphOptions = nil

		c.gInfo.GenStateFn = nil

		actualCompileOptions := newGraphCompileOptions(c.gInfo.CompileOptions...)
		expectedCompileOptions := newGraphCompileOptions(expected.CompileOptions...)
		assert.Equal(t, len(expectedCompileOptions.callbacks), len(actualCompileOptions.callbacks))
		assert.Same(t, expectedCompileOptions.callbacks[0], actualCompileOptions.callbacks[0])
		actualCompileOptions.callbacks = nil
		actualCompileOptions.origOpts = nil
		expectedCompileOptions.callbacks = nil
		expectedCompileOptions.origOpts = nil
		assert.Equal(t, expectedCompileOptions, actualCompileOptions)

		c.gInfo.CompileOptions = nil
		expected.CompileOptions = nil

		assert.Equal(t, expected.Branches["node1"][0].targets, c.gInfo.Branches["node1"][0].targets)
		assert.Equal(t, expected.Branches["node1"][0].inputType, c.gInfo.Branches["node1"][0].inputType)

		expected.Branches["node1"] = []GraphBranch{}
		c.gInfo.Branches["node1"] = []GraphBranch{}

		assert.Equal(t, expected, c.gInfo)
	})
}

func TestCheckAddEdge(t *testing.T) {
	g := NewGraph[string, string]()
	err := g.AddPassthroughNode("1")
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddPassthroughNode("2")
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge("1", "2")
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge("1", "2")
	assert.ErrorContains(t, err, "control edge[1]-[2] have been added yet")
}

func TestStartWithEnd(t *testing.T) {
	g := NewGraph[string, string]()
	err := g.AddLambdaNode("1", InvokableLambda(func(ctx context.Context, input string) (output string, err error) {
		return input, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddBranch(START, NewGraphBranch(func(ctx context.Context, in string) (endNode string, err error) {
		return END, nil
	}, map[string]bool{"1": true, END: true}))
	if err != nil {
		t.Fatal(err)
	}
	r, err := g.Compile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sr, sw := schema.Pipe[string](1)
	sw.Send("test", nil)
	sw.Close()
	result, err := r.Transform(context.Background(), sr)
	if err != nil {
		t.Fatal(err)
	}
	for {
		chunk, err := result.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if chunk != "test" {
			t.Fatal("result is out of expect")
		}
	}
}

func TestToString(t *testing.T) {
	ps := runTypePregel.String()
	assert.Equal(t, "Pregel", ps)

	ds := runTypeDAG
	assert.Equal(t, "DAG", ds.String())
}

// memCheckPointStore is a minimal in-process CheckPointStore used only by tests in
// this package; it satisfies the two-method contract directly rather than pulling in
// one of the checkpoint/ adapters.
type memCheckPointStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCheckPointStore() *memCheckPointStore {
	return &memCheckPointStore{data: make(map[string][]byte)}
}

func (m *memCheckPointStore) Get(_ context.Context, checkPointID string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[checkPointID]
	return data, ok, nil
}

func (m *memCheckPointStore) Set(_ context.Context, checkPointID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[checkPointID] = data
	return nil
}

// TestPerNodeTriggerModeOverride exercises WithPerNodeTriggerMode: a node opted into
// AnyPredecessor inside a graph whose default (from WithNodeTriggerMode) is
// AllPredecessor must fire on the first predecessor delivery and drop whatever
// arrives after, rather than waiting for every predecessor like its siblings.
func TestPerNodeTriggerModeOverride(t *testing.T) {
	ctx := context.Background()

	g := NewGraph[string, string]()

	err := g.AddLambdaNode("slow", InvokableLambda(func(ctx context.Context, input string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "slow", nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("fast", InvokableLambda(func(ctx context.Context, input string) (string, error) {
		return "fast", nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("any", InvokableLambda(func(ctx context.Context, input string) (string, error) {
		return input, nil
	}), WithPerNodeTriggerMode(AnyPredecessor))
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range [][2]string{{START, "slow"}, {START, "fast"}, {"slow", "any"}, {"fast", "any"}, {"any", END}} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}

	// the graph's own default is AllPredecessor (DAG mode); "any" opts out of it.
	r, err := g.Compile(ctx, WithNodeTriggerMode(AllPredecessor))
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.Invoke(ctx, "in")
	if err != nil {
		t.Fatal(err)
	}

	// "fast" always completes first since "slow" sleeps; "any" latches onto that
	// first delivery and the graph finishes without ever waiting on "slow".
	assert.Equal(t, "fast", out)
}

// TestConcurrentInterruptCheckpointRoundTrip: two nodes interrupt in the same
// superstep, and the checkpoint persisted to the store must carry both interrupt
// payloads, keyed by node, through a save/load round trip, not just the first
// one observed.
func TestConcurrentInterruptCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()

	var bCalls, cCalls int32

	g := NewGraph[string, map[string]any]()

	err := g.AddLambdaNode("stepB", InvokableLambda(func(ctx context.Context, input string) (map[string]any, error) {
		if atomic.AddInt32(&bCalls, 1) == 1 {
			return nil, NewInterruptAndRerunErr(map[string]any{"from": "B"})
		}
		return map[string]any{"b": "done"}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("stepC", InvokableLambda(func(ctx context.Context, input string) (map[string]any, error) {
		if atomic.AddInt32(&cCalls, 1) == 1 {
			return nil, NewInterruptAndRerunErr(map[string]any{"from": "C"})
		}
		return map[string]any{"c": "done"}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("join", InvokableLambda(func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}), WithPerNodeTriggerMode(AllPredecessor))
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range [][2]string{{START, "stepB"}, {START, "stepC"}, {"stepB", "join"}, {"stepC", "join"}, {"join", END}} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}

	store := newMemCheckPointStore()

	r, err := g.Compile(ctx, WithCheckPointStore(store))
	if err != nil {
		t.Fatal(err)
	}

	const checkPointID = "concurrent-interrupt-run"

	_, err = r.Invoke(ctx, "start", WithCheckPointID(checkPointID))
	if err == nil {
		t.Fatal("expected an interrupt error, got nil")
	}

	info, ok := ExtractInterruptInfo(err)
	if !ok {
		t.Fatalf("expected an InterruptInfo, got: %v", err)
	}

	assert.ElementsMatch(t, []string{"stepB", "stepC"}, info.RerunNodes)
	assert.Equal(t, map[string]any{"from": "B"}, info.RerunNodesExtra["stepB"])
	assert.Equal(t, map[string]any{"from": "C"}, info.RerunNodesExtra["stepC"])

	// confirm the payload map actually round-trips through the store, not just
	// through the in-memory InterruptInfo returned before persistence.
	raw, existed, getErr := store.Get(ctx, checkPointID)
	if getErr != nil {
		t.Fatal(getErr)
	}
	if !existed {
		t.Fatal("expected a persisted checkpoint")
	}

	var loaded checkpoint
	serializer := &serialization.InternalSerializer{}
	if err := serializer.Unmarshal(raw, &loaded); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, map[string]any{"from": "B"}, loaded.RerunNodesExtra["stepB"])
	assert.Equal(t, map[string]any{"from": "C"}, loaded.RerunNodesExtra["stepC"])

	// resuming from the checkpoint reruns exactly stepB and stepC (now past their
	// interrupt) and "join" receives both of their contributions.
	out, err := r.Invoke(ctx, "start", WithCheckPointID(checkPointID))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, map[string]any{"b": "done", "c": "done"}, out)
}

func TestLinearStringPipeline(t *testing.T) {
	ctx := context.Background()

	g := NewGraph[string, string]()

	err := g.AddLambdaNode("upper", InvokableLambda(func(ctx context.Context, input string) (string, error) {
		return strings.ToUpper(input), nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("reverse", InvokableLambda(func(ctx context.Context, input string) (string, error) {
		rs := []rune(input)
		for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
			rs[i], rs[j] = rs[j], rs[i]
		}
		return string(rs), nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range [][2]string{{START, "upper"}, {"upper", "reverse"}, {"reverse", END}} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}

	r, err := g.Compile(ctx)
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.Invoke(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "OLLEH", out)

	// a node implementing only Invoke still serves Stream: exactly one chunk,
	// equal to the Invoke result.
	s, err := r.Stream(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	chunk, err := s.Recv()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "OLLEH", chunk)
	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFanInWithOutputKeys(t *testing.T) {
	ctx := context.Background()

	g := NewGraph[int, int]()

	err := g.AddLambdaNode("even", InvokableLambda(func(ctx context.Context, x int) (int, error) {
		return 2 * x, nil
	}), WithOutputKey("a"))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("odd", InvokableLambda(func(ctx context.Context, x int) (int, error) {
		return 2*x + 1, nil
	}), WithOutputKey("b"))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("sum", InvokableLambda(func(ctx context.Context, in map[string]any) (int, error) {
		return in["a"].(int) + in["b"].(int), nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range [][2]string{{START, "even"}, {START, "odd"}, {"even", "sum"}, {"odd", "sum"}, {"sum", END}} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}

	// sum must wait for both contributions before it fires.
	r, err := g.Compile(ctx, WithNodeTriggerMode(AllPredecessor))
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.Invoke(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 13, out)
}

func TestBranchByPredicate(t *testing.T) {
	ctx := context.Background()

	g := NewGraph[int, string]()

	err := g.AddLambdaNode("classify", InvokableLambda(func(ctx context.Context, x int) (int, error) {
		return x, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("high", InvokableLambda(func(ctx context.Context, x int) (string, error) {
		return "big", nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("low", InvokableLambda(func(ctx context.Context, x int) (string, error) {
		return "small", nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	err = g.AddEdge(START, "classify")
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddBranch("classify", NewGraphBranch(func(ctx context.Context, v int) (string, error) {
		if v >= 10 {
			return "high", nil
		}
		return "low", nil
	}, map[string]bool{"high": true, "low": true}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge("high", END)
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge("low", END)
	if err != nil {
		t.Fatal(err)
	}

	r, err := g.Compile(ctx)
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.Invoke(ctx, 15)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "big", out)

	out, err = r.Invoke(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "small", out)
}

func TestStreamedTransformPipeline(t *testing.T) {
	ctx := context.Background()

	g := NewGraph[string, int]()

	err := g.AddLambdaNode("source", StreamableLambda(func(ctx context.Context, _ string) (*schema.StreamReader[int], error) {
		sr, sw := schema.Pipe[int](3)
		go func() {
			defer sw.Close()
			for _, v := range []int{1, 2, 3} {
				sw.Send(v, nil)
			}
		}()
		return sr, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddLambdaNode("double", TransformableLambda(func(ctx context.Context, input *schema.StreamReader[int]) (*schema.StreamReader[int], error) {
		return schema.StreamReaderWithConvert(input, func(v int) (int, error) {
			return v * 2, nil
		}), nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range [][2]string{{START, "source"}, {"source", "double"}, {"double", END}} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}

	r, err := g.Compile(ctx)
	if err != nil {
		t.Fatal(err)
	}

	s, err := r.Stream(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var got []int
	for {
		v, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 4, 6}, got)
}

func TestCyclicGraphWithStepBound(t *testing.T) {
	ctx := context.Background()

	newCounterGraph := func() *Graph[int, int] {
		g := NewGraph[int, int]()

		err := g.AddLambdaNode("inc", InvokableLambda(func(ctx context.Context, x int) (int, error) {
			return x + 1, nil
		}))
		if err != nil {
			t.Fatal(err)
		}
		err = g.AddEdge(START, "inc")
		if err != nil {
			t.Fatal(err)
		}
		err = g.AddBranch("inc", NewGraphBranch(func(ctx context.Context, x int) (string, error) {
			if x < 3 {
				return "inc", nil
			}
			return END, nil
		}, map[string]bool{"inc": true, END: true}))
		if err != nil {
			t.Fatal(err)
		}
		return g
	}

	r, err := newCounterGraph().Compile(ctx, WithMaxRunSteps(10))
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.Invoke(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 3, out)

	// the same cycle with too small a bound must fail instead of spinning.
	r, err = newCounterGraph().Compile(ctx, WithMaxRunSteps(2))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Invoke(ctx, 0)
	assert.ErrorIs(t, err, ErrExceedMaxSteps)
}

func TestInterruptResume(t *testing.T) {
	ctx := context.Background()

	var bCalls int32

	newStepGraph := func(interruptOnce bool) Runnable[string, string] {
		g := NewGraph[string, string]()

		err := g.AddLambdaNode("stepA", InvokableLambda(func(ctx context.Context, input string) (string, error) {
			return input + "-a", nil
		}))
		if err != nil {
			t.Fatal(err)
		}
		err = g.AddLambdaNode("stepB", InvokableLambda(func(ctx context.Context, input string) (string, error) {
			if interruptOnce && atomic.AddInt32(&bCalls, 1) == 1 {
				return "", NewInterruptAndRerunErr(map[string]any{"seen": true})
			}
			return input + "-b", nil
		}))
		if err != nil {
			t.Fatal(err)
		}

		for _, e := range [][2]string{{START, "stepA"}, {"stepA", "stepB"}, {"stepB", END}} {
			if err := g.AddEdge(e[0], e[1]); err != nil {
				t.Fatal(err)
			}
		}

		r, err := g.Compile(ctx, WithCheckPointStore(newMemCheckPointStore()))
		if err != nil {
			t.Fatal(err)
		}
		return r
	}

	plain, err := newStepGraph(false).Invoke(ctx, "in")
	if err != nil {
		t.Fatal(err)
	}

	r := newStepGraph(true)

	_, err = r.Invoke(ctx, "in", WithCheckPointID("c1"))
	info, ok := ExtractInterruptInfo(err)
	if !ok {
		t.Fatalf("expected an InterruptInfo, got: %v", err)
	}
	assert.Equal(t, []string{"stepB"}, info.RerunNodes)
	assert.Equal(t, map[string]any{"seen": true}, info.RerunNodesExtra["stepB"])

	out, err := r.Invoke(ctx, "in", WithCheckPointID("c1"))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, plain, out)
}
