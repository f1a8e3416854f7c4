package compose

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/graphrun/graphrun/internal"
	"github.com/graphrun/graphrun/internal/safe"
)

// channel is one node's inbox. The runner reports predecessor outputs
// (values), control-edge completions (dependencies) and branch skips into
// it; get composes a single input once the channel's trigger policy deems
// it ready. dagChannel and pregelChannel implement the two run disciplines.
type channel interface {
	reportValues(map[string]any) error
	reportDependencies([]string)
	reportSkip([]string) bool
	get(bool, string, *edgeHandlerManager) (any, bool, error)
	convertValues(fn func(map[string]any) error) error
	load(channel) error

	setMergeConfig(FanInMergeConfig)
}

// applyHandlerChain threads value through a chain of handlerPairs, picking
// each pair's stream or value side to match the payload.
func applyHandlerChain(pairs []handlerPair, value any, isStream bool) (any, error) {
	if isStream {
		for _, p := range pairs {
			value = p.transform(value.(streamReader))
		}
		return value, nil
	}

	for _, p := range pairs {
		var err error
		value, err = p.invoke(value)
		if err != nil {
			return nil, err
		}
	}
	return value, nil
}

// edgeHandlerManager holds the per-edge conversion chains (field mappings,
// deferred type checks) keyed from -> to.
type edgeHandlerManager struct {
	h map[string]map[string][]handlerPair
}

func (e *edgeHandlerManager) handle(from, to string, value any, isStream bool) (any, error) {
	pairs, ok := e.h[from][to]
	if !ok {
		return value, nil
	}
	return applyHandlerChain(pairs, value, isStream)
}

// preNodeHandlerManager holds per-node input conversion chains applied
// after the channel composes its input.
type preNodeHandlerManager struct {
	h map[string][]handlerPair
}

func (p *preNodeHandlerManager) handle(nodeKey string, value any, isStream bool) (any, error) {
	pairs, ok := p.h[nodeKey]
	if !ok {
		return value, nil
	}
	return applyHandlerChain(pairs, value, isStream)
}

// preBranchHandlerManager holds per-branch input conversion chains, indexed
// by the branch's order on its source node.
type preBranchHandlerManager struct {
	h map[string][][]handlerPair
}

func (p *preBranchHandlerManager) handle(nodeKey string, idx int, value any, isStream bool) (any, error) {
	chains, ok := p.h[nodeKey]
	if !ok {
		return value, nil
	}
	return applyHandlerChain(chains[idx], value, isStream)
}

// composeDeliveredValues is the tail both channel implementations share:
// run each delivered value through its edge handlers, then merge the
// results into the node's single input. names feed source-tagged stream
// merging when the fan-in config asks for it.
func composeDeliveredValues(values map[string]any, isStream bool, nodeKey string,
	edgeHandler *edgeHandlerManager, cfg FanInMergeConfig) (any, error) {

	resolved := make([]any, 0, len(values))
	names := make([]string, 0, len(values))
	for from, value := range values {
		v, err := edgeHandler.handle(from, nodeKey, value, isStream)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, v)
		names = append(names, from)
	}

	if len(resolved) == 1 {
		return resolved[0], nil
	}

	return mergeValues(resolved, &mergeOptions{
		streamMergeWithSourceEOF: cfg.StreamMergeWithSourceEOF,
		names:                    names,
	})
}

// channelManager owns every node's channel for one run and routes task
// results into them.
type channelManager struct {
	isStream bool
	channels map[string]channel

	successors          map[string][]string
	dataPredecessors    map[string]map[string]struct{}
	controlPredecessors map[string]map[string]struct{}

	edgeHandlerManager    *edgeHandlerManager
	preNodeHandlerManager *preNodeHandlerManager
}

func (c *channelManager) loadChannels(channels map[string]channel) error {
	for key, ch := range c.channels {
		if nCh, ok := channels[key]; ok {
			if err := ch.load(nCh); err != nil {
				return fmt.Errorf("load channel[%s] fail: %w", key, err)
			}
		}
	}
	return nil
}

// updateValues delivers each producer's output into the target channels.
// Deliveries along control-only edges carry no payload; a stream arriving
// on one is closed here since no one will ever read it.
func (c *channelManager) updateValues(_ context.Context, values map[string] /*to*/ map[string] /*from*/ any) error {
	for target, fromMap := range values {
		toChannel, ok := c.channels[target]
		if !ok {
			return fmt.Errorf("target channel doesn't existed: %s", target)
		}

		dps := c.dataPredecessors[target]
		deliverable := make(map[string]any, len(fromMap))
		for from, value := range fromMap {
			if _, isData := dps[from]; isData {
				deliverable[from] = value
			} else if sr, isStream := value.(streamReader); isStream {
				sr.close()
			}
		}

		if err := toChannel.reportValues(deliverable); err != nil {
			return fmt.Errorf("update target channel[%s] fail: %w", target, err)
		}
	}
	return nil
}

func (c *channelManager) updateDependencies(_ context.Context, dependenciesMap map[string][]string) error {
	for target, dependencies := range dependenciesMap {
		toChannel, ok := c.channels[target]
		if !ok {
			return fmt.Errorf("target channel doesn't existed: %s", target)
		}

		cps := c.controlPredecessors[target]
		var deps []string
		for _, from := range dependencies {
			if _, isControl := cps[from]; isControl {
				deps = append(deps, from)
			}
		}

		toChannel.reportDependencies(deps)
	}
	return nil
}

func (c *channelManager) getFromReadyChannels(_ context.Context) (map[string]any, error) {
	result := make(map[string]any)
	for target, ch := range c.channels {
		v, ready, err := ch.get(c.isStream, target, c.edgeHandlerManager)
		if err != nil {
			return nil, fmt.Errorf("get value from ready channel[%s] fail: %w", target, err)
		}
		if !ready {
			continue
		}

		v, err = c.preNodeHandlerManager.handle(target, v, c.isStream)
		if err != nil {
			return nil, err
		}
		result[target] = v
	}
	return result, nil
}

func (c *channelManager) updateAndGet(ctx context.Context, values map[string]map[string]any, dependencies map[string][]string) (map[string]any, error) {
	if err := c.updateValues(ctx, values); err != nil {
		return nil, fmt.Errorf("update channel fail: %w", err)
	}
	if err := c.updateDependencies(ctx, dependencies); err != nil {
		return nil, fmt.Errorf("update channel fail: %w", err)
	}
	return c.getFromReadyChannels(ctx)
}

// reportBranch tells every non-selected branch target it was skipped, then
// transitively skips any node all of whose control predecessors are now
// skipped.
func (c *channelManager) reportBranch(from string, skippedNodes []string) error {
	var fullySkipped []string
	for _, node := range skippedNodes {
		if c.channels[node].reportSkip([]string{from}) {
			fullySkipped = append(fullySkipped, node)
		}
	}

	// fullySkipped grows while we walk it: each newly-skipped node may in
	// turn fully skip its successors.
	for i := 0; i < len(fullySkipped); i++ {
		key := fullySkipped[i]

		if key == END {
			continue
		}
		if _, ok := c.successors[key]; !ok {
			return fmt.Errorf("unknown node: %s", key)
		}
		for _, successor := range c.successors[key] {
			if c.channels[successor].reportSkip([]string{key}) {
				fullySkipped = append(fullySkipped, successor)
			}
			// todo: detect if end node has been skipped?
		}
	}
	return nil
}

// task is one node execution in flight: its input going in, its output or
// error coming out.
type task struct {
	ctx            context.Context
	nodeKey        string
	call           *chanCall
	input          any
	output         any
	option         []any
	err            error
	skipPreHandler bool
}

// taskManager launches node executions and collects their completions.
// needAll distinguishes the two run disciplines: a Pregel superstep waits
// for every launched task, a DAG step resumes scheduling on each single
// completion.
type taskManager struct {
	runWrapper runnableCallWrapper
	opts       []Option
	needAll    bool

	num          uint32
	done         *internal.UnboundedChan[*task]
	runningTasks map[string]*task

	cancelCh chan *time.Duration
	canceled bool
	deadline *time.Time
}

func (t *taskManager) execute(currentTask *task) {
	defer func() {
		if panicInfo := recover(); panicInfo != nil {
			currentTask.output = nil
			currentTask.err = safe.NewPanicErr(panicInfo, debug.Stack())
		}

		t.done.Send(currentTask)
	}()

	ctx := initNodeCallbacks(currentTask.ctx, currentTask.nodeKey, currentTask.call.action.nodeInfo, currentTask.call.action.meta, t.opts...)
	currentTask.output, currentTask.err = t.runWrapper(ctx, currentTask.call.action, currentTask.input, currentTask.option...)
}

// submit runs each task's pre-handler inline, then launches the survivors.
// When nothing else is in flight and no interrupt can arrive, one task runs
// synchronously on this goroutine instead of spawning.
func (t *taskManager) submit(tasks []*task) error {
	if len(tasks) == 0 {
		return nil
	}

	for i := 0; i < len(tasks); i++ {
		currentTask := tasks[i]
		if err := runPreHandler(currentTask, t.runWrapper); err != nil {
			// a failed pre-handler completes the task immediately with its
			// error; it never reaches the worker
			currentTask.err = err
			tasks = append(tasks[:i], tasks[i+1:]...)
			i--
			t.num++
			t.done.Send(currentTask)
		}

		t.runningTasks[currentTask.nodeKey] = currentTask
	}
	if len(tasks) == 0 {
		return nil
	}

	var syncTask *task
	if t.num == 0 && (len(tasks) == 1 || t.needAll) && t.cancelCh == nil /* skip sync-run fast path if interrupts are possible */ {
		syncTask = tasks[0]
		tasks = tasks[1:]
	}
	for _, currentTask := range tasks {
		t.num += 1
		go t.execute(currentTask)
	}
	if syncTask != nil {
		t.num += 1
		t.execute(syncTask)
	}
	return nil
}

func (t *taskManager) wait() (tasks []*task, canceled bool, canceledTasks []*task) {
	if t.needAll {
		tasks, canceledTasks = t.waitAll()
		return tasks, t.canceled, canceledTasks
	}

	ta, success, canceled := t.waitOne()
	if canceled {
		return nil, true, t.abandonRunning()
	}
	if t.canceled {
		tasks, canceledTasks = t.waitAll()
		return append(tasks, ta), true, canceledTasks
	}
	if !success {
		return []*task{}, t.canceled, nil
	}

	return []*task{ta}, t.canceled, nil
}

// abandonRunning hands back every in-flight task and resets the manager;
// used when the run is being canceled.
func (t *taskManager) abandonRunning() []*task {
	abandoned := make([]*task, 0, len(t.runningTasks))
	for _, rta := range t.runningTasks {
		abandoned = append(abandoned, rta)
	}
	t.runningTasks = make(map[string]*task)
	t.num = 0
	return abandoned
}

func (t *taskManager) waitOne() (ta *task, success bool, canceled bool) {
	if t.num == 0 {
		return nil, false, false
	}

	if t.cancelCh == nil {
		ta, _ = t.done.Receive()
	} else {
		ta, _, canceled = t.receive(t.done.Receive)
	}

	t.num--

	if canceled {
		return nil, false, true
	}

	delete(t.runningTasks, ta.nodeKey)
	if ta.err != nil {
		return ta, true, false
	}
	runPostHandler(ta, t.runWrapper)
	return ta, true, false
}

func (t *taskManager) waitAll() (successTasks []*task, canceledTasks []*task) {
	result := make([]*task, 0, t.num)
	for {
		ta, success, canceled := t.waitOne()
		if canceled {
			return result, t.abandonRunning()
		}
		if !success {
			return result, nil
		}
		result = append(result, ta)
	}
}

func (t *taskManager) receive(recv func() (*task, bool)) (ta *task, closed bool, canceled bool) {
	if t.deadline != nil {
		return receiveWithDeadline(recv, *t.deadline)
	}
	if t.canceled {
		ta, closed = recv()
		return ta, closed, false
	}
	if t.cancelCh != nil {
		ta, closed, canceled, t.canceled, t.deadline = receiveWithListening(recv, t.cancelCh)
		return ta, closed, canceled
	}
	ta, closed = recv()
	return ta, closed, false
}

func receiveWithDeadline(recv func() (*task, bool), deadline time.Time) (ta *task, closed bool, canceled bool) {
	now := time.Now()
	if deadline.Before(now) {
		return nil, false, true
	}

	resultCh := make(chan struct{}, 1)
	go func() {
		ta, closed = recv()
		resultCh <- struct{}{}
	}()

	select {
	case <-resultCh:
		return ta, closed, false
	case <-time.After(deadline.Sub(now)):
		return nil, false, true
	}
}

// receiveWithListening waits for a task completion while also watching the
// cancel channel. A cancel carrying a grace timeout arms a deadline for
// draining the remaining tasks; a nil timeout means wait indefinitely.
func receiveWithListening(recv func() (*task, bool), cancel chan *time.Duration) (*task, bool, bool, bool, *time.Time) {
	type pair struct {
		ta     *task
		closed bool
	}
	resultCh := make(chan pair, 1)
	go func() {
		ta, closed := recv()
		resultCh <- pair{ta, closed}
	}()

	var timeoutCh <-chan time.Time
	var deadline *time.Time
	canceled := false

	select {
	case p := <-resultCh:
		return p.ta, p.closed, false, false, nil
	case timeout, ok := <-cancel:
		if !ok {
			break
		}
		canceled = true
		if timeout == nil {
			break
		}
		timeoutCh = time.After(*timeout)
		dt := time.Now().Add(*timeout)
		deadline = &dt
	}

	if timeoutCh != nil {
		select {
		case p := <-resultCh:
			return p.ta, p.closed, false, canceled, deadline
		case <-timeoutCh:
			return nil, false, true, canceled, deadline
		}
	}
	p := <-resultCh
	return p.ta, p.closed, false, canceled, nil
}

func runPreHandler(ta *task, runWrapper runnableCallWrapper) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = safe.NewPanicErr(fmt.Errorf("panic in pre handler: %v", e), debug.Stack())
		}
	}()
	if ta.call.preProcessor != nil && !ta.skipPreHandler {
		nInput, err := runWrapper(ta.ctx, ta.call.preProcessor, ta.input, ta.option...)
		if err != nil {
			return fmt.Errorf("run node[%s] pre processor fail: %w", ta.nodeKey, err)
		}
		ta.input = nInput
	}
	return nil
}

func runPostHandler(ta *task, runWrapper runnableCallWrapper) {
	defer func() {
		if e := recover(); e != nil {
			ta.err = safe.NewPanicErr(fmt.Errorf("panic in post handler: %v", e), debug.Stack())
		}
	}()
	if ta.call.postProcessor != nil {
		nOutput, err := runWrapper(ta.ctx, ta.call.postProcessor, ta.output, ta.option...)
		if err != nil {
			ta.err = fmt.Errorf("run node[%s] post processor fail: %w", ta.nodeKey, err)
		}
		ta.output = nOutput
	}
}
