
package compose

import (
	"context"
	"fmt"

	"github.com/graphrun/graphrun/internal/serialization"
	"github.com/graphrun/graphrun/schema"
)

func init() {
	schema.RegisterName[*checkpoint]("_graphrun_checkpoint")
	schema.RegisterName[*dagChannel]("_graphrun_dag_channel")
	schema.RegisterName[*pregelChannel]("_graphrun_pregel_channel")
	schema.RegisterName[dependencyState]("_graphrun_dependency_state")
}

type CheckPointStore interface {
	Get(ctx context.Context, checkPointID string) ([]byte, bool, error)
	Set(ctx context.Context, checkPointID string, checkPoint []byte) error
}

type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

func WithCheckPointStore(store CheckPointStore) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.checkPointStore = store
	}
}

func WithSerializer(serializer Serializer) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.serializer = serializer
	}
}

func WithCheckPointID(checkPointID string) Option {
	return Option{
		checkPointID: &checkPointID,
	}
}

func WithWriteToCheckPointID(checkPointID string) Option {
	return Option{
		writeToCheckPointID: &checkPointID,
	}
}

func WithForceNewRun() Option {
	return Option{
		forceNewRun: true,
	}
}

type StateModifier func(ctx context.Context, path NodePath, state any) error

func WithStateModifier(sm StateModifier) Option {
	return Option{
		stateModifier: sm,
	}
}

type checkpoint struct {
	Channels       map[string]channel
	Inputs         map[string] /*node key*/ any /*input*/
	State          any
	SkipPreHandler map[string]bool
	RerunNodes     []string

	// RerunNodesExtra carries the opaque payload each rerun node raised its interrupt with,
	// keyed by node key. Populated even when multiple nodes interrupt in the same superstep,
	// so resuming from a persisted checkpoint preserves every concurrent interrupt's payload.
	RerunNodesExtra map[string]any

	ToolsNodeExecutedTools map[string] /*tool node key*/ map[string] /*tool call id*/ string

	SubGraphs map[string]*checkpoint
}

type nodePathKey struct{}
type stateModifierKey struct{}
type checkPointKey struct{} // *checkpoint

func getNodeKey(ctx context.Context) (*NodePath, bool) {
	if key, ok := ctx.Value(nodePathKey{}).(*NodePath); ok {
		return key, true
	}
	return nil, false
}

func setNodeKey(ctx context.Context, key string) context.Context {
	path, existed := getNodeKey(ctx)
	if !existed || len(path.path) == 0 {
		return context.WithValue(ctx, nodePathKey{}, NewNodePath(key))
	}
	return context.WithValue(ctx, nodePathKey{}, NewNodePath(append(path.path, key)...))
}

func clearNodeKey(ctx context.Context) context.Context {
	return context.WithValue(ctx, nodePathKey{}, nil)
}

func getStateModifier(ctx context.Context) StateModifier {
	if sm, ok := ctx.Value(stateModifierKey{}).(StateModifier); ok {
		return sm
	}
	return nil
}

func setStateModifier(ctx context.Context, modifier StateModifier) context.Context {
	return context.WithValue(ctx, stateModifierKey{}, modifier)
}

func getCheckPointFromStore(ctx context.Context, id string, cpr *checkPointer) (cp *checkpoint, err error) {
	cp, existed, err := cpr.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, nil
	}

	return cp, nil
}

func setCheckPointToCtx(ctx context.Context, cp *checkpoint) context.Context {
	return context.WithValue(ctx, checkPointKey{}, cp)
}

func getCheckPointFromCtx(ctx context.Context) *checkpoint {
	if cp, ok := ctx.Value(checkPointKey{}).(*checkpoint); ok {
		return cp
	}
	return nil
}

func forwardCheckPoint(ctx context.Context, nodeKey string) context.Context {
	cp := getCheckPointFromCtx(ctx)
	if cp == nil {
		return ctx
	}
	if subCP, ok := cp.SubGraphs[nodeKey]; ok {
		delete(cp.SubGraphs, nodeKey) // only forward once
		return context.WithValue(ctx, checkPointKey{}, subCP)
	}
	return context.WithValue(ctx, checkPointKey{}, (*checkpoint)(nil))
}

func newCheckPointer(
	inputPairs, outputPairs map[string]streamConvertPair,
	store CheckPointStore,
	serializer Serializer,
) *checkPointer {
	if serializer == nil {
		serializer = &serialization.InternalSerializer{}
	}
	return &checkPointer{
		inputPairs:  inputPairs,
		outputPairs: outputPairs,
		store:       store,
		serializer:  serializer,
	}
}

// checkPointer persists and restores checkpoints. Since a checkpoint may
// hold live streams (during a streaming run), it carries each node's
// stream<->value conversion pair so envelopes become concrete concatenated
// values before serialization and one-element streams again on restore.
type checkPointer struct {
	inputPairs, outputPairs map[string]streamConvertPair
	store                   CheckPointStore
	serializer              Serializer
}

func (c *checkPointer) get(ctx context.Context, id string) (*checkpoint, bool, error) {
	data, existed, err := c.store.Get(ctx, id)
	if err != nil || existed == false {
		return nil, existed, err
	}

	cp := &checkpoint{}
	err = c.serializer.Unmarshal(data, cp)
	if err != nil {
		return nil, false, err
	}

	return cp, true, nil
}

func (c *checkPointer) set(ctx context.Context, id string, cp *checkpoint) error {
	data, err := c.serializer.Marshal(cp)
	if err != nil {
		return err
	}

	return c.store.Set(ctx, id, data)
}

// convertCheckPoint drains every stream parked in the checkpoint into its
// concatenated value, so the whole record becomes serializable. Channel
// contents hold predecessor outputs (output pairs); Inputs hold composed
// node inputs (input pairs).
func (c *checkPointer) convertCheckPoint(cp *checkpoint, isStream bool) error {
	if !isStream {
		return nil
	}

	for _, ch := range cp.Channels {
		err := ch.convertValues(func(m map[string]any) error {
			return concatStreamValues(m, c.outputPairs)
		})
		if err != nil {
			return err
		}
	}

	return concatStreamValues(cp.Inputs, c.inputPairs)
}

// restoreCheckPoint is convertCheckPoint's inverse: every concrete value
// becomes a one-element stream again, so a resumed streaming run sees the
// same shapes an uninterrupted one would.
func (c *checkPointer) restoreCheckPoint(cp *checkpoint, isStream bool) error {
	if !isStream {
		return nil
	}

	for _, ch := range cp.Channels {
		err := ch.convertValues(func(m map[string]any) error {
			return restoreStreamValues(m, c.outputPairs)
		})
		if err != nil {
			return err
		}
	}

	return restoreStreamValues(cp.Inputs, c.inputPairs)
}

func concatStreamValues(values map[string]any, pairs map[string]streamConvertPair) error {
	for key, v := range values {
		pair, ok := pairs[key]
		if !ok {
			return fmt.Errorf("checkpoint conv stream fail, node[%s] have not been registered", key)
		}
		sr, ok := v.(streamReader)
		if !ok {
			return fmt.Errorf("checkpoint conv stream fail, value of [%s] isn't stream", key)
		}
		concrete, err := pair.concatStream(sr)
		if err != nil {
			return err
		}
		values[key] = concrete
	}
	return nil
}

func restoreStreamValues(values map[string]any, pairs map[string]streamConvertPair) error {
	for key, v := range values {
		pair, ok := pairs[key]
		if !ok {
			return fmt.Errorf("checkpoint restore stream fail, node[%s] have not been registered", key)
		}
		sr, err := pair.restoreStream(v)
		if err != nil {
			return err
		}
		values[key] = sr
	}
	return nil
}
