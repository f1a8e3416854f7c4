package compose

import "fmt"

// dependencyState tracks one control predecessor of a dagChannel.
type dependencyState uint8

const (
	dependencyStateWaiting dependencyState = iota
	dependencyStateReady
	dependencyStateSkipped
)

// dagChannel is the one-shot inbox a DAG-mode node reads from. Control
// predecessors advance through dependencyState; data predecessors flip a
// delivered flag and park their payload in Values until the channel fires.
type dagChannel struct {
	zeroValue   func() any
	emptyStream func() streamReader

	ControlPredecessors map[string]dependencyState
	Values              map[string]any
	DataPredecessors    map[string]bool
	Skipped             bool

	// mode governs whether get() waits for every predecessor (AllPredecessor, the
	// zero-value default) or fires on the first delivery (AnyPredecessor). Deliveries
	// that arrive after an AnyPredecessor channel has already fired are dropped.
	mode  NodeTriggerMode
	fired bool

	mergeConfig FanInMergeConfig
}

func dagChannelBuilder(controlDependencies []string, dataDependencies []string, zeroValue func() any, emptyStream func() streamReader, mode NodeTriggerMode) channel {
	controls := make(map[string]dependencyState, len(controlDependencies))
	for _, dep := range controlDependencies {
		controls[dep] = dependencyStateWaiting
	}

	datas := make(map[string]bool, len(dataDependencies))
	for _, dep := range dataDependencies {
		datas[dep] = false
	}

	if mode == "" {
		mode = AllPredecessor
	}

	return &dagChannel{
		Values:              make(map[string]any),
		ControlPredecessors: controls,
		DataPredecessors:    datas,
		zeroValue:           zeroValue,
		emptyStream:         emptyStream,
		mode:                mode,
	}
}

func (ch *dagChannel) setMergeConfig(cfg FanInMergeConfig) {
	ch.mergeConfig.StreamMergeWithSourceEOF = cfg.StreamMergeWithSourceEOF
}

func (ch *dagChannel) load(c channel) error {
	dc, ok := c.(*dagChannel)
	if !ok {
		return fmt.Errorf("load dag channel fail, got %T, want *dagChannel", c)
	}
	ch.ControlPredecessors = dc.ControlPredecessors
	ch.DataPredecessors = dc.DataPredecessors
	ch.Skipped = dc.Skipped
	ch.Values = dc.Values
	ch.fired = dc.fired
	return nil
}

// latched reports whether an AnyPredecessor channel has already accepted
// its first delivery, in which case anything later is dropped with a
// warning.
func (ch *dagChannel) latched(from string) bool {
	if ch.mode == AnyPredecessor && ch.fired {
		logDroppedLateDelivery(from)
		return true
	}
	return false
}

func (ch *dagChannel) reportValues(ins map[string]any) error {
	if ch.Skipped {
		return nil
	}

	for from, v := range ins {
		if _, declared := ch.DataPredecessors[from]; !declared {
			continue
		}
		if ch.latched(from) {
			continue
		}
		ch.DataPredecessors[from] = true
		ch.Values[from] = v
		if ch.mode == AnyPredecessor {
			ch.fired = true
		}
	}
	return nil
}

func (ch *dagChannel) reportDependencies(dependencies []string) {
	if ch.Skipped {
		return
	}

	for _, dep := range dependencies {
		if _, declared := ch.ControlPredecessors[dep]; !declared {
			continue
		}
		if ch.latched(dep) {
			continue
		}
		ch.ControlPredecessors[dep] = dependencyStateReady
		if ch.mode == AnyPredecessor {
			ch.fired = true
		}
	}
}

// reportSkip marks the given predecessors skipped and reports whether the
// whole channel is now skipped (every control predecessor skipped).
func (ch *dagChannel) reportSkip(keys []string) bool {
	for _, k := range keys {
		if _, ok := ch.ControlPredecessors[k]; ok {
			ch.ControlPredecessors[k] = dependencyStateSkipped
		}
		if _, ok := ch.DataPredecessors[k]; ok {
			ch.DataPredecessors[k] = true
		}
	}

	ch.Skipped = true
	for _, state := range ch.ControlPredecessors {
		if state != dependencyStateSkipped {
			ch.Skipped = false
			break
		}
	}

	return ch.Skipped
}

// ready applies the channel's trigger policy to its current state.
func (ch *dagChannel) ready() bool {
	if ch.mode == AnyPredecessor {
		// fired stays set after the node has run; only a pending delivery
		// makes the channel ready
		if !ch.fired {
			return false
		}
		for _, state := range ch.ControlPredecessors {
			if state == dependencyStateReady {
				return true
			}
		}
		return len(ch.Values) > 0
	}

	for _, state := range ch.ControlPredecessors {
		if state == dependencyStateWaiting {
			return false
		}
	}
	for _, delivered := range ch.DataPredecessors {
		if !delivered {
			return false
		}
	}
	return true
}

func (ch *dagChannel) get(isStream bool, name string, edgeHandler *edgeHandlerManager) (any, bool, error) {
	if ch.Skipped {
		return nil, false, nil
	}

	if len(ch.ControlPredecessors)+len(ch.DataPredecessors) == 0 {
		return nil, false, nil
	}

	if !ch.ready() {
		return nil, false, nil
	}

	defer func() {
		// clear the consumed inputs; an AnyPredecessor channel keeps fired
		// set, so anything delivered later is dropped instead of running the
		// node a second time
		ch.Values = make(map[string]any)
		for k := range ch.ControlPredecessors {
			ch.ControlPredecessors[k] = dependencyStateWaiting
		}
		for k := range ch.DataPredecessors {
			ch.DataPredecessors[k] = false
		}
	}()

	if len(ch.Values) == 0 {
		// ready on control edges alone: the node runs on its zero input
		if isStream {
			return ch.emptyStream(), true, nil
		}
		return ch.zeroValue(), true, nil
	}

	v, err := composeDeliveredValues(ch.Values, isStream, name, edgeHandler, ch.mergeConfig)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (ch *dagChannel) convertValues(fn func(map[string]any) error) error {
	return fn(ch.Values)
}
