package compose

import "fmt"

// pregelChannel is the superstep inbox a Pregel-mode node reads from:
// whatever arrived during the previous superstep fires the node in the next
// one.
type pregelChannel struct {
	Values map[string]any

	// mode AnyPredecessor (the default) fires every superstep a delivery arrives, same as
	// a classic Pregel vertex program. AllPredecessor accumulates deliveries across
	// supersteps and only fires once every predecessor in required has contributed.
	mode     NodeTriggerMode
	required map[string]bool

	mergeConfig FanInMergeConfig
}

func pregelChannelBuilder(controlDependencies []string, dataDependencies []string, _ func() any, _ func() streamReader, mode NodeTriggerMode) channel {
	if mode == "" {
		mode = AnyPredecessor
	}

	required := make(map[string]bool, len(controlDependencies)+len(dataDependencies))
	for _, dep := range controlDependencies {
		required[dep] = false
	}
	for _, dep := range dataDependencies {
		required[dep] = false
	}

	return &pregelChannel{
		Values:   make(map[string]any),
		mode:     mode,
		required: required,
	}
}

func (ch *pregelChannel) setMergeConfig(cfg FanInMergeConfig) {
	ch.mergeConfig.StreamMergeWithSourceEOF = cfg.StreamMergeWithSourceEOF
}

func (ch *pregelChannel) load(c channel) error {
	dc, ok := c.(*pregelChannel)
	if !ok {
		return fmt.Errorf("load pregel channel fail, got %T, want *pregelChannel", c)
	}
	ch.Values = dc.Values
	ch.mode = dc.mode
	ch.required = dc.required
	return nil
}

func (ch *pregelChannel) convertValues(fn func(map[string]any) error) error {
	return fn(ch.Values)
}

func (ch *pregelChannel) reportValues(ins map[string]any) error {
	for from, v := range ins {
		ch.Values[from] = v
		if _, tracked := ch.required[from]; tracked {
			ch.required[from] = true
		}
	}
	return nil
}

func (ch *pregelChannel) ready() bool {
	if len(ch.Values) == 0 {
		return false
	}

	if ch.mode != AllPredecessor || len(ch.required) == 0 {
		return true
	}

	for _, delivered := range ch.required {
		if !delivered {
			return false
		}
	}
	return true
}

func (ch *pregelChannel) get(isStream bool, name string, edgeHandler *edgeHandlerManager) (any, bool, error) {
	if !ch.ready() {
		return nil, false, nil
	}

	defer func() {
		ch.Values = map[string]any{}
		for k := range ch.required {
			ch.required[k] = false
		}
	}()

	v, err := composeDeliveredValues(ch.Values, isStream, name, edgeHandler, ch.mergeConfig)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// reportSkip counts a skipped predecessor as delivered for AllPredecessor
// accounting; a Pregel channel itself is never skipped outright, since a
// cycle may deliver to it later.
func (ch *pregelChannel) reportSkip(keys []string) bool {
	for _, k := range keys {
		if _, tracked := ch.required[k]; tracked {
			ch.required[k] = true
		}
	}
	return false
}

func (ch *pregelChannel) reportDependencies(_ []string) {}
