package compose

import (
	"fmt"
	"reflect"

	"github.com/graphrun/graphrun/internal"
)

//	RegisterValuesMergeFunc[*MyType](func(slice []T) (T, error) {
//	    return mergedValue, nil
//	})
func RegisterValuesMergeFunc[T any](fn func([]T) (T, error)) {
	internal.RegisterValuesMergeFunc(fn)
}

type mergeOptions struct {
	streamMergeWithSourceEOF bool
	names                    []string
}

// mergeValues collapses several predecessors' contributions into one node
// input. Concrete values need a registered merge function for their type;
// streams merge structurally (fair fan-in), provided their chunk type has a
// merge function for when the merged stream is eventually concatenated.
func mergeValues(vs []any, opts *mergeOptions) (any, error) {
	t0 := reflect.TypeOf(vs[0])

	if fn := internal.GetMergeFunc(t0); fn != nil {
		return fn(vs)
	}

	if s, ok := vs[0].(streamReader); ok {
		return mergeStreams(s, vs, opts)
	}

	return nil, fmt.Errorf("(mergeValues) unsupported type: %v", t0)
}

func mergeStreams(first streamReader, vs []any, opts *mergeOptions) (any, error) {
	chunkType := first.getChunkType()
	if internal.GetMergeFunc(chunkType) == nil {
		return nil, fmt.Errorf("(mergeValues | stream type)"+
			" unsupported chunk type: %v", chunkType)
	}

	rest := make([]streamReader, len(vs)-1)
	for i := range rest {
		sr, ok := vs[i+1].(streamReader)
		if !ok {
			return nil, fmt.Errorf("(mergeStream) unexpected type. "+
				"expect: %v, got: %v", reflect.TypeOf(vs[0]), reflect.TypeOf(vs[i+1]))
		}

		if st := sr.getChunkType(); st != chunkType {
			return nil, fmt.Errorf("(mergeStream) chunk type mismatch. "+
				"expect: %v, got: %v", chunkType, st)
		}

		rest[i] = sr
	}

	if opts != nil && opts.streamMergeWithSourceEOF {
		return first.mergeWithNames(rest, opts.names), nil
	}

	return first.merge(rest), nil
}
