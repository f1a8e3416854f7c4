package compose

import (
	"errors"
	"io"

	"github.com/graphrun/graphrun/internal"
	"github.com/graphrun/graphrun/schema"
)

//	type Result struct {
//		Field1 string
//		Field2 int
//	}
//
//
//	compose.RegisterStreamChunkConcatFunc(func(items []Result) (Result, error) {
//			if len(items) == 0 {
//				return Result{}, errors.New("no items to concat")
//			}
//
//			result := items[0]
//			for i := 0; i < len(items); i++ {
//				result.Field2 += items[i].Field2
//			}
//			result.Field1 = items[len(items)-1].Field1
//
//			return result, nil
//	})
func RegisterStreamChunkConcatFunc[T any](fn func([]T) (T, error)) {
	internal.RegisterStreamChunkConcatFunc(fn)
}

var emptyStreamConcatErr = errors.New("stream reader is empty, concat failed")

//	stream, _ := model.Stream(ctx, messages)
//	result, err := concatStreamReader[*schema.Message](stream)
func concatStreamReader[T any](sr *schema.StreamReader[T]) (T, error) {
	defer sr.Close()

	var items []T

	for {
		chunk, err := sr.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}

			if _, ok := schema.GetSourceName(err); ok {
				continue
			}

			var t T

			return t, newStreamReadError(err)
		}

		items = append(items, chunk)
	}

	if len(items) == 0 {
		var t T
		return t, emptyStreamConcatErr
	}

	if len(items) == 1 {
		return items[0], nil
	}

	res, err := internal.ConcatItems(items)
	if err != nil {
		var t T
		return t, err
	}

	return res, nil
}
