package compose

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var ErrExceedMaxSteps = errors.New("exceeds max steps")

func newUnexpectedInputTypeErr(expected reflect.Type, got reflect.Type) error {
	return fmt.Errorf("unexpected input type. expected: %v, got: %v", expected, got)
}

func newStreamReadError(err error) error {
	return fmt.Errorf("failed to read from stream. error: %w", err)
}

type internalErrorType string

const (
	internalErrorTypeNodeRun  internalErrorType = "NodeRunError"
	internalErrorTypeGraphRun internalErrorType = "GraphRunError"
)

// internalError carries the node path an error climbed out through, so a
// failure deep inside a nested graph reports where it happened.
type internalError struct {
	typ       internalErrorType
	nodePath  NodePath
	origError error
}

func newGraphRunError(err error) error {
	return &internalError{
		typ:       internalErrorTypeGraphRun,
		nodePath:  NodePath{},
		origError: err,
	}
}

// wrapGraphNodeError prepends nodeKey to the error's node path, starting a
// fresh path when the error isn't already an internalError. Interrupt
// sentinels pass through untouched: they are control flow, not failures.
func wrapGraphNodeError(nodeKey string, err error) error {
	if isInterruptError(err) {
		return err
	}

	var ie *internalError
	if !errors.As(err, &ie) {
		return &internalError{
			typ:       internalErrorTypeNodeRun,
			nodePath:  NodePath{path: []string{nodeKey}},
			origError: err,
		}
	}

	ie.nodePath.path = append([]string{nodeKey}, ie.nodePath.path...)
	return ie
}

func (i *internalError) Error() string {
	var sb strings.Builder
	sb.WriteString("[" + string(i.typ) + "] ")
	sb.WriteString(i.origError.Error())

	if len(i.nodePath.path) > 0 {
		sb.WriteString("\n------------------------\n")
		sb.WriteString("node path: [")
		sb.WriteString(strings.Join(i.nodePath.path, ", "))
		sb.WriteString("]")
	}
	return sb.String()
}

func (i *internalError) Unwrap() error {
	return i.origError
}
