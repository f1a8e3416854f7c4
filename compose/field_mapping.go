package compose

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/graphrun/graphrun/internal/generic"
	"github.com/graphrun/graphrun/internal/safe"
	"github.com/graphrun/graphrun/schema"
)

const pathSeparator = "\x1F"

var (
	stringType    = reflect.TypeOf("")
	anyType       = reflect.TypeOf((*any)(nil)).Elem()
	mapStrAnyType = reflect.TypeOf(map[string]any{})
)

// FieldMapping reshapes a value crossing one edge: instead of a predecessor's
// whole output landing at a successor's whole input, it can extract a
// sub-field (or the whole value) from a dotted/indexed path and place it at
// a sub-field (or the whole value) on the other side. Compile-time type
// checking runs as far as the static shape allows; whatever can only be
// known at request time (an interface-typed intermediate field, a map key
// that may or may not exist) is deferred to the request-time extractor.
type FieldMapping struct {
	fromNodeKey string
	from        string
	to          string

	customExtractor func(input any) (any, error)
}

func (m *FieldMapping) String() string {
	var sb strings.Builder
	sb.WriteString("[from ")

	if m.from != "" {
		sb.WriteString(m.from)
		sb.WriteString("(field) of ")
	}

	sb.WriteString(m.fromNodeKey)

	if m.to != "" {
		sb.WriteString(" to ")
		sb.WriteString(m.to)
		sb.WriteString("(field)")
	}

	sb.WriteString("]")
	return sb.String()
}

func (m *FieldMapping) FromNodeKey() string {
	return m.fromNodeKey
}

func (m *FieldMapping) FromPath() FieldPath {
	return splitFieldPath(m.from)
}

func (m *FieldMapping) ToPath() FieldPath {
	return splitFieldPath(m.to)
}

func (m *FieldMapping) Equals(o *FieldMapping) bool {
	if m == nil {
		return o == nil
	}

	if o == nil || m.customExtractor != nil || o.customExtractor != nil {
		return false
	}

	return m.from == o.from && m.to == o.to && m.fromNodeKey == o.fromNodeKey
}

func (m *FieldMapping) targetPath() FieldPath {
	return splitFieldPath(m.to)
}

type FieldPath []string

func (fp *FieldPath) join() string {
	return strings.Join(*fp, pathSeparator)
}

func splitFieldPath(path string) FieldPath {
	p := strings.Split(path, pathSeparator)
	if len(p) == 1 && p[0] == "" {
		return FieldPath{}
	}

	return p
}

//	FromFieldPath(FieldPath{"user", "profile", "name"})
func FromFieldPath(fromFieldPath FieldPath) *FieldMapping {
	return &FieldMapping{
		from: fromFieldPath.join(),
	}
}

//	ToFieldPath(FieldPath{"response", "data", "userName"})
func ToFieldPath(toFieldPath FieldPath, opts ...FieldMappingOption) *FieldMapping {
	fm := &FieldMapping{
		to: toFieldPath.join(),
	}
	for _, opt := range opts {
		opt(fm)
	}
	return fm
}

//	MapFieldPaths(
//	    FieldPath{"user", "profile", "name"},
//	    FieldPath{"response", "userName"},
//	)
func MapFieldPaths(fromFieldPath, toFieldPath FieldPath) *FieldMapping {
	return &FieldMapping{
		from: fromFieldPath.join(),
		to:   toFieldPath.join(),
	}
}

type FieldMappingOption func(*FieldMapping)

func WithCustomExtractor(extractor func(input any) (any, error)) FieldMappingOption {
	return func(m *FieldMapping) {
		m.customExtractor = extractor
	}
}

// --- successor side: assemble the typed input from extracted fields ---

func mappedInputBuilder[I any]() func(input any) (any, error) {
	return func(input any) (any, error) {
		in, ok := input.(map[string]any)
		if !ok {
			panic(newUnexpectedInputTypeErr(mapStrAnyType, reflect.TypeOf(input)))
		}

		return buildFromMapped(in, generic.TypeOf[I]()), nil
	}
}

func mappedInputStreamBuilder[I any]() func(input streamReader) streamReader {
	return func(input streamReader) streamReader {
		s, ok := unpackStreamReader[map[string]any](input)
		if !ok {
			panic("mapped input stream chunk type not map[string]any")
		}

		return packStreamReader(schema.StreamReaderWithConvert(s, func(v map[string]any) (I, error) {
			t := buildFromMapped(v, generic.TypeOf[I]())
			return t.(I), nil
		}))
	}
}

// buildFromMapped builds a fresh value of typ and writes each entry of
// mapped (a "to" path joined with pathSeparator -> extracted value) into it
// at its path. Used when a successor's input type is known but the mapped
// values currently sit in a request-time map[string]any.
func buildFromMapped(mapped map[string]any, typ reflect.Type) any {
	target := zeroInstanceOf(typ)
	if !target.CanAddr() {
		target = zeroInstanceOf(reflect.PointerTo(typ)).Elem()
	}

	for to, taken := range mapped {
		if to == "" { // whole-value mapping: overwrite the target outright
			target.Set(reflect.ValueOf(taken))
			continue
		}
		target = setAtPath(target, taken, splitFieldPath(to))
	}

	return target.Interface()
}

// setAtPath writes taken into dest at path, allocating intermediate
// containers as it goes. It returns the value the caller must store back:
// a map lookup yields an unaddressable copy, so a mutated copy has to be
// re-inserted by whoever holds the parent map; struct and pointer
// destinations mutate in place and return themselves.
func setAtPath(dest reflect.Value, taken any, path FieldPath) reflect.Value {
	// an `any` destination materializes as map[string]any the first time a
	// path runs through it, unless it already holds one.
	if dest.Type() == anyType {
		if m, ok := dest.Interface().(map[string]any); ok {
			dest = reflect.ValueOf(m)
		} else {
			m := reflect.MakeMap(mapStrAnyType)
			if dest.CanSet() {
				dest.Set(m)
			}
			dest = m
		}
	}

	if dest.Kind() == reflect.Map {
		key := reflect.ValueOf(path[0])
		if kt := dest.Type().Key(); kt != stringType {
			key = key.Convert(kt)
		}

		if len(path) == 1 {
			toSet := reflect.ValueOf(taken)
			if !toSet.IsValid() { // a nil: store the element type's zero value
				toSet = reflect.Zero(dest.Type().Elem())
			}
			dest.SetMapIndex(key, toSet)
			return dest
		}

		child := dest.MapIndex(key)
		if !child.IsValid() {
			child = zeroInstanceOf(dest.Type().Elem())
		}
		dest.SetMapIndex(key, setAtPath(child, taken, path[1:]))
		return dest
	}

	// struct or pointer-to-struct destination
	ptr := dest
	for dest.Kind() == reflect.Ptr {
		dest = dest.Elem()
	}

	field := dest.FieldByName(path[0])

	if len(path) == 1 {
		if toSet := reflect.ValueOf(taken); toSet.IsValid() {
			field.Set(toSet)
		}
		// an invalid toSet is a nil: the zero field already represents it
		return ptr
	}

	ensureAllocated(field)
	setAtPath(field, taken, path[1:])
	return ptr
}

// ensureAllocated gives a nil pointer or nil map field something to walk
// into.
func ensureAllocated(field reflect.Value) {
	switch field.Kind() {
	case reflect.Ptr:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
	case reflect.Map:
		if field.IsNil() {
			field.Set(reflect.MakeMap(field.Type()))
		}
	}
}

// zeroInstanceOf builds a usable zero value of typ: maps and slices come
// allocated, pointers point at allocated pointees, everything else is the
// plain zero value.
func zeroInstanceOf(typ reflect.Type) reflect.Value {
	switch typ.Kind() {
	case reflect.Map:
		return reflect.MakeMap(typ)
	case reflect.Slice, reflect.Array:
		s := reflect.New(typ).Elem()
		s.Set(reflect.MakeSlice(typ, 0, 0))
		return s
	case reflect.Ptr:
		p := reflect.New(typ.Elem())
		p.Elem().Set(zeroInstanceOf(typ.Elem()))
		return p
	default:
		return reflect.New(typ).Elem()
	}
}

// --- predecessor side: extract the mapped fields from the actual output ---

type errMissingMapKey struct {
	mapKey string
}

func (e *errMissingMapKey) Error() string {
	return fmt.Sprintf("key=%s", e.mapKey)
}

type errBadInterfaceSource struct {
	interfaceType reflect.Type
	actualType    reflect.Type
}

func (e *errBadInterfaceSource) Error() string {
	return fmt.Sprintf("field mapping from an interface type, but actual type is not struct, struct ptr or map. InterfaceType= %v, ActualType= %v", e.interfaceType, e.actualType)
}

// fieldOfStruct resolves one exported field of a struct source.
func fieldOfStruct(name string, source reflect.Value) (reflect.Value, error) {
	f := source.FieldByName(name)
	if !f.IsValid() {
		return reflect.Value{}, fmt.Errorf("field mapping from a struct field, but field not found. field=%v, inputType=%v", name, source.Type())
	}

	if !f.CanInterface() {
		return reflect.Value{}, fmt.Errorf("field mapping from a struct field, but field not exported. field= %v, inputType=%v", name, source.Type())
	}

	return f, nil
}

// valueOfMapKey resolves one key of a map source.
func valueOfMapKey(name string, source reflect.Value) (reflect.Value, error) {
	key := reflect.ValueOf(name)
	if kt := source.Type().Key(); kt != stringType {
		key = key.Convert(kt)
	}

	v := source.MapIndex(key)
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("field mapping from a map key, but key not found in input. %w", &errMissingMapKey{mapKey: name})
	}

	return v, nil
}

// extractSegment resolves one path segment against a source value whose
// pointers have already been stripped.
func extractSegment(source reflect.Value, sourceType reflect.Type, segment string) (taken any, takenType reflect.Type, err error) {
	switch source.Kind() {
	case reflect.Map:
		v, err := valueOfMapKey(segment, source)
		if err != nil {
			return nil, nil, err
		}
		return v.Interface(), v.Type(), nil
	case reflect.Struct:
		f, err := fieldOfStruct(segment, source)
		if err != nil {
			return nil, nil, err
		}
		return f.Interface(), f.Type(), nil
	default:
		if sourceType.Kind() == reflect.Interface {
			return nil, nil, &errBadInterfaceSource{
				interfaceType: sourceType,
				actualType:    source.Type(),
			}
		}

		panic("when take one value from source, value not map or struct, and type not interface")
	}
}

// mappingExtractor returns the request-time conversion function for an
// edge's mappings: for each mapping it extracts the "from" path out of the
// actual output value (falling back to request-time checks for whatever
// typecheckMappings couldn't resolve statically) and assembles a
// map[string]any keyed by "to" path, ready for buildFromMapped on the
// successor side. allowMissingKey lets a streamed chunk skip a mapping
// whose source key simply hasn't arrived yet rather than failing the whole
// chunk.
func mappingExtractor(mappings []*FieldMapping, allowMissingKey bool, deferredSourcePaths map[string]FieldPath) func(any) (map[string]any, error) {
	return func(input any) (map[string]any, error) {
		result := make(map[string]any, len(mappings))

		var inputValue reflect.Value
		for _, mapping := range mappings {
			if mapping.customExtractor != nil {
				taken, err := mapping.customExtractor(input)
				if err != nil {
					return nil, err
				}
				result[mapping.to] = taken
				continue
			}

			if len(mapping.from) == 0 { // whole-value mapping
				result[mapping.to] = input
				continue
			}

			if !inputValue.IsValid() {
				inputValue = reflect.ValueOf(input)
			}

			taken, skip, err := extractPath(inputValue, mapping, allowMissingKey, deferredSourcePaths)
			if err != nil {
				return nil, err
			}
			if !skip {
				result[mapping.to] = taken
			}
		}

		return result, nil
	}
}

// extractPath walks one mapping's full "from" path down the source value.
// skip reports that a missing map key should drop this mapping silently
// (streamed chunks). Errors the static checker should have ruled out panic;
// errors that are legitimately request-time-only return as errors.
func extractPath(source reflect.Value, mapping *FieldMapping, allowMissingKey bool, deferredSourcePaths map[string]FieldPath) (taken any, skip bool, err error) {
	fromPath := splitFieldPath(mapping.from)

	current := source
	currentType := source.Type()
	taken = current.Interface()

	for i, segment := range fromPath {
		for current.Kind() == reflect.Ptr {
			current = current.Elem()
		}

		if !current.IsValid() {
			return nil, false, fmt.Errorf("intermediate source value on path=%v is nil for type [%v]", fromPath[:i+1], currentType)
		}

		if current.Kind() == reflect.Map && current.IsNil() {
			return nil, false, fmt.Errorf("intermediate source value on path=%v is nil for map type [%v]", fromPath[:i+1], currentType)
		}

		taken, currentType, err = extractSegment(current, currentType, segment)
		if err != nil {
			// an interface-typed step was deferred from compile time, so a
			// bad concrete type there is a request-time error, not a bug
			var badInterface *errBadInterfaceSource
			if errors.As(err, &badInterface) {
				return nil, false, err
			}

			// a missing map key can only ever be a request-time condition
			var missingKey *errMissingMapKey
			if errors.As(err, &missingKey) {
				if allowMissingKey {
					return nil, true, nil
				}
				return nil, false, err
			}

			if deferredSourcePaths != nil {
				deferred, ok := deferredSourcePaths[mapping.from]
				if ok && len(deferred) >= len(fromPath)-i {
					// the failing segment lies on the statically-unchecked
					// remainder of the path
					return nil, false, err
				}
			}

			panic(safe.NewPanicErr(err, debug.Stack()))
		}

		if i < len(fromPath)-1 {
			current = reflect.ValueOf(taken)
		}
	}

	return taken, false, nil
}

func streamMappingExtractor(mappings []*FieldMapping, deferredSourcePaths map[string]FieldPath) func(streamReader) streamReader {
	return func(input streamReader) streamReader {
		return packStreamReader(schema.StreamReaderWithConvert(input.toAnyStreamReader(), mappingExtractor(mappings, true, deferredSourcePaths)))
	}
}

// --- compile-time checks ---

// walkStaticPath follows path through typ as far as static reflection
// allows: maps contribute their element type, structs their field type.
// Hitting an interface stops the walk and returns the remaining segments
// for a request-time re-check.
func walkStaticPath(path []string, typ reflect.Type) (reached reflect.Type, remaining FieldPath, err error) {
	reached = typ
	for i, segment := range path {
		for reached.Kind() == reflect.Ptr {
			reached = reached.Elem()
		}

		switch reached.Kind() {
		case reflect.Map:
			if !stringType.ConvertibleTo(reached.Key()) {
				return nil, nil, fmt.Errorf("type[%v] is not a map with string or string alias key", reached)
			}
			reached = reached.Elem()
		case reflect.Struct:
			f, ok := reached.FieldByName(segment)
			if !ok {
				return nil, nil, fmt.Errorf("type[%v] has no field[%s]", reached, segment)
			}
			if !f.IsExported() {
				return nil, nil, fmt.Errorf("type[%v] has an unexported field[%s]", reached.String(), segment)
			}
			reached = f.Type
		case reflect.Interface:
			return reached, path[i:], nil
		default:
			return nil, nil, fmt.Errorf("intermediate type[%v] is not valid", reached)
		}
	}

	return reached, nil, nil
}

// anyWholeSource reports whether any mapping takes the predecessor's whole
// output.
func anyWholeSource(mappings []*FieldMapping) bool {
	for _, mapping := range mappings {
		if len(mapping.from) == 0 && mapping.customExtractor == nil {
			return true
		}
	}
	return false
}

// allFieldSources reports whether every mapping extracts a named field
// (no whole-value mappings, no custom extractors).
func allFieldSources(mappings []*FieldMapping) bool {
	for _, mapping := range mappings {
		if len(mapping.from) == 0 || mapping.customExtractor != nil {
			return false
		}
	}

	return true
}

// anyWholeTarget reports whether any mapping lands on the successor's whole
// input.
func anyWholeTarget(mappings []*FieldMapping) bool {
	for _, mapping := range mappings {
		if len(mapping.to) == 0 {
			return true
		}
	}
	return false
}

func isStructOrMap(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Map:
		return true
	case reflect.Ptr:
		t = t.Elem()
		fallthrough
	case reflect.Struct:
		return true
	default:
		return false
	}
}

// typecheckMappings checks a set of mappings against the predecessor's
// output type and the successor's input type as far as static reflection
// allows. Where a path runs through an interface-typed field, the check is
// deferred to a request-time handlerPair (the returned checker) that
// re-validates once the concrete runtime type is known; deferredSourcePaths
// records which "from" paths carry such a deferred remainder so the
// request-time extractor knows not to treat a later failure there as a
// compile-time-missed bug.
func typecheckMappings(predecessorType reflect.Type, successorType reflect.Type, mappings []*FieldMapping) (
	checker *handlerPair,
	deferredSourcePaths map[string]FieldPath,
	err error) {

	if anyWholeSource(mappings) && anyWholeTarget(mappings) {
		// unreachable: AddEdge would have taken the plain-edge path
		panic(fmt.Errorf("invalid field mappings: from all fields to all, use common edge instead"))
	}
	if !anyWholeTarget(mappings) && !isStructOrMap(successorType) && successorType != anyType {
		// without a concrete container type there is nothing to assemble
		// fields into at run time
		return nil, nil, fmt.Errorf("static check fail: successor input type should be struct or map, actual: %v", successorType)
	}
	if allFieldSources(mappings) && !isStructOrMap(predecessorType) {
		return nil, nil, fmt.Errorf("static check fail: predecessor output type should be struct or map, actual: %v", predecessorType)
	}

	var fieldCheckers map[string]handlerPair

	addFieldChecker := func(to string, check func(any) (any, error)) {
		if fieldCheckers == nil {
			fieldCheckers = make(map[string]handlerPair)
		}
		fieldCheckers[to] = handlerPair{
			invoke: check,
			transform: func(input streamReader) streamReader {
				return packStreamReader(schema.StreamReaderWithConvert(input.toAnyStreamReader(), check))
			},
		}
	}

	for _, mapping := range mappings {
		mapping := mapping

		successorFieldType, successorRemaining, err := walkStaticPath(splitFieldPath(mapping.to), successorType)
		if err != nil {
			return nil, nil, fmt.Errorf("static check failed for mapping %s: %w", mapping, err)
		}

		if len(successorRemaining) > 0 {
			if successorFieldType == anyType {
				continue // at request time this `any` expands to map[string]any
			}
			return nil, nil, fmt.Errorf("static check failed for mapping %s, the successor has intermediate interface type %v", mapping, successorFieldType)
		}

		if mapping.customExtractor != nil { // custom extractors apply to request-time data only
			continue
		}

		predecessorFieldType, predecessorRemaining, err := walkStaticPath(splitFieldPath(mapping.from), predecessorType)
		if err != nil {
			return nil, nil, fmt.Errorf("static check failed for mapping %s: %w", mapping, err)
		}

		if len(predecessorRemaining) > 0 {
			if deferredSourcePaths == nil {
				deferredSourcePaths = make(map[string]FieldPath)
			}
			deferredSourcePaths[mapping.from] = predecessorRemaining
		}

		runtimeCheck := func(a any) (any, error) {
			actual := reflect.TypeOf(a)
			if actual == nil {
				switch successorFieldType.Kind() {
				case reflect.Map, reflect.Slice, reflect.Ptr, reflect.Interface:
					// nil is a legal value for these kinds
				default:
					return nil, fmt.Errorf("runtime check failed for mapping %s, field[%v]-[%v] is absolutely not assignable", mapping, actual, successorFieldType)
				}
			} else if !actual.AssignableTo(successorFieldType) {
				return nil, fmt.Errorf("runtime check failed for mapping %s, field[%v]-[%v] is absolutely not assignable", mapping, actual, successorFieldType)
			}

			return a, nil
		}

		if len(predecessorRemaining) > 0 {
			// the source path runs through an interface; nothing more can be
			// decided statically
			addFieldChecker(mapping.to, runtimeCheck)
			continue
		}

		switch checkAssignable(predecessorFieldType, successorFieldType) {
		case assignableTypeMustNot:
			return nil, nil, fmt.Errorf("static check failed for mapping %s, field[%v]-[%v] is absolutely not assignable", mapping, predecessorFieldType, successorFieldType)
		case assignableTypeMay:
			// the predecessor field is an interface the successor type may
			// or may not satisfy at run time
			addFieldChecker(mapping.to, runtimeCheck)
		}
	}

	if len(fieldCheckers) == 0 {
		return nil, deferredSourcePaths, nil
	}

	checkMapped := func(value map[string]any) (map[string]any, error) {
		for to, pair := range fieldCheckers {
			mapped, ok := value[to]
			if !ok {
				continue
			}
			checked, err := pair.invoke(mapped)
			if err != nil {
				return nil, err
			}
			value[to] = checked
		}
		return value, nil
	}

	return &handlerPair{
		invoke: func(value any) (any, error) {
			return checkMapped(value.(map[string]any))
		},
		transform: func(input streamReader) streamReader {
			s, ok := unpackStreamReader[map[string]any](input)
			if !ok {
				// impossible
				panic("field mapping edge stream value isn't map[string]any")
			}
			return packStreamReader(schema.StreamReaderWithConvert(s, checkMapped))
		},
	}, deferredSourcePaths, nil
}
