package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// IdentifierSeparator delimits the segments of a serialized identifier.
const IdentifierSeparator = "::"

// KeySerializer turns an operation name plus arbitrary arguments into a
// stable identifier segment. Repositories use it so that the same query
// (same filters, same ordering) always maps to the same cache key, which is
// what invalidation matching relies on.
type KeySerializer interface {
	SerializeKey(operation string, args ...any) string
}

// defaultKeySerializer serializes values reflectively: basic types print as
// themselves, slices and maps recurse (maps with sorted keys for
// determinism), structs enumerate exported fields, and anything else falls
// back to JSON.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer returns the default reflection-based serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

func (s *defaultKeySerializer) SerializeKey(operation string, args ...any) string {
	if len(args) == 0 {
		return operation
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, operation)
	for _, arg := range args {
		parts = append(parts, s.serialize(arg))
	}
	return strings.Join(parts, IdentifierSeparator)
}

func (s *defaultKeySerializer) serialize(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch rt.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return s.serialize(rv.Elem().Interface())

	case reflect.Func:
		// Function identity is stable per process, which is enough: the
		// repository never mixes fetch functions under one operation name.
		return fmt.Sprintf("func:%p", v)

	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		fallthrough
	case reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = s.serialize(rv.Index(i).Interface())
		}
		return fmt.Sprintf("seq[%d]:{%s}", len(parts), strings.Join(parts, ","))

	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		pairs := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pairs = append(pairs, s.serialize(iter.Key().Interface())+"="+s.serialize(iter.Value().Interface()))
		}
		sort.Strings(pairs)
		return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))

	case reflect.Struct:
		parts := make([]string, 0, rt.NumField())
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			parts = append(parts, field.Name+":"+s.serialize(rv.Field(i).Interface()))
		}
		return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))

	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return fmt.Sprintf("%v", v)

	default:
		return s.jsonFallback(v)
	}
}

func (s *defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "opaque:" + reflect.TypeOf(v).String()
	}
	return "json:" + string(data)
}
