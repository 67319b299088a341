package cache

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator delimits cache key segments: "<namespace>:<scope>[:qualifier]".
// Pattern invalidation in MatchSegments mode relies on it.
const KeySeparator = ":"

// KeySerializer builds a namespaced cache key from a namespace and arbitrary parts.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(namespace string, parts ...any) string
}

var defaultSerializer = NewDefaultKeySerializer()

// Key builds a cache key with the default serializer.
//
//	cache.Key("reviews", "user-42")            // reviews:user-42
//	cache.Key("reviews", "user-42", "page", 2) // reviews:user-42:page:2
func Key(namespace string, parts ...any) string {
	return defaultSerializer.SerializeKey(namespace, parts...)
}

// defaultKeySerializer writes scalar parts verbatim and folds composite parts
// (structs, maps, slices, funcs) into a single xxhash digest segment so that
// every part stays exactly one segment long.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey joins namespace and the serialized parts with KeySeparator.
// Empty string parts are skipped.
func (s *defaultKeySerializer) SerializeKey(namespace string, parts ...any) string {
	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, namespace)

	for _, part := range parts {
		segment := s.segment(part)
		if segment == "" {
			continue
		}
		segments = append(segments, segment)
	}

	return strings.Join(segments, KeySeparator)
}

func (s *defaultKeySerializer) segment(v any) string {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "nil"
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return "nil"
	}

	if scalar, ok := scalarString(rv); ok {
		return scalar
	}

	return digest(s.canonical(rv))
}

// canonical renders v deterministically; it is only ever hashed.
func (s *defaultKeySerializer) canonical(rv reflect.Value) string {
	if !rv.IsValid() {
		return "nil"
	}

	if scalar, ok := scalarString(rv); ok {
		return rv.Kind().String() + "=" + scalar
	}

	switch rv.Kind() {
	case reflect.Func:
		if rv.IsNil() {
			return "func:nil"
		}
		// stable only within one process
		return fmt.Sprintf("func:%x", rv.Pointer())

	case reflect.Chan:
		return fmt.Sprintf("chan:%x", rv.Pointer())

	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return s.canonical(rv.Elem())

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return "slice:nil"
		}
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = s.canonical(rv.Index(i))
		}
		return fmt.Sprintf("list[%d]{%s}", len(items), strings.Join(items, ","))

	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		pairs := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pairs = append(pairs, s.canonical(iter.Key())+"="+s.canonical(iter.Value()))
		}
		sort.Strings(pairs)
		return fmt.Sprintf("map[%d]{%s}", len(pairs), strings.Join(pairs, ","))

	case reflect.Struct:
		rt := rv.Type()
		if rv.CanInterface() {
			if marshaler, ok := rv.Interface().(encoding.TextMarshaler); ok {
				if text, err := marshaler.MarshalText(); err == nil {
					return rt.String() + "(" + string(text) + ")"
				}
			}
		}
		fields := make([]string, 0, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			fields = append(fields, field.Name+":"+s.canonical(rv.Field(i)))
		}
		return rt.String() + "{" + strings.Join(fields, ",") + "}"
	}

	if rv.CanInterface() {
		if data, err := json.Marshal(rv.Interface()); err == nil {
			return "json:" + string(data)
		}
	}
	return "type:" + rv.Type().String()
}

func scalarString(rv reflect.Value) (string, bool) {
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), true
	}
	return "", false
}

func digest(canonical string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical))
}
