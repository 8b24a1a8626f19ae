// Package schemalite derives a minimal structural summary ("schema-lite") of an
// arbitrary JSON value.
//
// A schema-lite keeps field names and nesting but drops every data value, so it
// can be shown to a user or sent to a language model without leaking content:
//
//	{"users": [{"name": "ada", "age": 36}], "total": 1}
//
// becomes
//
//	{"users": [{"age": "number", "name": "string"}], "total": "number"}
//
// Arrays are summarized by their first element only. An empty array is
// rendered as ["any"].
package schemalite

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Tag identifies the shape of a Schema node.
type Tag string

const (
	TagString  Tag = "string"
	TagNumber  Tag = "number"
	TagBoolean Tag = "boolean"
	TagNull    Tag = "null"
	// TagAny is only produced as the element of an empty array.
	TagAny    Tag = "any"
	TagArray  Tag = "array"
	TagObject Tag = "object"
)

// Schema is one node of a schema-lite tree.
//
// Primitive nodes only carry a Tag. Array nodes carry the representative
// element in Elem. Object nodes carry one child per field in Fields.
type Schema struct {
	Tag    Tag
	Elem   *Schema
	Fields map[string]*Schema
}

// Infer returns the schema-lite of value. It is total: every input, including
// nil, yields a schema.
//
// value is expected to be the output of encoding/json decoding into an `any`
// (nil, bool, float64, json.Number, string, []any, map[string]any); other Go
// slices, maps and numeric types are handled through reflection.
func Infer(value any) *Schema {
	switch v := value.(type) {
	case nil:
		return &Schema{Tag: TagNull}
	case bool:
		return &Schema{Tag: TagBoolean}
	case string:
		return &Schema{Tag: TagString}
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return &Schema{Tag: TagNumber}
	case []any:
		if len(v) == 0 {
			return &Schema{Tag: TagArray, Elem: &Schema{Tag: TagAny}}
		}
		return &Schema{Tag: TagArray, Elem: Infer(v[0])}
	case map[string]any:
		fields := make(map[string]*Schema, len(v))
		for key, field := range v {
			fields[key] = Infer(field)
		}
		return &Schema{Tag: TagObject, Fields: fields}
	}
	return inferReflect(reflect.ValueOf(value))
}

func inferReflect(rv reflect.Value) *Schema {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return &Schema{Tag: TagNull}
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Bool:
		return &Schema{Tag: TagBoolean}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return &Schema{Tag: TagNumber}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return &Schema{Tag: TagNull}
		}
		if rv.Len() == 0 {
			return &Schema{Tag: TagArray, Elem: &Schema{Tag: TagAny}}
		}
		return &Schema{Tag: TagArray, Elem: Infer(rv.Index(0).Interface())}
	case reflect.Map:
		if rv.IsNil() {
			return &Schema{Tag: TagNull}
		}
		fields := make(map[string]*Schema, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			fields[key] = Infer(iter.Value().Interface())
		}
		return &Schema{Tag: TagObject, Fields: fields}
	}
	return &Schema{Tag: TagString}
}

// MarshalJSON renders the schema in its compact wire form: a tag string for
// primitives, a one-element array for arrays and an object for objects.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Wire())
}

// Wire converts the schema into plain JSON-compatible values (string, []any,
// map[string]any). Encoders render object fields in sorted key order.
func (s *Schema) Wire() any {
	if s == nil {
		return string(TagNull)
	}
	switch s.Tag {
	case TagArray:
		return []any{s.Elem.Wire()}
	case TagObject:
		out := make(map[string]any, len(s.Fields))
		for key, field := range s.Fields {
			out[key] = field.Wire()
		}
		return out
	default:
		return string(s.Tag)
	}
}
