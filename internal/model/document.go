package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

// Kind identifies which variant of a Document is populated
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Document is a JSON-equivalent tree of maps, arrays and scalars.
// The zero value is Null.
type Document struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Document
	m    map[string]Document
}

// Null returns the null document
func Null() Document { return Document{} }

// Bool returns a boolean document
func Bool(v bool) Document { return Document{kind: KindBool, b: v} }

// Number returns a numeric document
func Number(v float64) Document { return Document{kind: KindNumber, n: v} }

// String returns a string document
func String(v string) Document { return Document{kind: KindString, s: v} }

// Array returns an array document holding the given items
func Array(items ...Document) Document {
	if items == nil {
		items = []Document{}
	}
	return Document{kind: KindArray, arr: items}
}

// Map returns a map document holding the given fields
func Map(fields map[string]Document) Document {
	if fields == nil {
		fields = map[string]Document{}
	}
	return Document{kind: KindMap, m: fields}
}

// Kind returns the populated variant
func (d Document) Kind() Kind { return d.kind }

// IsNull reports whether d is the null document
func (d Document) IsNull() bool { return d.kind == KindNull }

// IsMap reports whether d is a map
func (d Document) IsMap() bool { return d.kind == KindMap }

// AsBool returns the boolean value, false for other kinds
func (d Document) AsBool() bool { return d.kind == KindBool && d.b }

// AsNumber returns the numeric value, 0 for other kinds
func (d Document) AsNumber() float64 {
	if d.kind != KindNumber {
		return 0
	}
	return d.n
}

// AsString returns the string value, "" for other kinds
func (d Document) AsString() string {
	if d.kind != KindString {
		return ""
	}
	return d.s
}

// Items returns the array elements. The slice must not be modified.
func (d Document) Items() []Document {
	if d.kind != KindArray {
		return nil
	}
	return d.arr
}

// Fields returns the map fields. The map must not be modified.
func (d Document) Fields() map[string]Document {
	if d.kind != KindMap {
		return nil
	}
	return d.m
}

// Len returns the number of items or fields
func (d Document) Len() int {
	switch d.kind {
	case KindArray:
		return len(d.arr)
	case KindMap:
		return len(d.m)
	case KindString:
		return len(d.s)
	default:
		return 0
	}
}

// Keys returns the map keys in sorted order
func (d Document) Keys() []string {
	if d.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(d.m))
	for k := range d.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the field stored under key
func (d Document) Get(key string) (Document, bool) {
	if d.kind != KindMap {
		return Document{}, false
	}
	v, ok := d.m[key]
	return v, ok
}

// Index returns the array element at i
func (d Document) Index(i int) (Document, bool) {
	if d.kind != KindArray || i < 0 || i >= len(d.arr) {
		return Document{}, false
	}
	return d.arr[i], true
}

// Depth returns the nesting depth; scalars have depth 1
func (d Document) Depth() int {
	max := 0
	switch d.kind {
	case KindArray:
		for _, item := range d.arr {
			if dd := item.Depth(); dd > max {
				max = dd
			}
		}
	case KindMap:
		for _, item := range d.m {
			if dd := item.Depth(); dd > max {
				max = dd
			}
		}
	default:
		return 1
	}
	return max + 1
}

// Clone returns a deep copy of d
func (d Document) Clone() Document {
	switch d.kind {
	case KindArray:
		items := make([]Document, len(d.arr))
		for i, item := range d.arr {
			items[i] = item.Clone()
		}
		return Document{kind: KindArray, arr: items}
	case KindMap:
		fields := make(map[string]Document, len(d.m))
		for k, v := range d.m {
			fields[k] = v.Clone()
		}
		return Document{kind: KindMap, m: fields}
	default:
		return d
	}
}

// Equal reports structural equality. Map key order is irrelevant.
func (d Document) Equal(other Document) bool {
	if d.kind != other.kind {
		return false
	}
	switch d.kind {
	case KindNull:
		return true
	case KindBool:
		return d.b == other.b
	case KindNumber:
		return d.n == other.n
	case KindString:
		return d.s == other.s
	case KindArray:
		if len(d.arr) != len(other.arr) {
			return false
		}
		for i := range d.arr {
			if !d.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(d.m) != len(other.m) {
			return false
		}
		for k, v := range d.m {
			ov, ok := other.m[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// FromAny converts decoded JSON/YAML values into a Document
func FromAny(v any) (Document, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Document:
		return t.Clone(), nil
	case *Document:
		if t == nil {
			return Null(), nil
		}
		return t.Clone(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Document{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case time.Time:
		return String(t.UTC().Format(time.RFC3339Nano)), nil
	case []string:
		items := make([]Document, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Array(items...), nil
	case []any:
		items := make([]Document, len(t))
		for i, item := range t {
			doc, err := FromAny(item)
			if err != nil {
				return Document{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = doc
		}
		return Array(items...), nil
	case map[string]string:
		fields := make(map[string]Document, len(t))
		for k, s := range t {
			fields[k] = String(s)
		}
		return Map(fields), nil
	case map[string]any:
		fields := make(map[string]Document, len(t))
		for k, item := range t {
			doc, err := FromAny(item)
			if err != nil {
				return Document{}, fmt.Errorf("key %q: %w", k, err)
			}
			fields[k] = doc
		}
		return Map(fields), nil
	case map[any]any:
		fields := make(map[string]Document, len(t))
		for k, item := range t {
			key := fmt.Sprint(k)
			doc, err := FromAny(item)
			if err != nil {
				return Document{}, fmt.Errorf("key %q: %w", key, err)
			}
			fields[key] = doc
		}
		return Map(fields), nil
	default:
		return Document{}, fmt.Errorf("unsupported document value of type %T", v)
	}
}

// MustFromAny is FromAny that panics on error. Intended for literals in tests and seeds.
func MustFromAny(v any) Document {
	doc, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return doc
}

// ToAny converts d into plain Go values (map[string]any, []any, float64, ...)
func (d Document) ToAny() any {
	switch d.kind {
	case KindBool:
		return d.b
	case KindNumber:
		return d.n
	case KindString:
		return d.s
	case KindArray:
		items := make([]any, len(d.arr))
		for i, item := range d.arr {
			items[i] = item.ToAny()
		}
		return items
	case KindMap:
		fields := make(map[string]any, len(d.m))
		for k, v := range d.m {
			fields[k] = v.ToAny()
		}
		return fields
	default:
		return nil
	}
}

// MarshalJSON writes canonical JSON with map keys in sorted order
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d Document) writeJSON(buf *bytes.Buffer) error {
	switch d.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(d.b))
	case KindNumber:
		if math.IsNaN(d.n) || math.IsInf(d.n, 0) {
			return fmt.Errorf("unsupported number %v", d.n)
		}
		b, err := json.Marshal(d.n)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		b, err := json.Marshal(d.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range d.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range d.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := d.m[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON decodes any JSON value
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	doc, err := FromAny(raw)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

// UnmarshalYAML decodes any YAML node
func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	doc, err := FromAny(raw)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

// MarshalYAML encodes d as plain YAML values
func (d Document) MarshalYAML() (interface{}, error) {
	return d.ToAny(), nil
}

// ToProto converts d into a protobuf Value
func (d Document) ToProto() (*structpb.Value, error) {
	return structpb.NewValue(d.ToAny())
}

// FromProto converts a protobuf Value into a Document
func FromProto(v *structpb.Value) (Document, error) {
	if v == nil {
		return Null(), nil
	}
	return FromAny(v.AsInterface())
}

// String implements fmt.Stringer with the canonical JSON form
func (d Document) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid document: %v>", err)
	}
	return string(b)
}
