package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	// ValueScalar holds a string, number or bool.
	ValueScalar ValueKind = iota

	// ValueCollection holds an ordered sequence of values.
	ValueCollection

	// ValueRecord holds a structured mapping. It is written as a one-element collection.
	ValueRecord
)

// String returns the name of the kind.
func (k ValueKind) String() string {
	switch k {
	case ValueScalar:
		return "scalar"
	case ValueCollection:
		return "collection"
	case ValueRecord:
		return "record"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is the tagged union used for advanced settings and observed properties.
// The zero value is an empty string scalar.
type Value struct {
	kind   ValueKind
	scalar any
	items  []Value
	fields map[string]Value
}

// String creates a string scalar.
func String(s string) Value {
	return Value{kind: ValueScalar, scalar: s}
}

// Number creates a numeric scalar.
func Number(f float64) Value {
	return Value{kind: ValueScalar, scalar: f}
}

// Bool creates a boolean scalar.
func Bool(b bool) Value {
	return Value{kind: ValueScalar, scalar: b}
}

// CollectionOf creates a collection from the given items.
func CollectionOf(items ...Value) Value {
	return Value{kind: ValueCollection, items: append([]Value(nil), items...)}
}

// RecordOf creates a record from the given fields.
func RecordOf(fields map[string]Value) Value {
	copied := make(map[string]Value, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Value{kind: ValueRecord, fields: copied}
}

// FromAny converts a decoded JSON or YAML tree into a Value.
func FromAny(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return String(""), nil
	case Value:
		return v, nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case float64:
		return Number(v), nil
	case float32:
		return Number(float64(v)), nil
	case int:
		return Number(float64(v)), nil
	case int32:
		return Number(float64(v)), nil
	case int64:
		return Number(float64(v)), nil
	case uint16:
		return Number(float64(v)), nil
	case uint32:
		return Number(float64(v)), nil
	case uint64:
		return Number(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", v.String(), err)
		}
		return Number(f), nil
	case []any:
		items := make([]Value, 0, len(v))
		for i, item := range v {
			converted, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, converted)
		}
		return Value{kind: ValueCollection, items: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(v))
		for key, item := range v {
			converted, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("field %s: %w", key, err)
			}
			fields[key] = converted
		}
		return Value{kind: ValueRecord, fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Kind returns the variant of the value.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsCollectionValued reports whether the value is written with clear-then-append.
func (v Value) IsCollectionValued() bool {
	return v.kind == ValueCollection || v.kind == ValueRecord
}

// Scalar returns the underlying string, float64 or bool of a scalar value.
func (v Value) Scalar() any {
	if v.kind != ValueScalar {
		return nil
	}
	if v.scalar == nil {
		return ""
	}
	return v.scalar
}

// Items returns the elements appended when the value is written as a collection.
// A record yields itself as the single element; a scalar yields nothing.
func (v Value) Items() []Value {
	switch v.kind {
	case ValueCollection:
		return append([]Value(nil), v.items...)
	case ValueRecord:
		return []Value{v}
	default:
		return nil
	}
}

// Fields returns a copy of the record fields, or nil for other kinds.
func (v Value) Fields() map[string]Value {
	if v.kind != ValueRecord {
		return nil
	}
	copied := make(map[string]Value, len(v.fields))
	for k, f := range v.fields {
		copied[k] = f
	}
	return copied
}

// FieldNames returns the record field names in sorted order.
func (v Value) FieldNames() []string {
	names := make([]string, 0, len(v.fields))
	for k := range v.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether two values are the same. Comparison is exact: strings
// are case-sensitive. When a string meets a bool or a number, the string is
// first converted to the other type, so an observed "1740" matches a desired
// 1740 and an observed "True" matches a desired true; a string that does not
// convert is different.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case ValueScalar:
		return scalarEqual(v.Scalar(), other.Scalar())
	case ValueCollection:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case ValueRecord:
		if len(v.fields) != len(other.fields) {
			return false
		}
		for k, f := range v.fields {
			o, ok := other.fields[k]
			if !ok || !f.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

func scalarEqual(a, b any) bool {
	if _, ok := a.(string); !ok {
		a, b = b, a
	}
	text, ok := a.(string)
	if !ok {
		return a == b
	}
	switch t := b.(type) {
	case string:
		return text == t
	case bool:
		parsed, ok := parseBoolText(text)
		return ok && parsed == t
	case float64:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		return err == nil && parsed == t
	}
	return false
}

// parseBoolText accepts true and false in any letter case, as PowerShell
// prints them capitalised.
func parseBoolText(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// String returns the canonical text form of the value.
func (v Value) String() string {
	switch v.kind {
	case ValueScalar:
		switch s := v.Scalar().(type) {
		case string:
			return s
		case bool:
			return strconv.FormatBool(s)
		case float64:
			if s == math.Trunc(s) && math.Abs(s) < 1e15 {
				return strconv.FormatInt(int64(s), 10)
			}
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
		return fmt.Sprint(v.scalar)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}
		return string(data)
	}
}

// Interface converts the value back into a plain Go tree.
func (v Value) Interface() any {
	switch v.kind {
	case ValueCollection:
		out := make([]any, 0, len(v.items))
		for _, item := range v.items {
			out = append(out, item.Interface())
		}
		return out
	case ValueRecord:
		out := make(map[string]any, len(v.fields))
		for k, f := range v.fields {
			out[k] = f.Interface()
		}
		return out
	default:
		return v.Scalar()
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	converted, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}
