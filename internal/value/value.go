// Package value models arbitrary structured request and response data as a
// tagged union that round-trips through JSON without loss.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a null, bool, number, string, sequence or mapping. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	s    string // string payload or the literal text of a number
	arr  []Value
	obj  map[string]Value
}

// FromBool wraps a boolean.
func FromBool(b bool) Value { return Value{kind: Bool, b: b} }

// FromString wraps a string.
func FromString(s string) Value { return Value{kind: String, s: s} }

// FromNumber wraps a JSON number literal.
func FromNumber(n json.Number) Value { return Value{kind: Number, s: n.String()} }

// FromInt wraps an integer.
func FromInt(n int64) Value { return Value{kind: Number, s: strconv.FormatInt(n, 10)} }

// FromFloat wraps a float using the shortest exact representation.
func FromFloat(f float64) Value {
	return Value{kind: Number, s: strconv.FormatFloat(f, 'f', -1, 64)}
}

// FromArray wraps a sequence of values.
func FromArray(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: Array, arr: cp}
}

// FromObject wraps a keyed mapping.
func FromObject(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: Object, obj: cp}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == Null }

// Bool returns the boolean payload; false for other kinds.
func (v Value) Bool() bool { return v.kind == Bool && v.b }

// Str returns the string payload; empty for other kinds.
func (v Value) Str() string {
	if v.kind != String {
		return ""
	}
	return v.s
}

// Number returns the number literal; empty for other kinds.
func (v Value) Number() json.Number {
	if v.kind != Number {
		return ""
	}
	return json.Number(v.s)
}

// Len returns the element count of a sequence or mapping.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj)
	default:
		return 0
	}
}

// Items returns a copy of the sequence elements.
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}
	out := make([]Value, len(v.arr))
	copy(out, v.arr)
	return out
}

// Fields returns a copy of the mapping.
func (v Value) Fields() map[string]Value {
	if v.kind != Object {
		return nil
	}
	out := make(map[string]Value, len(v.obj))
	for k, f := range v.obj {
		out[k] = f
	}
	return out
}

// Keys returns the mapping keys in ascending order.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Field returns the value stored under key in a mapping.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// Text is the string form used when a value is spliced into a string:
// strings verbatim, scalars as their literal, structures as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case Null:
		return "null"
	case Bool:
		return strconv.FormatBool(v.b)
	case Number, String:
		return v.s
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func (v Value) String() string { return v.Text() }

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == o.b
	case Number, String:
		return v.s == o.s
	case Array:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, a := range v.obj {
			b, ok := o.obj[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Null:
		return []byte("null"), nil
	case Bool:
		return []byte(strconv.FormatBool(v.b)), nil
	case Number:
		if v.s == "" {
			return []byte("0"), nil
		}
		return []byte(v.s), nil
	case String:
		return json.Marshal(v.s)
	case Array:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case Object:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse decodes a JSON document into a Value, keeping numbers as literals.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	if dec.More() {
		return Value{}, fmt.Errorf("decode value: trailing data")
	}
	return FromAny(raw)
}

// FromAny converts decoded Go data (as produced by encoding/json) into a Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case bool:
		return FromBool(t), nil
	case string:
		return FromString(t), nil
	case json.Number:
		return FromNumber(t), nil
	case float64:
		return FromFloat(t), nil
	case float32:
		return FromFloat(float64(t)), nil
	case int:
		return FromInt(int64(t)), nil
	case int64:
		return FromInt(t), nil
	case int32:
		return FromInt(int64(t)), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			conv, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = conv
		}
		return Value{kind: Array, arr: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			conv, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = conv
		}
		return Value{kind: Object, obj: fields}, nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return Value{}, fmt.Errorf("value: unsupported type %T: %w", t, err)
		}
		return Parse(raw)
	}
}

// ToAny converts v into plain Go data: nil, bool, float64, string, []any, map[string]any.
// Numbers that float64 cannot hold exactly stay json.Number literals.
func (v Value) ToAny() any {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return numberToAny(v.s)
	case String:
		return v.s
	case Array:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToAny()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.ToAny()
		}
		return out
	default:
		return nil
	}
}

// numberToAny returns lit as a float64 when its shortest float rendering keeps
// the same decimal value, and as json.Number otherwise.
func numberToAny(lit string) any {
	if lit == "" {
		return float64(0)
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return json.Number(lit)
	}
	want, _, err := big.ParseFloat(lit, 10, 256, big.ToNearestEven)
	if err != nil {
		return json.Number(lit)
	}
	got, _, err := big.ParseFloat(strconv.FormatFloat(f, 'g', -1, 64), 10, 256, big.ToNearestEven)
	if err != nil || want.Cmp(got) != 0 {
		return json.Number(lit)
	}
	return f
}
