// Package payload models the opaque structured blobs attached to staged
// actions (form field values, editor contents, user answers).
//
// Values form a closed set: Null, String, Int, Bool, Array and Object.
// Floats are not representable; form values travel as strings, and keeping
// numbers integral keeps the serialized text deterministic.
//
// The local store never interprets payloads. Repositories serialize them with
// Encode before an upsert and parse them with Decode after a read; the pair
// round-trips exactly.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface implemented only by the types in this package.
type Value interface {
	payloadValue()
}

// Null is an explicit JSON null.
type Null struct{}

func (Null) payloadValue() {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a text value.
type String string

func (String) payloadValue() {}

// Int is an integer value. Always int64.
type Int int64

func (Int) payloadValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) payloadValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) payloadValue() {}

// Object maps string keys to values. Iterate with SortedKeys for
// deterministic order.
type Object map[string]Value

func (Object) payloadValue() {}

// MarshalJSON implements json.Marshaler using the canonical encoding.
func (o Object) MarshalJSON() ([]byte, error) {
	return encode(o)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Object) UnmarshalJSON(data []byte) error {
	obj, err := DecodeObject(string(data))
	if err != nil {
		return err
	}
	*o = obj
	return nil
}

// SortedKeys returns the keys ordered by UTF-16 code units, the order used by
// the canonical encoding.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// Text returns the string stored under key, or "" when the key is absent or
// not a String.
func (o Object) Text(key string) string {
	if s, ok := o[key].(String); ok {
		return string(s)
	}
	return ""
}

// Integer returns the integer stored under key.
func (o Object) Integer(key string) (int64, bool) {
	n, ok := o[key].(Int)
	return int64(n), ok
}

// compareUTF16 orders strings by UTF-16 code units rather than UTF-8 bytes.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// FromAny converts decoded YAML/JSON data (maps, slices, strings, integers,
// booleans, nil) into a Value. Non-integral numbers are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number %s is not an integer", val)
		}
		return Int(n), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("non-integral number %v", val)
		}
		return Int(int64(val)), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			pv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = pv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			pv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = pv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}

// ObjectFromAny is FromAny restricted to objects. A nil input yields an empty
// object.
func ObjectFromAny(v any) (Object, error) {
	if v == nil {
		return Object{}, nil
	}
	pv, err := FromAny(v)
	if err != nil {
		return nil, err
	}
	obj, ok := pv.(Object)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", pv)
	}
	return obj, nil
}

// Equal reports whether two values have the same canonical encoding.
func Equal(a, b Value) bool {
	ea, errA := encode(a)
	eb, errB := encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
