package payload

import "golang.org/x/text/unicode/norm"

// Normalize returns a copy of v with every string and object key in Unicode
// NFC form. Repositories apply it to user-entered payloads at staging time so
// visually identical input serializes identically.
//
// If two keys collapse to the same normalized key, the value of the key that
// sorts last wins.
func Normalize(v Value) Value {
	switch val := v.(type) {
	case String:
		return String(norm.NFC.String(string(val)))
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Normalize(elem)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for _, k := range val.SortedKeys() {
			out[norm.NFC.String(k)] = Normalize(val[k])
		}
		return out
	case nil:
		return Null{}
	default:
		return v
	}
}

// NormalizeObject is Normalize for objects. A nil object yields an empty one.
func NormalizeObject(o Object) Object {
	if o == nil {
		return Object{}
	}
	return Normalize(o).(Object)
}

// NormalizeText applies NFC to a single string field.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}
