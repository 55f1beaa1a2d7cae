package keys

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// writeCanonical serializes v as JSON with recursively sorted object keys.
// The output is deterministic for any two structurally equal values. Values
// JSON cannot represent (functions, channels, cycles past maxDepth) return
// an error so the caller can bypass the cache.
func writeCanonical(b *strings.Builder, v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("nesting exceeds %d levels (cyclic value?)", maxDepth)
	}

	switch t := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case map[string]any:
		return writeObject(b, t, depth)
	case []any:
		b.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, el, depth+1); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return writeLeaf(b, t)
	}

	// Fall back to reflection for other slice/map shapes.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, rv.Index(i).Interface(), depth+1); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return writeObject(b, m, depth)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("null")
			return nil
		}
		return writeCanonical(b, rv.Elem().Interface(), depth+1)
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Errorf("unsupported value of kind %s", rv.Kind())
	default:
		// Structs and anything else marshalable: delegate to encoding/json,
		// which already sorts struct fields by declaration order; reparse
		// into a map so nested keys still get sorted.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		return writeCanonical(b, generic, depth+1)
	}
}

// writeObject emits a JSON object with keys in sorted order, skipping
// denylisted keys at every level.
func writeObject(b *strings.Builder, m map[string]any, depth int) error {
	names := make([]string, 0, len(m))
	for k := range m {
		if denylist[strings.ToLower(k)] {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	b.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeLeaf(b, k); err != nil {
			return err
		}
		b.WriteByte(':')
		if err := writeCanonical(b, m[k], depth+1); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

// writeLeaf marshals a scalar through encoding/json so string escaping and
// number formatting match the standard library exactly.
func writeLeaf(b *strings.Builder, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Write(raw)
	return nil
}
