package blobstore

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// EncodeLine serializes record as one JSON line without the trailing newline.
// Values encoding/json rejects are replaced by their fmt string form.
func EncodeLine(record any) ([]byte, error) {
	data, err := json.Marshal(record)
	if err == nil {
		return data, nil
	}

	data, cerr := json.Marshal(coerce(reflect.ValueOf(record)))
	if cerr != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// SplitLines returns the non-empty lines of a JSON-lines document.
func SplitLines(content string) []string {
	raw := strings.Split(content, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// JoinLines renders lines as a JSON-lines document, each line newline-terminated.
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func coerce(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return coerce(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = coerce(iter.Value())
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = coerce(v.Index(i))
		}
		return out
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f
	case reflect.Complex64, reflect.Complex128, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprint(v.Interface())
	case reflect.Struct:
		if v.CanInterface() {
			if data, err := json.Marshal(v.Interface()); err == nil {
				return json.RawMessage(data)
			}
		}
		return coerceStruct(v)
	default:
		if !v.CanInterface() {
			return fmt.Sprint(v)
		}
		return v.Interface()
	}
}

// coerceStruct renders a struct as an object keyed the way encoding/json
// names its fields, so only the offending leaves become strings.
func coerceStruct(v reflect.Value) map[string]any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	promoted := make(map[string]any)

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			continue
		}
		fv := v.Field(i)

		if f.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				for k, val := range coerceStruct(inner) {
					if _, ok := promoted[k]; !ok {
						promoted[k] = val
					}
				}
				continue
			}
		}

		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if hasOmitEmpty(opts) && isEmptyValue(fv) {
			continue
		}
		out[name] = coerce(fv)
	}

	// direct fields win over promoted ones
	for k, val := range promoted {
		if _, ok := out[k]; !ok {
			out[k] = val
		}
	}
	return out
}

func hasOmitEmpty(opts string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == "omitempty" {
			return true
		}
	}
	return false
}

// isEmptyValue follows encoding/json's omitempty rules.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}
