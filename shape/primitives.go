package shape

import (
	"encoding/json"
	"math"
	"strings"
)

type funcShape[T any] struct {
	name   string
	decode func(path string, raw any) (T, Violations)
}

func (s funcShape[T]) Name() string { return s.name }
func (s funcShape[T]) Kind() Kind   { return KindChecked }
func (s funcShape[T]) DecodeAt(path string, raw any) (T, Violations) {
	return s.decode(path, raw)
}

// String accepts strings.
func String() Shape[string] {
	return funcShape[string]{name: "string", decode: func(path string, raw any) (string, Violations) {
		s, ok := raw.(string)
		if !ok {
			return "", fail(path, raw, "string")
		}
		return s, nil
	}}
}

// Bool accepts booleans.
func Bool() Shape[bool] {
	return funcShape[bool]{name: "boolean", decode: func(path string, raw any) (bool, Violations) {
		b, ok := raw.(bool)
		if !ok {
			return false, fail(path, raw, "boolean")
		}
		return b, nil
	}}
}

// Number accepts any finite number.
func Number() Shape[float64] {
	return funcShape[float64]{name: "number", decode: func(path string, raw any) (float64, Violations) {
		f, ok := toFloat(raw)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fail(path, raw, "number")
		}
		return f, nil
	}}
}

// int64Bound is 2^63, the first float64 past math.MaxInt64.
const int64Bound = 1 << 63

// Int accepts numbers without a fractional part that fit in an int64.
func Int() Shape[int64] {
	return funcShape[int64]{name: "integer", decode: func(path string, raw any) (int64, Violations) {
		if v, ok := raw.(int64); ok {
			return v, nil
		}
		f, ok := toFloat(raw)
		if !ok || f != math.Trunc(f) || f < -int64Bound || f >= int64Bound {
			return 0, fail(path, raw, "integer")
		}
		return int64(f), nil
	}}
}

// Empty accepts only null or an absent value.
func Empty() Shape[struct{}] {
	return funcShape[struct{}]{name: "null | undefined", decode: func(path string, raw any) (struct{}, Violations) {
		if raw != nil {
			return struct{}{}, fail(path, raw, "null | undefined")
		}
		return struct{}{}, nil
	}}
}

// Literal accepts exactly v.
func Literal[T comparable](v T) Shape[T] {
	name := render(v)
	return funcShape[T]{name: name, decode: func(path string, raw any) (T, Violations) {
		got, ok := raw.(T)
		if !ok || got != v {
			var zero T
			return zero, fail(path, raw, name)
		}
		return got, nil
	}}
}

// Enum accepts one of the given strings.
func Enum[T ~string](values ...T) Shape[T] {
	names := make([]string, len(values))
	plain := make([]string, len(values))
	for i, v := range values {
		names[i] = render(string(v))
		plain[i] = string(v)
	}
	name := strings.Join(names, " | ")
	schema := enumSchema(plain)

	return funcShape[T]{name: name, decode: func(path string, raw any) (T, Violations) {
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case T:
			s = string(v)
		default:
			return "", fail(path, raw, name)
		}
		if err := schema.Validate(s); err != nil {
			return "", fail(path, raw, name)
		}
		return T(s), nil
	}}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
