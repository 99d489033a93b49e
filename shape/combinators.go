package shape

import "strings"

// Union returns the result of the first alternative that accepts the value.
func Union[T any](alternatives ...Shape[T]) Shape[T] {
	names := make([]string, len(alternatives))
	for i, alt := range alternatives {
		names[i] = alt.Name()
	}
	name := "(" + strings.Join(names, " | ") + ")"
	return funcShape[T]{name: name, decode: func(path string, raw any) (T, Violations) {
		for _, alt := range alternatives {
			if v, vs := alt.DecodeAt(path, raw); len(vs) == 0 {
				return v, nil
			}
		}
		var zero T
		return zero, fail(path, raw, name)
	}}
}

// Array accepts a list whose every element satisfies elem.
func Array[T any](elem Shape[T]) Shape[[]T] {
	name := "Array<" + elem.Name() + ">"
	return funcShape[[]T]{name: name, decode: func(path string, raw any) ([]T, Violations) {
		var items []any
		switch v := raw.(type) {
		case []any:
			items = v
		case []T:
			items = make([]any, len(v))
			for i := range v {
				items[i] = v[i]
			}
		default:
			return nil, fail(path, raw, name)
		}

		out := make([]T, len(items))
		var violations Violations
		for i, item := range items {
			v, vs := elem.DecodeAt(indexPath(path, i), item)
			violations = append(violations, vs...)
			out[i] = v
		}
		if len(violations) > 0 {
			return nil, violations
		}
		return out, nil
	}}
}

// Nullable accepts null (as a nil pointer) or a value of s.
func Nullable[T any](s Shape[T]) Shape[*T] {
	name := s.Name() + " | null"
	return funcShape[*T]{name: name, decode: func(path string, raw any) (*T, Violations) {
		if raw == nil {
			return nil, nil
		}
		v, vs := s.DecodeAt(path, raw)
		if len(vs) > 0 {
			return nil, vs
		}
		return &v, nil
	}}
}

// Refine narrows s with a predicate. name describes the refined shape.
func Refine[T any](s Shape[T], name string, pred func(T) bool) Shape[T] {
	return funcShape[T]{name: name, decode: func(path string, raw any) (T, Violations) {
		v, vs := s.DecodeAt(path, raw)
		if len(vs) > 0 {
			return v, vs
		}
		if !pred(v) {
			var zero T
			return zero, fail(path, raw, name)
		}
		return v, nil
	}}
}
