package shape

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Fields is handed to an Object builder. Field and OptionalField read through it.
type Fields struct {
	path       string
	raw        map[string]any
	violations Violations

	describing bool
	described  []string
	keys       []string
}

type objectOptions struct {
	strict bool
}

type ObjectOption func(*objectOptions)

// Strict rejects keys that the builder does not declare.
func Strict() ObjectOption {
	return func(o *objectOptions) { o.strict = true }
}

type objectShape[T any] struct {
	label string
	build func(*Fields) T
	opts  objectOptions

	nameOnce sync.Once
	name     string
	// closed checks strict objects for unknown keys.
	closed *jsonschema.Schema
}

// Object builds T from a JSON object. build is run once per decode and must read
// every field through Field or OptionalField.
func Object[T any](label string, build func(*Fields) T, opts ...ObjectOption) Shape[T] {
	s := &objectShape[T]{label: label, build: build}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

func (s *objectShape[T]) Kind() Kind { return KindChecked }

func (s *objectShape[T]) Name() string {
	s.nameOnce.Do(func() {
		f := &Fields{describing: true}
		s.build(f)
		s.name = "{" + strings.Join(f.described, ", ") + "}"
		if s.label != "" {
			s.name = s.label + " " + s.name
		}
		if s.opts.strict {
			s.closed = closedObjectSchema(f.keys)
		}
	})
	return s.name
}

func (s *objectShape[T]) DecodeAt(path string, raw any) (T, Violations) {
	var zero T

	obj, ok := raw.(map[string]any)
	if !ok {
		return zero, fail(path, raw, s.Name())
	}

	f := &Fields{path: path, raw: obj}
	value := s.build(f)

	if s.opts.strict {
		s.Name()
		for _, k := range additionalProperties(s.closed.Validate(obj)) {
			f.violations = append(f.violations, Violation{
				Path:     joinPath(path, k),
				Value:    obj[k],
				Expected: "never",
			})
		}
	}

	if len(f.violations) > 0 {
		return zero, f.violations
	}
	return value, nil
}

// Field reads a required key.
func Field[F any](f *Fields, key string, s Shape[F]) F {
	if f.describing {
		f.described = append(f.described, key+": "+s.Name())
		f.keys = append(f.keys, key)
		var zero F
		return zero
	}

	v, vs := s.DecodeAt(joinPath(f.path, key), f.raw[key])
	f.violations = append(f.violations, vs...)
	return v
}

// OptionalField reads a key that may be absent or null. ok reports presence.
func OptionalField[F any](f *Fields, key string, s Shape[F]) (value F, ok bool) {
	if f.describing {
		f.described = append(f.described, key+"?: "+s.Name())
		f.keys = append(f.keys, key)
		return value, false
	}

	raw, present := f.raw[key]
	if !present || raw == nil {
		return value, false
	}
	v, vs := s.DecodeAt(joinPath(f.path, key), raw)
	f.violations = append(f.violations, vs...)
	return v, len(vs) == 0
}
