package wsrpc

import (
	"github.com/sonirico/wsrpc/shape"
)

// Validator is the type-erased view of a shape.Shape used by the dispatcher.
type Validator interface {
	Name() string
	Kind() shape.Kind
	Decode(raw any) (any, shape.Violations)
}

// Result is the outcome of Validate. Value is only meaningful when OK.
type Result struct {
	OK          bool
	Value       any
	Diagnostics string
}

type erased[T any] struct {
	s shape.Shape[T]
}

// ValidatorOf erases the type parameter of s.
func ValidatorOf[T any](s shape.Shape[T]) Validator {
	return erased[T]{s: s}
}

func (e erased[T]) Name() string     { return e.s.Name() }
func (e erased[T]) Kind() shape.Kind { return e.s.Kind() }
func (e erased[T]) Decode(raw any) (any, shape.Violations) {
	v, vs := shape.Decode(e.s, raw)
	if len(vs) > 0 {
		return nil, vs
	}
	return v, nil
}

// Validate decodes raw with v. It never panics; a nil validator accepts anything
// as is. Diagnostics hold one line per failing path.
func Validate(v Validator, raw any) Result {
	if v == nil {
		return Result{OK: true, Value: raw}
	}
	value, violations := v.Decode(raw)
	if len(violations) > 0 {
		return Result{Diagnostics: violations.String()}
	}
	return Result{OK: true, Value: value}
}
