// Package shape declares runtime validators for message payloads.
//
// A Shape[T] decides whether a raw value, as delivered by the wire codec
// (nil, bool, float64, string, []any, map[string]any) or handed over in-process,
// belongs to T. On success it returns the typed value, otherwise a list of
// Violations pointing at the offending path:
//
//	post := shape.Object("PostMessage", func(f *shape.Fields) PostMessage {
//		return PostMessage{
//			Message: shape.Field(f, "message", shape.String()),
//			Channel: shape.Field(f, "channel", shape.Enum("en", "ru")),
//		}
//	}, shape.Strict())
//
// Shapes come in two kinds. Checked shapes validate. Trusted shapes never look at
// the value and only convert it to T, for payloads the receiver has no reason to
// doubt (for instance server originated data on the client).
package shape

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Root is the path of the top level value.
const Root = "$"

type Kind uint8

const (
	KindChecked Kind = iota
	KindTrusted
)

func (k Kind) String() string {
	switch k {
	case KindChecked:
		return "checked"
	case KindTrusted:
		return "trusted"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Shape is a runtime validator for T.
type Shape[T any] interface {
	// Name describes the expected shape, e.g. `"en" | "ru"`.
	Name() string
	Kind() Kind
	// DecodeAt validates raw, which lives at path inside the payload.
	DecodeAt(path string, raw any) (T, Violations)
}

// Violation is a single failed check.
type Violation struct {
	Path     string
	Value    any
	Expected string
}

func (v Violation) String() string {
	return fmt.Sprintf("Invalid value %s supplied to %s: expected %s", render(v.Value), v.Path, v.Expected)
}

type Violations []Violation

// String joins every violation, one per line.
func (vs Violations) String() string {
	lines := make([]string, len(vs))
	for i, v := range vs {
		lines[i] = v.String()
	}
	return strings.Join(lines, "\n")
}

// Decode runs s against raw at the root path. It never panics: a panic raised by a
// refinement predicate is reported as a violation.
func Decode[T any](s Shape[T], raw any) (value T, violations Violations) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			violations = Violations{{
				Path:     Root,
				Value:    raw,
				Expected: fmt.Sprintf("%s (validator panicked: %v)", s.Name(), r),
			}}
		}
	}()
	return s.DecodeAt(Root, raw)
}

func fail(path string, raw any, expected string) Violations {
	return Violations{{Path: path, Value: raw, Expected: expected}}
}

func render(v any) string {
	if v == nil {
		return "null"
	}
	bts, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(bts)
}

func joinPath(path, key string) string {
	return path + "." + key
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
