package shape

import (
	"fmt"

	"github.com/bytedance/sonic"
)

type trustedShape[T any] struct{}

// Trusted never validates. Values already of type T are returned as they are;
// generic wire values are converted to T through the JSON codec.
func Trusted[T any]() Shape[T] {
	return trustedShape[T]{}
}

// Any is a trusted shape for untyped payloads.
func Any() Shape[any] {
	return trustedShape[any]{}
}

func (trustedShape[T]) Name() string { return "trusted" }
func (trustedShape[T]) Kind() Kind   { return KindTrusted }

func (trustedShape[T]) DecodeAt(path string, raw any) (T, Violations) {
	var zero T
	if v, ok := raw.(T); ok {
		return v, nil
	}
	if raw == nil {
		return zero, nil
	}

	bts, err := sonic.ConfigStd.Marshal(raw)
	if err != nil {
		return zero, fail(path, raw, fmt.Sprintf("value convertible to %T", zero))
	}
	var out T
	if err := sonic.ConfigStd.Unmarshal(bts, &out); err != nil {
		return zero, fail(path, raw, fmt.Sprintf("value convertible to %T", zero))
	}
	return out, nil
}
