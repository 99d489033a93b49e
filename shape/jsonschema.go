package shape

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

const schemaResource = "shape.json"

// compileSchema compiles a JSON Schema document built from Go values. Documents
// are generated by this package, so a failure is a programming error.
func compileSchema(doc map[string]any) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResource, doc); err != nil {
		panic(errors.Wrap(err, "shape: add schema"))
	}
	return c.MustCompile(schemaResource)
}

// enumSchema accepts exactly one of values.
func enumSchema(values []string) *jsonschema.Schema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return compileSchema(map[string]any{"enum": enum})
}

// closedObjectSchema accepts objects holding no key outside keys.
func closedObjectSchema(keys []string) *jsonschema.Schema {
	properties := make(map[string]any, len(keys))
	for _, k := range keys {
		properties[k] = true
	}
	return compileSchema(map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	})
}

// additionalProperties lists, sorted, the keys err reports as not allowed.
func additionalProperties(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil
	}

	var keys []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if k, ok := e.ErrorKind.(*kind.AdditionalProperties); ok {
			keys = append(keys, k.Properties...)
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)

	sort.Strings(keys)
	return keys
}
