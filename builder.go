package agentsy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// NewTypedTool builds a Tool from a typed function. The parameters schema is reflected from
// T (json and jsonschema struct tags; fields without omitempty are required) and the
// handler decodes the validated arguments into T before calling fn. When T implements
// Validatable it is checked after decoding.
func NewTypedTool[T any](
	name, description string,
	fn func(ctx context.Context, args T) (string, error),
) (Tool, error) {
	if fn == nil {
		return Tool{}, fmt.Errorf("%s: handler must not be nil", name)
	}
	schema, err := ReflectSchema[T]()
	if err != nil {
		return Tool{}, fmt.Errorf("%s: %w", name, err)
	}
	handler := func(ctx context.Context, argsJSON json.RawMessage) (string, error) {
		args, err := decodeTyped[T](argsJSON)
		if err != nil {
			return "", err
		}
		return fn(ctx, args)
	}
	return Tool{
		Definition: ToolDefinition{Name: name, Description: description, Parameters: schema},
		Handler:    handler,
	}, nil
}

// ReflectSchema derives an object Schema from the struct type T.
func ReflectSchema[T any]() (*Schema, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	reflected := r.Reflect(new(T))
	data, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode reflected schema: %w", err)
	}
	if s.Type != TypeObject {
		return nil, fmt.Errorf("arguments type must be a struct, reflected %q", s.Type)
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return &s, nil
}
