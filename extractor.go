package agentsy

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Validatable is implemented by typed arguments that check invariants a schema cannot
// express (e.g. low <= high). A failure is reported to the model as a ClientError.
type Validatable interface {
	Validate() error
}

// Extractor parses and validates JSON arguments into T outside of a Registry, for
// orchestrators that need a reflected schema and validated decoding of model output.
type Extractor[T any] struct {
	name      string
	schema    *Schema
	validator *SchemaValidator
}

// NewExtractor reflects the schema of T and compiles it under name.
func NewExtractor[T any](name string) (*Extractor[T], error) {
	schema, err := ReflectSchema[T]()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	v := NewSchemaValidator()
	if _, err := v.Compile(name, schema); err != nil {
		return nil, err
	}
	return &Extractor[T]{name: name, schema: schema, validator: v}, nil
}

// Schema returns the reflected schema. Callers must not mutate it.
func (e *Extractor[T]) Schema() *Schema { return e.schema }

// ParseAndValidate validates argsJSON against the schema, decodes it into T and runs
// Validatable. Every failure is a ClientError.
func (e *Extractor[T]) ParseAndValidate(argsJSON json.RawMessage) (T, error) {
	var zero T
	v, err := decodeJSON(normalizeArgs(argsJSON))
	if err != nil {
		return zero, wrapJSONParseError(err)
	}
	if err := e.validator.Validate(e.name, v); err != nil {
		return zero, err
	}
	return decodeTyped[T](argsJSON)
}

// decodeTyped unmarshals argsJSON into T and runs Validatable on the value or, for
// pointer-receiver implementations, on its address.
func decodeTyped[T any](argsJSON json.RawMessage) (T, error) {
	var args T
	if err := json.Unmarshal(normalizeArgs(argsJSON), &args); err != nil {
		var zero T
		return zero, wrapJSONParseError(err)
	}
	if err := runValidatable(&args); err != nil {
		var zero T
		if IsClientError(err) {
			return zero, err
		}
		return zero, &ClientError{Reason: err.Error(), Err: ErrValidation}
	}
	return args, nil
}

func runValidatable[T any](args *T) error {
	if v, ok := any(*args).(Validatable); ok {
		if reflect.TypeOf(*args).Kind() == reflect.Pointer && reflect.ValueOf(*args).IsNil() {
			return nil
		}
		return v.Validate()
	}
	if v, ok := any(args).(Validatable); ok {
		return v.Validate()
	}
	return nil
}
