package agentsy

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var violationPrinter = message.NewPrinter(language.English)

// SchemaValidator compiles parameter schemas once per tool name and validates arguments
// against the cached result. Safe for concurrent use.
type SchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator returns an empty validator cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*jsonschema.Schema)}
}

// Compile returns the compiled validator for name, compiling schema on first use.
// A cached validator is reused until Forget(name) is called.
func (v *SchemaValidator) Compile(name string, schema *Schema) (*jsonschema.Schema, error) {
	v.mu.RLock()
	compiled, ok := v.cache[name]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}
	if schema == nil {
		return nil, fmt.Errorf("%s: parameters schema must not be nil", name)
	}
	if err := schema.Check(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	doc, err := schema.document()
	if err != nil {
		return nil, fmt.Errorf("%s: encode schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	c.AssertFormat()
	if err := c.AddResource("parameters.json", doc); err != nil {
		return nil, fmt.Errorf("%s: add schema resource: %w", name, err)
	}
	compiled, err = c.Compile("parameters.json")
	if err != nil {
		return nil, fmt.Errorf("%s: compile schema: %w", name, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.cache[name]; ok {
		return existing, nil
	}
	v.cache[name] = compiled
	return compiled, nil
}

// Validate checks args (a decoded JSON value, see decodeJSON) against the validator
// compiled for name. On failure it returns a ClientError wrapping ErrValidation whose
// message lists every violation, not only the first.
func (v *SchemaValidator) Validate(name string, args any) error {
	v.mu.RLock()
	compiled, ok := v.cache[name]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: no compiled validator: %w", name, ErrToolNotFound)
	}
	if err := compiled.Validate(args); err != nil {
		return newValidationError(name, violations(err))
	}
	return nil
}

// Forget drops the cached validator for name.
func (v *SchemaValidator) Forget(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, name)
}

// violations flattens the cause tree of a validation error into leaf messages.
func violations(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	collectViolations(ve, &out)
	if len(out) == 0 {
		out = append(out, ve.Error())
	}
	return out
}

func collectViolations(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectViolations(cause, out)
		}
		return
	}
	loc := "/" + strings.Join(ve.InstanceLocation, "/")
	// One violation per missing key.
	if req, ok := ve.ErrorKind.(*kind.Required); ok {
		for _, key := range req.Missing {
			*out = append(*out, fmt.Sprintf("at '%s': missing required property '%s'", loc, key))
		}
		return
	}
	*out = append(*out, fmt.Sprintf("at '%s': %s", loc, ve.ErrorKind.LocalizedString(violationPrinter)))
}

// decodeJSON decodes data into the generic form the validator expects (numbers as
// json.Number). Trailing data after the first value is an error.
func decodeJSON(data []byte) (any, error) {
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}
