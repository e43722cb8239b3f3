package agentsy

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Type is the discriminator of a Schema variant.
type Type string

// Supported parameter kinds.
const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// Schema describes a tool parameter. Type selects the variant; only the constraint
// fields of that variant may be set (see Check). It marshals to JSON Schema and is
// used both to advertise a tool to the model and to validate the model's arguments.
type Schema struct {
	Type        Type   `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`

	// string
	Pattern   string `json:"pattern,omitempty"`
	Format    string `json:"format,omitempty"`
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`

	// number, integer
	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty"`
	MultipleOf       *float64 `json:"multipleOf,omitempty"`

	// array
	Items       *Schema `json:"items,omitempty"`
	MinItems    *int    `json:"minItems,omitempty"`
	MaxItems    *int    `json:"maxItems,omitempty"`
	UniqueItems bool    `json:"uniqueItems,omitempty"`

	// object
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
}

// Object returns an object schema with the given properties and required keys.
func Object(properties map[string]*Schema, required ...string) *Schema {
	if properties == nil {
		properties = map[string]*Schema{}
	}
	return &Schema{Type: TypeObject, Properties: properties, Required: required}
}

// String returns a string schema.
func String(description string) *Schema {
	return &Schema{Type: TypeString, Description: description}
}

// Number returns a number schema.
func Number(description string) *Schema {
	return &Schema{Type: TypeNumber, Description: description}
}

// Integer returns an integer schema.
func Integer(description string) *Schema {
	return &Schema{Type: TypeInteger, Description: description}
}

// Boolean returns a boolean schema.
func Boolean(description string) *Schema {
	return &Schema{Type: TypeBoolean, Description: description}
}

// Array returns an array schema whose elements match items.
func Array(description string, items *Schema) *Schema {
	return &Schema{Type: TypeArray, Description: description, Items: items}
}

// Ptr is a helper for the optional numeric constraint fields.
func Ptr[T any](v T) *T { return &v }

// Check verifies that s is a well-formed variant: a known type, only the constraint
// fields of that type, and a required list naming declared properties. All problems are
// reported at once.
func (s *Schema) Check() error {
	var problems []string
	s.check("", &problems)
	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid schema: " + strings.Join(problems, "; "))
}

func (s *Schema) check(path string, problems *[]string) {
	at := path
	if at == "" {
		at = "/"
	}
	if s == nil {
		*problems = append(*problems, at+": schema is nil")
		return
	}
	report := func(format string, args ...any) {
		*problems = append(*problems, at+": "+fmt.Sprintf(format, args...))
	}
	isString := s.Type == TypeString
	isNumeric := s.Type == TypeNumber || s.Type == TypeInteger
	isArray := s.Type == TypeArray
	isObject := s.Type == TypeObject

	switch s.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
	default:
		report("unknown type %q", s.Type)
		return
	}
	if !isString && (s.Pattern != "" || s.Format != "" || s.MinLength != nil || s.MaxLength != nil) {
		report("string constraints on %s", s.Type)
	}
	if !isNumeric && (s.Minimum != nil || s.Maximum != nil || s.ExclusiveMinimum != nil ||
		s.ExclusiveMaximum != nil || s.MultipleOf != nil) {
		report("numeric constraints on %s", s.Type)
	}
	if !isArray && (s.Items != nil || s.MinItems != nil || s.MaxItems != nil || s.UniqueItems) {
		report("array constraints on %s", s.Type)
	}
	if !isObject && (s.Properties != nil || s.Required != nil || s.AdditionalProperties != nil) {
		report("object constraints on %s", s.Type)
	}
	if s.MultipleOf != nil && *s.MultipleOf <= 0 {
		report("multipleOf must be greater than 0")
	}
	if isArray {
		if s.Items == nil {
			report("array schema requires items")
		} else {
			s.Items.check(path+"/items", problems)
		}
	}
	if isObject {
		for _, key := range s.Required {
			if _, ok := s.Properties[key]; !ok {
				report("required key %q is not a declared property", key)
			}
		}
		keys := make([]string, 0, len(s.Properties))
		for key := range s.Properties {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			s.Properties[key].check(path+"/properties/"+key, problems)
		}
	}
}

// document returns s as a generic JSON document (maps, slices, json.Number), the form
// the schema compiler consumes.
func (s *Schema) document() (any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return decodeJSON(data)
}
