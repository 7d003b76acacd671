package jsonschema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON Schema.
type Schema struct {
	compiled *jsonschema.Schema
}

var cache sync.Map // schema source -> *Schema

// Compile compiles a JSON Schema document. Compiled schemas are cached by
// source text, so repeated calls with the same schema are cheap.
func Compile(schemaStr string) (*Schema, error) {
	if s, ok := cache.Load(schemaStr); ok {
		return s.(*Schema), nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	s := &Schema{compiled: compiled}
	actual, _ := cache.LoadOrStore(schemaStr, s)
	return actual.(*Schema), nil
}

// ValidateJSON validates a JSON document. It returns nil when the document
// is valid.
func (s *Schema) ValidateJSON(data []byte) ValidationErrors {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ValidationErrors{fmt.Errorf("invalid JSON: %w", err)}
	}
	return s.ValidateValue(doc)
}

// ValidateValue validates an already decoded JSON value (as produced by
// encoding/json). It returns nil when the value is valid.
func (s *Schema) ValidateValue(v interface{}) ValidationErrors {
	err := s.compiled.Validate(v)
	if err == nil {
		return nil
	}
	if validationErr, ok := err.(*jsonschema.ValidationError); ok {
		return extractValidationErrors(validationErr)
	}
	return ValidationErrors{err}
}

// Validate validates a JSON string against a JSON Schema
// Returns true if the JSON is valid, false otherwise
// If there's an error in the schema or JSON parsing, it returns an error
func Validate(jsonStr, schemaStr string) (bool, error) {
	schema, err := Compile(schemaStr)
	if err != nil {
		return false, err
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}

	return len(schema.ValidateValue(doc)) == 0, nil
}

// extractValidationErrors flattens a jsonschema.ValidationError tree
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	var errors ValidationErrors

	if err.Message != "" && len(err.Causes) == 0 {
		errors = append(errors, fmt.Errorf("validation error at %s: %s", locationOf(err), err.Message))
	}

	for _, childErr := range err.Causes {
		errors = append(errors, extractValidationErrors(childErr)...)
	}

	if len(errors) == 0 {
		errors = append(errors, fmt.Errorf("validation error at %s: %s", locationOf(err), err.Message))
	}
	return errors
}

func locationOf(err *jsonschema.ValidationError) string {
	if err.InstanceLocation == "" {
		return "/"
	}
	return err.InstanceLocation
}
