// ABOUTME: Payload validation against action rules using compiled JSON Schemas
// ABOUTME: Rejects missing required fields and type mismatches before dispatch

package routetable

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrValidation wraps all payload validation failures.
var ErrValidation = errors.New("payload validation failed")

// compiledSchema holds a gojsonschema schema built from a Rule.
type compiledSchema struct {
	schema *gojsonschema.Schema
}

// compileRule translates a rule's required fields and field types into a
// JSON Schema document and compiles it.
func compileRule(rule *Rule) (*compiledSchema, error) {
	if len(rule.Required) == 0 && len(rule.Fields) == 0 {
		return nil, nil
	}

	doc := map[string]any{
		"type": "object",
	}
	if len(rule.Required) > 0 {
		doc["required"] = rule.Required
	}
	if len(rule.Fields) > 0 {
		props := make(map[string]any, len(rule.Fields))
		for field, typ := range rule.Fields {
			props[field] = map[string]any{"type": string(typ)}
		}
		doc["properties"] = props
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &compiledSchema{schema: schema}, nil
}

// Validate checks a payload against the rule. A nil error means the payload
// may be dispatched. Validation failures wrap ErrValidation and name the
// offending field.
func (r *Rule) Validate(payload map[string]any) error {
	if r.schema == nil {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}

	result, err := r.schema.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("validating payload: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, formatSchemaError(re))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// formatSchemaError renders a schema violation as a caller-facing message.
func formatSchemaError(re gojsonschema.ResultError) string {
	switch re.Type() {
	case "required":
		if prop, ok := re.Details()["property"].(string); ok {
			return fmt.Sprintf("missing required field %q", prop)
		}
	case "invalid_type":
		expected := re.Details()["expected"]
		given := re.Details()["given"]
		return fmt.Sprintf("field %q: expected type %v, got %v", re.Field(), expected, given)
	}
	return fmt.Sprintf("field %q: %s", re.Field(), re.Description())
}
