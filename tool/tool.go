package tool

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Parameter defines a tool parameter
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, number, integer, boolean, object, array
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Descriptor describes a tool exposed by a provider.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []Parameter    `json:"parameters"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ValidateArgs checks args against the tool's input schema. Without a schema
// only the required parameters are checked.
func (d *Descriptor) ValidateArgs(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	if schema := d.schemaForValidation(); schema != nil {
		result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
		if err == nil {
			if result.Valid() {
				return nil
			}
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
		}
		// An uncompilable schema falls back to the required check.
	}
	for _, param := range d.Parameters {
		if param.Required {
			if _, ok := args[param.Name]; !ok {
				return fmt.Errorf("missing required parameter: %s", param.Name)
			}
		}
	}
	return nil
}

// schemaForValidation strips the $schema dialect marker, which gojsonschema
// rejects for drafts newer than 7.
func (d *Descriptor) schemaForValidation() map[string]any {
	if len(d.InputSchema) == 0 {
		return nil
	}
	if _, ok := d.InputSchema["$schema"]; !ok {
		return d.InputSchema
	}
	schema := make(map[string]any, len(d.InputSchema))
	for k, v := range d.InputSchema {
		if k != "$schema" {
			schema[k] = v
		}
	}
	return schema
}
