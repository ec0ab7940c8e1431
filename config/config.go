// Package config loads and validates the provider list and the model catalog.
//
// Both files may be written as JSON or YAML. Mapping order is preserved so that
// providers register, and models list, in declaration order.
package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

func decode(data []byte, out any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		// JSON forbids raw tabs inside strings, so they can only be indentation,
		// which YAML does not accept.
		data = bytes.ReplaceAll(data, []byte("\t"), []byte("  "))
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

// eachEntry walks a mapping node in document order.
func eachEntry(node *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("config: line %d: expected a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}
