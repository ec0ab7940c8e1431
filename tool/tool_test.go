package tool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func addDescriptor() *Descriptor {
	return &Descriptor{
		Name:        "add",
		Description: "Add two numbers",
		Parameters: []Parameter{
			{Name: "a", Type: "number", Description: "first operand", Required: true},
			{Name: "b", Type: "number", Description: "second operand", Required: true},
		},
		InputSchema: map[string]any{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type":    "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"a", "b"},
		},
	}
}

func TestValidateArgsWithSchema(t *testing.T) {
	d := addDescriptor()

	require.NoError(t, d.ValidateArgs(map[string]any{"a": 1.0, "b": 2.0}))

	err := d.ValidateArgs(map[string]any{"a": 1.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "b")

	err = d.ValidateArgs(map[string]any{"a": "one", "b": 2.0})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid arguments")
}

func TestValidateArgsWithoutSchema(t *testing.T) {
	d := addDescriptor()
	d.InputSchema = nil

	require.NoError(t, d.ValidateArgs(map[string]any{"a": 1, "b": 2}))
	require.EqualError(t, d.ValidateArgs(nil), "missing required parameter: a")
}

func TestValidateArgsFallsBackOnBrokenSchema(t *testing.T) {
	d := addDescriptor()
	d.InputSchema = map[string]any{"type": 42}

	require.NoError(t, d.ValidateArgs(map[string]any{"a": 1, "b": 2}))
	require.Error(t, d.ValidateArgs(map[string]any{"a": 1}))
}

func TestRegistryFirstRegisteredWins(t *testing.T) {
	first := &Descriptor{Name: "add", Description: "from calc"}
	second := &Descriptor{Name: "add", Description: "from math"}

	reg := NewRegistry(
		Catalog{Provider: "calc", Tools: []*Descriptor{first, {Name: "sub"}}},
		Catalog{Provider: "math", Tools: []*Descriptor{second, {Name: "mul"}, nil, {Name: ""}}},
	)

	require.Equal(t, 3, reg.Len())
	entry, ok := reg.Lookup("add")
	require.True(t, ok)
	require.Equal(t, "calc", entry.Provider)
	require.Same(t, first, entry.Descriptor)

	require.Equal(t, []Collision{{Tool: "add", Kept: "calc", Shadowed: "math"}}, reg.Collisions())

	names := make([]string, 0, reg.Len())
	for _, d := range reg.Descriptors() {
		names = append(names, d.Name)
	}
	require.Equal(t, []string{"add", "sub", "mul"}, names)
}

func TestRegistryDuplicateWithinProviderIsNotACollision(t *testing.T) {
	reg := NewRegistry(Catalog{Provider: "calc", Tools: []*Descriptor{{Name: "add"}, {Name: "add"}}})
	require.Equal(t, 1, reg.Len())
	require.Empty(t, reg.Collisions())
}

func TestNilRegistryIsEmpty(t *testing.T) {
	var reg *Registry
	_, ok := reg.Lookup("add")
	require.False(t, ok)
	require.Zero(t, reg.Len())
	require.Empty(t, reg.Entries())
	require.Empty(t, reg.Collisions())
}
