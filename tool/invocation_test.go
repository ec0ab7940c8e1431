package tool

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestParseInvocation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    *Invocation
	}{
		{
			name:    "tool call",
			content: `{"tool":"add","arguments":{"a":1,"b":2}}`,
			want:    &Invocation{Tool: "add", Arguments: map[string]any{"a": 1.0, "b": 2.0}},
		},
		{
			name:    "surrounding whitespace",
			content: "\n  {\"tool\": \"now\", \"arguments\": {}}\n",
			want:    &Invocation{Tool: "now", Arguments: map[string]any{}},
		},
		{name: "plain text", content: "Hello there"},
		{name: "wrong keys", content: `{"foo":"bar"}`},
		{name: "missing arguments", content: `{"tool":"add"}`},
		{name: "extra key", content: `{"tool":"add","arguments":{},"id":"1"}`},
		{name: "tool not a string", content: `{"tool":1,"arguments":{}}`},
		{name: "arguments not an object", content: `{"tool":"add","arguments":[1,2]}`},
		{name: "arguments null", content: `{"tool":"add","arguments":null}`},
		{name: "array", content: `[{"tool":"add","arguments":{}}]`},
		{name: "trailing text", content: `{"tool":"add","arguments":{}} thanks`},
		{name: "fenced", content: "```json\n{\"tool\":\"add\",\"arguments\":{}}\n```"},
		{name: "null", content: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseInvocation(tt.content)
			if tt.want == nil {
				require.False(t, ok)
				require.Nil(t, got)
				return
			}
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseInvocationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("objects of string fields are never tool calls", prop.ForAll(
		func(fields map[string]string) bool {
			raw, err := json.Marshal(fields)
			if err != nil {
				return false
			}
			_, ok := ParseInvocation(string(raw))
			return !ok
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
	))

	properties.Property("well-formed calls round trip", prop.ForAll(
		func(name string, args map[string]string) bool {
			if args == nil {
				args = map[string]string{}
			}
			payload := map[string]any{"tool": name, "arguments": args}
			raw, err := json.Marshal(payload)
			if err != nil {
				return false
			}
			inv, ok := ParseInvocation(string(raw))
			if !ok || inv.Tool != name || len(inv.Arguments) != len(args) {
				return false
			}
			for k, v := range args {
				if inv.Arguments[k] != v {
					return false
				}
			}
			return true
		},
		gen.Identifier(),
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
	))

	properties.Property("plain text is never a tool call", prop.ForAll(
		func(text string) bool {
			_, ok := ParseInvocation(text)
			return !ok
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
