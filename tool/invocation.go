package tool

import (
	"bytes"
	"encoding/json"
)

// Invocation is a tool call embedded in model output.
type Invocation struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ParseInvocation reports whether content is exactly a JSON object with the two
// keys "tool" (a string) and "arguments" (an object). Anything else, including
// valid JSON of another shape, is ordinary conversational text.
func ParseInvocation(content string) (*Invocation, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, false
	}
	if len(fields) != 2 {
		return nil, false
	}
	rawTool, ok := fields["tool"]
	if !ok {
		return nil, false
	}
	rawArgs, ok := fields["arguments"]
	if !ok {
		return nil, false
	}

	var name string
	if err := json.Unmarshal(rawTool, &name); err != nil {
		return nil, false
	}
	if trimmed := bytes.TrimSpace(rawArgs); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var args map[string]any
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, false
	}
	return &Invocation{Tool: name, Arguments: args}, true
}
