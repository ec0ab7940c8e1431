package model

import (
	"maps"
	"strings"
)

const (
	placeholderAPIKey     = "{api_key}"
	placeholderModelID    = "{model_id}"
	placeholderMessages   = "{messages}"
	placeholderParameters = "{parameters}"
)

// buildHeaders substitutes {api_key} into the header template. Without a
// template the request carries a JSON content type and a bearer token.
func buildHeaders(tmpl map[string]string, apiKey string) map[string]string {
	if tmpl == nil {
		return map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + apiKey,
		}
	}
	headers := make(map[string]string, len(tmpl))
	for k, v := range tmpl {
		headers[k] = strings.ReplaceAll(v, placeholderAPIKey, apiKey)
	}
	return headers
}

// buildPayload walks the request template and replaces placeholder strings.
// Only a string that is exactly a placeholder is replaced; any other value is
// copied through. Without a template the built-in shape is used.
func buildPayload(tmpl any, modelID string, messages []WireMessage, params map[string]any) any {
	if params == nil {
		params = map[string]any{}
	}
	if tmpl == nil {
		return map[string]any{
			"model":      modelID,
			"input":      map[string]any{"messages": messages},
			"parameters": params,
		}
	}
	return substitute(tmpl, modelID, messages, params)
}

func substitute(node any, modelID string, messages []WireMessage, params map[string]any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = substitute(child, modelID, messages, params)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			if key, ok := k.(string); ok {
				out[key] = substitute(child, modelID, messages, params)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = substitute(child, modelID, messages, params)
		}
		return out
	case string:
		switch v {
		case placeholderModelID:
			return modelID
		case placeholderMessages:
			return messages
		case placeholderParameters:
			return maps.Clone(params)
		}
		if name, ok := placeholderName(v); ok {
			if value, found := params[name]; found {
				return value
			}
		}
		return v
	default:
		return v
	}
}

func placeholderName(s string) (string, bool) {
	if len(s) < 3 || s[0] != '{' || s[len(s)-1] != '}' {
		return "", false
	}
	name := s[1 : len(s)-1]
	if strings.ContainsAny(name, "{}") {
		return "", false
	}
	return name, true
}
