package model

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultContentPath locates the reply in the built-in response shape.
const DefaultContentPath = "output.choices[0].message.content"

const gjsonSpecial = `\*?|#@!=<>%`

// toGJSONPath rewrites a dotted path with bracketed indices, such as
// choices[0].message.content, into gjson syntax.
func toGJSONPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("empty content path")
	}

	var out []string
	for _, part := range strings.Split(path, ".") {
		name := part
		var indices []string
		if i := strings.IndexByte(part, '['); i >= 0 {
			name = part[:i]
			rest := part[i:]
			for rest != "" {
				if rest[0] != '[' {
					return "", fmt.Errorf("malformed content path segment %q", part)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return "", fmt.Errorf("malformed content path segment %q", part)
				}
				idx := rest[1:end]
				if idx == "" || strings.Trim(idx, "0123456789") != "" {
					return "", fmt.Errorf("invalid index %q in content path", idx)
				}
				indices = append(indices, idx)
				rest = rest[end+1:]
			}
		}
		if name == "" && len(indices) == 0 {
			return "", fmt.Errorf("empty segment in content path %q", path)
		}
		if name != "" {
			out = append(out, escapeKey(name))
		}
		out = append(out, indices...)
	}
	return strings.Join(out, "."), nil
}

func escapeKey(key string) string {
	if !strings.ContainsAny(key, gjsonSpecial) {
		return key
	}
	var b strings.Builder
	for _, r := range key {
		if strings.ContainsRune(gjsonSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExtractContent evaluates path against a JSON document. String values are
// returned unquoted; other values as their raw JSON.
func ExtractContent(body []byte, path string) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("response is not valid JSON")
	}
	gpath, err := toGJSONPath(path)
	if err != nil {
		return "", err
	}
	res := gjson.GetBytes(body, gpath)
	if !res.Exists() {
		return "", fmt.Errorf("content path %q not found in response", path)
	}
	if res.Type == gjson.String {
		return res.Str, nil
	}
	return res.Raw, nil
}
