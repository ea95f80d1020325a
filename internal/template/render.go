// Package template substitutes {{ name }} placeholders in stored message bodies.
//
// Rendering never fails the caller: a body that cannot be parsed is returned unchanged.
package template

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// ParseError describes a malformed placeholder
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("template parse error at offset %d: %s", e.Offset, e.Reason)
}

// Render substitutes variables into body, falling back to body on a parse error
func Render(body string, vars map[string]interface{}) string {
	out, err := Execute(body, vars, false)
	if err != nil {
		return body
	}
	return out
}

// RenderHTML is Render with HTML-escaped substitutions; the surrounding markup is left alone
func RenderHTML(body string, vars map[string]interface{}) string {
	out, err := Execute(body, vars, true)
	if err != nil {
		return body
	}
	return out
}

// Execute substitutes variables into body. Unknown keys render as the empty string.
func Execute(body string, vars map[string]interface{}, escapeHTML bool) (string, error) {
	if !strings.Contains(body, "{{") {
		return body, nil
	}

	var b strings.Builder
	b.Grow(len(body))

	rest := body
	offset := 0
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:start])

		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			return "", &ParseError{Offset: offset + start, Reason: "unclosed placeholder"}
		}

		key := strings.TrimSpace(rest[start+2 : start+2+end])
		if !validKey(key) {
			return "", &ParseError{Offset: offset + start, Reason: fmt.Sprintf("invalid placeholder %q", key)}
		}

		value := format(lookup(vars, key))
		if escapeHTML {
			value = html.EscapeString(value)
		}
		b.WriteString(value)

		consumed := start + 2 + end + 2
		rest = rest[consumed:]
		offset += consumed
	}
}

// Placeholders lists the distinct keys referenced by body in order of first use
func Placeholders(body string) []string {
	var keys []string
	seen := make(map[string]bool)
	rest := body
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			return keys
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			return keys
		}
		key := strings.TrimSpace(rest[start+2 : start+2+end])
		if validKey(key) && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		rest = rest[start+2+end+2:]
	}
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
		return false
	}
	for _, r := range key {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '_' && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

// lookup resolves a dotted key through nested maps
func lookup(vars map[string]interface{}, key string) interface{} {
	if v, ok := vars[key]; ok {
		return v
	}

	var cur interface{} = vars
	for _, part := range strings.Split(key, ".") {
		switch m := cur.(type) {
		case map[string]interface{}:
			cur = m[part]
		case map[string]string:
			cur = m[part]
		default:
			return nil
		}
	}
	return cur
}

func format(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
