package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// templateVarRe matches {{dot.path}} template expressions.
var templateVarRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// ResolveString substitutes every {{dot.path}} placeholder in s against env.
// A path that resolves to nothing degrades to the literal path text, so a
// template miss is visible in the output instead of crashing the run.
func ResolveString(s string, env map[string]interface{}) string {
	return templateVarRe.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := lookupPath(env, path); ok {
			return stringify(v)
		}
		return path
	})
}

// ResolveValue resolves placeholders in an arbitrary config value, walking
// nested maps and slices. A string that is exactly one placeholder keeps the
// resolved value's type, so structured data can pass through tool parameters.
func ResolveValue(v interface{}, env map[string]interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if loc := templateVarRe.FindStringIndex(t); loc != nil && loc[0] == 0 && loc[1] == len(t) {
			path := strings.TrimSpace(t[2 : len(t)-2])
			if rv, ok := lookupPath(env, path); ok {
				return rv
			}
			return path
		}
		return ResolveString(t, env)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = ResolveValue(val, env)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = ResolveValue(val, env)
		}
		return out
	default:
		return v
	}
}

// lookupPath walks a dot-separated path through nested maps.
func lookupPath(env map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = env
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// stringify renders a resolved value for interpolation into a string.
func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
