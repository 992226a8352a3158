// Package resolver substitutes {{name}} placeholders with stored variable values.
package resolver

import (
	"regexp"
	"strings"

	"github.com/samvad-hq/nexlink/internal/value"
)

// placeholderPattern matches the shortest {{...}} run, so "{{a}}{{b}}" is two placeholders.
var placeholderPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Variables maps a variable key to its stored value.
type Variables map[string]value.Value

// Resolve walks v and substitutes placeholders in every string it contains.
// Sequences keep their order, mappings keep their keys, other kinds are returned as is.
func Resolve(v value.Value, vars Variables) value.Value {
	switch v.Kind() {
	case value.String:
		return value.FromString(ResolveString(v.Str(), vars))
	case value.Array:
		items := v.Items()
		for i := range items {
			items[i] = Resolve(items[i], vars)
		}
		return value.FromArray(items)
	case value.Object:
		fields := v.Fields()
		for k, f := range fields {
			fields[k] = Resolve(f, vars)
		}
		return value.FromObject(fields)
	default:
		return v
	}
}

// ResolveString replaces each {{name}} whose trimmed name is a known variable.
// Unknown placeholders are left verbatim.
func ResolveString(s string, vars Variables) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := vars[name]; ok {
			return v.Text()
		}
		return match
	})
}

// ResolveMap resolves every value of a string mapping. Keys are not substituted.
func ResolveMap(m map[string]string, vars Variables) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = ResolveString(v, vars)
	}
	return out
}

// Func binds vars into a string resolver, handy for Auth.Map.
func Func(vars Variables) func(string) string {
	return func(s string) string { return ResolveString(s, vars) }
}

// Unresolved lists the distinct placeholder names in s that vars cannot satisfy.
func Unresolved(s string, vars Variables) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		name := strings.TrimSpace(m[1])
		if _, ok := vars[name]; ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
