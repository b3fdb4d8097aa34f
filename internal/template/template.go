// Package template fills stage-email templates. Bodies use a simple
// placeholder syntax so recruiters can draft templates without knowing a
// template language; the outer HTML layout is rendered with Liquid.
package template

import (
	"regexp"
	"strings"
)

// Placeholders come in two equivalent spellings: {name} and %{name}.
// Both survive drafts written against either convention.
var placeholderRegex = regexp.MustCompile(`%?\{([A-Za-z0-9_]+)\}`)

// Render substitutes every recognized placeholder in tpl with its value
// from vars. Placeholders with no matching variable are left verbatim, so
// a template can be drafted before all of its variables are wired up.
func Render(tpl string, vars map[string]string) string {
	if !strings.Contains(tpl, "{") {
		return tpl
	}
	return placeholderRegex.ReplaceAllStringFunc(tpl, func(match string) string {
		name := match[strings.Index(match, "{")+1 : len(match)-1]
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}

// ExtractVariables returns the distinct placeholder names referenced by a
// template, in order of first occurrence. Used by the settings UI to show
// which variables a template expects.
func ExtractVariables(tpl string) []string {
	matches := placeholderRegex.FindAllStringSubmatch(tpl, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
