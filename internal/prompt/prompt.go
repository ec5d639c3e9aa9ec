// Package prompt provides two-part (system/user) prompt templates with
// ${var} placeholder expansion. A missing variable is an error: every
// prompt in the pipeline names exactly the data it needs, and a silent
// blank would corrupt a model call rather than fail it.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches ${varname}; varname is alphanumeric/underscore.
var placeholderPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Template is an immutable system/user prompt pair.
type Template struct {
	system string
	user   string
}

// New creates a template. Both parts are required.
func New(system, user string) Template {
	if strings.TrimSpace(system) == "" {
		panic("prompt: empty system template")
	}
	if strings.TrimSpace(user) == "" {
		panic("prompt: empty user template")
	}
	return Template{system: system, user: user}
}

// Render expands ${var} placeholders in both parts.
// Returns an error naming every placeholder vars does not cover.
func (t Template) Render(vars map[string]string) (system, user string, err error) {
	var missing []string

	expand := func(s string) string {
		return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
			name := match[2 : len(match)-1]
			if val, ok := vars[name]; ok {
				return val
			}
			missing = append(missing, name)
			return match
		})
	}

	system = expand(t.system)
	user = expand(t.user)

	if len(missing) > 0 {
		return "", "", fmt.Errorf("prompt: undefined variables: %s", strings.Join(missing, ", "))
	}
	return system, user, nil
}

// Vars returns the placeholder names the template references, in order
// of first appearance.
func (t Template) Vars() []string {
	seen := make(map[string]bool)
	var names []string
	for _, part := range []string{t.system, t.user} {
		for _, m := range placeholderPattern.FindAllStringSubmatch(part, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	return names
}
