package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Names may hold any text but braces; surrounding spaces are ignored.
var variablePattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

func variableName(match string) string {
	return strings.TrimSpace(variablePattern.FindStringSubmatch(match)[1])
}

// Render replaces {{variable}} placeholders with values from vars and leaves
// unknown placeholders untouched.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	return variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		if val, ok := vars[variableName(match)]; ok {
			return val
		}
		return match
	})
}

// RenderStrict is Render but fails when a placeholder has no value.
func RenderStrict(template string, vars map[string]string) (string, error) {
	missing := findMissingVars(template, vars)
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return Render(template, vars), nil
}

// ExtractVariables returns a list of variable names found in the template.
func ExtractVariables(template string) []string {
	matches := variablePattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name != "" && !seen[name] {
			vars = append(vars, name)
			seen[name] = true
		}
	}
	return vars
}

func findMissingVars(template string, vars map[string]string) []string {
	required := ExtractVariables(template)
	var missing []string
	for _, v := range required {
		if _, ok := vars[v]; !ok {
			missing = append(missing, v)
		}
	}
	return missing
}
