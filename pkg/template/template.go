// Package template renders email variables and recipient expressions against
// a run's context and target attributes.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Data is the render scope for one node evaluation. Now feeds the "now"
// template func, so rendered timestamps follow the engine clock rather than
// the wall clock; zero falls back to time.Now.
type Data struct {
	Target   map[string]any `json:"target"`
	Context  map[string]any `json:"context"`
	Trigger  map[string]any `json:"trigger"`
	Workflow map[string]any `json:"workflow"`
	Now      time.Time      `json:"-"`
}

// Render evaluates a single template expression. Plain strings pass through
// untouched, so static variable values need no escaping.
func Render(input string, data Data) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	now := data.Now
	if now.IsZero() {
		now = time.Now()
	}

	tmpl, err := template.
		New("email").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return now.UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"title": func(s string) string {
				if s == "" {
					return s
				}

				return strings.ToUpper(s[:1]) + s[1:]
			},
		}).Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", input, err)
	}

	scope := map[string]any{
		"target":   data.Target,
		"context":  data.Context,
		"trigger":  data.Trigger,
		"workflow": data.Workflow,
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, scope)
	if err != nil {
		return "", fmt.Errorf("failed to execute template %q: %w", input, err)
	}

	return buf.String(), nil
}

// RenderAll evaluates a map of variable templates, failing on the first bad
// expression.
func RenderAll(variables map[string]string, data Data) (map[string]string, error) {
	rendered := make(map[string]string, len(variables))

	for name, expr := range variables {
		value, err := Render(expr, data)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}

		rendered[name] = value
	}

	return rendered, nil
}
