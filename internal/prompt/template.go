package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// render resolves template expressions in tmpl against data.
// Uses Go's text/template syntax ({{.Idea}}) with missing keys treated as errors.
// Returns the input unchanged if it contains no template delimiters.
func render(name, tmpl string, data any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New(name).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("template %s: parse: %w", name, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template %s: render: %w", name, err)
	}

	return buf.String(), nil
}
