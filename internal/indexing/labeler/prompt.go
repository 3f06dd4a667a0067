package labeler

import (
	"strings"
	"text/template"
)

var promptTemplate = template.Must(template.New("classify").Parse(
	`Classify the email below into exactly one of the listed categories, or none.

Categories:
{{- range .Categories}}
- id: {{.ID}}
  name: {{.Name}}
{{- if .Description}}
  description: {{.Description}}
{{- end}}
{{- end}}

Email:
From: {{.Item.Sender}}
Date: {{.Item.Date.Format "2006-01-02 15:04"}}
Subject: {{.Item.Subject}}
Snippet: {{.Item.Snippet}}

{{.Item.Body}}

Answer with JSON {"categoryId": <id or null>, "confidence": <0..1>}.
Use null when no category clearly applies.
`))

// BuildPrompt renders the instruction text for a request.
func BuildPrompt(req Request) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, req); err != nil {
		return "", err
	}
	return b.String(), nil
}
