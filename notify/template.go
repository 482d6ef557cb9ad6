package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Body    string
}

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var funcs = template.FuncMap{
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format("January 2, 2006 15:04 MST")
	},
	"upper": strings.ToUpper,
}

func mustTemplate(name, subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New(name + ".subject").Funcs(funcs).Parse(subject)),
		body:    template.Must(template.New(name + ".body").Funcs(funcs).Parse(body)),
	}
}

var templates = map[Template]emailTemplate{
	TemplateExportCompleted: mustTemplate(string(TemplateExportCompleted),
		`Your {{upper .Format}} export of "{{.ProjectName}}" is ready`,
		`Hello,

Your {{upper .Format}} export of "{{.ProjectName}}" has finished.

Download it here:
{{.DownloadURL}}

The link stays valid until {{date .ExpiresAt}}.
`),
	TemplateExportFailed: mustTemplate(string(TemplateExportFailed),
		`Your export of "{{.ProjectName}}" failed`,
		`Hello,

We could not produce the {{upper .Format}} export of "{{.ProjectName}}".
{{- if .ErrorMessage}}

Reason: {{.ErrorMessage}}
{{- end}}

Please try again from the dashboard. Reference: {{.ExportID}}
`),
}

// Render renders the message for p.
func Render(p Payload) (Message, error) {
	t, ok := templates[p.Template]
	if !ok {
		return Message{}, fmt.Errorf("notify: unknown template %q", p.Template)
	}

	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, p); err != nil {
		return Message{}, fmt.Errorf("notify: render %s subject: %w", p.Template, err)
	}
	if err := t.body.Execute(&body, p); err != nil {
		return Message{}, fmt.Errorf("notify: render %s body: %w", p.Template, err)
	}

	return Message{To: p.To, Subject: subject.String(), Body: body.String()}, nil
}
