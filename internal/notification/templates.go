package notification

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"os"
	"strings"
	texttemplate "text/template"
)

const (
	defaultSubject = `New testimonial from {{.SubmitterName}}`

	defaultPlain = `Hello{{if .RecipientName}} {{.RecipientName}}{{end}},

{{.SubmitterName}} submitted a new testimonial{{if .Heading}} titled "{{.Heading}}"{{end}}:

{{.Testimonial}}
{{if .AdditionalInfo}}
{{range .AdditionalInfo}}{{.Key}}: {{.Value}}
{{end}}{{end}}
{{if .ImageAttached}}The submitted image is attached.
{{end}}The testimonial (id {{.TestimonialID}}) is waiting for your review.
`

	defaultHTML = `<p>Hello{{if .RecipientName}} {{.RecipientName}}{{end}},</p>
<p><strong>{{.SubmitterName}}</strong> submitted a new testimonial{{if .Heading}} titled <em>{{.Heading}}</em>{{end}}:</p>
<blockquote>{{.Testimonial}}</blockquote>
{{if .AdditionalInfo}}<ul>
{{range .AdditionalInfo}}<li>{{.Key}}: {{.Value}}</li>
{{end}}</ul>
{{end}}{{if .ImageAttached}}<p>The submitted image is attached.</p>
{{end}}<p>The testimonial (id {{.TestimonialID}}) is waiting for your review.</p>
`
)

// TemplateData holds the values available to notification templates.
type TemplateData struct {
	RecipientName  string
	SubmitterName  string
	TestimonialID  int64
	Testimonial    string
	Heading        string
	AdditionalInfo []Field
	ImageAttached  bool
}

// Templates renders the subject, plain text and HTML parts of a notification.
// The HTML part is escaped contextually.
type Templates struct {
	subject *texttemplate.Template
	plain   *texttemplate.Template
	html    *htmltemplate.Template
}

func DefaultTemplates() *Templates {
	return &Templates{
		subject: texttemplate.Must(texttemplate.New("subject").Parse(defaultSubject)),
		plain:   texttemplate.Must(texttemplate.New("plain").Parse(defaultPlain)),
		html:    htmltemplate.Must(htmltemplate.New("html").Parse(defaultHTML)),
	}
}

// LoadTemplates reads template files. An empty path keeps the built-in template.
func LoadTemplates(subjectPath, plainPath, htmlPath string) (*Templates, error) {
	templates := DefaultTemplates()

	if subjectPath != "" {
		text, err := readTemplate(subjectPath)
		if err != nil {
			return nil, err
		}
		if templates.subject, err = texttemplate.New("subject").Parse(text); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", subjectPath, err)
		}
	}
	if plainPath != "" {
		text, err := readTemplate(plainPath)
		if err != nil {
			return nil, err
		}
		if templates.plain, err = texttemplate.New("plain").Parse(text); err != nil {
			return nil, fmt.Errorf("failed to parse plain template %s: %w", plainPath, err)
		}
	}
	if htmlPath != "" {
		text, err := readTemplate(htmlPath)
		if err != nil {
			return nil, err
		}
		if templates.html, err = htmltemplate.New("html").Parse(text); err != nil {
			return nil, fmt.Errorf("failed to parse html template %s: %w", htmlPath, err)
		}
	}

	return templates, nil
}

func (t *Templates) Render(data TemplateData) (subject, plain, html string, err error) {
	var buf bytes.Buffer

	if err = t.subject.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("failed to render subject: %w", err)
	}
	// headers must stay on one line
	subject = strings.Join(strings.Fields(buf.String()), " ")

	buf.Reset()
	if err = t.plain.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("failed to render plain body: %w", err)
	}
	plain = buf.String()

	buf.Reset()
	if err = t.html.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("failed to render html body: %w", err)
	}
	html = buf.String()

	return subject, plain, html, nil
}

func readTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", path, err)
	}
	return string(data), nil
}
