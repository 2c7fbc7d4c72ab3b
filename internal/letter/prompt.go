package letter

import (
	"bytes"
	"fmt"
	"text/template"
)

// Placeholder stands for the company name in letters shared by a whole category
const Placeholder = "[COMPANY]"

// PromptData is available to the system, user and fallback templates
type PromptData struct {
	Company     string
	Category    string
	City        string
	Website     string
	Language    string
	Tone        string
	Candidate   string
	Pitch       string
	Context     string
	Placeholder bool
}

const defaultSystemTemplate = `You are an expert writer of clear, personalized professional cover letters. Always answer in {{.Language}}.`

const defaultUserTemplate = `Write a {{.Tone}} cover letter body in {{.Language}} for {{.Pitch}} at {{.Company}}
{{- if .Category}}, a company in the {{.Category}} sector{{end}}
{{- if .City}} located in {{.City}}{{end}}.
{{if .Website}}
Company website: {{.Website}}
{{end}}
{{- if .Context}}
What the company website says:
{{.Context}}
{{end}}
{{- if .Candidate}}
About the candidate: {{.Candidate}}
{{end}}
Rules:
- Start directly with the salutation, with no introduction.
- Do not use placeholders such as [your field] or [specific skill].
{{- if .Placeholder}}
- Write {{.Company}} exactly as shown wherever the company name belongs.
{{- end}}
- Refer specifically to the company and its activity; avoid generic wording.
- Keep it short and professional.
- Do not add a signature, it is added automatically.
`

type prompts struct {
	system   *template.Template
	user     *template.Template
	fallback *template.Template
}

func parsePrompts(opts Options) (*prompts, error) {
	system := opts.SystemTemplate
	if system == "" {
		system = defaultSystemTemplate
	}
	user := opts.UserTemplate
	if user == "" {
		user = defaultUserTemplate
	}

	p := &prompts{}
	var err error
	if p.system, err = template.New("system").Option("missingkey=error").Parse(system); err != nil {
		return nil, fmt.Errorf("failed to parse system template: %w", err)
	}
	if p.user, err = template.New("user").Option("missingkey=error").Parse(user); err != nil {
		return nil, fmt.Errorf("failed to parse user template: %w", err)
	}
	if opts.FallbackTemplate != "" {
		if p.fallback, err = template.New("fallback").Parse(opts.FallbackTemplate); err != nil {
			return nil, fmt.Errorf("failed to parse fallback template: %w", err)
		}
	}
	return p, nil
}

func render(tmpl *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
