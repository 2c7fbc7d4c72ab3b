// Package compose assembles the outgoing message for one recipient.
package compose

import (
	"bytes"
	"fmt"
	"hash/fnv"
	htmltemplate "html/template"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/foxzi/outreach/internal/email"
	"github.com/foxzi/outreach/internal/recipient"
)

const (
	defaultSubject  = "Candidature spontanée - {{.Company}}"
	defaultGreeting = "Bonjour,"
)

// reserved headers are written from message fields
var reserved = map[string]bool{
	"From": true, "To": true, "Reply-To": true, "Subject": true, "Date": true,
	"Message-Id": true, "Mime-Version": true, "Content-Type": true, "Content-Transfer-Encoding": true,
}

var defaultIntros = []string{
	"J'ai découvert avec intérêt le travail de {{.Company}}{{if .Category}} dans le domaine {{.Category}}{{end}} et je me permets de vous contacter.",
	"{{if .Category}}Votre expertise en {{.Category}} a retenu mon attention, et {{else}}Votre activité a retenu mon attention, et {{end}}je souhaite proposer ma candidature à {{.Company}}.",
	"Au fil de mes recherches, {{.Company}} a retenu toute mon attention et je souhaiterais contribuer à vos projets.",
}

// Options configures message assembly
type Options struct {
	FromEmail string
	FromName  string
	ReplyTo   string

	SubjectTemplate  string
	GreetingTemplate string
	Intros           []string // one is picked per recipient; empty disables intros
	Signature        string   // appended verbatim
	HTML             bool     // add an HTML alternative part

	// Headers are added to every message, e.g. List-Unsubscribe
	Headers map[string]string
}

// Data is available to the subject, greeting and intro templates
type Data struct {
	Company  string
	City     string
	Category string
	Email    string
}

// Composer builds messages. It is safe for concurrent use.
type Composer struct {
	opts        Options
	subject     *template.Template
	greeting    *template.Template
	intros      []*template.Template
	attachments []*email.Attachment
	domain      string
}

// New creates a composer. Attachments are shared by every message.
func New(opts Options, attachments ...*email.Attachment) (*Composer, error) {
	if opts.FromEmail == "" {
		return nil, fmt.Errorf("sender email is required")
	}
	if opts.SubjectTemplate == "" {
		opts.SubjectTemplate = defaultSubject
	}
	if opts.GreetingTemplate == "" {
		opts.GreetingTemplate = defaultGreeting
	}
	if opts.Intros == nil {
		opts.Intros = defaultIntros
	}

	c := &Composer{
		opts:        opts,
		attachments: attachments,
		domain:      email.ExtractDomain(opts.FromEmail),
	}

	var err error
	if c.subject, err = template.New("subject").Parse(opts.SubjectTemplate); err != nil {
		return nil, fmt.Errorf("failed to parse subject template: %w", err)
	}
	if c.greeting, err = template.New("greeting").Parse(opts.GreetingTemplate); err != nil {
		return nil, fmt.Errorf("failed to parse greeting template: %w", err)
	}
	for name := range opts.Headers {
		if reserved[textproto.CanonicalMIMEHeaderKey(name)] {
			return nil, fmt.Errorf("header %s is set by the composer", name)
		}
	}
	for i, intro := range opts.Intros {
		t, err := template.New(fmt.Sprintf("intro%d", i)).Parse(intro)
		if err != nil {
			return nil, fmt.Errorf("failed to parse intro %d: %w", i, err)
		}
		c.intros = append(c.intros, t)
	}

	return c, nil
}

// Compose builds the message for rec around the generated letter text
func (c *Composer) Compose(rec recipient.Record, letterText string) (*email.Message, error) {
	letterText = strings.TrimSpace(letterText)
	if letterText == "" {
		return nil, fmt.Errorf("letter text is empty")
	}

	data := Data{
		Company:  rec.CompanyName,
		City:     rec.City,
		Category: rec.Category,
		Email:    rec.Email,
	}
	if data.Company == "" {
		data.Company = "votre entreprise"
	}

	subject, err := execute(c.subject, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	greeting, err := execute(c.greeting, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render greeting: %w", err)
	}
	intro := ""
	if len(c.intros) > 0 {
		if intro, err = execute(c.intros[pick(rec.Email, len(c.intros))], data); err != nil {
			return nil, fmt.Errorf("failed to render intro: %w", err)
		}
	}

	var paragraphs []string
	for _, p := range []string{greeting, intro, letterText} {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	text := strings.Join(paragraphs, "\n\n")
	if c.opts.Signature != "" {
		text += "\n\n" + c.opts.Signature
	}

	msg := &email.Message{
		ID:          uuid.NewString() + "@" + c.domain,
		From:        c.opts.FromEmail,
		FromName:    c.opts.FromName,
		To:          rec.Email,
		ReplyTo:     c.opts.ReplyTo,
		Subject:     strings.Join(strings.Fields(subject), " "),
		Text:        text,
		Attachments: c.attachments,
		Headers:     c.opts.Headers,
		Date:        time.Now(),
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = c.opts.FromEmail
	}

	if c.opts.HTML {
		html, err := renderHTML(paragraphs, c.opts.Signature)
		if err != nil {
			return nil, fmt.Errorf("failed to render HTML body: %w", err)
		}
		msg.HTML = html
	}

	return msg, nil
}

// pick maps an address to a stable index so reruns choose the same intro
func pick(addr string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(addr)))
	return int(h.Sum32() % uint32(n))
}

func execute(t *template.Template, data Data) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var htmlBody = htmltemplate.Must(htmltemplate.New("body").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px;">
{{range .Paragraphs}}<p>{{range $i, $line := .}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p>
{{end}}{{if .Signature}}<div style="margin-top: 20px; border-top: 1px solid #eee; padding-top: 10px;"><p>{{range $i, $line := .Signature}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p></div>
{{end}}</body>
</html>
`))

func renderHTML(paragraphs []string, signature string) (string, error) {
	data := struct {
		Paragraphs [][]string
		Signature  []string
	}{}
	for _, p := range paragraphs {
		for _, block := range strings.Split(p, "\n\n") {
			if block = strings.TrimSpace(block); block != "" {
				data.Paragraphs = append(data.Paragraphs, strings.Split(block, "\n"))
			}
		}
	}
	if signature = strings.TrimSpace(signature); signature != "" {
		data.Signature = strings.Split(signature, "\n")
	}

	var buf bytes.Buffer
	if err := htmlBody.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LoadAttachment reads path and detects its content type
func LoadAttachment(path string) (*email.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("attachment %s is empty", path)
	}

	return &email.Attachment{
		Filename:    filepath.Base(path),
		ContentType: mimetype.Detect(content).String(),
		Content:     content,
	}, nil
}
