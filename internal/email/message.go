package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"sort"
	"time"
)

// Attachment is a file attached to a message. Content is shared, never mutated.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a fully composed outgoing email
type Message struct {
	ID          string // Message-ID without angle brackets
	From        string
	FromName    string
	To          string
	ReplyTo     string
	Subject     string
	Text        string
	HTML        string
	Attachments []*Attachment
	Headers     map[string]string
	Date        time.Time
}

// Domain returns the sender domain
func (m *Message) Domain() string {
	return ExtractDomain(m.From)
}

// Bytes renders the message as RFC 5322 data with CRLF line endings
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	writeHeader(&buf, "From", FormatAddress(m.FromName, m.From))
	writeHeader(&buf, "To", m.To)
	if m.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", m.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	if m.ID != "" {
		writeHeader(&buf, "Message-ID", "<"+m.ID+">")
	}
	writeHeader(&buf, "MIME-Version", "1.0")

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, m.Headers[k])
	}

	if len(m.Attachments) == 0 {
		if m.HTML == "" {
			writeHeader(&buf, "Content-Type", "text/plain; charset=utf-8")
			writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
			buf.WriteString("\r\n")
			if err := writeQuotedPrintable(&buf, m.Text); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}
		alt := multipart.NewWriter(&buf)
		writeHeader(&buf, "Content-Type", "multipart/alternative; boundary="+alt.Boundary())
		buf.WriteString("\r\n")
		if err := m.writeAlternative(alt); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mixed := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", "multipart/mixed; boundary="+mixed.Boundary())
	buf.WriteString("\r\n")

	if err := m.writeBody(mixed); err != nil {
		return nil, err
	}
	for _, a := range m.Attachments {
		if err := writeAttachment(mixed, a); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf.Bytes(), nil
}

// writeBody writes the text (and optional html) body as the first mixed part
func (m *Message) writeBody(mixed *multipart.Writer) error {
	if m.HTML == "" {
		part, err := mixed.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"text/plain; charset=utf-8"},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return fmt.Errorf("failed to create text part: %w", err)
		}
		return writeQuotedPrintable(part, m.Text)
	}

	var altBuf bytes.Buffer
	alt := multipart.NewWriter(&altBuf)
	part, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"multipart/alternative; boundary=" + alt.Boundary()},
	})
	if err != nil {
		return fmt.Errorf("failed to create alternative part: %w", err)
	}
	if err := m.writeAlternative(alt); err != nil {
		return err
	}
	_, err = part.Write(altBuf.Bytes())
	return err
}

func (m *Message) writeAlternative(alt *multipart.Writer) error {
	bodies := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", m.Text},
		{"text/html; charset=utf-8", m.HTML},
	}
	for _, b := range bodies {
		part, err := alt.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {b.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return fmt.Errorf("failed to create body part: %w", err)
		}
		if err := writeQuotedPrintable(part, b.content); err != nil {
			return err
		}
	}
	return alt.Close()
}

func writeAttachment(mixed *multipart.Writer, a *Attachment) error {
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	part, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType(contentType, map[string]string{"name": a.Filename})},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
	})
	if err != nil {
		return fmt.Errorf("failed to create attachment part: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(a.Content)
	for len(encoded) > 76 {
		if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = part.Write([]byte(encoded + "\r\n"))
	return err
}

func writeQuotedPrintable(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	return qp.Close()
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}
