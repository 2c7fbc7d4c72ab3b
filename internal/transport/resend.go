package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v3"

	"github.com/foxzi/outreach/internal/email"
)

// ResendSender delivers through the Resend HTTP API
type ResendSender struct {
	client *resend.Client
	logger *slog.Logger
}

// NewResend creates a Resend sender
func NewResend(apiKey string, logger *slog.Logger) (*ResendSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		logger: logger,
	}, nil
}

// Name returns the provider name
func (s *ResendSender) Name() string {
	return "resend"
}

// Send delivers msg
func (s *ResendSender) Send(ctx context.Context, msg *email.Message) error {
	sent, err := s.client.Emails.SendWithContext(ctx, buildResendRequest(msg))
	if err != nil {
		return categorizeError(err, "resend")
	}

	s.logger.Debug("message accepted by resend", "to", msg.To, "resend_id", sent.Id)
	return nil
}

func buildResendRequest(msg *email.Message) *resend.SendEmailRequest {
	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if msg.ID != "" {
		headers["Message-ID"] = "<" + msg.ID + ">"
	}

	req := &resend.SendEmailRequest{
		From:    email.FormatAddress(msg.FromName, msg.From),
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
		Html:    msg.HTML,
		ReplyTo: msg.ReplyTo,
		Headers: headers,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}
	return req
}
