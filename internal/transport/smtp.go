package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/outreach/internal/dkim"
	"github.com/foxzi/outreach/internal/email"
)

// Security selects how the submission connection is protected
type Security string

const (
	SecurityStartTLS Security = "starttls"
	SecurityTLS      Security = "tls"
	SecurityNone     Security = "none"
)

// SMTPConfig configures submission to a relay
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Security           Security
	HeloName           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// SMTPSender submits messages to a relay, one connection per message
type SMTPSender struct {
	cfg    SMTPConfig
	signer *dkim.Signer
	logger *slog.Logger
}

// NewSMTP creates a new SMTP sender
func NewSMTP(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Security == "" {
		cfg.Security = SecurityStartTLS
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

// SetDKIMSigner signs messages whose sender domain the signer covers
func (s *SMTPSender) SetDKIMSigner(signer *dkim.Signer) {
	s.signer = signer
}

// Name returns the relay address
func (s *SMTPSender) Name() string {
	return "smtp://" + s.addr()
}

func (s *SMTPSender) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Send submits msg to the relay
func (s *SMTPSender) Send(ctx context.Context, msg *email.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return &DeliveryError{Temporary: false, Message: fmt.Sprintf("failed to render message: %v", err)}
	}
	data = s.sign(msg, data)

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return categorizeError(err, "AUTH")
		}
	}

	if err := client.Mail(msg.From, nil); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(msg.To, nil); err != nil {
		return categorizeError(err, "RCPT TO "+msg.To)
	}

	wc, err := client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	client.Quit()

	s.logger.Debug("message submitted",
		"relay", s.addr(),
		"to", msg.To,
		"message_id", msg.ID,
	)
	return nil
}

func (s *SMTPSender) sign(msg *email.Message, data []byte) []byte {
	if s.signer == nil || !s.signer.Matches(msg.Domain()) {
		return data
	}
	signed, err := s.signer.Sign(data)
	if err != nil {
		s.logger.Warn("DKIM signing failed, sending unsigned",
			"domain", s.signer.Domain(),
			"error", err,
		)
		return data
	}
	return signed
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return nil, &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", s.addr(), err),
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.cfg.Timeout)
	}
	conn.SetDeadline(deadline)

	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}

	var client *smtp.Client
	switch s.cfg.Security {
	case SecurityTLS:
		client = smtp.NewClient(tls.Client(conn, tlsConfig))
	case SecurityNone:
		client = smtp.NewClient(conn)
	default:
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return nil, categorizeError(err, "STARTTLS")
		}
	}

	if err := client.Hello(s.cfg.HeloName); err != nil {
		client.Close()
		return nil, categorizeError(err, "HELO")
	}
	return client, nil
}
