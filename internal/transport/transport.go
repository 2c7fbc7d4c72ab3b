// Package transport hands composed messages to a mail provider.
package transport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-smtp"

	"github.com/foxzi/outreach/internal/email"
)

// Sender delivers one message
type Sender interface {
	Send(ctx context.Context, msg *email.Message) error
	Name() string
}

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Code      int // SMTP reply code or HTTP status, 0 when unknown
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b([45])(\d{2})\b`)

// categorizeError determines if a delivery error is temporary or permanent
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Temporary: smtpErr.Code/100 != 5,
			Code:      smtpErr.Code,
			Message:   msg,
		}
	}

	// Some servers only put the code in free text
	if m := smtpCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[0])
		return &DeliveryError{
			Temporary: m[1] == "4",
			Code:      code,
			Message:   msg,
		}
	}

	// Network failures and the like are worth another run
	return &DeliveryError{Temporary: true, Message: msg}
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

// Describe renders err for a failure record, tagged temporary or permanent
func Describe(err error) string {
	kind := "permanent"
	if IsTemporaryError(err) {
		kind = "temporary"
	}
	return kind + ": " + strings.TrimSpace(err.Error())
}
