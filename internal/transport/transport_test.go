package transport

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		temporary bool
		code      int
	}{
		{
			name:      "smtp permanent",
			err:       &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"},
			temporary: false,
			code:      550,
		},
		{
			name:      "smtp temporary",
			err:       &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "try later"},
			temporary: true,
			code:      451,
		},
		{
			name:      "wrapped smtp error",
			err:       fmt.Errorf("submit: %w", &smtp.SMTPError{Code: 554, Message: "rejected"}),
			temporary: false,
			code:      554,
		},
		{
			name:      "code in text",
			err:       errors.New("server said 552 mailbox full"),
			temporary: false,
			code:      552,
		},
		{
			name:      "temporary code in text",
			err:       errors.New("421 service not available"),
			temporary: true,
			code:      421,
		},
		{
			name:      "number that is not a code",
			err:       errors.New("read tcp 10.0.0.1:45123: connection reset"),
			temporary: true,
			code:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := categorizeError(tt.err, "RCPT TO")
			if de.Temporary != tt.temporary {
				t.Errorf("Temporary = %v, want %v", de.Temporary, tt.temporary)
			}
			if de.Code != tt.code {
				t.Errorf("Code = %d, want %d", de.Code, tt.code)
			}
			if !strings.HasPrefix(de.Message, "RCPT TO failed: ") {
				t.Errorf("Message = %q", de.Message)
			}
		})
	}
}

func TestIsTemporaryError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"temporary delivery error", &DeliveryError{Temporary: true, Message: "temp"}, true},
		{"permanent delivery error", &DeliveryError{Temporary: false, Message: "perm"}, false},
		{"wrapped permanent", fmt.Errorf("send: %w", &DeliveryError{Message: "perm"}), false},
		{"unknown error", errors.New("unknown error"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporaryError(tt.err); got != tt.expected {
				t.Errorf("IsTemporaryError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(&DeliveryError{Message: "550 no such user"}); got != "permanent: 550 no such user" {
		t.Errorf("Describe() = %q", got)
	}
	if got := Describe(errors.New("timeout")); got != "temporary: timeout" {
		t.Errorf("Describe() = %q", got)
	}
}
