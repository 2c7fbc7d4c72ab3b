// Package email holds the outgoing message model and address helpers.
package email

import (
	"net/mail"
	"strings"
)

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	address := email
	if addr, err := mail.ParseAddress(email); err == nil {
		address = addr.Address
	}
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// Normalize returns the bare lower-cased address used as a ledger key.
// "Jane <Jane@Example.com> " becomes "jane@example.com".
func Normalize(email string) string {
	email = strings.TrimSpace(email)
	if addr, err := mail.ParseAddress(email); err == nil {
		email = addr.Address
	}
	return strings.ToLower(email)
}

// FormatAddress renders a display name and address as a header value
func FormatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return (&mail.Address{Name: name, Address: address}).String()
}
