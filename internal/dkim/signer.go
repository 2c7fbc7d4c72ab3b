package dkim

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/emersion/go-msgauth/dkim"
)

// signedHeaders are the campaign message headers covered by the signature
var signedHeaders = []string{
	"From", "To", "Reply-To", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type",
}

// Signer signs outgoing campaign messages for one sender domain
type Signer struct {
	privateKey *rsa.PrivateKey
	domain     string
	selector   string
}

// NewSigner creates a new DKIM signer
func NewSigner(privateKey *rsa.PrivateKey, domain, selector string) *Signer {
	return &Signer{
		privateKey: privateKey,
		domain:     strings.ToLower(domain),
		selector:   selector,
	}
}

// NewSignerFromFile creates a signer from a PEM key file
func NewSignerFromFile(keyFile, domain, selector string) (*Signer, error) {
	privateKey, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(privateKey, domain, selector), nil
}

// Matches reports whether mail from senderDomain should be signed,
// which holds for the signing domain and its subdomains
func (s *Signer) Matches(senderDomain string) bool {
	senderDomain = strings.ToLower(senderDomain)
	return senderDomain == s.domain || strings.HasSuffix(senderDomain, "."+s.domain)
}

// Sign prepends a DKIM-Signature header to message
func (s *Signer) Sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.privateKey,
		Hash:                   crypto.SHA256,
		HeaderKeys:             presentHeaders(message),
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return signed.Bytes(), nil
}

// presentHeaders keeps the signed header names that occur in message; From is always signed
func presentHeaders(message []byte) []string {
	head := message
	if i := bytes.Index(message, []byte("\r\n\r\n")); i >= 0 {
		head = message[:i]
	} else if i := bytes.Index(message, []byte("\n\n")); i >= 0 {
		head = message[:i]
	}
	lower := strings.ToLower("\n" + string(head))

	keys := []string{"From"}
	for _, h := range signedHeaders[1:] {
		if strings.Contains(lower, "\n"+strings.ToLower(h)+":") {
			keys = append(keys, h)
		}
	}
	return keys
}

// Domain returns the DKIM domain
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the DKIM selector
func (s *Signer) Selector() string {
	return s.selector
}

// Verify checks every DKIM signature on message, resolving public keys
// with lookupTXT. It returns an error unless at least one signature verifies.
func Verify(message []byte, lookupTXT func(domain string) ([]string, error)) error {
	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(message), &dkim.VerifyOptions{
		LookupTXT: lookupTXT,
	})
	if err != nil {
		return fmt.Errorf("failed to verify message: %w", err)
	}
	if len(verifications) == 0 {
		return fmt.Errorf("message has no DKIM signature")
	}
	for _, v := range verifications {
		if v.Err == nil {
			return nil
		}
	}
	return fmt.Errorf("DKIM signature for %s invalid: %w", verifications[0].Domain, verifications[0].Err)
}
