// Package dnscheck reports whether the sender domain is set up to be
// trusted by receivers and whether recipient domains accept mail.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrInvalidDomain is returned for names that are not valid DNS domains
var ErrInvalidDomain = errors.New("invalid domain name")

// domainRegex validates domain name format (RFC 1035)
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

var selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if DKIM selector is valid
func ValidateSelector(selector string) error {
	if len(selector) > 63 {
		return errors.New("selector too long")
	}
	if !selectorRegex.MatchString(selector) {
		return errors.New("invalid selector format")
	}
	return nil
}

// Status is the outcome of one check
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

// Result is a single DNS check result
type Result struct {
	Check   string `json:"check"`
	Domain  string `json:"domain"`
	Status  Status `json:"status"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report groups the sender domain checks
type Report struct {
	Domain  string   `json:"domain"`
	Results []Result `json:"results"`
}

// Ready reports whether nothing failed. Warnings do not block.
func (r *Report) Ready() bool {
	for _, res := range r.Results {
		if res.Status == StatusError || res.Status == StatusNotFound {
			return false
		}
	}
	return true
}

// Resolver is the subset of *net.Resolver used by the checker
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

type mxEntry struct {
	result    Result
	expiresAt time.Time
}

// Checker runs DNS checks. MX results are cached for the TTL since a
// recipient list usually repeats the same few domains.
type Checker struct {
	resolver Resolver
	ttl      time.Duration

	mu      sync.Mutex
	mxCache map[string]mxEntry
}

// New creates a checker. A nil resolver uses net.DefaultResolver.
func New(resolver Resolver, cacheTTL time.Duration) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Checker{
		resolver: resolver,
		ttl:      cacheTTL,
		mxCache:  make(map[string]mxEntry),
	}
}

// CheckSender verifies SPF, DMARC and, when selector is set, the DKIM key of
// the sending domain
func (c *Checker) CheckSender(ctx context.Context, domain, selector string) (*Report, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}
	if selector != "" {
		if err := ValidateSelector(selector); err != nil {
			return nil, err
		}
	}

	report := &Report{Domain: domain}
	report.Results = append(report.Results, c.CheckSPF(ctx, domain))
	if selector != "" {
		report.Results = append(report.Results, c.CheckDKIM(ctx, domain, selector))
	}
	report.Results = append(report.Results, c.CheckDMARC(ctx, domain))
	return report, nil
}

func (c *Checker) lookupTXT(ctx context.Context, res *Result, name, missing string) (string, bool) {
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		if isNotFound(err) {
			res.Status = StatusNotFound
			res.Message = missing
			return "", false
		}
		res.Status = StatusError
		res.Message = fmt.Sprintf("lookup failed: %v", err)
		return "", false
	}
	return strings.Join(records, ""), true
}

// CheckSPF checks the SPF record of a domain
func (c *Checker) CheckSPF(ctx context.Context, domain string) Result {
	res := Result{Check: "SPF", Domain: domain}

	records, err := c.resolver.LookupTXT(ctx, domain)
	if err != nil && !isNotFound(err) {
		res.Status = StatusError
		res.Message = fmt.Sprintf("lookup failed: %v", err)
		return res
	}

	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		res.Status = StatusOK
		res.Value = txt
		switch {
		case strings.Contains(txt, "+all"):
			res.Status = StatusWarning
			res.Message = "SPF uses +all (allows any sender)"
		case strings.Contains(txt, "-all"):
			res.Message = "strict policy (-all)"
		case strings.Contains(txt, "~all"):
			res.Message = "soft fail (~all)"
		}
		return res
	}

	res.Status = StatusNotFound
	res.Message = "no SPF record; receivers may treat messages as spoofed"
	return res
}

// CheckDKIM checks that the selector publishes a DKIM key
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector string) Result {
	name := selector + "._domainkey." + domain
	res := Result{Check: "DKIM", Domain: name}

	record, ok := c.lookupTXT(ctx, &res, name, fmt.Sprintf("no DKIM record for selector %q", selector))
	if !ok {
		return res
	}

	res.Value = truncate(record, 100)
	if !strings.Contains(record, "v=DKIM1") {
		res.Status = StatusWarning
		res.Message = "TXT record found but it is not a DKIM key"
		return res
	}
	if key, ok := tagValue(record, "p"); !ok || key == "" {
		res.Status = StatusError
		res.Message = "DKIM record has no public key (p=)"
		return res
	}

	res.Status = StatusOK
	return res
}

// CheckDMARC checks the DMARC policy of a domain
func (c *Checker) CheckDMARC(ctx context.Context, domain string) Result {
	name := "_dmarc." + domain
	res := Result{Check: "DMARC", Domain: name}

	record, ok := c.lookupTXT(ctx, &res, name, "no DMARC record")
	if !ok {
		return res
	}

	res.Value = record
	if !strings.HasPrefix(record, "v=DMARC1") {
		res.Status = StatusWarning
		res.Message = "TXT record found but it is not a DMARC policy"
		return res
	}

	res.Status = StatusOK
	switch {
	case strings.Contains(record, "p=reject"):
		res.Message = "reject policy"
	case strings.Contains(record, "p=quarantine"):
		res.Message = "quarantine policy"
	case strings.Contains(record, "p=none"):
		res.Status = StatusWarning
		res.Message = "monitoring only (p=none)"
	}
	return res
}

// CheckMX reports whether a recipient domain accepts mail. A domain without
// MX records falls back to its address record, as senders do.
func (c *Checker) CheckMX(ctx context.Context, domain string) Result {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))

	c.mu.Lock()
	entry, ok := c.mxCache[domain]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.result
	}

	res := c.lookupMX(ctx, domain)
	if res.Status != StatusError {
		c.mu.Lock()
		c.mxCache[domain] = mxEntry{result: res, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return res
}

func (c *Checker) lookupMX(ctx context.Context, domain string) Result {
	res := Result{Check: "MX", Domain: domain}

	if err := ValidateDomain(domain); err != nil {
		res.Status = StatusError
		res.Message = err.Error()
		return res
	}

	records, err := c.resolver.LookupMX(ctx, domain)
	if err != nil && !isNotFound(err) {
		res.Status = StatusError
		res.Message = fmt.Sprintf("lookup failed: %v", err)
		return res
	}
	if len(records) == 0 {
		res.Status = StatusWarning
		res.Message = "no MX records, delivery falls back to the domain address"
		return res
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })

	// RFC 7505 null MX: the domain accepts no mail
	if len(records) == 1 && (records[0].Host == "." || records[0].Host == "") {
		res.Status = StatusNotFound
		res.Message = "domain publishes a null MX and accepts no mail"
		return res
	}

	hosts := make([]string, len(records))
	for i, mx := range records {
		hosts[i] = strings.TrimSuffix(mx.Host, ".")
	}
	res.Status = StatusOK
	res.Value = strings.Join(hosts, ", ")
	return res
}

// CheckDomains runs CheckMX for each distinct domain with at most limit
// lookups in flight. Results keep the order of first appearance.
func (c *Checker) CheckDomains(ctx context.Context, domains []string, limit int) ([]Result, error) {
	seen := make(map[string]bool, len(domains))
	var unique []string
	for _, d := range domains {
		d = strings.ToLower(d)
		if d != "" && !seen[d] {
			seen[d] = true
			unique = append(unique, d)
		}
	}

	if limit <= 0 {
		limit = 8
	}

	results := make([]Result, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, d := range unique {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.CheckMX(gctx, d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// tagValue returns the value of a tag in a "k=v; k=v" record
func tagValue(record, tag string) (string, bool) {
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.TrimSpace(k) == tag {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
