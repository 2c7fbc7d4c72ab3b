// Package recipient loads the validated prospect list a campaign dispatches to.
package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/foxzi/outreach/internal/email"
)

// ErrNoEmailColumn is returned when the input header has no email column
var ErrNoEmailColumn = errors.New("input has no email column")

// Record is one validated row of campaign input
type Record struct {
	Email       string `json:"email" validate:"required,email"`
	CompanyName string `json:"company_name,omitempty"`
	Category    string `json:"category,omitempty"`
	City        string `json:"city,omitempty"`
	Website     string `json:"website,omitempty"`
	Address     string `json:"address,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Rejection describes an input row that did not make it into the run
type Rejection struct {
	Line   int    `json:"line"`
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// Result is the outcome of loading an input file
type Result struct {
	Records  []Record    `json:"records"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// Options controls row filtering
type Options struct {
	// ExcludePatterns drops addresses containing any of these substrings (case-insensitive)
	ExcludePatterns []string
}

// columnAliases maps accepted header names to record fields
var columnAliases = map[string]string{
	"email":        "email",
	"e-mail":       "email",
	"mail":         "email",
	"title":        "company",
	"company":      "company",
	"company_name": "company",
	"name":         "company",
	"category":     "category",
	"categoryname": "category",
	"city":         "city",
	"website":      "website",
	"url":          "website",
	"address":      "address",
	"phone":        "phone",
}

var validate = validator.New()

// LoadFile loads recipients from a CSV file
func LoadFile(path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipients file: %w", err)
	}
	defer f.Close()

	return Load(f, opts)
}

// Load reads CSV rows with a header line. Invalid and duplicate addresses
// are reported in Result.Rejected rather than failing the whole load.
func Load(r io.Reader, opts Options) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrNoEmailColumn
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if field, ok := columnAliases[key]; ok {
			if _, seen := columns[field]; !seen {
				columns[field] = i
			}
		}
	}
	if _, ok := columns["email"]; !ok {
		return nil, ErrNoEmailColumn
	}

	excludes := make([]string, 0, len(opts.ExcludePatterns))
	for _, p := range opts.ExcludePatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			excludes = append(excludes, p)
		}
	}

	result := &Result{}
	seen := make(map[string]int)
	line := 1

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}

		field := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		rec := Record{
			Email:       email.Normalize(field("email")),
			CompanyName: field("company"),
			Category:    field("category"),
			City:        field("city"),
			Website:     field("website"),
			Address:     field("address"),
			Phone:       field("phone"),
		}

		if reason := check(rec); reason != "" {
			result.Rejected = append(result.Rejected, Rejection{Line: line, Email: rec.Email, Reason: reason})
			continue
		}
		if pattern := matchExclude(rec.Email, excludes); pattern != "" {
			result.Rejected = append(result.Rejected, Rejection{Line: line, Email: rec.Email, Reason: "excluded by pattern " + pattern})
			continue
		}
		if first, dup := seen[rec.Email]; dup {
			result.Rejected = append(result.Rejected, Rejection{Line: line, Email: rec.Email, Reason: fmt.Sprintf("duplicate of line %d", first)})
			continue
		}

		seen[rec.Email] = line
		result.Records = append(result.Records, rec)
	}

	return result, nil
}

// Validate reports whether rec can be dispatched
func Validate(rec Record) error {
	if reason := check(rec); reason != "" {
		return errors.New(reason)
	}
	return nil
}

func check(rec Record) string {
	err := validate.Struct(rec)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if verrs[0].Tag() == "required" {
			return "missing email"
		}
		return "invalid email"
	}
	return err.Error()
}

func matchExclude(addr string, patterns []string) string {
	for _, p := range patterns {
		if strings.Contains(addr, p) {
			return p
		}
	}
	return ""
}

// Label returns a short human identifier for logs and summaries
func (r Record) Label() string {
	if r.CompanyName != "" {
		return r.CompanyName
	}
	return r.Email
}
