package email

import "testing"

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"simple", "user@example.com", "example.com"},
		{"with name", "User Name <user@example.com>", "example.com"},
		{"uppercase", "user@EXAMPLE.COM", "example.com"},
		{"mixed case", "user@Sub.Example.Com", "sub.example.com"},
		{"invalid no at", "invalid", ""},
		{"invalid empty before at", "@example.com", ""},
		{"invalid empty after at", "user@", ""},
		{"empty", "", ""},
		{"single char domain", "user@a", "a"},
		{"subdomain", "user@mail.example.com", "mail.example.com"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ExtractDomain(tc.email)
			if result != tc.expected {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tc.email, result, tc.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"plain", "jane@example.com", "jane@example.com"},
		{"uppercase", "Jane@Example.COM", "jane@example.com"},
		{"whitespace", "  jane@example.com \t", "jane@example.com"},
		{"display name", "Jane Doe <Jane@Example.com>", "jane@example.com"},
		{"unparseable kept lower-cased", "Not An Address", "not an address"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.email); got != tc.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tc.email, got, tc.expected)
			}
		})
	}
}

func TestFormatAddress(t *testing.T) {
	if got := FormatAddress("", "jane@example.com"); got != "jane@example.com" {
		t.Errorf("FormatAddress without name = %q", got)
	}
	if got := FormatAddress("Jane Doe", "jane@example.com"); got != `"Jane Doe" <jane@example.com>` {
		t.Errorf("FormatAddress with name = %q", got)
	}
}
