package metrics

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParseAllowedIPs(t *testing.T) {
	tests := []struct {
		name       string
		allowedIPs []string
		wantCount  int
	}{
		{name: "empty list", allowedIPs: nil, wantCount: 0},
		{name: "single IP", allowedIPs: []string{"192.168.1.1"}, wantCount: 1},
		{name: "CIDR notation", allowedIPs: []string{"192.168.0.0/16", "10.0.0.0/8"}, wantCount: 2},
		{name: "with invalid", allowedIPs: []string{"192.168.1.1", "invalid", "10.0.0.0/33"}, wantCount: 1},
		{name: "IPv6", allowedIPs: []string{"::1", "fe80::/10"}, wantCount: 2},
		{name: "blank entries", allowedIPs: []string{" ", ""}, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(New(), ServerConfig{AllowedIPs: tt.allowedIPs}, nil, testLogger)
			if len(s.allowedIPs) != tt.wantCount {
				t.Errorf("expected %d allowed networks, got %d", tt.wantCount, len(s.allowedIPs))
			}
		})
	}
}

func TestIsIPAllowed(t *testing.T) {
	s := NewServer(New(), ServerConfig{AllowedIPs: []string{
		"192.168.1.100",
		"10.0.0.0/8",
		"::1",
	}}, nil, testLogger)

	tests := []struct {
		ip      string
		allowed bool
	}{
		{"192.168.1.100", true},
		{"192.168.1.101", false},
		{"10.255.255.255", true},
		{"11.0.0.1", false},
		{"::1", true},
		{"2001:db8::1", false},
	}

	for _, tt := range tests {
		if got := s.isIPAllowed(net.ParseIP(tt.ip)); got != tt.allowed {
			t.Errorf("isIPAllowed(%s) = %v, want %v", tt.ip, got, tt.allowed)
		}
	}
}

func TestHandlerEndpoints(t *testing.T) {
	m := New()
	m.IncRecipient("sent")

	summary := func() any {
		return map[string]int{"sent": 1}
	}
	h := NewServer(m, ServerConfig{}, summary, testLogger).Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/health", http.StatusOK, "OK"},
		{"/metrics", http.StatusOK, `outreach_recipients_total{status="sent"} 1`},
		{"/summary", http.StatusOK, `{"sent":1}`},
		{"/unknown", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSummaryWithoutRun(t *testing.T) {
	h := NewServer(New(), ServerConfig{}, nil, testLogger).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestIPFilter(t *testing.T) {
	h := NewServer(New(), ServerConfig{AllowedIPs: []string{"192.168.1.0/24"}}, nil, testLogger).Handler()

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		wantStatus int
	}{
		{"allowed", "/metrics", "192.168.1.100:12345", http.StatusOK},
		{"denied", "/metrics", "10.0.0.1:12345", http.StatusForbidden},
		{"denied summary", "/summary", "10.0.0.1:12345", http.StatusForbidden},
		{"health not filtered", "/health", "10.0.0.1:12345", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			req.Header.Set("X-Forwarded-For", "192.168.1.1")
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
