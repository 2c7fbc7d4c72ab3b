package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foxzi/outreach/internal/config"
)

func setInitFlags() {
	initSender = "jane@example.com"
	initName = "Jane Doe"
	initSMTPHost = "smtp.example.com"
	initSMTPUser = "jane"
	initLLM = "mistral"
}

func TestGenerateConfig(t *testing.T) {
	setInitFlags()

	cfg := generateConfig()

	checks := []string{
		`email: "jane@example.com"`,
		`host: "smtp.example.com"`,
		`username: "jane"`,
		`provider: mistral`,
		`model: "mistral-small-latest"`,
		`key_file: "dkim/example.com.key"`,
	}
	for _, check := range checks {
		if !strings.Contains(cfg, check) {
			t.Errorf("Generated config missing: %s", check)
		}
	}
	if strings.Contains(cfg, "api_key") {
		t.Error("Generated config should not hold secrets")
	}
}

func TestGeneratedConfigLoads(t *testing.T) {
	setInitFlags()

	path := filepath.Join(t.TempDir(), "outreach.yaml")
	if err := os.WriteFile(path, []byte(generateConfig()), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if cfg.Sender.Email != "jane@example.com" {
		t.Errorf("Sender = %q", cfg.Sender.Email)
	}
	if cfg.LLM.Provider != "mistral" {
		t.Errorf("LLM provider = %q", cfg.LLM.Provider)
	}
	if !cfg.Quota.Enabled || cfg.Quota.PerDomain == nil || cfg.Quota.PerDomain.PerHour != 5 {
		t.Errorf("Quota not loaded: %+v", cfg.Quota)
	}
	if cfg.Campaign.Delay.Min.Seconds() != 5 || cfg.Campaign.Delay.Max.Seconds() != 15 {
		t.Errorf("Delay = %v..%v", cfg.Campaign.Delay.Min, cfg.Campaign.Delay.Max)
	}
}

func TestGenerateEnv(t *testing.T) {
	env := generateEnv()
	for _, key := range []string{"OUTREACH_LLM_API_KEY=", "OUTREACH_SMTP_PASSWORD="} {
		if !strings.Contains(env, key) {
			t.Errorf("Generated env missing: %s", key)
		}
	}
}

func TestDomainOf(t *testing.T) {
	if got := domainOf("jane@example.com"); got != "example.com" {
		t.Errorf("domainOf = %q", got)
	}
	if got := domainOf("example.com"); got != "example.com" {
		t.Errorf("domainOf = %q", got)
	}
}
