package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/outreach/internal/email"
	"github.com/foxzi/outreach/internal/quota"
)

// Config is the main configuration structure
type Config struct {
	Sender     SenderConfig     `yaml:"sender"`
	Transport  TransportConfig  `yaml:"transport"`
	DKIM       DKIMConfig       `yaml:"dkim"`
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Cache      CacheConfig      `yaml:"cache"`
	Crawl      CrawlConfig      `yaml:"crawl"`
	Compose    ComposeConfig    `yaml:"compose"`
	Campaign   CampaignConfig   `yaml:"campaign"`
	Recipients RecipientsConfig `yaml:"recipients"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Quota      QuotaConfig      `yaml:"quota"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// SenderConfig is the identity messages are sent from
type SenderConfig struct {
	Email     string `yaml:"email" validate:"required,email"`
	Name      string `yaml:"name"`
	ReplyTo   string `yaml:"reply_to" validate:"omitempty,email"`
	Signature string `yaml:"signature"`
	CVPath    string `yaml:"cv_path"` // attached to every message when set
}

// TransportConfig selects how messages leave
type TransportConfig struct {
	Provider string       `yaml:"provider"` // smtp, resend
	SMTP     SMTPConfig   `yaml:"smtp"`
	Resend   ResendConfig `yaml:"resend"`
}

// SMTPConfig contains relay settings
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port" validate:"gte=0,lte=65535"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Security           string        `yaml:"security"` // starttls, tls, none
	HeloName           string        `yaml:"helo_name"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// ResendConfig contains Resend API settings
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// LLMConfig selects the generative backend
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // gemini, mistral
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout"`
}

// GenerationConfig shapes the letter prompt
type GenerationConfig struct {
	Language         string        `yaml:"language"`
	Tone             string        `yaml:"tone"`
	Candidate        string        `yaml:"candidate"` // short profile of the sender
	Pitch            string        `yaml:"pitch"`     // what is being asked for
	SystemTemplate   string        `yaml:"system_template"`
	UserTemplate     string        `yaml:"user_template"`
	FallbackTemplate string        `yaml:"fallback_template"`
	Timeout          time.Duration `yaml:"timeout"` // per backend call, 0 = none
	MaxContextChars  int           `yaml:"max_context_chars" validate:"gte=0"`
	Pacing           PacingConfig  `yaml:"pacing"`
}

// PacingConfig caps backend calls
type PacingConfig struct {
	Calls  int           `yaml:"calls" validate:"gte=0"`
	Window time.Duration `yaml:"window"`
}

// CacheConfig contains letter cache settings
type CacheConfig struct {
	Enabled *bool  `yaml:"enabled"` // default: true
	Scope   string `yaml:"scope"`   // company, category
}

// CrawlConfig contains website enrichment settings
type CrawlConfig struct {
	Enabled   bool          `yaml:"enabled"`
	MaxPages  int           `yaml:"max_pages" validate:"gte=0"`
	MaxDepth  int           `yaml:"max_depth" validate:"gte=0"`
	Delay     time.Duration `yaml:"delay"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// ComposeConfig contains message layout settings
type ComposeConfig struct {
	Subject  string   `yaml:"subject"`
	Greeting string   `yaml:"greeting"`
	Intros   []string `yaml:"intros"` // unset = built-in intros, [] = none
	HTML     bool     `yaml:"html"`

	Headers map[string]string `yaml:"headers"` // extra headers on every message
}

// CampaignConfig contains dispatch settings
type CampaignConfig struct {
	DryRun      bool          `yaml:"dry_run"`
	Concurrent  bool          `yaml:"concurrent"`
	Workers     int           `yaml:"workers" validate:"gte=1"`
	Delay       DelayConfig   `yaml:"delay"`
	SendTimeout time.Duration `yaml:"send_timeout"` // 0 = none
}

// DelayConfig bounds the random pause between sends of one worker
type DelayConfig struct {
	Min time.Duration `yaml:"min" validate:"gte=0"`
	Max time.Duration `yaml:"max" validate:"gte=0"`

	explicit bool // set by the file or environment; 0/0 then means no pause
}

// UnmarshalYAML marks the delay as explicitly configured
func (d *DelayConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain DelayConfig
	if err := value.Decode((*plain)(d)); err != nil {
		return err
	}
	d.explicit = true
	return nil
}

// RecipientsConfig contains input filtering settings
type RecipientsConfig struct {
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// LedgerConfig contains duplicate detection settings
type LedgerConfig struct {
	MatchCompany bool `yaml:"match_company"` // also skip recipients whose company was contacted
}

// QuotaConfig contains send caps
type QuotaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Global        *quota.Limit  `yaml:"global,omitempty"`
	PerDomain     *quota.Limit  `yaml:"per_domain,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// OutboxConfig contains dry-run capture settings
type OutboxConfig struct {
	Enabled *bool `yaml:"enabled"` // default: true
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains status server settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: 127.0.0.1:9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
}

// Load loads configuration from a YAML file and applies OUTREACH_* variables
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file without overriding the
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables on the file values
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"OUTREACH_SMTP_HOST":      &c.Transport.SMTP.Host,
		"OUTREACH_SMTP_USERNAME":  &c.Transport.SMTP.Username,
		"OUTREACH_SMTP_PASSWORD":  &c.Transport.SMTP.Password,
		"OUTREACH_SENDER_EMAIL":   &c.Sender.Email,
		"OUTREACH_SENDER_NAME":    &c.Sender.Name,
		"OUTREACH_LLM_API_KEY":    &c.LLM.APIKey,
		"OUTREACH_RESEND_API_KEY": &c.Transport.Resend.APIKey,
		"OUTREACH_CV_PATH":        &c.Sender.CVPath,
		"OUTREACH_SIGNATURE":      &c.Sender.Signature,
	}
	for name, field := range strs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field = v
		}
	}

	if v := os.Getenv("OUTREACH_SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid OUTREACH_SMTP_PORT: %w", err)
		}
		c.Transport.SMTP.Port = port
	}

	delays := map[string]*time.Duration{
		"OUTREACH_DELAY_MIN": &c.Campaign.Delay.Min,
		"OUTREACH_DELAY_MAX": &c.Campaign.Delay.Max,
	}
	for name, field := range delays {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := ParseDelay(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*field = d
		c.Campaign.Delay.explicit = true
	}

	return nil
}

// ParseDelay accepts a Go duration or a plain number of seconds
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Transport.Provider == "" {
		c.Transport.Provider = "smtp"
	}
	if c.Transport.SMTP.Security == "" {
		c.Transport.SMTP.Security = "starttls"
	}
	if c.Transport.SMTP.Port == 0 {
		switch c.Transport.SMTP.Security {
		case "tls":
			c.Transport.SMTP.Port = 465
		case "none":
			c.Transport.SMTP.Port = 25
		default:
			c.Transport.SMTP.Port = 587
		}
	}
	if c.Transport.SMTP.Timeout == 0 {
		c.Transport.SMTP.Timeout = 30 * time.Second
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "gemini"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Generation.Pacing.Calls == 0 && c.Generation.Pacing.Window == 0 {
		c.Generation.Pacing.Calls = 10
		c.Generation.Pacing.Window = 30 * time.Second
	}

	if c.Cache.Enabled == nil {
		enabled := true
		c.Cache.Enabled = &enabled
	}
	if c.Cache.Scope == "" {
		c.Cache.Scope = "company"
	}

	if c.Campaign.Workers == 0 {
		c.Campaign.Workers = 5
	}
	if !c.Campaign.Delay.explicit && c.Campaign.Delay.Min == 0 && c.Campaign.Delay.Max == 0 {
		c.Campaign.Delay.Min = 5 * time.Second
		c.Campaign.Delay.Max = 15 * time.Second
	}

	if c.Recipients.ExcludePatterns == nil {
		c.Recipients.ExcludePatterns = []string{"sentry"}
	}

	if c.DKIM.Domain == "" && c.DKIM.Enabled {
		c.DKIM.Domain = email.ExtractDomain(c.Sender.Email)
	}

	if c.Quota.FlushInterval == 0 {
		c.Quota.FlushInterval = 10 * time.Second
	}

	if c.Outbox.Enabled == nil {
		enabled := true
		c.Outbox.Enabled = &enabled
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "outreach.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = "127.0.0.1:9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report yaml names so errors point at the config file
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			return fmt.Errorf("invalid %s: must satisfy %s", field, fe.Tag())
		}
		return err
	}

	if c.Campaign.Delay.Min > c.Campaign.Delay.Max {
		return fmt.Errorf("campaign.delay.min (%s) must not exceed campaign.delay.max (%s)", c.Campaign.Delay.Min, c.Campaign.Delay.Max)
	}

	validProviders := map[string]bool{"smtp": true, "resend": true}
	if !validProviders[c.Transport.Provider] {
		return fmt.Errorf("invalid transport.provider: %s (must be smtp or resend)", c.Transport.Provider)
	}

	validSecurity := map[string]bool{"starttls": true, "tls": true, "none": true}
	if !validSecurity[c.Transport.SMTP.Security] {
		return fmt.Errorf("invalid transport.smtp.security: %s (must be starttls, tls, or none)", c.Transport.SMTP.Security)
	}

	validLLM := map[string]bool{"gemini": true, "mistral": true}
	if !validLLM[c.LLM.Provider] {
		return fmt.Errorf("invalid llm.provider: %s (must be gemini or mistral)", c.LLM.Provider)
	}

	validScopes := map[string]bool{"company": true, "category": true}
	if !validScopes[c.Cache.Scope] {
		return fmt.Errorf("invalid cache.scope: %s (must be company or category)", c.Cache.Scope)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Generation.Pacing.Calls > 0 && c.Generation.Pacing.Window <= 0 {
		return fmt.Errorf("generation.pacing.window is required when pacing.calls is set")
	}

	if err := c.validateDKIM(); err != nil {
		return err
	}

	if c.Quota.Enabled && c.Quota.Global == nil && c.Quota.PerDomain == nil {
		return fmt.Errorf("quota.global or quota.per_domain is required when quota is enabled")
	}

	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	if !c.DKIM.Enabled {
		return nil
	}

	if c.DKIM.Selector == "" {
		return fmt.Errorf("dkim.selector is required when DKIM is enabled")
	}
	if c.DKIM.KeyFile == "" {
		return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
	}
	if c.Transport.Provider != "smtp" {
		return fmt.Errorf("dkim signing is only supported with the smtp transport")
	}

	return nil
}

// ValidateForSend checks the credentials a real run needs. The SMTP
// password is not checked since it can be prompted for.
func (c *Config) ValidateForSend() error {
	switch c.LLM.Provider {
	case "gemini", "mistral":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required (or set OUTREACH_LLM_API_KEY)")
		}
	}

	if c.Campaign.DryRun {
		return nil
	}

	switch c.Transport.Provider {
	case "smtp":
		if c.Transport.SMTP.Host == "" {
			return fmt.Errorf("transport.smtp.host is required (or set OUTREACH_SMTP_HOST)")
		}
	case "resend":
		if c.Transport.Resend.APIKey == "" {
			return fmt.Errorf("transport.resend.api_key is required (or set OUTREACH_RESEND_API_KEY)")
		}
	}

	return nil
}

// CacheEnabled reports whether generated letters are cached
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// OutboxEnabled reports whether dry-run messages are captured
func (c *Config) OutboxEnabled() bool {
	return c.Outbox.Enabled == nil || *c.Outbox.Enabled
}

// QuotaLimits returns the quota settings, or an empty config when disabled
func (c *Config) QuotaLimits() quota.Config {
	if !c.Quota.Enabled {
		return quota.Config{}
	}
	return quota.Config{
		Global:        c.Quota.Global,
		PerDomain:     c.Quota.PerDomain,
		FlushInterval: c.Quota.FlushInterval,
	}
}
