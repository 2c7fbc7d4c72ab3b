// Package llm talks to generative-text providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider identifies a generative backend
type Provider string

const (
	ProviderGemini  Provider = "gemini"
	ProviderMistral Provider = "mistral"
)

// Prompt is one generation request
type Prompt struct {
	System string
	User   string
}

// Client is an abstraction over generative-text providers.
// Implementations make exactly one upstream call per Generate and do not retry.
type Client interface {
	// Generate returns the generated text for prompt
	Generate(ctx context.Context, prompt Prompt) (string, error)
	// Name returns the provider and model, for logs
	Name() string
	// Close releases any resources held by the client
	Close() error
}

// Config configures a backend client
type Config struct {
	Provider    Provider
	Model       string
	APIKey      string
	BaseURL     string // mistral only, for proxies and tests
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration // HTTP timeout, mistral only
}

// Default models per provider
var defaultModels = map[Provider]string{
	ProviderGemini:  "gemini-2.5-flash",
	ProviderMistral: "mistral-large-latest",
}

// DefaultModel returns the model used when none is configured
func DefaultModel(p Provider) string {
	return defaultModels[p]
}

// NewClient creates a backend client for cfg.Provider
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg)
	case ProviderMistral:
		return NewMistralClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}

// APIError is a non-2xx response from a provider
type APIError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed later (rate limit or server error)
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// ErrEmptyResponse is returned when a provider answers without usable text
var ErrEmptyResponse = errors.New("empty response")

// IsRetryable reports whether err is a retryable provider error
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func joinParts(parts []string) (string, error) {
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
