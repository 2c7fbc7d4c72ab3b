package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Provider: ProviderMistral})
	assert.Error(t, err, "missing API key")

	_, err = NewClient(context.Background(), Config{Provider: "openai", APIKey: "k"})
	assert.Error(t, err, "unknown provider")

	c, err := NewClient(context.Background(), Config{Provider: ProviderMistral, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "mistral/mistral-large-latest", c.Name())
	assert.NoError(t, c.Close())
}

func TestMistralGenerate(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  Madame, Monsieur,\n\nBody  "}}]}`)
	}))
	defer server.Close()

	c, err := NewClient(context.Background(), Config{
		Provider: ProviderMistral,
		APIKey:   "secret",
		BaseURL:  server.URL + "/",
	})
	require.NoError(t, err)

	text, err := c.Generate(context.Background(), Prompt{System: "sys", User: "write"})
	require.NoError(t, err)
	assert.Equal(t, "Madame, Monsieur,\n\nBody", text)

	assert.Equal(t, "mistral-large-latest", got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 0.001)
	assert.Equal(t, 1024, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "write", got.Messages[1].Content)
}

func TestMistralErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		empty     bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"message":"Requests rate limit exceeded"}`, retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"detail":"Unauthorized"}`},
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`, retryable: true},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, empty: true},
		{name: "blank content", status: http.StatusOK, body: `{"choices":[{"message":{"content":"   "}}]}`, empty: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			c := NewMistralClient(Config{Model: "m", APIKey: "k", BaseURL: server.URL})
			_, err := c.Generate(context.Background(), Prompt{User: "x"})
			require.Error(t, err)

			if tc.empty {
				assert.ErrorIs(t, err, ErrEmptyResponse)
				return
			}
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestMistralMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer server.Close()

	c := NewMistralClient(Config{Model: "m", APIKey: "k", BaseURL: server.URL})
	_, err := c.Generate(context.Background(), Prompt{User: "x"})
	assert.ErrorContains(t, err, "malformed response")
}

func TestExtractGeminiText(t *testing.T) {
	_, err := extractGeminiText(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = extractGeminiText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{}}},
	})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	text, err := extractGeminiText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello "), genai.Text("Acme")}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Acme", text)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &APIError{StatusCode: 429})))
	assert.False(t, IsRetryable(&APIError{StatusCode: 400}))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("boom")))
}
