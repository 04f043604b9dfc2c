package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// AnthropicConfig holds connection settings for the Anthropic API.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// AnthropicClient generates completions via the messages API. Anthropic has
// no embedding endpoint, so deployments using it pair it with an Ollama or
// OpenAI embedder.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *CircuitBreaker
}

var _ TextGenerator = (*AnthropicClient)(nil)

// NewAnthropicClient creates a messages API client.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}

	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &AnthropicClient{
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		model:      config.Model,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    NewCircuitBreaker("anthropic", DefaultCircuitBreakerConfig()),
	}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends the prompt as a single user message and concatenates the
// text blocks of the response.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	var result anthropicResponse
	err := c.breaker.Execute(ctx, func() error {
		return c.post(ctx, "/v1/messages", reqBody, &result)
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: completion failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic: response contained no text content")
	}
	return sb.String(), nil
}

// GetModel returns the model identifier.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

func (c *AnthropicClient) post(ctx context.Context, path string, reqBody, result interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, truncateForError(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
