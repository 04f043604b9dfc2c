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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig holds connection settings for the OpenAI API or a
// compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient generates completions via the chat completions API.
// Temperature is pinned to zero because every prompt in the pipeline expects
// deterministic JSON output.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *CircuitBreaker
}

var _ TextGenerator = (*OpenAIClient)(nil)

// NewOpenAIClient creates a chat completion client.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}

	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		model:      config.Model,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    NewCircuitBreaker("openai", DefaultCircuitBreakerConfig()),
	}, nil
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt as a single user message.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := openAIChatRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	}

	var result openAIChatResponse
	err := c.breaker.Execute(ctx, func() error {
		return c.post(ctx, "/chat/completions", reqBody, &result)
	})
	if err != nil {
		return "", fmt.Errorf("openai: completion failed: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: response contained no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// GetModel returns the model identifier.
func (c *OpenAIClient) GetModel() string {
	return c.model
}

func (c *OpenAIClient) post(ctx context.Context, path string, reqBody, result interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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

// OpenAIEmbeddingClient generates embeddings via /embeddings. OpenAI models
// have no document/query prefix convention, so the mode is accepted and
// ignored.
type OpenAIEmbeddingClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *CircuitBreaker
}

var _ EmbeddingGenerator = (*OpenAIEmbeddingClient)(nil)

// NewOpenAIEmbeddingClient creates an embedding client.
func NewOpenAIEmbeddingClient(config OpenAIConfig) (*OpenAIEmbeddingClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}

	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIEmbeddingClient{
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		model:      config.Model,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    NewCircuitBreaker("openai-embeddings", DefaultCircuitBreakerConfig()),
	}, nil
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding for the text.
func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, text string, _ EmbedMode) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := openAIEmbedRequest{
		Model: c.model,
		Input: text,
	}

	var result openAIEmbedResponse
	err := c.breaker.Execute(ctx, func() error {
		return c.post(ctx, "/embeddings", reqBody, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embedding failed: %w", err)
	}

	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai: empty embedding for model %s", c.model)
	}

	raw := result.Data[0].Embedding
	embedding := make([]float32, len(raw))
	for i, v := range raw {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// GetModel returns the embedding model identifier.
func (c *OpenAIEmbeddingClient) GetModel() string {
	return c.model
}

func (c *OpenAIEmbeddingClient) post(ctx context.Context, path string, reqBody, result interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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
