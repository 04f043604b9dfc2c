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

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaConfig holds connection settings for a local Ollama server.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaClient talks to an Ollama server. A single client serves one model;
// the factory builds separate clients for completion and embedding models.
type OllamaClient struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *CircuitBreaker

	// taskPrefix enables the nomic task prefixes (search_document /
	// search_query) that the model family expects on embedding input.
	taskPrefix bool
}

var (
	_ TextGenerator      = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
)

// NewOllamaClient creates a client for the given model. An empty base URL
// falls back to the local default.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OllamaClient{
		baseURL:    baseURL,
		model:      config.Model,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    NewCircuitBreaker("ollama", DefaultCircuitBreakerConfig()),
		taskPrefix: strings.Contains(config.Model, "nomic"),
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Complete sends a prompt to /api/generate and returns the full response.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}

	var result ollamaGenerateResponse
	err := c.breaker.Execute(ctx, func() error {
		return c.post(ctx, "/api/generate", reqBody, &result)
	})
	if err != nil {
		return "", fmt.Errorf("ollama: completion failed: %w", err)
	}

	return result.Response, nil
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding via /api/embed. For nomic-family models the
// text is prefixed with the task marker matching the mode.
func (c *OllamaClient) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input := text
	if c.taskPrefix {
		switch mode {
		case EmbedQuery:
			input = "search_query: " + text
		default:
			input = "search_document: " + text
		}
	}

	reqBody := ollamaEmbedRequest{
		Model: c.model,
		Input: input,
	}

	var result ollamaEmbedResponse
	err := c.breaker.Execute(ctx, func() error {
		return c.post(ctx, "/api/embed", reqBody, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: embedding failed: %w", err)
	}

	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding for model %s", c.model)
	}

	return result.Embeddings[0], nil
}

// GetModel returns the model identifier.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// HealthCheck probes /api/version. It bypasses the circuit breaker so an
// operator can verify the server is back before traffic resumes.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("ollama: failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health check returned status %d", resp.StatusCode)
	}
	return nil
}

// BreakerState exposes the circuit breaker state for status reporting.
func (c *OllamaClient) BreakerState() string {
	return c.breaker.State()
}

func (c *OllamaClient) post(ctx context.Context, path string, reqBody, result interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

func truncateForError(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
