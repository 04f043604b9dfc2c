package llm

import (
	"fmt"
	"time"
)

// Supported provider names.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Default models per provider.
const (
	defaultOllamaModel          = "llama3.1"
	defaultOllamaEmbeddingModel = "nomic-embed-text"
	defaultOpenAIModel          = "gpt-4o-mini"
	defaultOpenAIEmbedding      = "text-embedding-3-small"
	defaultAnthropicModel       = "claude-3-5-haiku-20241022"
)

// Config selects and configures a provider. EmbeddingProvider defaults to
// Provider when empty; Anthropic deployments must set it explicitly because
// Anthropic has no embedding API.
type Config struct {
	Provider          string
	Model             string
	EmbeddingProvider string
	EmbeddingModel    string
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
}

// NewTextGenerator builds the completion client for the configured provider.
func NewTextGenerator(config Config) (TextGenerator, error) {
	switch config.Provider {
	case ProviderOllama, "":
		model := config.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllamaClient(OllamaConfig{
			BaseURL: config.BaseURL,
			Model:   model,
			Timeout: config.Timeout,
		}), nil

	case ProviderOpenAI:
		model := config.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  config.APIKey,
			BaseURL: config.BaseURL,
			Model:   model,
			Timeout: config.Timeout,
		})

	case ProviderAnthropic:
		model := config.Model
		if model == "" {
			model = defaultAnthropicModel
		}
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  config.APIKey,
			BaseURL: config.BaseURL,
			Model:   model,
			Timeout: config.Timeout,
		})

	default:
		return nil, fmt.Errorf("llm: unknown provider %q (supported: ollama, openai, anthropic)", config.Provider)
	}
}

// NewEmbeddingGenerator builds the embedding client for the configured
// provider.
func NewEmbeddingGenerator(config Config) (EmbeddingGenerator, error) {
	provider := config.EmbeddingProvider
	if provider == "" {
		provider = config.Provider
	}

	switch provider {
	case ProviderOllama, "":
		model := config.EmbeddingModel
		if model == "" {
			model = defaultOllamaEmbeddingModel
		}
		return NewOllamaClient(OllamaConfig{
			BaseURL: config.BaseURL,
			Model:   model,
			Timeout: config.Timeout,
		}), nil

	case ProviderOpenAI:
		model := config.EmbeddingModel
		if model == "" {
			model = defaultOpenAIEmbedding
		}
		return NewOpenAIEmbeddingClient(OpenAIConfig{
			APIKey:  config.APIKey,
			BaseURL: config.BaseURL,
			Model:   model,
			Timeout: config.Timeout,
		})

	case ProviderAnthropic:
		return nil, fmt.Errorf("llm: anthropic has no embedding API, set embedding_provider to ollama or openai")

	default:
		return nil, fmt.Errorf("llm: unknown embedding provider %q (supported: ollama, openai)", provider)
	}
}
