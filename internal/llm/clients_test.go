package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaComplete(t *testing.T) {
	var gotReq ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: `{"ok": true}`})
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "llama3.1"})

	out, err := client.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
	assert.Equal(t, "llama3.1", gotReq.Model)
	assert.Equal(t, "hello", gotReq.Prompt)
	assert.False(t, gotReq.Stream)
}

func TestOllamaEmbedNomicPrefixes(t *testing.T) {
	var inputs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		inputs = append(inputs, req.Input)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "nomic-embed-text"})

	vec, err := client.Embed(context.Background(), "coffee preferences", EmbedDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	_, err = client.Embed(context.Background(), "coffee preferences", EmbedQuery)
	require.NoError(t, err)

	require.Len(t, inputs, 2)
	assert.Equal(t, "search_document: coffee preferences", inputs[0])
	assert.Equal(t, "search_query: coffee preferences", inputs[1])
}

func TestOllamaEmbedNoPrefixForOtherModels(t *testing.T) {
	var gotInput string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInput = req.Input
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "mxbai-embed-large"})

	_, err := client.Embed(context.Background(), "plain text", EmbedDocument)
	require.NoError(t, err)
	assert.Equal(t, "plain text", gotInput)
}

func TestOllamaEmbedEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{})
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "nomic-embed-text"})

	_, err := client.Embed(context.Background(), "text", EmbedDocument)
	assert.ErrorContains(t, err, "empty embedding")
}

func TestOllamaServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "missing"})

	_, err := client.Complete(context.Background(), "hello")
	assert.ErrorContains(t, err, "status 404")
}

func TestOllamaHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/version", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"version": "0.5.0"})
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "llama3.1"})
	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Zero(t, req.Temperature)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "answer"}},
			},
		})
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestOpenAIEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float64{0.25, -0.5}},
			},
		})
	}))
	defer server.Close()

	client, err := NewOpenAIEmbeddingClient(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL, Model: "text-embedding-3-small"})
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "text", EmbedQuery)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5}, vec)
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{Model: "gpt-4o-mini"})
	assert.Error(t, err)

	_, err = NewOpenAIEmbeddingClient(OpenAIConfig{Model: "text-embedding-3-small"})
	assert.Error(t, err)
}

func TestAnthropicComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "key-test", r.Header.Get("x-api-key"))
		require.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, anthropicMaxTokens, req.MaxTokens)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{
				{"type": "text", "text": "part one "},
				{"type": "tool_use", "text": "ignored"},
				{"type": "text", "text": "part two"},
			},
		})
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{APIKey: "key-test", BaseURL: server.URL, Model: "claude-3-5-haiku-20241022"})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", out)
}

func TestFactoryDefaults(t *testing.T) {
	gen, err := NewTextGenerator(Config{Provider: ProviderOllama})
	require.NoError(t, err)
	assert.Equal(t, defaultOllamaModel, gen.GetModel())

	emb, err := NewEmbeddingGenerator(Config{Provider: ProviderOllama})
	require.NoError(t, err)
	assert.Equal(t, defaultOllamaEmbeddingModel, emb.GetModel())
}

func TestFactoryAnthropicEmbeddings(t *testing.T) {
	// Anthropic alone cannot embed.
	_, err := NewEmbeddingGenerator(Config{Provider: ProviderAnthropic})
	assert.Error(t, err)

	// An explicit embedding provider makes the pairing work.
	emb, err := NewEmbeddingGenerator(Config{Provider: ProviderAnthropic, EmbeddingProvider: ProviderOllama})
	require.NoError(t, err)
	assert.Equal(t, defaultOllamaEmbeddingModel, emb.GetModel())
}

func TestFactoryUnknownProvider(t *testing.T) {
	_, err := NewTextGenerator(Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestOllamaTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "late"})
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "llama3.1", Timeout: 50 * time.Millisecond})

	_, err := client.Complete(context.Background(), "hello")
	assert.Error(t, err)
}
