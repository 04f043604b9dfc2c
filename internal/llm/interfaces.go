// Package llm provides text generation and embedding clients for the
// reflection pipeline. Providers are selected by configuration; every client
// is wrapped in a circuit breaker so a dead backend degrades the pipeline to
// its heuristic paths instead of hanging it.
package llm

import (
	"context"
)

// EmbedMode selects the embedding task prefix for models that distinguish
// between indexed documents and search queries (nomic-style). Providers that
// have no such convention ignore the mode.
type EmbedMode string

const (
	// EmbedDocument marks text that will be stored and searched against.
	EmbedDocument EmbedMode = "document"
	// EmbedQuery marks text used to search stored documents.
	EmbedQuery EmbedMode = "query"
)

// TextGenerator produces a completion for a prompt.
type TextGenerator interface {
	// Complete sends a prompt and returns the model's raw text response.
	Complete(ctx context.Context, prompt string) (string, error)

	// GetModel returns the model identifier in use.
	GetModel() string
}

// EmbeddingGenerator converts text into a vector representation.
type EmbeddingGenerator interface {
	// Embed generates an embedding for the given text. The mode tells
	// prefix-aware models whether the text is a document or a query; the
	// returned vector dimensionality is model-dependent.
	Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error)

	// GetModel returns the embedding model identifier in use.
	GetModel() string
}
