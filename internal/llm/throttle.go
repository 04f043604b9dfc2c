package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder wraps an EmbeddingGenerator with a token bucket.
// Deduplicate and entity passes embed every atom in a job, which can
// saturate a local Ollama server without a limiter in front of it.
type RateLimitedEmbedder struct {
	inner   EmbeddingGenerator
	limiter *rate.Limiter
}

var _ EmbeddingGenerator = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder allows rps embedding calls per second with the
// given burst. A non-positive rps disables limiting.
func NewRateLimitedEmbedder(inner EmbeddingGenerator, rps float64, burst int) *RateLimitedEmbedder {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Embed waits for a token, then delegates. A cancelled context returns
// immediately with the context error.
func (e *RateLimitedEmbedder) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.inner.Embed(ctx, text, mode)
}

// GetModel returns the wrapped client's model identifier.
func (e *RateLimitedEmbedder) GetModel() string {
	return e.inner.GetModel()
}
