package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes embeddings by content hash. Reflection re-embeds
// the same candidate text in deduplicate and entity passes, and recall
// re-embeds repeated queries; both hit the cache instead of the provider.
type CachedEmbedder struct {
	inner EmbeddingGenerator
	cache *ristretto.Cache
}

var _ EmbeddingGenerator = (*CachedEmbedder)(nil)

// NewCachedEmbedder caches up to maxBytes of vectors (measured as 4 bytes
// per dimension). A non-positive maxBytes selects a 64 MiB default.
func NewCachedEmbedder(inner EmbeddingGenerator, maxBytes int64) (*CachedEmbedder, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector when the same model, mode and text were
// embedded before, otherwise delegates and caches the result.
func (e *CachedEmbedder) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	key := e.cacheKey(text, mode)
	if value, ok := e.cache.Get(key); ok {
		if vec, ok := value.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text, mode)
	if err != nil {
		return nil, err
	}

	e.cache.Set(key, vec, int64(len(vec))*4)
	return vec, nil
}

// GetModel returns the wrapped client's model identifier.
func (e *CachedEmbedder) GetModel() string {
	return e.inner.GetModel()
}

// Wait blocks until buffered cache writes are applied.
func (e *CachedEmbedder) Wait() {
	e.cache.Wait()
}

// Close releases the cache.
func (e *CachedEmbedder) Close() {
	e.cache.Close()
}

// The mode is part of the key: a document vector and a query vector for the
// same text differ for prefix-aware models.
func (e *CachedEmbedder) cacheKey(text string, mode EmbedMode) string {
	h := sha256.New()
	h.Write([]byte(e.inner.GetModel()))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
