package engine

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/reveriehq/reverie/internal/llm"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// Recall methods reported in RecallResult.
const (
	RecallMethodClusterAware   = "cluster_aware"
	RecallMethodGlobalFallback = "global_fallback"
)

// RecallConfig bounds the recall paths.
type RecallConfig struct {
	// TopClusters is how many clusters the coarse pass searches (default 2).
	TopClusters int

	// DefaultLimit is the result cap when the caller passes none (default 10).
	DefaultLimit int

	// GlobalScanLimit bounds the brute-force fallback scan (default 10000).
	GlobalScanLimit int

	// ClusterCandidates bounds the candidate fetch of the coarse pass
	// (default 1000).
	ClusterCandidates int
}

// DefaultRecallConfig returns the documented defaults.
func DefaultRecallConfig() RecallConfig {
	return RecallConfig{TopClusters: 2, DefaultLimit: 10, GlobalScanLimit: 10000, ClusterCandidates: 1000}
}

// ScoredMemory is one recall hit with its similarity to the query.
type ScoredMemory struct {
	Memory *types.Memory `json:"memory"`
	Score  float64       `json:"score"`
}

// RecallResult is the outcome of one recall call, reporting which path
// produced the hits.
type RecallResult struct {
	Results          []ScoredMemory `json:"results"`
	ClustersSearched int            `json:"clusters_searched"`
	Method           string         `json:"method"`
}

// RecallService reads memories back by semantic similarity. When the agent
// has clusters, recall first narrows to the most relevant clusters and
// scores only their members; when that coarse pass cannot fill the limit (or
// no clusters exist) it falls back to a bounded global scan. Cluster ranking
// uses the truncated centroid space while result scoring always uses the
// full embedding.
type RecallService struct {
	memories storage.MemoryStore
	clusters storage.ClusterStore
	embedder llm.EmbeddingGenerator
	config   RecallConfig
}

// NewRecallService returns the recall service.
func NewRecallService(memories storage.MemoryStore, clusters storage.ClusterStore, embedder llm.EmbeddingGenerator, config RecallConfig) *RecallService {
	def := DefaultRecallConfig()
	if config.TopClusters < 1 {
		config.TopClusters = def.TopClusters
	}
	if config.DefaultLimit < 1 {
		config.DefaultLimit = def.DefaultLimit
	}
	if config.GlobalScanLimit < 1 {
		config.GlobalScanLimit = def.GlobalScanLimit
	}
	if config.ClusterCandidates < 1 {
		config.ClusterCandidates = def.ClusterCandidates
	}
	return &RecallService{memories: memories, clusters: clusters, embedder: embedder, config: config}
}

// FindRelevantClusters ranks the agent's clusters against the query
// embedding and returns the top-K (topK <= 0 uses the configured default).
// The query is truncated to each centroid's width before comparison.
func (s *RecallService) FindRelevantClusters(ctx context.Context, agentID string, queryEmbedding []float32, topK int) ([]*types.Cluster, error) {
	if topK <= 0 {
		topK = s.config.TopClusters
	}

	clusters, err := s.clusters.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	if len(clusters) == 0 {
		return nil, nil
	}

	sims := make(map[*types.Cluster]float64, len(clusters))
	for _, c := range clusters {
		sims[c] = CosineSimilarity(TruncateVector(queryEmbedding, len(c.Centroid)), c.Centroid)
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		return sims[clusters[i]] > sims[clusters[j]]
	})

	if len(clusters) > topK {
		clusters = clusters[:topK]
	}
	return clusters, nil
}

// ClusterAwareRecall embeds the query and retrieves the most similar
// memories, narrowing through clusters when possible.
func (s *RecallService) ClusterAwareRecall(ctx context.Context, query, agentID string, limit int) (*RecallResult, error) {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}

	queryVec, err := s.embedder.Embed(ctx, query, llm.EmbedQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	relevant, err := s.FindRelevantClusters(ctx, agentID, queryVec, s.config.TopClusters)
	if err != nil {
		return nil, err
	}
	if len(relevant) == 0 {
		results, err := s.globalScan(ctx, agentID, queryVec, limit)
		if err != nil {
			return nil, err
		}
		return &RecallResult{Results: results, Method: RecallMethodGlobalFallback}, nil
	}

	clusterIDs := make([]int, len(relevant))
	for i, c := range relevant {
		clusterIDs[i] = c.ClusterID
	}
	candidates, err := s.memories.ListByClusters(ctx, agentID, clusterIDs, s.config.ClusterCandidates)
	if err != nil {
		return nil, fmt.Errorf("list cluster members: %w", err)
	}

	results := scoreAndRank(candidates, queryVec, limit)
	if len(results) < limit {
		// The answer may live outside the top clusters; widen to the full
		// partition rather than returning a short, biased result.
		results, err = s.globalScan(ctx, agentID, queryVec, limit)
		if err != nil {
			return nil, err
		}
		return &RecallResult{Results: results, ClustersSearched: len(relevant), Method: RecallMethodGlobalFallback}, nil
	}

	return &RecallResult{Results: results, ClustersSearched: len(relevant), Method: RecallMethodClusterAware}, nil
}

// globalScan ranks the whole agent partition against the query, using the
// store's native vector search when it has one.
func (s *RecallService) globalScan(ctx context.Context, agentID string, queryVec []float32, limit int) ([]ScoredMemory, error) {
	if vs, ok := s.memories.(storage.VectorSearcher); ok {
		found, err := vs.VectorSearch(ctx, agentID, queryVec, limit)
		if err == nil {
			results := make([]ScoredMemory, len(found))
			for i, m := range found {
				results[i] = ScoredMemory{Memory: m, Score: CosineSimilarity(queryVec, m.Embedding)}
			}
			return results, nil
		}
		log.Printf("[recall] agent %s: vector search failed, scanning: %v", agentID, err)
	}

	memories, err := s.memories.ListByAgent(ctx, agentID, storage.ListOptions{
		Limit:          s.config.GlobalScanLimit,
		WithEmbeddings: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return scoreAndRank(memories, queryVec, limit), nil
}

// scoreAndRank scores candidates on their full embedding and returns the
// top results, highest similarity first. Memories without embeddings are
// excluded.
func scoreAndRank(memories []*types.Memory, queryVec []float32, limit int) []ScoredMemory {
	scored := make([]ScoredMemory, 0, len(memories))
	for _, m := range memories {
		if len(m.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScoredMemory{Memory: m, Score: CosineSimilarity(queryVec, m.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
