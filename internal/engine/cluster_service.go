package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// Cluster profile defaults for memories missing scores, and presentation
// bounds for the cluster summaries.
const (
	defaultAvgConfidence = 0.6
	defaultAvgStrength   = 1.0
	labelSourceTexts     = 10
	labelWords           = 2
	topEntityCount       = 5
	sampleTextCount      = 3
	sampleTextChars      = 100
)

// ClusteringConfig bounds one clustering run.
type ClusteringConfig struct {
	// K is the number of clusters to build (default 20).
	K int

	// MaxIterations caps the K-Means refinement loop (default 100).
	MaxIterations int

	// ReducedDims is the coordinate-truncation width applied to embeddings
	// before clustering (default 64).
	ReducedDims int
}

// DefaultClusteringConfig returns the documented defaults.
func DefaultClusteringConfig() ClusteringConfig {
	return ClusteringConfig{K: 20, MaxIterations: 100, ReducedDims: 64}
}

// ClusteringResult summarizes one clustering run.
type ClusteringResult struct {
	// Clusters is the number of non-empty clusters written.
	Clusters int `json:"clusters"`

	// Assigned is the number of memories that received an assignment.
	Assigned int `json:"assigned"`
}

// ClusterService groups an agent's memories into topic clusters. Runs are
// explicit, full rebuilds: embeddings are truncated to a coarse prefix,
// K-Means partitions them, and the resulting cluster profiles replace
// whatever the previous run wrote. Between runs, new memories can be
// attached to the nearest existing centroid without a rebuild.
type ClusterService struct {
	memories storage.MemoryStore
	clusters storage.ClusterStore
	config   ClusteringConfig
	rng      *rand.Rand
}

// NewClusterService returns a clustering service seeded from the clock.
func NewClusterService(memories storage.MemoryStore, clusters storage.ClusterStore, config ClusteringConfig) *ClusterService {
	if config.K < 1 {
		config.K = DefaultClusteringConfig().K
	}
	if config.MaxIterations < 1 {
		config.MaxIterations = DefaultClusteringConfig().MaxIterations
	}
	if config.ReducedDims < 1 {
		config.ReducedDims = DefaultClusteringConfig().ReducedDims
	}
	return &ClusterService{
		memories: memories,
		clusters: clusters,
		config:   config,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SeedRNG pins the random source, making centroid initialization
// deterministic. Intended for tests.
func (s *ClusterService) SeedRNG(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// RunClustering rebuilds the agent's clusters with k groups (k <= 0 uses the
// configured default). Agents with fewer memories than k are skipped without
// writes.
func (s *ClusterService) RunClustering(ctx context.Context, agentID string, k int) (*ClusteringResult, error) {
	if k <= 0 {
		k = s.config.K
	}

	count, err := s.memories.CountByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	if count < k {
		log.Printf("[clustering] agent %s: %d memories < k=%d, skipping", agentID, count, k)
		return &ClusteringResult{}, nil
	}

	memories, err := s.memories.ListByAgent(ctx, agentID, storage.ListOptions{
		Limit:          maintenanceScanLimit,
		WithEmbeddings: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}

	embedded := memories[:0]
	for _, m := range memories {
		if len(m.Embedding) > 0 {
			embedded = append(embedded, m)
		}
	}
	if len(embedded) < k {
		log.Printf("[clustering] agent %s: %d embedded memories < k=%d, skipping", agentID, len(embedded), k)
		return &ClusteringResult{}, nil
	}

	points := make([][]float32, len(embedded))
	for i, m := range embedded {
		points[i] = TruncateVector(m.Embedding, s.config.ReducedDims)
	}

	centroids, assignments := runKMeans(points, k, s.config.MaxIterations, s.rng)

	members := make([][]*types.Memory, len(centroids))
	for i, c := range assignments {
		members[c] = append(members[c], embedded[i])
	}

	now := time.Now().UTC()
	labels := make(map[int]string, len(centroids))
	written := 0
	for c := range centroids {
		if len(members[c]) == 0 {
			continue
		}
		cluster := buildClusterProfile(agentID, c, centroids[c], members[c], now)
		if err := s.clusters.Upsert(ctx, cluster); err != nil {
			return nil, fmt.Errorf("upsert cluster %d: %w", c, err)
		}
		labels[c] = cluster.Label
		written++
	}

	// Prior runs with a larger k leave clusters beyond this run's range.
	if err := s.clusters.DeleteFrom(ctx, agentID, k); err != nil {
		return nil, fmt.Errorf("delete stale clusters: %w", err)
	}

	batch := make([]storage.ClusterAssignment, len(embedded))
	for i, m := range embedded {
		batch[i] = storage.ClusterAssignment{
			MemoryID:     m.ID,
			ClusterID:    assignments[i],
			ClusterLabel: labels[assignments[i]],
		}
	}
	if err := s.memories.AssignClusters(ctx, agentID, batch); err != nil {
		return nil, fmt.Errorf("assign clusters: %w", err)
	}

	log.Printf("[clustering] agent %s: %d clusters over %d memories", agentID, written, len(embedded))
	return &ClusteringResult{Clusters: written, Assigned: len(embedded)}, nil
}

// AssignToNearestCluster attaches one memory to the closest existing
// centroid by cosine similarity and writes the assignment. Returns the
// winning cluster id, or nil without writing when the agent has no clusters.
func (s *ClusterService) AssignToNearestCluster(ctx context.Context, agentID, memoryID string, embedding []float32) (*int, error) {
	clusters, err := s.clusters.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	if len(clusters) == 0 {
		return nil, nil
	}

	reduced := TruncateVector(embedding, s.config.ReducedDims)
	best := clusters[0]
	bestSim := CosineSimilarity(reduced, best.Centroid)
	for _, c := range clusters[1:] {
		if sim := CosineSimilarity(reduced, c.Centroid); sim > bestSim {
			best, bestSim = c, sim
		}
	}

	err = s.memories.AssignClusters(ctx, agentID, []storage.ClusterAssignment{{
		MemoryID:     memoryID,
		ClusterID:    best.ClusterID,
		ClusterLabel: best.Label,
	}})
	if err != nil {
		return nil, fmt.Errorf("assign cluster: %w", err)
	}

	id := best.ClusterID
	return &id, nil
}

// buildClusterProfile summarizes one cluster's members into the persisted
// cluster document.
func buildClusterProfile(agentID string, clusterID int, centroid []float32, members []*types.Memory, now time.Time) *types.Cluster {
	var confidenceSum, strengthSum float64
	for _, m := range members {
		confidence := m.Confidence
		if confidence == 0 {
			confidence = defaultAvgConfidence
		}
		strength := m.Strength
		if strength == 0 {
			strength = defaultAvgStrength
		}
		confidenceSum += confidence
		strengthSum += strength
	}

	samples := make([]string, 0, sampleTextCount)
	for _, m := range members[:min(len(members), sampleTextCount)] {
		samples = append(samples, truncateText(m.Text, sampleTextChars))
	}

	return &types.Cluster{
		AgentID:       agentID,
		ClusterID:     clusterID,
		Label:         clusterLabel(clusterID, members),
		Centroid:      centroid,
		MemberCount:   len(members),
		AvgConfidence: confidenceSum / float64(len(members)),
		AvgStrength:   strengthSum / float64(len(members)),
		TopEntities:   topTags(members, topEntityCount),
		SampleTexts:   samples,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// clusterLabel names a cluster after the two most frequent content words
// (4+ letters, stopwords excluded) across up to ten member texts.
func clusterLabel(clusterID int, members []*types.Memory) string {
	counts := make(map[string]int)
	var order []string
	for _, m := range members[:min(len(members), labelSourceTexts)] {
		for _, w := range strings.Fields(strings.ToLower(m.Text)) {
			w = strings.Trim(w, ".,!?;:'\"()[]")
			if len(w) < 4 || isStopword(w) {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}

	top := rankByCount(counts, order, labelWords)
	if len(top) == 0 {
		return fmt.Sprintf("cluster-%d", clusterID)
	}
	return strings.Join(top, " ")
}

// topTags returns the n most frequent tags across the members.
func topTags(members []*types.Memory, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, m := range members {
		for _, tag := range m.Tags {
			if counts[tag] == 0 {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}
	return rankByCount(counts, order, n)
}

// rankByCount returns up to n keys ordered by descending count, breaking
// ties by first appearance so results are stable.
func rankByCount(counts map[string]int, order []string, n int) []string {
	ranked := append([]string(nil), order...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
