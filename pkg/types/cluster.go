package types

import "time"

// Cluster is one emergent topic produced by a K-Means clustering run over an
// agent's memories. Clusters are upserted keyed by (AgentID, ClusterID) so
// repeated runs refresh the same documents, and member memories carry the
// cluster id and label for coarse-first recall.
type Cluster struct {
	AgentID     string    `json:"agent_id"`     // Owning agent
	ClusterID   int       `json:"cluster_id"`   // Stable index within the agent's cluster set
	Label       string    `json:"label"`        // Top member words, human-readable
	Centroid    []float32 `json:"centroid"`     // Reduced-dimension (64) centroid
	MemberCount int       `json:"member_count"` // Memories assigned in the latest run

	// Aggregates over member memories
	AvgConfidence float64  `json:"avg_confidence"` // Mean member confidence
	AvgStrength   float64  `json:"avg_strength"`   // Mean member strength
	TopEntities   []string `json:"top_entities,omitempty"` // Most frequent member tags
	SampleTexts   []string `json:"sample_texts,omitempty"` // Truncated example member texts

	CreatedAt time.Time `json:"created_at"` // First time this cluster id was written
	UpdatedAt time.Time `json:"updated_at"` // Latest clustering run
}
