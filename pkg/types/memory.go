package types

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Memory represents a single consolidated memory atom owned by one agent.
// Memories are created by the classify stage, reinforced and annotated by the
// reflection pipeline, moved between layers by the promotion pass, and grouped
// into topic clusters by the clustering service. The core never deletes them.
type Memory struct {
	// Core identification fields
	ID        string    `json:"id"`         // Unique identifier (uuid)
	AgentID   string    `json:"agent_id"`   // Owning agent; opaque partition key
	Text      string    `json:"text"`       // Memory content
	CreatedAt time.Time `json:"created_at"` // When the memory was persisted
	UpdatedAt time.Time `json:"updated_at"` // Last mutation timestamp

	// Classification
	MemoryType string                 `json:"memory_type"`        // One of the MemoryType constants
	Layer      string                 `json:"layer"`              // Retention tier (see Layer constants)
	Tags       []string               `json:"tags,omitempty"`     // Set semantics; stored sorted and unique
	Metadata   map[string]interface{} `json:"metadata,omitempty"` // Arbitrary metadata

	// Embedding for semantic comparison and recall
	Embedding []float32 `json:"embedding,omitempty"` // Document-mode vector embedding

	// Durability signals
	Confidence         float64    `json:"confidence"`                     // How established the content is (0.0-1.0)
	Strength           float64    `json:"strength"`                       // Decays toward 0 without reinforcement
	ReinforcementCount int        `json:"reinforcement_count"`            // Times this memory was re-encountered
	LastReinforcedAt   *time.Time `json:"last_reinforced_at,omitempty"`   // Most recent reinforcement

	// Knowledge graph
	Contradictions []ContradictionRef `json:"contradictions,omitempty"` // Memories this one opposes
	Edges          []MemoryEdge       `json:"edges,omitempty"`          // Applied graph edges (merged from staging)

	// Cluster assignment (written by the clustering service)
	ClusterID    *int   `json:"cluster_id,omitempty"`    // Topic cluster index, nil when unassigned
	ClusterLabel string `json:"cluster_label,omitempty"` // Human-readable cluster label

	// Provenance
	SourceSessionID string `json:"source_session_id,omitempty"` // Session the memory was extracted from
}

// ContradictionRef records a detected semantic opposition against another
// memory.
type ContradictionRef struct {
	MemoryID   string    `json:"memory_id"`   // The opposing memory
	DetectedAt time.Time `json:"detected_at"` // When the conflict-check stage flagged it
}

// MemoryEdge is an applied graph edge stored on the source memory. Edges are
// staged as PendingEdge records first and merged here by the graph-apply
// stage, deduplicated by (TargetID, EdgeType).
type MemoryEdge struct {
	TargetID    string    `json:"target_id"`   // Destination memory or entity id
	EdgeType    string    `json:"edge_type"`   // One of the EdgeType constants
	Weight      float64   `json:"weight"`      // Relationship strength (0.0-1.0)
	Probability float64   `json:"probability"` // Trust in the edge's existence (0.0-1.0)
	AppliedAt   time.Time `json:"applied_at"`  // When the merge applied this edge
}

// NewMemoryID returns a fresh unique memory identifier.
func NewMemoryID() string {
	return uuid.NewString()
}

// AgeDays returns the memory's age in fractional days at the given instant.
func (m *Memory) AgeDays(now time.Time) float64 {
	return now.Sub(m.CreatedAt).Hours() / 24
}

// DaysSinceReinforcement returns fractional days since the last reinforcement,
// falling back to the creation time when the memory was never reinforced.
func (m *Memory) DaysSinceReinforcement(now time.Time) float64 {
	ref := m.CreatedAt
	if m.LastReinforcedAt != nil {
		ref = *m.LastReinforcedAt
	}
	return now.Sub(ref).Hours() / 24
}

// MergeTags unions additional tags into an existing tag set, returning a
// sorted, duplicate-free slice. Tags compare order-insensitively everywhere,
// so the canonical stored form is sorted.
func MergeTags(existing []string, add ...string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	merged := make([]string, 0, len(existing)+len(add))
	for _, tag := range existing {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		merged = append(merged, tag)
	}
	for _, tag := range add {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		merged = append(merged, tag)
	}
	sort.Strings(merged)
	return merged
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SharesTag reports whether two memories have at least one tag in common.
func (m *Memory) SharesTag(other *Memory) bool {
	if other == nil {
		return false
	}
	for _, t := range m.Tags {
		if other.HasTag(t) {
			return true
		}
	}
	return false
}
