package types

import (
	"time"

	"github.com/google/uuid"
)

// PendingEdge is a staged graph relationship produced by the graph-link and
// entity-update stages. Staged edges are never written onto Memory.edges
// directly; the graph-apply stage consumes them, merges duplicates, and marks
// them applied. Keeping the staging area persistent makes edge generation
// auditable and the apply step replayable.
type PendingEdge struct {
	ID          string                 `json:"id"`                   // Unique identifier (uuid)
	AgentID     string                 `json:"agent_id"`             // Partition key
	JobID       string                 `json:"job_id,omitempty"`     // Producing pipeline run, for audit
	SourceID    string                 `json:"source_id"`            // Source memory id
	TargetID    string                 `json:"target_id"`            // Target memory or entity id
	EdgeType    string                 `json:"edge_type"`            // One of the EdgeType constants
	Weight      float64                `json:"weight"`               // Relationship strength (0.0-1.0)
	Probability float64                `json:"probability"`          // Trust in the edge (heuristic 1.0, LLM 0.65)
	Metadata    map[string]interface{} `json:"metadata,omitempty"`   // Generation details
	Applied     bool                   `json:"applied"`              // Consumed by graph-apply
	AppliedAt   *time.Time             `json:"applied_at,omitempty"` // When graph-apply merged it
	CreatedAt   time.Time              `json:"created_at"`           // Staging timestamp
}

// NewPendingEdge builds an unapplied staging record.
func NewPendingEdge(agentID, jobID, sourceID, targetID, edgeType string, weight, probability float64) *PendingEdge {
	return &PendingEdge{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		JobID:       jobID,
		SourceID:    sourceID,
		TargetID:    targetID,
		EdgeType:    edgeType,
		Weight:      weight,
		Probability: probability,
		CreatedAt:   time.Now().UTC(),
	}
}
