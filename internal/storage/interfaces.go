// Package storage provides composable storage interfaces for the Reverie
// memory engine.
//
// The storage layer is designed with small, per-collection interfaces that
// can be implemented independently and composed as needed. Every operation is
// agent-scoped: the agent id is an opaque partition key and no query crosses
// it. Implementations must provide atomic per-document upsert and increment
// semantics, because concurrent pipeline jobs rely on them instead of
// cross-document locking.
package storage

import (
	"context"

	"github.com/reveriehq/reverie/pkg/types"
)

// MemoryStore provides persistence for memory documents.
type MemoryStore interface {
	// Insert persists a new memory. Returns ErrInvalidInput if the id or
	// agent id is empty.
	Insert(ctx context.Context, memory *types.Memory) error

	// InsertMany persists a batch of memories in one write. An empty batch
	// is a no-op.
	InsertMany(ctx context.Context, memories []*types.Memory) error

	// Get retrieves a memory by id within an agent partition.
	// Returns ErrNotFound if the memory doesn't exist.
	Get(ctx context.Context, agentID, id string) (*types.Memory, error)

	// ListByAgent retrieves an agent's memories bounded and ordered by opts.
	ListByAgent(ctx context.Context, agentID string, opts ListOptions) ([]*types.Memory, error)

	// ListByClusters retrieves up to limit memories whose cluster id is in
	// clusterIDs, embeddings included. Used by the coarse recall pass.
	ListByClusters(ctx context.Context, agentID string, clusterIDs []int, limit int) ([]*types.Memory, error)

	// CountByAgent returns the number of memories in the agent partition.
	CountByAgent(ctx context.Context, agentID string) (int, error)

	// AgentIDs returns the distinct agent partitions present in the store,
	// used by maintenance tooling to iterate all agents.
	AgentIDs(ctx context.Context) ([]string, error)

	// Update replaces an existing memory document.
	// Returns ErrNotFound if the memory doesn't exist.
	Update(ctx context.Context, memory *types.Memory) error

	// Reinforce atomically increments reinforcement_count and touches
	// last_reinforced_at for the given memory.
	// Returns ErrNotFound if the memory doesn't exist.
	Reinforce(ctx context.Context, agentID, id string) error

	// UpdateScores atomically sets confidence and strength, used by the
	// decay pass. Returns ErrNotFound if the memory doesn't exist.
	UpdateScores(ctx context.Context, agentID, id string, confidence, strength float64) error

	// UpdateLayer moves a memory to a new retention tier. The transition is
	// validated against the layer state machine; a disallowed edge returns
	// ErrInvalidLayerTransition. Returns ErrNotFound if the memory doesn't
	// exist.
	UpdateLayer(ctx context.Context, agentID, id, layer string) error

	// AssignClusters bulk-writes cluster ids and labels onto member
	// memories at the end of a clustering run.
	AssignClusters(ctx context.Context, agentID string, assignments []ClusterAssignment) error
}

// JobStore provides persistence for pipeline job documents.
type JobStore interface {
	// Create persists a new job document.
	Create(ctx context.Context, job *types.PipelineJob) error

	// Update replaces the job document. Jobs are terminal once complete or
	// failed; updating a terminal job returns ErrJobTerminal.
	Update(ctx context.Context, job *types.PipelineJob) error

	// Get retrieves a job by id within an agent partition.
	// Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, agentID, id string) (*types.PipelineJob, error)

	// ListByAgent retrieves an agent's jobs, most recent first.
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*types.PipelineJob, error)
}

// EdgeStore provides persistence for the pending-edge staging area.
type EdgeStore interface {
	// InsertMany stages a batch of pending edges. An empty batch is a no-op.
	InsertMany(ctx context.Context, edges []*types.PendingEdge) error

	// ListUnapplied retrieves up to limit staged edges for the agent that
	// the apply step has not consumed yet, oldest first.
	ListUnapplied(ctx context.Context, agentID string, limit int) ([]*types.PendingEdge, error)

	// MarkApplied flags staged edges as consumed and stamps applied_at.
	MarkApplied(ctx context.Context, agentID string, ids []string) error
}

// EntityStore provides persistence for entity hub documents.
type EntityStore interface {
	// Insert persists a new entity. Returns ErrInvalidInput when the
	// agent-scoped slug already exists.
	Insert(ctx context.Context, entity *types.Entity) error

	// GetBySlug retrieves an entity by its agent-scoped slug.
	// Returns ErrNotFound if the entity doesn't exist.
	GetBySlug(ctx context.Context, agentID, slug string) (*types.Entity, error)

	// RecordMention atomically increments memory_count and touches
	// last_seen_at for the entity, unioning any new aliases in the same
	// update. Returns ErrNotFound if the entity doesn't exist.
	RecordMention(ctx context.Context, agentID, slug string, aliases []string) error

	// ListByAgent retrieves up to limit entities for the agent, most
	// recently seen first. Used to seed LLM entity recognition.
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*types.Entity, error)
}

// ClusterStore provides persistence for topic cluster documents.
type ClusterStore interface {
	// Upsert creates or replaces the cluster keyed by (agent_id, cluster_id).
	Upsert(ctx context.Context, cluster *types.Cluster) error

	// ListByAgent retrieves all clusters for the agent ordered by cluster id.
	ListByAgent(ctx context.Context, agentID string) ([]*types.Cluster, error)

	// DeleteFrom removes the agent's clusters with cluster_id >= minClusterID,
	// clearing stale documents left by a previous run with a larger k.
	DeleteFrom(ctx context.Context, agentID string, minClusterID int) error
}

// VectorSearcher is an optional capability a MemoryStore may implement when
// the backend can rank memories by embedding distance itself. Callers
// type-assert for it and fall back to an in-process scan when it is absent or
// returns an error.
type VectorSearcher interface {
	// VectorSearch returns up to limit memories ranked by similarity to the
	// query embedding, most similar first, embeddings included.
	VectorSearch(ctx context.Context, agentID string, embedding []float32, limit int) ([]*types.Memory, error)
}

// Store composes all collection stores backed by one database handle.
type Store interface {
	MemoryStore() MemoryStore
	JobStore() JobStore
	EdgeStore() EdgeStore
	EntityStore() EntityStore
	ClusterStore() ClusterStore

	// Close releases the underlying database resources.
	Close() error
}
