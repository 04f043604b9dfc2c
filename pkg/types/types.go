// Package types defines the core data structures for the Reverie memory engine:
// memories and their tiered layers, pipeline jobs and stage results, staged
// graph edges, entities, and topic clusters.
package types

// JobStatus represents the overall lifecycle status of a pipeline job.
type JobStatus string

// StageStatus represents the execution status of a single pipeline stage.
type StageStatus string

// Pipeline job status constants
const (
	// JobPending indicates the job document exists but has not started.
	JobPending JobStatus = "pending"

	// JobRunning indicates the orchestrator is executing the stage list.
	JobRunning JobStatus = "running"

	// JobComplete indicates every stage finished successfully. Terminal.
	JobComplete JobStatus = "complete"

	// JobFailed indicates a stage failed and the run was aborted. Terminal.
	JobFailed JobStatus = "failed"
)

// Stage result status constants
const (
	// StageRunning indicates the stage is currently executing.
	StageRunning StageStatus = "running"

	// StageComplete indicates the stage finished successfully.
	StageComplete StageStatus = "complete"

	// StageFailed indicates the stage returned an error.
	StageFailed StageStatus = "failed"
)

// ValidJobStatuses contains all valid pipeline job statuses.
var ValidJobStatuses = []JobStatus{
	JobPending,
	JobRunning,
	JobComplete,
	JobFailed,
}

// IsValidJobStatus checks if the given status is a valid job status.
func IsValidJobStatus(status string) bool {
	for _, validStatus := range ValidJobStatuses {
		if JobStatus(status) == validStatus {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is final. Terminal jobs are frozen and
// reject further updates.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// Memory layer constants - the retention tiers a memory moves through
const (
	LayerWorking  = "working"  // Short-lived scratch tier for in-flight context
	LayerEpisodic = "episodic" // Default tier for freshly consolidated memories
	LayerSemantic = "semantic" // Stable, reinforced knowledge
	LayerArchival = "archival" // Cold tier for decayed memories
)

// ValidLayers contains all valid memory layer values, ordered by tier.
var ValidLayers = []string{
	LayerWorking,
	LayerEpisodic,
	LayerSemantic,
	LayerArchival,
}

// IsValidLayer checks if the given layer is a valid retention tier.
func IsValidLayer(layer string) bool {
	for _, validLayer := range ValidLayers {
		if layer == validLayer {
			return true
		}
	}
	return false
}

// Memory type constants - classify the nature of a memory atom
const (
	MemoryTypeFact        = "fact"        // Declarative statements about the world
	MemoryTypePreference  = "preference"  // User likes, dislikes, and habits
	MemoryTypeDecision    = "decision"    // Choices made and their outcomes
	MemoryTypeObservation = "observation" // Things noticed during a session
	MemoryTypeEpisode     = "episode"     // Whole-session or event summaries
	MemoryTypeOpinion     = "opinion"     // Subjective judgements
)

// ValidMemoryTypes is a slice of all valid memory types for validation.
var ValidMemoryTypes = []string{
	MemoryTypeFact,
	MemoryTypePreference,
	MemoryTypeDecision,
	MemoryTypeObservation,
	MemoryTypeEpisode,
	MemoryTypeOpinion,
}

// IsValidMemoryType checks if the given memory type is valid.
func IsValidMemoryType(memoryType string) bool {
	for _, validType := range ValidMemoryTypes {
		if validType == memoryType {
			return true
		}
	}
	return false
}

// Entity type constants
const (
	EntityTypePerson  = "person"  // People mentioned in memories
	EntityTypeProject = "project" // Projects and initiatives
	EntityTypeSystem  = "system"  // Software, tools, and infrastructure
	EntityTypeConcept = "concept" // Abstract ideas and topics
	EntityTypePlace   = "place"   // Physical or virtual locations
)

// ValidEntityTypes is a slice of all valid entity types for validation.
var ValidEntityTypes = []string{
	EntityTypePerson,
	EntityTypeProject,
	EntityTypeSystem,
	EntityTypeConcept,
	EntityTypePlace,
}

// IsValidEntityType checks if the given entity type is valid.
func IsValidEntityType(entityType string) bool {
	for _, validType := range ValidEntityTypes {
		if validType == entityType {
			return true
		}
	}
	return false
}

// Edge type constants - relationships staged between memories and entities
const (
	// Heuristic edge types, generated deterministically by the graph-link stage
	EdgeDerivesFrom    = "DERIVES_FROM"    // Atom derived from a source episode
	EdgePrecedes       = "PRECEDES"        // Sequential atoms within one session
	EdgeCoOccurs       = "CO_OCCURS"       // Tag overlap plus high similarity
	EdgeContradicts    = "CONTRADICTS"     // Detected semantic opposition
	EdgeMentionsEntity = "MENTIONS_ENTITY" // Memory mentions a named entity

	// LLM-discovered edge types, disjoint from the heuristic set
	EdgeCauses     = "CAUSES"     // Causal relationship
	EdgeSupports   = "SUPPORTS"   // Evidence or reinforcement
	EdgeContextOf  = "CONTEXT_OF" // Background context
	EdgeSupersedes = "SUPERSEDES" // Newer information replacing older
	EdgeElaborates = "ELABORATES" // Adds detail to another memory
)

// ValidEdgeTypes contains all valid edge types for validation.
var ValidEdgeTypes = []string{
	EdgeDerivesFrom,
	EdgePrecedes,
	EdgeCoOccurs,
	EdgeContradicts,
	EdgeMentionsEntity,
	EdgeCauses,
	EdgeSupports,
	EdgeContextOf,
	EdgeSupersedes,
	EdgeElaborates,
}

// LLMEdgeTypes is the whitelist of edge types the LLM discovery pass may
// emit. Heuristic types are rejected there so the two sources stay disjoint.
var LLMEdgeTypes = []string{
	EdgeCauses,
	EdgeSupports,
	EdgeContextOf,
	EdgeSupersedes,
	EdgeElaborates,
}

// IsValidEdgeType checks if the given edge type is valid.
func IsValidEdgeType(edgeType string) bool {
	for _, validType := range ValidEdgeTypes {
		if validType == edgeType {
			return true
		}
	}
	return false
}

// IsLLMEdgeType checks if the given edge type belongs to the LLM-discovered
// set.
func IsLLMEdgeType(edgeType string) bool {
	for _, validType := range LLMEdgeTypes {
		if validType == edgeType {
			return true
		}
	}
	return false
}
