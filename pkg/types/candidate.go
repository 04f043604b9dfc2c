package types

// Metadata keys attached to candidates by the reflection pipeline.
const (
	// MetaLikelyDuplicateOf marks a near-duplicate kept for later review,
	// holding the id of the closest existing memory.
	MetaLikelyDuplicateOf = "likely_duplicate_of"

	// MetaSimilarityScore holds the cosine similarity against the memory in
	// MetaLikelyDuplicateOf.
	MetaSimilarityScore = "similarity_score"

	// MetaLayer lets an upstream stage override the default episodic layer
	// chosen by classify.
	MetaLayer = "layer"
)

// TagLLMExtracted marks candidates produced by the LLM extraction path.
const TagLLMExtracted = "llm-extracted"

// CandidateMemory is a provisional memory atom flowing through one pipeline
// run. Candidates live only inside the PipelineContext; the classify stage
// converts the survivors into persisted Memory documents.
type CandidateMemory struct {
	Text       string                 `json:"text"`                 // Extracted atom text
	MemoryType string                 `json:"memory_type"`          // Proposed classification
	Tags       []string               `json:"tags,omitempty"`       // Proposed tags
	Confidence float64                `json:"confidence"`           // Extraction confidence (0.0-1.0)
	SourceText string                 `json:"source_text,omitempty"` // Sentence or span the atom came from
	Metadata   map[string]interface{} `json:"metadata,omitempty"`   // Review annotations (duplicate hints, layer override)

	// Embedding computed during deduplication, reused by later stages so the
	// same text is never embedded twice in one run.
	Embedding []float32 `json:"-"`

	// Contradictions detected by the conflict-check stage; copied onto the
	// persisted Memory by classify.
	Contradictions []ContradictionRef `json:"contradictions,omitempty"`
}

// SetMeta attaches a metadata annotation, allocating the map on first use.
func (c *CandidateMemory) SetMeta(key string, value interface{}) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata[key] = value
}

// MetaString returns a string metadata value, or "" when absent or not a
// string.
func (c *CandidateMemory) MetaString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata[key].(string); ok {
		return v
	}
	return ""
}
