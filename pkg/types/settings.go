package types

// StageSettings carries the per-job resolved settings every pipeline stage
// reads. It is a plain struct built once when the job's context is
// constructed; stages never consult global state or re-read configuration
// mid-run.
type StageSettings struct {
	// LLM enhancement toggles, one per optional path. A disabled toggle (or
	// a missing provider) means the stage uses its heuristic path only.
	UseLLMExtraction     bool `json:"use_llm_extraction"`
	UseLLMClassification bool `json:"use_llm_classification"`
	UseLLMConflictCheck  bool `json:"use_llm_conflict_check"`
	UseLLMEdges          bool `json:"use_llm_edges"`
	UseLLMEntities       bool `json:"use_llm_entities"`
	UseLLMReview         bool `json:"use_llm_review"`

	// Extraction bounds
	MaxCandidates      int `json:"max_candidates"`       // Cap on atoms per run (default 20)
	MaxTranscriptChars int `json:"max_transcript_chars"` // LLM-mode truncation (default 8000)

	// Similarity thresholds
	DuplicateThreshold     float64 `json:"duplicate_threshold"`     // Reinforce-and-drop floor (default 0.92)
	ReviewThreshold        float64 `json:"review_threshold"`        // Likely-duplicate floor (default 0.85)
	ContradictionThreshold float64 `json:"contradiction_threshold"` // Opposition band floor (default 0.75)
	CoOccursThreshold      float64 `json:"co_occurs_threshold"`     // CO_OCCURS similarity floor (default 0.85)

	// Scan bounds
	DedupeScanLimit int `json:"dedupe_scan_limit"` // Same-agent memories scanned per candidate (default 1000)
	ClassifyBatch   int `json:"classify_batch"`    // Atoms per LLM classification call (default 10)
	EntitySeedLimit int `json:"entity_seed_limit"` // Existing entities seeded into LLM NER (default 50)
}

// DefaultStageSettings returns the documented defaults with every LLM path
// disabled. Callers flip the toggles they have providers for.
func DefaultStageSettings() StageSettings {
	return StageSettings{
		MaxCandidates:          20,
		MaxTranscriptChars:     8000,
		DuplicateThreshold:     0.92,
		ReviewThreshold:        0.85,
		ContradictionThreshold: 0.75,
		CoOccursThreshold:      0.85,
		DedupeScanLimit:        1000,
		ClassifyBatch:          10,
		EntitySeedLimit:        50,
	}
}

// Normalize fills zero values with the documented defaults and clamps the
// thresholds into [0, 1]. Settings structs built by hand in callers or tests
// stay valid without repeating every default.
func (s *StageSettings) Normalize() {
	def := DefaultStageSettings()

	if s.MaxCandidates <= 0 {
		s.MaxCandidates = def.MaxCandidates
	}
	if s.MaxTranscriptChars <= 0 {
		s.MaxTranscriptChars = def.MaxTranscriptChars
	}
	if s.DedupeScanLimit <= 0 {
		s.DedupeScanLimit = def.DedupeScanLimit
	}
	if s.ClassifyBatch <= 0 {
		s.ClassifyBatch = def.ClassifyBatch
	}
	if s.EntitySeedLimit <= 0 {
		s.EntitySeedLimit = def.EntitySeedLimit
	}

	if s.DuplicateThreshold <= 0 || s.DuplicateThreshold > 1 {
		s.DuplicateThreshold = def.DuplicateThreshold
	}
	if s.ReviewThreshold <= 0 || s.ReviewThreshold > 1 {
		s.ReviewThreshold = def.ReviewThreshold
	}
	if s.ContradictionThreshold <= 0 || s.ContradictionThreshold > 1 {
		s.ContradictionThreshold = def.ContradictionThreshold
	}
	if s.CoOccursThreshold <= 0 || s.CoOccursThreshold > 1 {
		s.CoOccursThreshold = def.CoOccursThreshold
	}
}
