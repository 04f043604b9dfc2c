package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/reveriehq/reverie/internal/llm"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/internal/usage"
	"github.com/reveriehq/reverie/pkg/types"
)

// initialStrength is the strength every new memory starts with; the decay
// pass erodes it from there.
const initialStrength = 1.0

// defaultConfidenceByType backs the heuristic confidence assignment when the
// candidate carries none. Values mirror the extraction rule confidences.
var defaultConfidenceByType = map[string]float64{
	types.MemoryTypeFact:        0.6,
	types.MemoryTypePreference:  0.75,
	types.MemoryTypeDecision:    0.85,
	types.MemoryTypeObservation: 0.8,
	types.MemoryTypeEpisode:     0.7,
	types.MemoryTypeOpinion:     0.6,
}

// ClassifyStage converts surviving candidates into persisted memories. Every
// new memory starts in the episodic layer unless an upstream stage set a
// layer override; the LLM path refines layer, type, confidence and tags in
// batches, with each failed batch falling back to the heuristic values. All
// memories land in the store through one bulk insert.
type ClassifyStage struct {
	memories  storage.MemoryStore
	generator llm.TextGenerator
}

// NewClassifyStage returns the classification stage. A nil generator
// disables the LLM path regardless of settings.
func NewClassifyStage(memories storage.MemoryStore, generator llm.TextGenerator) *ClassifyStage {
	return &ClassifyStage{memories: memories, generator: generator}
}

func (s *ClassifyStage) Name() string { return StageClassify }

// Run persists pc.DeduplicatedAtoms as memories into pc.ClassifiedAtoms.
func (s *ClassifyStage) Run(ctx context.Context, pc *PipelineContext) error {
	atoms := pc.DeduplicatedAtoms
	if len(atoms) == 0 {
		return nil
	}

	now := time.Now().UTC()
	memories := make([]*types.Memory, 0, len(atoms))

	for start := 0; start < len(atoms); start += pc.Settings.ClassifyBatch {
		end := start + pc.Settings.ClassifyBatch
		if end > len(atoms) {
			end = len(atoms)
		}
		batch := atoms[start:end]

		var classifications map[int]llm.ClassificationResponse
		if pc.Settings.UseLLMClassification && s.generator != nil {
			classifications = s.classifyLLM(ctx, pc, batch)
		}

		for i, atom := range batch {
			pc.AddStat("classify_processed", 1)
			memories = append(memories, buildMemory(pc, atom, classifications[i], now))
		}
	}

	if err := s.memories.InsertMany(ctx, memories); err != nil {
		return fmt.Errorf("insert memories: %w", err)
	}

	pc.ClassifiedAtoms = memories
	pc.AddStat("classify_created", int64(len(memories)))
	log.Printf("[classify] job %s: persisted %d memories for agent %s", pc.JobID, len(memories), pc.AgentID)
	return nil
}

// classifyLLM asks the model for layer assignments over one batch. Returns
// nil on any failure so the batch falls back to heuristic values without
// aborting the others.
func (s *ClassifyStage) classifyLLM(ctx context.Context, pc *PipelineContext, batch []*types.CandidateMemory) map[int]llm.ClassificationResponse {
	prompt := make([]llm.ClassificationAtom, len(batch))
	for i, atom := range batch {
		prompt[i] = llm.ClassificationAtom{Text: atom.Text, MemoryType: atom.MemoryType, Tags: atom.Tags}
	}

	span := pc.Usage.Begin(usage.OpCompletion, pc.AgentID, pc.JobID, StageClassify)
	response, err := s.generator.Complete(ctx, llm.BuildClassificationPrompt(prompt))
	span.End(err)
	if err != nil {
		log.Printf("[classify] job %s: llm batch failed, using heuristic values: %v", pc.JobID, err)
		pc.AddStat("classify_llm_failed", 1)
		return nil
	}

	classifications, err := llm.ParseClassifications(response)
	if err != nil {
		log.Printf("[classify] job %s: unparseable llm response, using heuristic values: %v", pc.JobID, err)
		pc.AddStat("classify_llm_failed", 1)
		return nil
	}
	return classifications
}

// buildMemory assembles the persisted memory for one candidate, applying the
// LLM refinement when present.
func buildMemory(pc *PipelineContext, atom *types.CandidateMemory, cls llm.ClassificationResponse, now time.Time) *types.Memory {
	layer := types.LayerEpisodic
	if override := atom.MetaString(types.MetaLayer); types.IsValidLayer(override) {
		layer = override
	}

	memoryType := atom.MemoryType
	if !types.IsValidMemoryType(memoryType) {
		memoryType = types.MemoryTypeFact
	}

	confidence := atom.Confidence
	tags := atom.Tags

	if cls.Layer != "" {
		layer = cls.Layer
		if cls.MemoryType != "" {
			memoryType = cls.MemoryType
		}
		if cls.Confidence > 0 {
			confidence = cls.Confidence
		}
		tags = types.MergeTags(tags, cls.SuggestedTags...)
	}

	if confidence <= 0 {
		confidence = defaultConfidence(memoryType)
	}

	return &types.Memory{
		ID:              types.NewMemoryID(),
		AgentID:         pc.AgentID,
		Text:            atom.Text,
		CreatedAt:       now,
		UpdatedAt:       now,
		MemoryType:      memoryType,
		Layer:           layer,
		Tags:            tags,
		Metadata:        atom.Metadata,
		Embedding:       atom.Embedding,
		Confidence:      confidence,
		Strength:        initialStrength,
		Contradictions:  atom.Contradictions,
		SourceSessionID: pc.SessionID,
	}
}

// defaultConfidence returns the type-keyed heuristic confidence.
func defaultConfidence(memoryType string) float64 {
	if c, ok := defaultConfidenceByType[memoryType]; ok {
		return c
	}
	return 0.6
}
