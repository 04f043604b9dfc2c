package engine

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/reveriehq/reverie/internal/llm"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/internal/usage"
	"github.com/reveriehq/reverie/pkg/types"
)

// negationPattern matches the surface negation cues used by the heuristic
// opposition test. Word boundaries keep "not" from matching inside "nothing".
var negationPattern = regexp.MustCompile(`(?i)\b(?:not|never|no longer|stopped|don't|doesn't|won't|isn't)\b`)

// ConflictCheckStage hunts for semantic opposition between each surviving
// candidate and the agent's existing memories. Suspects live in the
// similarity band between the contradiction and review thresholds: close
// enough to be about the same thing, not close enough to be the same
// statement. Detected conflicts are recorded on the candidate and flow
// through classify into the persisted memory; the candidate is never dropped.
type ConflictCheckStage struct {
	memories  storage.MemoryStore
	generator llm.TextGenerator
}

// NewConflictCheckStage returns the conflict-check stage. A nil generator
// disables the LLM path regardless of settings.
func NewConflictCheckStage(memories storage.MemoryStore, generator llm.TextGenerator) *ConflictCheckStage {
	return &ConflictCheckStage{memories: memories, generator: generator}
}

func (s *ConflictCheckStage) Name() string { return StageConflictCheck }

// Run annotates pc.DeduplicatedAtoms in place with contradiction references.
func (s *ConflictCheckStage) Run(ctx context.Context, pc *PipelineContext) error {
	if len(pc.DeduplicatedAtoms) == 0 {
		return nil
	}

	existing, err := s.memories.ListByAgent(ctx, pc.AgentID, storage.ListOptions{
		Limit:          pc.Settings.DedupeScanLimit,
		WithEmbeddings: true,
	})
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}

	now := time.Now().UTC()
	for _, atom := range pc.DeduplicatedAtoms {
		pc.AddStat("conflict_check_processed", 1)
		if len(atom.Embedding) == 0 {
			continue
		}

		band := similarityBand(existing, atom.Embedding, pc.Settings.ContradictionThreshold, pc.Settings.ReviewThreshold)
		if len(band) == 0 {
			continue
		}

		var conflicting []*types.Memory
		if pc.Settings.UseLLMConflictCheck && s.generator != nil {
			conflicting = s.detectLLM(ctx, pc, atom, band)
		} else {
			conflicting = detectByNegation(atom.Text, band)
		}

		for _, m := range conflicting {
			atom.Contradictions = append(atom.Contradictions, types.ContradictionRef{
				MemoryID:   m.ID,
				DetectedAt: now,
			})
			pc.AddStat("conflict_check_updated", 1)
			log.Printf("[conflict_check] job %s: candidate %q opposes memory %s",
				pc.JobID, truncateText(atom.Text, 40), m.ID)
		}
	}
	return nil
}

// detectLLM asks the model which band members the candidate contradicts,
// falling back to the negation heuristic on any failure.
func (s *ConflictCheckStage) detectLLM(ctx context.Context, pc *PipelineContext, atom *types.CandidateMemory, band []*types.Memory) []*types.Memory {
	texts := make([]string, len(band))
	for i, m := range band {
		texts[i] = m.Text
	}

	span := pc.Usage.Begin(usage.OpCompletion, pc.AgentID, pc.JobID, StageConflictCheck)
	response, err := s.generator.Complete(ctx, llm.BuildConflictPrompt(atom.Text, texts))
	span.End(err)
	if err != nil {
		log.Printf("[conflict_check] job %s: llm check failed, using negation heuristic: %v", pc.JobID, err)
		pc.AddStat("conflict_check_llm_failed", 1)
		return detectByNegation(atom.Text, band)
	}

	indices, err := llm.ParseContradictions(response)
	if err != nil {
		log.Printf("[conflict_check] job %s: unparseable llm response, using negation heuristic: %v", pc.JobID, err)
		pc.AddStat("conflict_check_llm_failed", 1)
		return detectByNegation(atom.Text, band)
	}

	conflicting := make([]*types.Memory, 0, len(indices))
	for _, idx := range indices {
		if idx >= len(band) {
			continue
		}
		conflicting = append(conflicting, band[idx])
	}
	return conflicting
}

// detectByNegation flags band members where a negation cue appears on
// exactly one side. Two positive statements or two negated statements about
// the same topic are treated as agreement.
func detectByNegation(candidateText string, band []*types.Memory) []*types.Memory {
	candidateNegated := negationPattern.MatchString(candidateText)
	var conflicting []*types.Memory
	for _, m := range band {
		if negationPattern.MatchString(m.Text) != candidateNegated {
			conflicting = append(conflicting, m)
		}
	}
	return conflicting
}

// similarityBand returns the memories whose similarity to the embedding
// falls in [floor, ceiling).
func similarityBand(memories []*types.Memory, embedding []float32, floor, ceiling float64) []*types.Memory {
	var band []*types.Memory
	for _, m := range memories {
		if len(m.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(embedding, m.Embedding)
		if sim >= floor && sim < ceiling {
			band = append(band, m)
		}
	}
	return band
}
