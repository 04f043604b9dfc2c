package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/reveriehq/reverie/internal/llm"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/internal/usage"
	"github.com/reveriehq/reverie/pkg/types"
)

// DeduplicateStage embeds each candidate and compares it against the agent's
// existing memories. Near-identical candidates reinforce the existing memory
// instead of inserting a copy; borderline matches are kept but annotated for
// later review. Embeddings computed here ride along on the candidate for the
// rest of the run.
type DeduplicateStage struct {
	memories storage.MemoryStore
	embedder llm.EmbeddingGenerator
}

// NewDeduplicateStage returns the deduplication stage.
func NewDeduplicateStage(memories storage.MemoryStore, embedder llm.EmbeddingGenerator) *DeduplicateStage {
	return &DeduplicateStage{memories: memories, embedder: embedder}
}

func (s *DeduplicateStage) Name() string { return StageDeduplicate }

// Run filters pc.ExtractedAtoms into pc.DeduplicatedAtoms. The existing
// memories are fetched once per run, bounded by the dedupe scan limit.
func (s *DeduplicateStage) Run(ctx context.Context, pc *PipelineContext) error {
	if len(pc.ExtractedAtoms) == 0 {
		return nil
	}

	existing, err := s.memories.ListByAgent(ctx, pc.AgentID, storage.ListOptions{
		Limit:          pc.Settings.DedupeScanLimit,
		WithEmbeddings: true,
	})
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}

	kept := make([]*types.CandidateMemory, 0, len(pc.ExtractedAtoms))
	for _, atom := range pc.ExtractedAtoms {
		pc.AddStat("deduplicate_processed", 1)

		if err := s.embed(ctx, pc, atom); err != nil {
			return err
		}

		best, sim := bestMatch(existing, atom.Embedding)
		switch {
		case best != nil && sim >= pc.Settings.DuplicateThreshold:
			if err := s.memories.Reinforce(ctx, pc.AgentID, best.ID); err != nil {
				return fmt.Errorf("reinforce %s: %w", best.ID, err)
			}
			pc.AddStat("deduplicate_updated", 1)
			log.Printf("[deduplicate] job %s: candidate %q reinforces memory %s (sim=%.3f)",
				pc.JobID, truncateText(atom.Text, 40), best.ID, sim)

		case best != nil && sim >= pc.Settings.ReviewThreshold:
			atom.SetMeta(types.MetaLikelyDuplicateOf, best.ID)
			atom.SetMeta(types.MetaSimilarityScore, sim)
			kept = append(kept, atom)

		default:
			kept = append(kept, atom)
		}
	}

	pc.DeduplicatedAtoms = kept
	pc.AddStat("deduplicate_created", int64(len(kept)))
	return nil
}

// embed computes the candidate's document-mode embedding inside a usage span
// that is released on error paths too.
func (s *DeduplicateStage) embed(ctx context.Context, pc *PipelineContext, atom *types.CandidateMemory) (err error) {
	span := pc.Usage.Begin(usage.OpEmbedding, pc.AgentID, pc.JobID, StageDeduplicate)
	defer func() { span.End(err) }()

	vec, err := s.embedder.Embed(ctx, atom.Text, llm.EmbedDocument)
	if err != nil {
		return fmt.Errorf("embed candidate: %w", err)
	}
	atom.Embedding = vec
	return nil
}

// bestMatch returns the existing memory most similar to the embedding, or
// nil when the scan set is empty or carries no embeddings.
func bestMatch(memories []*types.Memory, embedding []float32) (*types.Memory, float64) {
	var best *types.Memory
	bestSim := -1.0
	for _, m := range memories {
		if len(m.Embedding) == 0 {
			continue
		}
		if sim := CosineSimilarity(embedding, m.Embedding); sim > bestSim {
			best, bestSim = m, sim
		}
	}
	return best, bestSim
}

// truncateText shortens log excerpts.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
