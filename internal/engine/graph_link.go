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

// Edge weights and probabilities. Heuristic edges are trusted fully; edges
// proposed by the model carry a fixed moderate probability.
const (
	derivesFromWeight  = 1.0
	precedesWeight     = 0.8
	contradictsWeight  = 0.9
	heuristicEdgeProb  = 1.0
	llmEdgeProbability = 0.65
)

// GraphLinkStage discovers relationships between the memories created by
// this run and stages them as pending edges. Heuristic edges are always
// generated; the LLM path adds a disjoint set of semantic relationship types
// on top. Nothing is written onto Memory.edges here; the graph-apply stage
// owns the merge.
type GraphLinkStage struct {
	memories  storage.MemoryStore
	edges     storage.EdgeStore
	generator llm.TextGenerator
}

// NewGraphLinkStage returns the edge discovery stage. A nil generator
// disables the LLM path regardless of settings.
func NewGraphLinkStage(memories storage.MemoryStore, edges storage.EdgeStore, generator llm.TextGenerator) *GraphLinkStage {
	return &GraphLinkStage{memories: memories, edges: edges, generator: generator}
}

func (s *GraphLinkStage) Name() string { return StageGraphLink }

// Run stages edges for pc.ClassifiedAtoms.
func (s *GraphLinkStage) Run(ctx context.Context, pc *PipelineContext) error {
	atoms := pc.ClassifiedAtoms
	if len(atoms) == 0 {
		return nil
	}
	pc.AddStat("graph_link_processed", int64(len(atoms)))

	staged := s.heuristicEdges(ctx, pc, atoms)

	if pc.Settings.UseLLMEdges && s.generator != nil {
		staged = append(staged, s.llmEdges(ctx, pc, atoms)...)
	}

	if err := s.edges.InsertMany(ctx, staged); err != nil {
		return fmt.Errorf("stage edges: %w", err)
	}
	pc.AddStat("graph_link_created", int64(len(staged)))
	return nil
}

// heuristicEdges generates the always-on edge set: derivation from the
// session's episode, sequence between adjacent atoms, co-occurrence between
// tag-sharing similar atoms, and contradiction from the conflict-check
// annotations.
func (s *GraphLinkStage) heuristicEdges(ctx context.Context, pc *PipelineContext, atoms []*types.Memory) []*types.PendingEdge {
	var staged []*types.PendingEdge

	if episodeID := s.findEpisode(ctx, pc, atoms); episodeID != "" {
		for _, atom := range atoms {
			if atom.ID == episodeID {
				continue
			}
			staged = append(staged, types.NewPendingEdge(pc.AgentID, pc.JobID,
				atom.ID, episodeID, types.EdgeDerivesFrom, derivesFromWeight, heuristicEdgeProb))
		}
	}

	if pc.SessionID != "" {
		for i := 0; i+1 < len(atoms); i++ {
			staged = append(staged, types.NewPendingEdge(pc.AgentID, pc.JobID,
				atoms[i].ID, atoms[i+1].ID, types.EdgePrecedes, precedesWeight, heuristicEdgeProb))
		}
	}

	for i := 0; i < len(atoms); i++ {
		for j := i + 1; j < len(atoms); j++ {
			if !atoms[i].SharesTag(atoms[j]) {
				continue
			}
			sim := CosineSimilarity(atoms[i].Embedding, atoms[j].Embedding)
			if sim >= pc.Settings.CoOccursThreshold {
				staged = append(staged, types.NewPendingEdge(pc.AgentID, pc.JobID,
					atoms[i].ID, atoms[j].ID, types.EdgeCoOccurs, sim, heuristicEdgeProb))
			}
		}
	}

	for _, atom := range atoms {
		for _, ref := range atom.Contradictions {
			staged = append(staged, types.NewPendingEdge(pc.AgentID, pc.JobID,
				atom.ID, ref.MemoryID, types.EdgeContradicts, contradictsWeight, heuristicEdgeProb))
		}
	}

	return staged
}

// findEpisode resolves the episode memory this run's atoms derive from: an
// episode-typed atom in the batch itself, or the session's existing episode
// memory. Returns "" when neither exists, which disables derivation edges
// for the run.
func (s *GraphLinkStage) findEpisode(ctx context.Context, pc *PipelineContext, atoms []*types.Memory) string {
	for _, atom := range atoms {
		if atom.MemoryType == types.MemoryTypeEpisode {
			return atom.ID
		}
	}
	if pc.SessionID == "" {
		return ""
	}

	existing, err := s.memories.ListByAgent(ctx, pc.AgentID, storage.ListOptions{
		Limit:      1,
		MemoryType: types.MemoryTypeEpisode,
		SessionID:  pc.SessionID,
	})
	if err != nil {
		log.Printf("[graph_link] job %s: episode lookup failed: %v", pc.JobID, err)
		return ""
	}
	if len(existing) == 0 {
		return ""
	}
	return existing[0].ID
}

// llmEdges asks the model for semantic relationships across the batch.
// Failures log and return nothing; the heuristic edges already stand.
func (s *GraphLinkStage) llmEdges(ctx context.Context, pc *PipelineContext, atoms []*types.Memory) []*types.PendingEdge {
	texts := make([]string, len(atoms))
	for i, atom := range atoms {
		texts[i] = atom.Text
	}

	span := pc.Usage.Begin(usage.OpCompletion, pc.AgentID, pc.JobID, StageGraphLink)
	response, err := s.generator.Complete(ctx, llm.BuildEdgeDiscoveryPrompt(texts))
	span.End(err)
	if err != nil {
		log.Printf("[graph_link] job %s: llm edge discovery failed: %v", pc.JobID, err)
		pc.AddStat("graph_link_llm_failed", 1)
		return nil
	}

	proposals, err := llm.ParseEdges(response)
	if err != nil {
		log.Printf("[graph_link] job %s: unparseable llm response: %v", pc.JobID, err)
		pc.AddStat("graph_link_llm_failed", 1)
		return nil
	}

	staged := make([]*types.PendingEdge, 0, len(proposals))
	for _, p := range proposals {
		if p.SourceIndex >= len(atoms) || p.TargetIndex >= len(atoms) {
			log.Printf("[graph_link] job %s: dropping edge with out-of-range index %d -> %d", pc.JobID, p.SourceIndex, p.TargetIndex)
			continue
		}
		staged = append(staged, types.NewPendingEdge(pc.AgentID, pc.JobID,
			atoms[p.SourceIndex].ID, atoms[p.TargetIndex].ID, p.EdgeType, p.Weight, llmEdgeProbability))
	}
	return staged
}
