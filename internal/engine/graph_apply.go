package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// graphApplyBatch bounds how many staged edges one pass consumes. Leftovers
// are picked up by the next run.
const graphApplyBatch = 500

// GraphApplyStage consumes the pending edge staging area: it groups staged
// edges by source memory, merges them into Memory.edges deduplicated by
// (target, type) with highest-weight-wins semantics, and marks the staged
// records applied. Replaying a batch is a no-op. Edges whose source memory
// no longer resolves are counted, marked applied and skipped so they cannot
// wedge the staging area.
type GraphApplyStage struct {
	memories storage.MemoryStore
	edges    storage.EdgeStore
}

// NewGraphApplyStage returns the apply stage.
func NewGraphApplyStage(memories storage.MemoryStore, edges storage.EdgeStore) *GraphApplyStage {
	return &GraphApplyStage{memories: memories, edges: edges}
}

func (s *GraphApplyStage) Name() string { return StageGraphApply }

// Run merges one batch of staged edges into their source memories.
func (s *GraphApplyStage) Run(ctx context.Context, pc *PipelineContext) error {
	staged, err := s.edges.ListUnapplied(ctx, pc.AgentID, graphApplyBatch)
	if err != nil {
		return fmt.Errorf("list unapplied edges: %w", err)
	}
	if len(staged) == 0 {
		return nil
	}
	pc.AddStat("graph_apply_processed", int64(len(staged)))

	bySource := make(map[string][]*types.PendingEdge)
	order := make([]string, 0, len(staged))
	for _, edge := range staged {
		if _, ok := bySource[edge.SourceID]; !ok {
			order = append(order, edge.SourceID)
		}
		bySource[edge.SourceID] = append(bySource[edge.SourceID], edge)
	}

	now := time.Now().UTC()
	consumed := make([]string, 0, len(staged))

	for _, sourceID := range order {
		group := bySource[sourceID]

		memory, err := s.memories.Get(ctx, pc.AgentID, sourceID)
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("[graph_apply] agent %s: source memory %s gone, skipping %d edges", pc.AgentID, sourceID, len(group))
			pc.AddStat("graph_apply_skipped", int64(len(group)))
			for _, edge := range group {
				consumed = append(consumed, edge.ID)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("load source memory %s: %w", sourceID, err)
		}

		if mergeEdges(memory, group, now) {
			memory.UpdatedAt = now
			if err := s.memories.Update(ctx, memory); err != nil {
				return fmt.Errorf("update memory %s: %w", sourceID, err)
			}
			pc.AddStat("graph_apply_updated", 1)
		}
		for _, edge := range group {
			consumed = append(consumed, edge.ID)
		}
	}

	if err := s.edges.MarkApplied(ctx, pc.AgentID, consumed); err != nil {
		return fmt.Errorf("mark edges applied: %w", err)
	}
	return nil
}

// mergeEdges folds staged edges into the memory's applied edge set. Edges
// are keyed by (target, type); an incoming edge replaces an existing one
// only when its weight is strictly higher, and the probability follows the
// winning record. Returns whether the edge set changed.
func mergeEdges(memory *types.Memory, staged []*types.PendingEdge, now time.Time) bool {
	type edgeKey struct {
		target   string
		edgeType string
	}

	index := make(map[edgeKey]int, len(memory.Edges))
	for i, e := range memory.Edges {
		index[edgeKey{e.TargetID, e.EdgeType}] = i
	}

	changed := false
	for _, pending := range staged {
		key := edgeKey{pending.TargetID, pending.EdgeType}
		if i, ok := index[key]; ok {
			if pending.Weight > memory.Edges[i].Weight {
				memory.Edges[i].Weight = pending.Weight
				memory.Edges[i].Probability = pending.Probability
				memory.Edges[i].AppliedAt = now
				changed = true
			}
			continue
		}
		index[key] = len(memory.Edges)
		memory.Edges = append(memory.Edges, types.MemoryEdge{
			TargetID:    pending.TargetID,
			EdgeType:    pending.EdgeType,
			Weight:      pending.Weight,
			Probability: pending.Probability,
			AppliedAt:   now,
		})
		changed = true
	}
	return changed
}
