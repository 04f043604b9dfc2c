package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
)

// maintenanceScanLimit bounds the per-pass memory scan of the maintenance
// stages. Agents beyond this size catch up over successive passes because
// the scan orders by least recently updated.
const maintenanceScanLimit = 10000

// ConfidenceUpdateStage is the periodic decay pass: it recomputes strength
// and confidence for every memory in the agent partition from age,
// reinforcement and recorded contradictions. Only memories whose scores
// actually moved are written back.
type ConfidenceUpdateStage struct {
	memories storage.MemoryStore
	model    DecayModel
}

// NewConfidenceUpdateStage returns the decay pass using the given curve.
func NewConfidenceUpdateStage(memories storage.MemoryStore, model DecayModel) *ConfidenceUpdateStage {
	return &ConfidenceUpdateStage{memories: memories, model: model}
}

func (s *ConfidenceUpdateStage) Name() string { return StageConfidenceUpdate }

// Run recomputes and persists scores for the agent's memories.
func (s *ConfidenceUpdateStage) Run(ctx context.Context, pc *PipelineContext) error {
	memories, err := s.memories.ListByAgent(ctx, pc.AgentID, storage.ListOptions{
		Limit:     maintenanceScanLimit,
		SortBy:    "updated_at",
		SortOrder: "asc",
	})
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}

	now := time.Now().UTC()
	var updated int64
	for _, m := range memories {
		pc.AddStat("confidence_update_processed", 1)

		strength := s.model.Strength(m, now)
		confidence := s.model.Confidence(m)
		if math.Abs(strength-m.Strength) < 1e-9 && math.Abs(confidence-m.Confidence) < 1e-9 {
			continue
		}

		if err := s.memories.UpdateScores(ctx, pc.AgentID, m.ID, confidence, strength); err != nil {
			return fmt.Errorf("update scores for %s: %w", m.ID, err)
		}
		updated++
	}

	pc.AddStat("confidence_update_updated", updated)
	log.Printf("[confidence_update] agent %s: rescored %d of %d memories", pc.AgentID, updated, len(memories))
	return nil
}
