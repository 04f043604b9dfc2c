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

// PromotionPolicy holds the thresholds of the layer transition rules. Rules
// are evaluated in a fixed order and the first match wins; a memory moves at
// most one layer per pass.
type PromotionPolicy struct {
	// Fast-track to semantic, regardless of age.
	FastTrackConfidence    float64
	FastTrackReinforcement int

	// episodic -> semantic.
	MinAgeDays       float64
	MinReinforcement int
	MinConfidence    float64
	// BorderlineConfidence marks episodic promotions below it for review.
	BorderlineConfidence float64

	// semantic -> archival.
	ArchivalMaxStrength      float64
	ArchivalMinAgeDays       float64
	ArchivalMaxReinforcement int
	// ArchivalBorderlineStrength marks archival moves above it for review.
	ArchivalBorderlineStrength float64

	// semantic -> episodic demotion for contradicted low-confidence memories.
	DemotionConfidence float64
}

// DefaultPromotionPolicy returns the documented default thresholds.
func DefaultPromotionPolicy() PromotionPolicy {
	return PromotionPolicy{
		FastTrackConfidence:        0.9,
		FastTrackReinforcement:     5,
		MinAgeDays:                 14,
		MinReinforcement:           3,
		MinConfidence:              0.7,
		BorderlineConfidence:       0.77,
		ArchivalMaxStrength:        0.25,
		ArchivalMinAgeDays:         60,
		ArchivalMaxReinforcement:   5,
		ArchivalBorderlineStrength: 0.225,
		DemotionConfidence:         0.5,
	}
}

// Evaluate applies the transition rules to one memory. It returns the target
// layer of the first matching rule, whether the match is borderline (close
// enough to the threshold to deserve a second opinion), and whether any rule
// matched at all.
func (p PromotionPolicy) Evaluate(m *types.Memory, now time.Time) (to string, borderline, ok bool) {
	age := m.AgeDays(now)

	switch {
	case m.Confidence >= p.FastTrackConfidence &&
		m.ReinforcementCount >= p.FastTrackReinforcement &&
		m.Layer != types.LayerSemantic && m.Layer != types.LayerArchival:
		return types.LayerSemantic, false, true

	case m.Layer == types.LayerEpisodic &&
		age >= p.MinAgeDays &&
		m.ReinforcementCount >= p.MinReinforcement &&
		m.Confidence >= p.MinConfidence:
		return types.LayerSemantic, m.Confidence < p.BorderlineConfidence, true

	case m.Layer == types.LayerSemantic &&
		m.Strength <= p.ArchivalMaxStrength &&
		age >= p.ArchivalMinAgeDays &&
		m.ReinforcementCount <= p.ArchivalMaxReinforcement:
		return types.LayerArchival, m.Strength > p.ArchivalBorderlineStrength, true

	case m.Layer == types.LayerSemantic &&
		m.Confidence < p.DemotionConfidence &&
		len(m.Contradictions) > 0:
		return types.LayerEpisodic, false, true
	}

	return "", false, false
}

// LayerPromoteStage moves memories between retention tiers according to the
// promotion policy. Borderline matches can be sent to the model for a
// second opinion; a negative review skips the transition for this pass and a
// failed review applies the heuristic decision.
type LayerPromoteStage struct {
	memories  storage.MemoryStore
	generator llm.TextGenerator
	policy    PromotionPolicy
}

// NewLayerPromoteStage returns the promotion stage. A nil generator disables
// the review path regardless of settings.
func NewLayerPromoteStage(memories storage.MemoryStore, generator llm.TextGenerator, policy PromotionPolicy) *LayerPromoteStage {
	return &LayerPromoteStage{memories: memories, generator: generator, policy: policy}
}

func (s *LayerPromoteStage) Name() string { return StageLayerPromote }

// Run evaluates every memory in the agent partition and applies at most one
// transition each.
func (s *LayerPromoteStage) Run(ctx context.Context, pc *PipelineContext) error {
	memories, err := s.memories.ListByAgent(ctx, pc.AgentID, storage.ListOptions{
		Limit:     maintenanceScanLimit,
		SortBy:    "updated_at",
		SortOrder: "asc",
	})
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}

	now := time.Now().UTC()
	for _, m := range memories {
		pc.AddStat("layer_promote_processed", 1)

		to, borderline, ok := s.policy.Evaluate(m, now)
		if !ok {
			continue
		}

		if borderline && pc.Settings.UseLLMReview && s.generator != nil {
			if !s.review(ctx, pc, m, to, now) {
				continue
			}
		}

		if err := s.memories.UpdateLayer(ctx, pc.AgentID, m.ID, to); err != nil {
			return fmt.Errorf("move %s to %s: %w", m.ID, to, err)
		}
		pc.AddStat("layer_promote_updated", 1)
		log.Printf("[layer_promote] agent %s: memory %s %s -> %s", pc.AgentID, m.ID, m.Layer, to)
	}
	return nil
}

// review asks the model to confirm a borderline transition. Returns true
// when the transition should proceed; failures keep the heuristic decision.
func (s *LayerPromoteStage) review(ctx context.Context, pc *PipelineContext, m *types.Memory, to string, now time.Time) bool {
	prompt := llm.BuildReviewPrompt(m.Text, m.Layer, to,
		m.Confidence, m.Strength, m.ReinforcementCount, int(m.AgeDays(now)), len(m.Contradictions))

	span := pc.Usage.Begin(usage.OpCompletion, pc.AgentID, pc.JobID, StageLayerPromote)
	response, err := s.generator.Complete(ctx, prompt)
	span.End(err)
	if err != nil {
		log.Printf("[layer_promote] agent %s: review failed for %s, applying heuristic: %v", pc.AgentID, m.ID, err)
		pc.AddStat("layer_promote_llm_failed", 1)
		return true
	}

	review, err := llm.ParseReview(response)
	if err != nil {
		log.Printf("[layer_promote] agent %s: unparseable review for %s, applying heuristic: %v", pc.AgentID, m.ID, err)
		pc.AddStat("layer_promote_llm_failed", 1)
		return true
	}

	if !review.ShouldPromote {
		log.Printf("[layer_promote] agent %s: review rejected %s -> %s: %s", pc.AgentID, m.ID, to, review.Reason)
	}
	return review.ShouldPromote
}
