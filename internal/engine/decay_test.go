package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/pkg/types"
)

func TestDecayStrengthHalfLife(t *testing.T) {
	model := DefaultDecayModel()
	now := time.Now().UTC()

	tests := []struct {
		name string
		days float64
		want float64
	}{
		{"fresh", 0, 1.0},
		{"one half-life", 30, 0.5},
		{"two half-lives", 60, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := now.Add(-time.Duration(tt.days * 24 * float64(time.Hour)))
			m := &types.Memory{CreatedAt: created}
			assert.InDelta(t, tt.want, model.Strength(m, now), 1e-6)
		})
	}
}

func TestDecayStrengthMonotoneWithoutReinforcement(t *testing.T) {
	model := DefaultDecayModel()
	now := time.Now().UTC()

	prev := 1.1
	for days := 0; days <= 120; days += 10 {
		m := &types.Memory{CreatedAt: now.Add(-time.Duration(days) * 24 * time.Hour)}
		s := model.Strength(m, now)
		assert.Less(t, s, prev, "strength must fall as the memory ages (day %d)", days)
		prev = s
	}
}

func TestDecayStrengthReinforcementFloor(t *testing.T) {
	model := DefaultDecayModel()
	now := time.Now().UTC()
	ancient := now.Add(-365 * 24 * time.Hour)

	heavily := &types.Memory{CreatedAt: ancient, ReinforcementCount: 25}
	// Decay contributes almost nothing after a year; the floor is the
	// capped reinforcement term.
	assert.InDelta(t, 0.2, model.Strength(heavily, now), 0.01)

	lightly := &types.Memory{CreatedAt: ancient, ReinforcementCount: 3}
	assert.InDelta(t, 0.06, model.Strength(lightly, now), 0.01)
}

func TestDecayStrengthUsesLastReinforcement(t *testing.T) {
	model := DefaultDecayModel()
	now := time.Now().UTC()
	reinforced := now.Add(-1 * 24 * time.Hour)

	m := &types.Memory{
		CreatedAt:          now.Add(-90 * 24 * time.Hour),
		LastReinforcedAt:   &reinforced,
		ReinforcementCount: 1,
	}
	// A memory touched yesterday decays from yesterday, not from creation.
	assert.Greater(t, model.Strength(m, now), 0.9)
}

func TestDecayStrengthClampsFutureTimestamps(t *testing.T) {
	model := DefaultDecayModel()
	now := time.Now().UTC()

	m := &types.Memory{CreatedAt: now.Add(time.Hour)}
	assert.Equal(t, 1.0, model.Strength(m, now))
}

func TestDecayConfidenceContradictionPenalty(t *testing.T) {
	model := DefaultDecayModel()

	m := &types.Memory{
		Confidence: 0.8,
		Contradictions: []types.ContradictionRef{
			{MemoryID: "a"}, {MemoryID: "b"},
		},
	}
	assert.InDelta(t, 0.6, model.Confidence(m), 1e-9)
}

func TestDecayConfidenceFloor(t *testing.T) {
	model := DefaultDecayModel()

	m := &types.Memory{Confidence: 0.3}
	for i := 0; i < 8; i++ {
		m.Contradictions = append(m.Contradictions, types.ContradictionRef{MemoryID: "x"})
	}
	assert.Equal(t, 0.05, model.Confidence(m), "confidence never drops below the floor")
}

func TestDecayConfidenceReinforcementBonusCapped(t *testing.T) {
	model := DefaultDecayModel()

	m := &types.Memory{Confidence: 0.7, ReinforcementCount: 3}
	assert.InDelta(t, 0.73, model.Confidence(m), 1e-9)

	m.ReinforcementCount = 50
	assert.InDelta(t, 0.75, model.Confidence(m), 1e-9, "bonus caps at 0.05")

	m.Confidence = 0.98
	assert.Equal(t, 1.0, model.Confidence(m), "confidence clamps at 1")
}

func TestConfidenceUpdateStageWritesOnlyChangedRows(t *testing.T) {
	memories := newMockMemoryStore()
	now := time.Now().UTC()

	stale := testMemory("agent-1", "mem-stale", "Old fact nobody reinforced", nil)
	stale.CreatedAt = now.Add(-30 * 24 * time.Hour)
	stale.Strength = 1.0
	stale.Confidence = 0.6
	require.NoError(t, memories.Insert(context.Background(), stale))

	// Already at its recomputed values (age clamps to zero), so the pass
	// must skip the write.
	settled := testMemory("agent-1", "mem-settled", "Fact already rescored", nil)
	settled.CreatedAt = now.Add(time.Hour)
	settled.Strength = 1.0
	settled.Confidence = 0.6
	require.NoError(t, memories.Insert(context.Background(), settled))

	stage := NewConfidenceUpdateStage(memories, DefaultDecayModel())
	pc := newTestContext("agent-1", "")

	require.NoError(t, stage.Run(context.Background(), pc))

	assert.Equal(t, int64(2), pc.Stat("confidence_update_processed"))
	assert.Equal(t, int64(1), pc.Stat("confidence_update_updated"))

	got, err := memories.Get(context.Background(), "agent-1", "mem-stale")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Strength, 1e-3)
	assert.Equal(t, 0.6, got.Confidence)
}

func TestConfidenceUpdateStageAppliesContradictionPenalty(t *testing.T) {
	memories := newMockMemoryStore()
	now := time.Now().UTC()

	m := testMemory("agent-1", "mem-1", "Contradicted claim", nil)
	m.CreatedAt = now
	m.Confidence = 0.8
	m.Contradictions = []types.ContradictionRef{{MemoryID: "mem-2"}}
	require.NoError(t, memories.Insert(context.Background(), m))

	stage := NewConfidenceUpdateStage(memories, DefaultDecayModel())
	pc := newTestContext("agent-1", "")

	require.NoError(t, stage.Run(context.Background(), pc))

	got, err := memories.Get(context.Background(), "agent-1", "mem-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
}
