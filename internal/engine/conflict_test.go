package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/pkg/types"
)

func TestConflictCheckDetectsNegatedOpposition(t *testing.T) {
	memories := newMockMemoryStore()
	existing := testMemory("agent-1", "mem-1", "User does not want progress bars", []float32{0.8, 0.6})
	require.NoError(t, memories.Insert(context.Background(), existing))

	stage := NewConflictCheckStage(memories, nil)
	pc := newTestContext("agent-1", "session-1")
	pc.DeduplicatedAtoms = []*types.CandidateMemory{{
		Text:      "User wants progress bars enabled",
		Embedding: []float32{1, 0},
	}}

	require.NoError(t, stage.Run(context.Background(), pc))

	require.Len(t, pc.DeduplicatedAtoms, 1, "conflict-check never drops candidates")
	atom := pc.DeduplicatedAtoms[0]
	require.Len(t, atom.Contradictions, 1)
	assert.Equal(t, "mem-1", atom.Contradictions[0].MemoryID)
	assert.False(t, atom.Contradictions[0].DetectedAt.IsZero())
	assert.Equal(t, int64(1), pc.Stat("conflict_check_updated"))
}

func TestConflictCheckBothSidesNegatedAgree(t *testing.T) {
	memories := newMockMemoryStore()
	require.NoError(t, memories.Insert(context.Background(),
		testMemory("agent-1", "mem-1", "User does not want progress bars", []float32{0.8, 0.6})))

	stage := NewConflictCheckStage(memories, nil)
	pc := newTestContext("agent-1", "session-1")
	pc.DeduplicatedAtoms = []*types.CandidateMemory{{
		Text:      "User never wants progress bars",
		Embedding: []float32{1, 0},
	}}

	require.NoError(t, stage.Run(context.Background(), pc))
	assert.Empty(t, pc.DeduplicatedAtoms[0].Contradictions)
}

func TestConflictCheckIgnoresOutsideBand(t *testing.T) {
	memories := newMockMemoryStore()
	// Above the band: near-duplicates are dedupe's business.
	require.NoError(t, memories.Insert(context.Background(),
		testMemory("agent-1", "mem-high", "User does not like dark mode", []float32{0.9, 0.436})))
	// Below the band: unrelated topic.
	require.NoError(t, memories.Insert(context.Background(),
		testMemory("agent-1", "mem-low", "The deploy never runs on Fridays", []float32{0.3, 0.954})))

	stage := NewConflictCheckStage(memories, nil)
	pc := newTestContext("agent-1", "session-1")
	pc.DeduplicatedAtoms = []*types.CandidateMemory{{
		Text:      "User likes dark mode",
		Embedding: []float32{1, 0},
	}}

	require.NoError(t, stage.Run(context.Background(), pc))
	assert.Empty(t, pc.DeduplicatedAtoms[0].Contradictions)
}

func TestConflictCheckNegationNeedsWordBoundary(t *testing.T) {
	memories := newMockMemoryStore()
	require.NoError(t, memories.Insert(context.Background(),
		testMemory("agent-1", "mem-1", "User keeps preferences in a dotfile", []float32{0.8, 0.6})))

	stage := NewConflictCheckStage(memories, nil)
	pc := newTestContext("agent-1", "session-1")
	// "note" and "nothing" contain "not" but are not negations.
	pc.DeduplicatedAtoms = []*types.CandidateMemory{{
		Text:      "Users note preferences, nothing else",
		Embedding: []float32{1, 0},
	}}

	require.NoError(t, stage.Run(context.Background(), pc))
	assert.Empty(t, pc.DeduplicatedAtoms[0].Contradictions)
}

func TestConflictCheckLLMMode(t *testing.T) {
	memories := newMockMemoryStore()
	require.NoError(t, memories.Insert(context.Background(),
		testMemory("agent-1", "mem-1", "User works from the office", []float32{0.8, 0.6})))

	gen := &fakeGenerator{response: `{"contradictions": [0, 7]}`}
	stage := NewConflictCheckStage(memories, gen)

	pc := newTestContext("agent-1", "session-1")
	pc.Settings.UseLLMConflictCheck = true
	pc.DeduplicatedAtoms = []*types.CandidateMemory{{
		Text:      "User works remotely full time",
		Embedding: []float32{1, 0},
	}}

	require.NoError(t, stage.Run(context.Background(), pc))

	atom := pc.DeduplicatedAtoms[0]
	require.Len(t, atom.Contradictions, 1, "out-of-range index must be dropped")
	assert.Equal(t, "mem-1", atom.Contradictions[0].MemoryID)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "User works remotely full time")
	assert.Contains(t, gen.prompts[0], "User works from the office")
}

func TestConflictCheckLLMFailureFallsBackToNegation(t *testing.T) {
	memories := newMockMemoryStore()
	require.NoError(t, memories.Insert(context.Background(),
		testMemory("agent-1", "mem-1", "User does not want progress bars", []float32{0.8, 0.6})))

	gen := &fakeGenerator{err: errors.New("model offline")}
	stage := NewConflictCheckStage(memories, gen)

	pc := newTestContext("agent-1", "session-1")
	pc.Settings.UseLLMConflictCheck = true
	pc.DeduplicatedAtoms = []*types.CandidateMemory{{
		Text:      "User wants progress bars enabled",
		Embedding: []float32{1, 0},
	}}

	require.NoError(t, stage.Run(context.Background(), pc))

	require.Len(t, pc.DeduplicatedAtoms[0].Contradictions, 1)
	assert.Equal(t, int64(1), pc.Stat("conflict_check_llm_failed"))
}
