package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/pkg/types"
)

// classified builds a persisted memory shaped like classify output.
func classified(id, memoryType string, tags []string, embedding []float32) *types.Memory {
	now := time.Now().UTC()
	return &types.Memory{
		ID:         id,
		AgentID:    "agent-1",
		Text:       "Memory " + id,
		CreatedAt:  now,
		UpdatedAt:  now,
		MemoryType: memoryType,
		Layer:      types.LayerEpisodic,
		Tags:       tags,
		Embedding:  embedding,
		Confidence: 0.6,
		Strength:   1.0,
	}
}

func TestGraphLinkDerivesFromBatchEpisode(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	stage := NewGraphLinkStage(memories, edges, nil)

	pc := newTestContext("agent-1", "session-1")
	pc.ClassifiedAtoms = []*types.Memory{
		classified("ep-1", types.MemoryTypeEpisode, nil, nil),
		classified("mem-a", types.MemoryTypeFact, nil, nil),
		classified("mem-b", types.MemoryTypeFact, nil, nil),
	}

	require.NoError(t, stage.Run(context.Background(), pc))

	derived := edges.byType(types.EdgeDerivesFrom)
	require.Len(t, derived, 2, "every non-episode atom derives from the episode")
	for _, e := range derived {
		assert.Equal(t, "ep-1", e.TargetID)
		assert.Equal(t, 1.0, e.Weight)
		assert.Equal(t, 1.0, e.Probability)
		assert.Equal(t, "job-1", e.JobID)
		assert.False(t, e.Applied)
	}
	assert.Equal(t, int64(3), pc.Stat("graph_link_processed"))
}

func TestGraphLinkDerivesFromStoredSessionEpisode(t *testing.T) {
	memories := newMockMemoryStore()
	episode := testMemory("agent-1", "ep-stored", "Session recap", nil)
	episode.MemoryType = types.MemoryTypeEpisode
	episode.SourceSessionID = "session-1"
	require.NoError(t, memories.Insert(context.Background(), episode))

	// An episode from another session must not be picked up.
	other := testMemory("agent-1", "ep-other", "Different session recap", nil)
	other.MemoryType = types.MemoryTypeEpisode
	other.SourceSessionID = "session-2"
	require.NoError(t, memories.Insert(context.Background(), other))

	edges := newMockEdgeStore()
	stage := NewGraphLinkStage(memories, edges, nil)

	pc := newTestContext("agent-1", "session-1")
	pc.ClassifiedAtoms = []*types.Memory{classified("mem-a", types.MemoryTypeFact, nil, nil)}

	require.NoError(t, stage.Run(context.Background(), pc))

	derived := edges.byType(types.EdgeDerivesFrom)
	require.Len(t, derived, 1)
	assert.Equal(t, "mem-a", derived[0].SourceID)
	assert.Equal(t, "ep-stored", derived[0].TargetID)
}

func TestGraphLinkNoEpisodeNoDerivation(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	stage := NewGraphLinkStage(memories, edges, nil)

	pc := newTestContext("agent-1", "session-1")
	pc.ClassifiedAtoms = []*types.Memory{
		classified("mem-a", types.MemoryTypeFact, nil, nil),
		classified("mem-b", types.MemoryTypeFact, nil, nil),
	}

	require.NoError(t, stage.Run(context.Background(), pc))

	assert.Empty(t, edges.byType(types.EdgeDerivesFrom))
	assert.Len(t, edges.byType(types.EdgePrecedes), 1, "sequence edges do not need an episode")
}

func TestGraphLinkPrecedesChainsSessionAtoms(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	stage := NewGraphLinkStage(memories, edges, nil)

	pc := newTestContext("agent-1", "session-1")
	pc.ClassifiedAtoms = []*types.Memory{
		classified("mem-a", types.MemoryTypeFact, nil, nil),
		classified("mem-b", types.MemoryTypeFact, nil, nil),
		classified("mem-c", types.MemoryTypeFact, nil, nil),
	}

	require.NoError(t, stage.Run(context.Background(), pc))

	precedes := edges.byType(types.EdgePrecedes)
	require.Len(t, precedes, 2)
	assert.Equal(t, "mem-a", precedes[0].SourceID)
	assert.Equal(t, "mem-b", precedes[0].TargetID)
	assert.Equal(t, "mem-b", precedes[1].SourceID)
	assert.Equal(t, "mem-c", precedes[1].TargetID)
	for _, e := range precedes {
		assert.Equal(t, 0.8, e.Weight)
	}
}

func TestGraphLinkNoSessionNoPrecedes(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	stage := NewGraphLinkStage(memories, edges, nil)

	pc := newTestContext("agent-1", "")
	pc.ClassifiedAtoms = []*types.Memory{
		classified("mem-a", types.MemoryTypeFact, nil, nil),
		classified("mem-b", types.MemoryTypeFact, nil, nil),
	}

	require.NoError(t, stage.Run(context.Background(), pc))

	assert.Empty(t, edges.byType(types.EdgePrecedes))
}

func TestGraphLinkCoOccursNeedsTagAndSimilarity(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	stage := NewGraphLinkStage(memories, edges, nil)

	pc := newTestContext("agent-1", "")
	pc.ClassifiedAtoms = []*types.Memory{
		classified("mem-a", types.MemoryTypeFact, []string{"editor"}, []float32{1, 0}),
		classified("mem-b", types.MemoryTypeFact, []string{"editor"}, []float32{0.9, 0.436}),
		classified("mem-c", types.MemoryTypeFact, []string{"editor"}, []float32{0.3, 0.954}),
		classified("mem-d", types.MemoryTypeFact, []string{"deploys"}, []float32{1, 0}),
	}

	require.NoError(t, stage.Run(context.Background(), pc))

	co := edges.byType(types.EdgeCoOccurs)
	require.Len(t, co, 1, "similarity below threshold or disjoint tags stage nothing")
	assert.Equal(t, "mem-a", co[0].SourceID)
	assert.Equal(t, "mem-b", co[0].TargetID)
	assert.InDelta(t, 0.9, co[0].Weight, 0.01, "co-occurrence weight is the similarity")
}

func TestGraphLinkContradictsFromAnnotations(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	stage := NewGraphLinkStage(memories, edges, nil)

	atom := classified("mem-a", types.MemoryTypeFact, nil, nil)
	atom.Contradictions = []types.ContradictionRef{{MemoryID: "mem-old", DetectedAt: time.Now().UTC()}}

	pc := newTestContext("agent-1", "")
	pc.ClassifiedAtoms = []*types.Memory{atom}

	require.NoError(t, stage.Run(context.Background(), pc))

	contra := edges.byType(types.EdgeContradicts)
	require.Len(t, contra, 1)
	assert.Equal(t, "mem-a", contra[0].SourceID)
	assert.Equal(t, "mem-old", contra[0].TargetID)
	assert.Equal(t, 0.9, contra[0].Weight)
}

func TestGraphLinkLLMEdges(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	generator := &fakeGenerator{response: `[
		{"source_index": 0, "target_index": 1, "edge_type": "causes", "weight": 0.7},
		{"source_index": 0, "target_index": 5, "edge_type": "supports", "weight": 0.6}
	]`}
	stage := NewGraphLinkStage(memories, edges, generator)

	pc := newTestContext("agent-1", "")
	pc.Settings.UseLLMEdges = true
	pc.ClassifiedAtoms = []*types.Memory{
		classified("mem-a", types.MemoryTypeFact, nil, nil),
		classified("mem-b", types.MemoryTypeFact, nil, nil),
	}

	require.NoError(t, stage.Run(context.Background(), pc))

	causes := edges.byType(types.EdgeCauses)
	require.Len(t, causes, 1, "out-of-range target must be dropped")
	assert.Equal(t, "mem-a", causes[0].SourceID)
	assert.Equal(t, "mem-b", causes[0].TargetID)
	assert.Equal(t, 0.7, causes[0].Weight)
	assert.Equal(t, 0.65, causes[0].Probability)
	assert.Empty(t, edges.byType(types.EdgeSupports))
}

func TestGraphLinkLLMFailureKeepsHeuristicEdges(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	generator := &fakeGenerator{err: errors.New("model unavailable")}
	stage := NewGraphLinkStage(memories, edges, generator)

	pc := newTestContext("agent-1", "session-1")
	pc.Settings.UseLLMEdges = true
	pc.ClassifiedAtoms = []*types.Memory{
		classified("mem-a", types.MemoryTypeFact, nil, nil),
		classified("mem-b", types.MemoryTypeFact, nil, nil),
	}

	require.NoError(t, stage.Run(context.Background(), pc))

	assert.Len(t, edges.byType(types.EdgePrecedes), 1)
	assert.Equal(t, int64(1), pc.Stat("graph_link_llm_failed"))
}

func TestGraphApplyMergesIntoSource(t *testing.T) {
	memories := newMockMemoryStore()
	source := testMemory("agent-1", "mem-1", "Source memory", nil)
	require.NoError(t, memories.Insert(context.Background(), source))

	edges := newMockEdgeStore()
	pending := types.NewPendingEdge("agent-1", "job-1", "mem-1", "mem-2", types.EdgeCoOccurs, 0.9, 1.0)
	require.NoError(t, edges.InsertMany(context.Background(), []*types.PendingEdge{pending}))

	stage := NewGraphApplyStage(memories, edges)
	pc := newTestContext("agent-1", "session-1")

	require.NoError(t, stage.Run(context.Background(), pc))

	got, err := memories.Get(context.Background(), "agent-1", "mem-1")
	require.NoError(t, err)
	require.Len(t, got.Edges, 1)
	assert.Equal(t, "mem-2", got.Edges[0].TargetID)
	assert.Equal(t, types.EdgeCoOccurs, got.Edges[0].EdgeType)
	assert.Equal(t, 0.9, got.Edges[0].Weight)
	assert.False(t, got.Edges[0].AppliedAt.IsZero())

	assert.True(t, pending.Applied)
	assert.NotNil(t, pending.AppliedAt)
	assert.Equal(t, int64(1), pc.Stat("graph_apply_processed"))
	assert.Equal(t, int64(1), pc.Stat("graph_apply_updated"))
}

func TestGraphApplyHighestWeightWins(t *testing.T) {
	memories := newMockMemoryStore()
	source := testMemory("agent-1", "mem-1", "Source memory", nil)
	source.Edges = []types.MemoryEdge{{
		TargetID:    "mem-2",
		EdgeType:    types.EdgeCoOccurs,
		Weight:      0.5,
		Probability: 1.0,
		AppliedAt:   time.Now().UTC().Add(-time.Hour),
	}}
	require.NoError(t, memories.Insert(context.Background(), source))

	edges := newMockEdgeStore()
	stronger := types.NewPendingEdge("agent-1", "job-1", "mem-1", "mem-2", types.EdgeCoOccurs, 0.9, 0.65)
	weaker := types.NewPendingEdge("agent-1", "job-1", "mem-1", "mem-3", types.EdgeCoOccurs, 0.3, 1.0)
	require.NoError(t, edges.InsertMany(context.Background(), []*types.PendingEdge{stronger, weaker}))

	stage := NewGraphApplyStage(memories, edges)
	pc := newTestContext("agent-1", "session-1")

	require.NoError(t, stage.Run(context.Background(), pc))

	got, err := memories.Get(context.Background(), "agent-1", "mem-1")
	require.NoError(t, err)
	require.Len(t, got.Edges, 2)
	assert.Equal(t, 0.9, got.Edges[0].Weight, "higher staged weight replaces the applied edge")
	assert.Equal(t, 0.65, got.Edges[0].Probability, "probability follows the winning record")
	assert.Equal(t, "mem-3", got.Edges[1].TargetID)
}

func TestGraphApplyEqualWeightLeavesEdgeAlone(t *testing.T) {
	memories := newMockMemoryStore()
	appliedAt := time.Now().UTC().Add(-time.Hour)
	source := testMemory("agent-1", "mem-1", "Source memory", nil)
	source.Edges = []types.MemoryEdge{{
		TargetID:    "mem-2",
		EdgeType:    types.EdgeCoOccurs,
		Weight:      0.9,
		Probability: 1.0,
		AppliedAt:   appliedAt,
	}}
	require.NoError(t, memories.Insert(context.Background(), source))

	edges := newMockEdgeStore()
	replay := types.NewPendingEdge("agent-1", "job-1", "mem-1", "mem-2", types.EdgeCoOccurs, 0.9, 0.65)
	require.NoError(t, edges.InsertMany(context.Background(), []*types.PendingEdge{replay}))

	stage := NewGraphApplyStage(memories, edges)
	pc := newTestContext("agent-1", "session-1")

	require.NoError(t, stage.Run(context.Background(), pc))

	got, err := memories.Get(context.Background(), "agent-1", "mem-1")
	require.NoError(t, err)
	require.Len(t, got.Edges, 1)
	assert.Equal(t, 1.0, got.Edges[0].Probability, "equal weight changes nothing")
	assert.Equal(t, appliedAt, got.Edges[0].AppliedAt)
	assert.Zero(t, pc.Stat("graph_apply_updated"))
	assert.True(t, replay.Applied, "replayed edge is consumed regardless")
}

func TestGraphApplyMissingSourceSkipped(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	orphan := types.NewPendingEdge("agent-1", "job-1", "mem-ghost", "mem-2", types.EdgeCoOccurs, 0.9, 1.0)
	require.NoError(t, edges.InsertMany(context.Background(), []*types.PendingEdge{orphan}))

	stage := NewGraphApplyStage(memories, edges)
	pc := newTestContext("agent-1", "session-1")

	require.NoError(t, stage.Run(context.Background(), pc))

	assert.Equal(t, int64(1), pc.Stat("graph_apply_skipped"))
	assert.True(t, orphan.Applied, "orphaned edges must not wedge the staging area")

	unapplied, err := edges.ListUnapplied(context.Background(), "agent-1", 10)
	require.NoError(t, err)
	assert.Empty(t, unapplied)
}

func TestGraphApplyEmptyStagingIsNoOp(t *testing.T) {
	memories := newMockMemoryStore()
	edges := newMockEdgeStore()
	stage := NewGraphApplyStage(memories, edges)
	pc := newTestContext("agent-1", "session-1")

	require.NoError(t, stage.Run(context.Background(), pc))
	assert.Zero(t, pc.Stat("graph_apply_processed"))
}
