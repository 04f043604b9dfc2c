package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

func testMemory(agentID, text string) *types.Memory {
	now := time.Now().UTC()
	return &types.Memory{
		ID:         types.NewMemoryID(),
		AgentID:    agentID,
		Text:       text,
		MemoryType: types.MemoryTypeFact,
		Layer:      types.LayerEpisodic,
		Confidence: 0.6,
		Strength:   1.0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryStoreInsertAndGet(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	reinforced := time.Now().UTC().Truncate(time.Second)
	memory := testMemory("agent-1", "User prefers dark mode")
	memory.MemoryType = types.MemoryTypePreference
	memory.Tags = []string{"preference", "ui"}
	memory.Metadata = map[string]interface{}{"source": "session"}
	memory.Embedding = []float32{0.1, 0.2, 0.3}
	memory.ReinforcementCount = 2
	memory.LastReinforcedAt = &reinforced
	memory.Contradictions = []types.ContradictionRef{{MemoryID: "mem-x", DetectedAt: reinforced}}
	memory.Edges = []types.MemoryEdge{{TargetID: "mem-y", EdgeType: types.EdgeCoOccurs, Weight: 0.9, Probability: 1.0}}
	memory.SourceSessionID = "session-9"

	require.NoError(t, memories.Insert(ctx, memory))

	got, err := memories.Get(ctx, "agent-1", memory.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.Text, got.Text)
	assert.Equal(t, types.MemoryTypePreference, got.MemoryType)
	assert.Equal(t, []string{"preference", "ui"}, got.Tags)
	assert.Equal(t, "session", got.Metadata["source"])
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, 2, got.ReinforcementCount)
	require.NotNil(t, got.LastReinforcedAt)
	require.Len(t, got.Contradictions, 1)
	assert.Equal(t, "mem-x", got.Contradictions[0].MemoryID)
	require.Len(t, got.Edges, 1)
	assert.Equal(t, types.EdgeCoOccurs, got.Edges[0].EdgeType)
	assert.Equal(t, "session-9", got.SourceSessionID)
}

func TestMemoryStoreGetWrongAgent(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	memory := testMemory("agent-1", "Some fact")
	require.NoError(t, memories.Insert(ctx, memory))

	// Partitions do not leak across agents.
	_, err := memories.Get(ctx, "agent-2", memory.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStoreInsertValidation(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	err := memories.Insert(ctx, &types.Memory{ID: types.NewMemoryID(), AgentID: "agent-1"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = memories.Insert(ctx, &types.Memory{ID: types.NewMemoryID(), Text: "no agent"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	memory := testMemory("agent-1", "Initial text")
	require.NoError(t, memories.Insert(ctx, memory))

	memory.Text = "Updated text"
	memory.Tags = []string{"updated"}
	memory.Confidence = 0.9
	require.NoError(t, memories.Update(ctx, memory))

	got, err := memories.Get(ctx, "agent-1", memory.ID)
	require.NoError(t, err)
	assert.Equal(t, "Updated text", got.Text)
	assert.Equal(t, []string{"updated"}, got.Tags)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)

	missing := testMemory("agent-1", "Never inserted")
	assert.ErrorIs(t, memories.Update(ctx, missing), storage.ErrNotFound)
}

func TestMemoryStoreReinforce(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	memory := testMemory("agent-1", "Reinforce me")
	require.NoError(t, memories.Insert(ctx, memory))

	require.NoError(t, memories.Reinforce(ctx, "agent-1", memory.ID))
	require.NoError(t, memories.Reinforce(ctx, "agent-1", memory.ID))

	got, err := memories.Get(ctx, "agent-1", memory.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReinforcementCount)
	require.NotNil(t, got.LastReinforcedAt)

	assert.ErrorIs(t, memories.Reinforce(ctx, "agent-1", "missing"), storage.ErrNotFound)
}

func TestMemoryStoreUpdateScores(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	memory := testMemory("agent-1", "Score me")
	require.NoError(t, memories.Insert(ctx, memory))

	require.NoError(t, memories.UpdateScores(ctx, "agent-1", memory.ID, 0.45, 0.3))

	got, err := memories.Get(ctx, "agent-1", memory.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, got.Confidence, 1e-9)
	assert.InDelta(t, 0.3, got.Strength, 1e-9)

	err = memories.UpdateScores(ctx, "agent-1", memory.ID, 1.5, 0.3)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	err = memories.UpdateScores(ctx, "agent-1", memory.ID, 0.5, -0.1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestMemoryStoreUpdateLayer(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	memory := testMemory("agent-1", "Promote me")
	require.NoError(t, memories.Insert(ctx, memory))

	require.NoError(t, memories.UpdateLayer(ctx, "agent-1", memory.ID, types.LayerSemantic))

	got, err := memories.Get(ctx, "agent-1", memory.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LayerSemantic, got.Layer)

	// semantic -> working is not on the transition graph.
	err = memories.UpdateLayer(ctx, "agent-1", memory.ID, types.LayerWorking)
	assert.ErrorIs(t, err, storage.ErrInvalidLayerTransition)

	err = memories.UpdateLayer(ctx, "agent-1", memory.ID, "bogus")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = memories.UpdateLayer(ctx, "agent-1", "missing", types.LayerSemantic)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStoreListByAgent(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		memory := testMemory("agent-1", fmt.Sprintf("Fact number %d", i))
		memory.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		memory.UpdatedAt = memory.CreatedAt
		memory.Embedding = []float32{float32(i)}
		if i%2 == 0 {
			memory.Layer = types.LayerSemantic
		}
		require.NoError(t, memories.Insert(ctx, memory))
	}

	// Default sort is created_at descending.
	all, err := memories.ListByAgent(ctx, "agent-1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "Fact number 4", all[0].Text)
	// Embeddings are omitted unless requested.
	assert.Nil(t, all[0].Embedding)

	semantic, err := memories.ListByAgent(ctx, "agent-1", storage.ListOptions{Layer: types.LayerSemantic})
	require.NoError(t, err)
	assert.Len(t, semantic, 3)

	limited, err := memories.ListByAgent(ctx, "agent-1", storage.ListOptions{Limit: 2, SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "Fact number 0", limited[0].Text)

	withVecs, err := memories.ListByAgent(ctx, "agent-1", storage.ListOptions{WithEmbeddings: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, withVecs, 1)
	assert.NotNil(t, withVecs[0].Embedding)
}

func TestMemoryStoreClusters(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		memory := testMemory("agent-1", fmt.Sprintf("Member %d", i))
		require.NoError(t, memories.Insert(ctx, memory))
		ids = append(ids, memory.ID)
	}

	assignments := []storage.ClusterAssignment{
		{MemoryID: ids[0], ClusterID: 0, ClusterLabel: "infra"},
		{MemoryID: ids[1], ClusterID: 0, ClusterLabel: "infra"},
		{MemoryID: ids[2], ClusterID: 1, ClusterLabel: "ui"},
	}
	require.NoError(t, memories.AssignClusters(ctx, "agent-1", assignments))

	got, err := memories.Get(ctx, "agent-1", ids[0])
	require.NoError(t, err)
	require.NotNil(t, got.ClusterID)
	assert.Equal(t, 0, *got.ClusterID)
	assert.Equal(t, "infra", got.ClusterLabel)

	members, err := memories.ListByClusters(ctx, "agent-1", []int{0}, 10)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	both, err := memories.ListByClusters(ctx, "agent-1", []int{0, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, both, 3)

	none, err := memories.ListByClusters(ctx, "agent-1", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreCountByAgent(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, memories.Insert(ctx, testMemory("agent-1", fmt.Sprintf("Fact %d", i))))
	}
	require.NoError(t, memories.Insert(ctx, testMemory("agent-2", "Other agent")))

	count, err := memories.CountByAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = memories.CountByAgent(ctx, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStoreAgentIDs(t *testing.T) {
	store := newTestStore(t)
	memories := store.MemoryStore()
	ctx := context.Background()

	agentIDs, err := memories.AgentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, agentIDs)

	require.NoError(t, memories.Insert(ctx, testMemory("agent-b", "First")))
	require.NoError(t, memories.Insert(ctx, testMemory("agent-a", "Second")))
	require.NoError(t, memories.Insert(ctx, testMemory("agent-a", "Third")))

	agentIDs, err = memories.AgentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a", "agent-b"}, agentIDs)
}
