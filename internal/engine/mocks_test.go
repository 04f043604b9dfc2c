package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reveriehq/reverie/internal/llm"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// fakeGenerator implements llm.TextGenerator with canned responses.
type fakeGenerator struct {
	response  string
	responses []string // consumed first when non-empty, one per call
	err       error
	prompts   []string
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) > 0 {
		next := f.responses[0]
		f.responses = f.responses[1:]
		return next, nil
	}
	return f.response, nil
}

func (f *fakeGenerator) GetModel() string { return "fake-generator" }

// fakeEmbedder implements llm.EmbeddingGenerator with a fixed vector table.
// Unknown texts error so tests stay explicit about what gets embedded.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	modes   []llm.EmbedMode
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, mode llm.EmbedMode) ([]float32, error) {
	f.calls++
	f.modes = append(f.modes, mode)
	if f.err != nil {
		return nil, f.err
	}
	vec, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector configured for %q", text)
	}
	return vec, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embedder" }

// mockMemoryStore implements storage.MemoryStore in memory, insertion order
// preserved.
type mockMemoryStore struct {
	mu              sync.Mutex
	memories        []*types.Memory
	reinforced      []string
	insertManyCalls int

	listErr   error
	insertErr error
}

func newMockMemoryStore() *mockMemoryStore {
	return &mockMemoryStore{}
}

func (m *mockMemoryStore) Insert(ctx context.Context, memory *types.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.memories = append(m.memories, memory)
	return nil
}

func (m *mockMemoryStore) InsertMany(ctx context.Context, memories []*types.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertManyCalls++
	if m.insertErr != nil {
		return m.insertErr
	}
	m.memories = append(m.memories, memories...)
	return nil
}

func (m *mockMemoryStore) Get(ctx context.Context, agentID, id string) (*types.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.memories {
		if mem.AgentID == agentID && mem.ID == id {
			return mem, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *mockMemoryStore) ListByAgent(ctx context.Context, agentID string, opts storage.ListOptions) ([]*types.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	opts.Normalize()

	var out []*types.Memory
	for _, mem := range m.memories {
		if mem.AgentID != agentID {
			continue
		}
		if opts.Layer != "" && mem.Layer != opts.Layer {
			continue
		}
		if opts.MemoryType != "" && mem.MemoryType != opts.MemoryType {
			continue
		}
		if opts.SessionID != "" && mem.SourceSessionID != opts.SessionID {
			continue
		}
		out = append(out, mem)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		if opts.SortBy == "updated_at" {
			a, b = out[i].UpdatedAt, out[j].UpdatedAt
		}
		if opts.SortOrder == "asc" {
			return a.Before(b)
		}
		return b.Before(a)
	})

	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *mockMemoryStore) ListByClusters(ctx context.Context, agentID string, clusterIDs []int, limit int) ([]*types.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[int]bool, len(clusterIDs))
	for _, id := range clusterIDs {
		wanted[id] = true
	}
	var out []*types.Memory
	for _, mem := range m.memories {
		if mem.AgentID != agentID || mem.ClusterID == nil || !wanted[*mem.ClusterID] {
			continue
		}
		out = append(out, mem)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockMemoryStore) CountByAgent(ctx context.Context, agentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, mem := range m.memories {
		if mem.AgentID == agentID {
			count++
		}
	}
	return count, nil
}

func (m *mockMemoryStore) AgentIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var agentIDs []string
	for _, mem := range m.memories {
		if !seen[mem.AgentID] {
			seen[mem.AgentID] = true
			agentIDs = append(agentIDs, mem.AgentID)
		}
	}
	sort.Strings(agentIDs)
	return agentIDs, nil
}

func (m *mockMemoryStore) Update(ctx context.Context, memory *types.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, mem := range m.memories {
		if mem.AgentID == memory.AgentID && mem.ID == memory.ID {
			m.memories[i] = memory
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *mockMemoryStore) Reinforce(ctx context.Context, agentID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.memories {
		if mem.AgentID == agentID && mem.ID == id {
			now := time.Now().UTC()
			mem.ReinforcementCount++
			mem.LastReinforcedAt = &now
			mem.UpdatedAt = now
			m.reinforced = append(m.reinforced, id)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *mockMemoryStore) UpdateScores(ctx context.Context, agentID, id string, confidence, strength float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.memories {
		if mem.AgentID == agentID && mem.ID == id {
			mem.Confidence = confidence
			mem.Strength = strength
			mem.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *mockMemoryStore) UpdateLayer(ctx context.Context, agentID, id, layer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.memories {
		if mem.AgentID == agentID && mem.ID == id {
			if !types.IsValidLayerTransition(mem.Layer, layer) {
				return storage.ErrInvalidLayerTransition
			}
			mem.Layer = layer
			mem.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *mockMemoryStore) AssignClusters(ctx context.Context, agentID string, assignments []storage.ClusterAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range assignments {
		for _, mem := range m.memories {
			if mem.AgentID == agentID && mem.ID == a.MemoryID {
				id := a.ClusterID
				mem.ClusterID = &id
				mem.ClusterLabel = a.ClusterLabel
			}
		}
	}
	return nil
}

// vectorMemoryStore adds the optional VectorSearch capability on top of the
// mock store.
type vectorMemoryStore struct {
	*mockMemoryStore
	searchErr error
}

func (m *vectorMemoryStore) VectorSearch(ctx context.Context, agentID string, embedding []float32, limit int) ([]*types.Memory, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	all, err := m.ListByAgent(ctx, agentID, storage.ListOptions{Limit: 10000, WithEmbeddings: true})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return CosineSimilarity(embedding, all[i].Embedding) > CosineSimilarity(embedding, all[j].Embedding)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// mockJobStore implements storage.JobStore in memory.
type mockJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*types.PipelineJob
	updates int

	updateErr error
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[string]*types.PipelineJob)}
}

func (m *mockJobStore) Create(ctx context.Context, job *types.PipelineJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := *job
	m.jobs[job.ID] = &snapshot
	return nil
}

func (m *mockJobStore) Update(ctx context.Context, job *types.PipelineJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.jobs[job.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Terminal() {
		return storage.ErrJobTerminal
	}
	snapshot := *job
	snapshot.Stages = append([]types.StageResult(nil), job.Stages...)
	m.jobs[job.ID] = &snapshot
	m.updates++
	return nil
}

func (m *mockJobStore) Get(ctx context.Context, agentID, id string) (*types.PipelineJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.AgentID != agentID {
		return nil, storage.ErrNotFound
	}
	return job, nil
}

func (m *mockJobStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*types.PipelineJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.PipelineJob
	for _, job := range m.jobs {
		if job.AgentID == agentID {
			out = append(out, job)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[j].CreatedAt.Before(out[i].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mockEdgeStore implements storage.EdgeStore in memory.
type mockEdgeStore struct {
	mu    sync.Mutex
	edges []*types.PendingEdge

	insertErr error
}

func newMockEdgeStore() *mockEdgeStore {
	return &mockEdgeStore{}
}

func (m *mockEdgeStore) InsertMany(ctx context.Context, edges []*types.PendingEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.edges = append(m.edges, edges...)
	return nil
}

func (m *mockEdgeStore) ListUnapplied(ctx context.Context, agentID string, limit int) ([]*types.PendingEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.PendingEdge
	for _, e := range m.edges {
		if e.AgentID != agentID || e.Applied {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockEdgeStore) MarkApplied(ctx context.Context, agentID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	now := time.Now().UTC()
	for _, e := range m.edges {
		if e.AgentID == agentID && wanted[e.ID] {
			e.Applied = true
			e.AppliedAt = &now
		}
	}
	return nil
}

func (m *mockEdgeStore) byType(edgeType string) []*types.PendingEdge {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.PendingEdge
	for _, e := range m.edges {
		if e.EdgeType == edgeType {
			out = append(out, e)
		}
	}
	return out
}

// mockEntityStore implements storage.EntityStore in memory.
type mockEntityStore struct {
	mu       sync.Mutex
	entities map[string]*types.Entity // key agentID + "/" + slug
	mentions []string                 // slugs passed to RecordMention
}

func newMockEntityStore() *mockEntityStore {
	return &mockEntityStore{entities: make(map[string]*types.Entity)}
}

func entityKey(agentID, slug string) string { return agentID + "/" + slug }

func (m *mockEntityStore) Insert(ctx context.Context, entity *types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entityKey(entity.AgentID, entity.Slug)
	if _, exists := m.entities[key]; exists {
		return storage.ErrInvalidInput
	}
	m.entities[key] = entity
	return nil
}

func (m *mockEntityStore) GetBySlug(ctx context.Context, agentID, slug string) (*types.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity, ok := m.entities[entityKey(agentID, slug)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return entity, nil
}

func (m *mockEntityStore) RecordMention(ctx context.Context, agentID, slug string, aliases []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity, ok := m.entities[entityKey(agentID, slug)]
	if !ok {
		return storage.ErrNotFound
	}
	entity.MemoryCount++
	entity.LastSeenAt = time.Now().UTC()
	entity.Aliases = types.MergeTags(entity.Aliases, aliases...)
	m.mentions = append(m.mentions, slug)
	return nil
}

func (m *mockEntityStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*types.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Entity
	for _, e := range m.entities {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Slug < out[j].Slug
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mockClusterStore implements storage.ClusterStore in memory.
type mockClusterStore struct {
	mu          sync.Mutex
	clusters    map[int]*types.Cluster // single-agent tests, keyed by cluster id
	agentID     string
	deletedFrom []int
}

func newMockClusterStore() *mockClusterStore {
	return &mockClusterStore{clusters: make(map[int]*types.Cluster)}
}

func (m *mockClusterStore) Upsert(ctx context.Context, cluster *types.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentID = cluster.AgentID
	m.clusters[cluster.ClusterID] = cluster
	return nil
}

func (m *mockClusterStore) ListByAgent(ctx context.Context, agentID string) ([]*types.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Cluster
	for _, c := range m.clusters {
		if c.AgentID == agentID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ClusterID < out[j].ClusterID
	})
	return out, nil
}

func (m *mockClusterStore) DeleteFrom(ctx context.Context, agentID string, minClusterID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedFrom = append(m.deletedFrom, minClusterID)
	for id, c := range m.clusters {
		if c.AgentID == agentID && id >= minClusterID {
			delete(m.clusters, id)
		}
	}
	return nil
}

// mockStore composes the collection mocks into a storage.Store.
type mockStore struct {
	memories *mockMemoryStore
	jobs     *mockJobStore
	edges    *mockEdgeStore
	entities *mockEntityStore
	clusters *mockClusterStore
}

func newMockStore() *mockStore {
	return &mockStore{
		memories: newMockMemoryStore(),
		jobs:     newMockJobStore(),
		edges:    newMockEdgeStore(),
		entities: newMockEntityStore(),
		clusters: newMockClusterStore(),
	}
}

func (m *mockStore) MemoryStore() storage.MemoryStore   { return m.memories }
func (m *mockStore) JobStore() storage.JobStore         { return m.jobs }
func (m *mockStore) EdgeStore() storage.EdgeStore       { return m.edges }
func (m *mockStore) EntityStore() storage.EntityStore   { return m.entities }
func (m *mockStore) ClusterStore() storage.ClusterStore { return m.clusters }
func (m *mockStore) Close() error                       { return nil }

// newTestContext builds a pipeline context with default settings.
func newTestContext(agentID, sessionID string) *PipelineContext {
	return NewPipelineContext(agentID, sessionID, "job-1", types.DefaultStageSettings())
}

// testMemory builds a minimal persisted memory for store-backed tests.
func testMemory(agentID, id, text string, embedding []float32) *types.Memory {
	now := time.Now().UTC()
	return &types.Memory{
		ID:         id,
		AgentID:    agentID,
		Text:       text,
		CreatedAt:  now,
		UpdatedAt:  now,
		MemoryType: types.MemoryTypeFact,
		Layer:      types.LayerEpisodic,
		Embedding:  embedding,
		Confidence: 0.6,
		Strength:   1.0,
	}
}
