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

// Config gathers the tunables of every engine component. The zero value is
// normalized to the documented defaults at construction.
type Config struct {
	Settings   types.StageSettings
	Decay      DecayModel
	Promotion  PromotionPolicy
	Clustering ClusteringConfig
	Recall     RecallConfig
}

// DefaultConfig returns the documented defaults with every LLM path
// disabled.
func DefaultConfig() Config {
	return Config{
		Settings:   types.DefaultStageSettings(),
		Decay:      DefaultDecayModel(),
		Promotion:  DefaultPromotionPolicy(),
		Clustering: DefaultClusteringConfig(),
		Recall:     DefaultRecallConfig(),
	}
}

// Engine is the entry point to the memory core. It composes the reflection
// pipeline, the maintenance passes, the clustering service and cluster-aware
// recall over one store. Jobs for different agents may run concurrently; the
// stages within a job are strictly sequential.
type Engine struct {
	store     storage.Store
	generator llm.TextGenerator
	embedder  llm.EmbeddingGenerator
	config    Config

	orchestrator *Orchestrator
	clustering   *ClusterService
	recall       *RecallService
}

// New builds an engine over the given store and providers. The text
// generator may be nil, which pins every stage to its heuristic path; the
// embedding generator is required because deduplication and recall cannot
// work without vectors.
func New(store storage.Store, generator llm.TextGenerator, embedder llm.EmbeddingGenerator, config Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("engine: embedding generator is required")
	}
	config.Settings.Normalize()
	if config.Decay == (DecayModel{}) {
		config.Decay = DefaultDecayModel()
	}
	if config.Promotion == (PromotionPolicy{}) {
		config.Promotion = DefaultPromotionPolicy()
	}
	if generator == nil {
		log.Printf("[engine] no text generator configured, all stages run heuristics only")
	}

	return &Engine{
		store:        store,
		generator:    generator,
		embedder:     embedder,
		config:       config,
		orchestrator: NewOrchestrator(store.JobStore()),
		clustering:   NewClusterService(store.MemoryStore(), store.ClusterStore(), config.Clustering),
		recall:       NewRecallService(store.MemoryStore(), store.ClusterStore(), embedder, config.Recall),
	}, nil
}

// ReflectionStages composes the transcript consolidation pipeline.
func (e *Engine) ReflectionStages() []Stage {
	return []Stage{
		NewExtractStage(e.generator),
		NewDeduplicateStage(e.store.MemoryStore(), e.embedder),
		NewConflictCheckStage(e.store.MemoryStore(), e.generator),
		NewClassifyStage(e.store.MemoryStore(), e.generator),
		NewGraphLinkStage(e.store.MemoryStore(), e.store.EdgeStore(), e.generator),
		NewEntityUpdateStage(e.store.EntityStore(), e.store.EdgeStore(), e.generator, e.embedder),
		NewGraphApplyStage(e.store.MemoryStore(), e.store.EdgeStore()),
	}
}

// MaintenanceStages composes the periodic decay and promotion passes.
func (e *Engine) MaintenanceStages() []Stage {
	return []Stage{
		NewConfidenceUpdateStage(e.store.MemoryStore(), e.config.Decay),
		NewLayerPromoteStage(e.store.MemoryStore(), e.generator, e.config.Promotion),
	}
}

// FullStages composes reflection followed by maintenance.
func (e *Engine) FullStages() []Stage {
	return append(e.ReflectionStages(), e.MaintenanceStages()...)
}

// Reflect runs the reflection pipeline over one session transcript. The
// returned job carries the per-stage results; on error it is in the failed
// status with the failing stage recorded.
func (e *Engine) Reflect(ctx context.Context, agentID, sessionID, transcript string) (*types.PipelineJob, error) {
	return e.runJob(ctx, agentID, sessionID, transcript, e.ReflectionStages())
}

// Maintain runs the decay and promotion passes for one agent.
func (e *Engine) Maintain(ctx context.Context, agentID string) (*types.PipelineJob, error) {
	return e.runJob(ctx, agentID, "", "", e.MaintenanceStages())
}

// RunFull runs reflection and maintenance in one job.
func (e *Engine) RunFull(ctx context.Context, agentID, sessionID, transcript string) (*types.PipelineJob, error) {
	return e.runJob(ctx, agentID, sessionID, transcript, e.FullStages())
}

// runJob creates and persists the job document, then drives it through the
// stage list with a fresh usage tracker.
func (e *Engine) runJob(ctx context.Context, agentID, sessionID, transcript string, stages []Stage) (*types.PipelineJob, error) {
	if agentID == "" {
		return nil, fmt.Errorf("engine: agent id is required")
	}

	job := types.NewPipelineJob(agentID, sessionID)
	tracker := usage.NewTracker()
	job.TriggeredBy = tracker.Runner()

	if err := e.store.JobStore().Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	pc := NewPipelineContext(agentID, sessionID, job.ID, e.config.Settings)
	pc.Transcript = transcript
	pc.Usage = tracker

	err := e.orchestrator.Run(ctx, job, pc, stages)
	tracker.LogSummary(job.ID)
	return job, err
}

// RunClustering rebuilds the agent's topic clusters with k groups (k <= 0
// uses the configured default).
func (e *Engine) RunClustering(ctx context.Context, agentID string, k int) (*ClusteringResult, error) {
	return e.clustering.RunClustering(ctx, agentID, k)
}

// AssignToNearestCluster attaches one memory to the closest existing
// cluster without a rebuild.
func (e *Engine) AssignToNearestCluster(ctx context.Context, agentID, memoryID string, embedding []float32) (*int, error) {
	return e.clustering.AssignToNearestCluster(ctx, agentID, memoryID, embedding)
}

// FindRelevantClusters ranks the agent's clusters against a query embedding.
func (e *Engine) FindRelevantClusters(ctx context.Context, agentID string, queryEmbedding []float32, topK int) ([]*types.Cluster, error) {
	return e.recall.FindRelevantClusters(ctx, agentID, queryEmbedding, topK)
}

// ClusterAwareRecall retrieves the memories most similar to the query.
func (e *Engine) ClusterAwareRecall(ctx context.Context, query, agentID string, limit int) (*RecallResult, error) {
	return e.recall.ClusterAwareRecall(ctx, query, agentID, limit)
}

// Job returns one pipeline job document.
func (e *Engine) Job(ctx context.Context, agentID, jobID string) (*types.PipelineJob, error) {
	return e.store.JobStore().Get(ctx, agentID, jobID)
}

// Jobs returns the agent's most recent pipeline jobs.
func (e *Engine) Jobs(ctx context.Context, agentID string, limit int) ([]*types.PipelineJob, error) {
	return e.store.JobStore().ListByAgent(ctx, agentID, limit)
}
