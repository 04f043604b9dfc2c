// cmd/reveried is the operational entry point for the Reverie memory engine.
// It wires the configured store and LLM providers into the engine, then runs
// one of two modes:
//
//   - with -reflect, a single reflection pass over a transcript file for one
//     agent, printing the per-stage results and exiting;
//   - otherwise, a periodic sweep that runs the maintenance pipeline (decay
//     and layer promotion) and a clustering rebuild for every agent present
//     in the store.
//
// Startup sequence:
//  1. Load .env when present, then configuration from REVERIE_* environment
//     variables, optionally overlaid by REVERIE_CONFIG_FILE.
//  2. Open the configured store (sqlite or postgres) and create the schema.
//  3. Build the provider clients; the embedder is wrapped with the rate
//     limiter and the in-process cache per configuration.
//  4. Build the engine and run the requested mode until done or signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reveriehq/reverie/internal/config"
	"github.com/reveriehq/reverie/internal/engine"
	"github.com/reveriehq/reverie/internal/llm"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/internal/storage/postgres"
	"github.com/reveriehq/reverie/internal/storage/sqlite"
	"github.com/reveriehq/reverie/pkg/types"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("reveried: ")
	log.SetFlags(log.LstdFlags)

	reflectPath := flag.String("reflect", "", "transcript file for a one-shot reflection pass")
	agentID := flag.String("agent", "", "agent id for the one-shot reflection pass")
	sessionID := flag.String("session", "", "session id recorded as provenance (default: derived from the run time)")
	every := flag.Duration("every", time.Hour, "maintenance sweep interval")
	once := flag.Bool("once", false, "run a single maintenance sweep and exit")
	withClusters := flag.Bool("cluster", true, "rebuild topic clusters after each maintenance sweep")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Printf("loaded environment from .env")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	// Root context cancelled on SIGINT / SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	generator, embedder, err := buildProviders(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build providers: %v", err)
	}

	eng, err := engine.New(store, generator, embedder, engineConfig(cfg))
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	if *reflectPath != "" {
		if *agentID == "" {
			log.Fatalf("-agent is required with -reflect")
		}
		session := *sessionID
		if session == "" {
			session = "reflect-" + time.Now().UTC().Format("20060102T150405Z")
		}
		if err := runReflect(ctx, eng, *agentID, session, *reflectPath); err != nil {
			log.Fatalf("reflection failed: %v", err)
		}
		return
	}

	m := &maintainer{
		eng:          eng,
		memories:     store.MemoryStore(),
		withClusters: *withClusters,
		agents:       make(map[string]*sync.Mutex),
	}

	if *once {
		m.sweep(ctx)
		return
	}

	log.Printf("maintenance loop started, sweeping every %s", *every)
	m.sweep(ctx)

	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	var sweeps sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			sweeps.Wait()
			log.Println("maintenance loop stopped")
			return
		case <-ticker.C:
			// Sweeps run detached so a slow agent never delays the
			// schedule; the per-agent locks keep overlapping sweeps from
			// maintaining the same agent twice.
			sweeps.Add(1)
			go func() {
				defer sweeps.Done()
				m.sweep(ctx)
			}()
		}
	}
}

// openStore opens the backend selected by the configuration. The sqlite
// backend stores its database file under the configured data directory.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.Open(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		return sqlite.Open(filepath.Join(cfg.Storage.DataPath, "reverie.db"))
	}
}

// buildProviders constructs the completion and embedding clients. The
// embedding client is wrapped with the token-bucket rate limiter and the
// content-addressed cache when those are enabled. A failed health probe is
// logged, not fatal: the engine falls back to heuristics per stage.
func buildProviders(ctx context.Context, cfg *config.Config) (llm.TextGenerator, llm.EmbeddingGenerator, error) {
	apiKey, baseURL := providerCredentials(cfg, cfg.LLM.Provider)
	generator, err := llm.NewTextGenerator(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   apiKey,
		BaseURL:  baseURL,
		Timeout:  cfg.LLM.RequestTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("text generator: %w", err)
	}

	embedProvider := cfg.LLM.EmbeddingProvider
	if embedProvider == "" {
		embedProvider = cfg.LLM.Provider
	}
	apiKey, baseURL = providerCredentials(cfg, embedProvider)
	embedder, err := llm.NewEmbeddingGenerator(llm.Config{
		EmbeddingProvider: embedProvider,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		APIKey:            apiKey,
		BaseURL:           baseURL,
		Timeout:           cfg.LLM.RequestTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("embedding generator: %w", err)
	}

	if hc, ok := generator.(interface{ HealthCheck(context.Context) error }); ok {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := hc.HealthCheck(probeCtx); err != nil {
			log.Printf("provider %s health check failed: %v (stages fall back to heuristics)",
				cfg.LLM.Provider, err)
		}
		cancel()
	}

	if cfg.LLM.EmbedRPS > 0 {
		embedder = llm.NewRateLimitedEmbedder(embedder, cfg.LLM.EmbedRPS, cfg.LLM.EmbedBurst)
	}
	if cfg.LLM.EmbedCacheMB > 0 {
		cached, err := llm.NewCachedEmbedder(embedder, int64(cfg.LLM.EmbedCacheMB)<<20)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding cache: %w", err)
		}
		embedder = cached
	}

	return generator, embedder, nil
}

// providerCredentials picks the API key and base URL for one provider name.
func providerCredentials(cfg *config.Config, provider string) (apiKey, baseURL string) {
	switch provider {
	case llm.ProviderOpenAI:
		return cfg.LLM.OpenAIAPIKey, ""
	case llm.ProviderAnthropic:
		return cfg.LLM.AnthropicAPIKey, ""
	default:
		return "", cfg.LLM.OllamaURL
	}
}

// engineConfig maps the loaded configuration onto the engine's tunables.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Settings: cfg.StageSettings(),
		Decay: engine.DecayModel{
			HalfLifeDays:         cfg.Decay.HalfLifeDays,
			ReinforcementBoost:   cfg.Decay.ReinforcementBoost,
			ContradictionPenalty: cfg.Decay.ContradictionPenalty,
			ConfidenceFloor:      cfg.Decay.ConfidenceFloor,
		},
		Promotion: engine.PromotionPolicy{
			FastTrackConfidence:        cfg.Promotion.FastTrackConfidence,
			FastTrackReinforcement:     cfg.Promotion.FastTrackReinforcement,
			MinAgeDays:                 cfg.Promotion.MinAgeDays,
			MinReinforcement:           cfg.Promotion.MinReinforcement,
			MinConfidence:              cfg.Promotion.MinConfidence,
			BorderlineConfidence:       cfg.Promotion.BorderlineConfidence,
			ArchivalMaxStrength:        cfg.Promotion.ArchivalMaxStrength,
			ArchivalMinAgeDays:         cfg.Promotion.ArchivalMinAgeDays,
			ArchivalMaxReinforcement:   cfg.Promotion.ArchivalMaxReinforcement,
			ArchivalBorderlineStrength: cfg.Promotion.ArchivalBorderlineStrength,
			DemotionConfidence:         cfg.Promotion.DemotionConfidence,
		},
		Clustering: engine.ClusteringConfig{
			K:             cfg.Clustering.K,
			MaxIterations: cfg.Clustering.MaxIterations,
			ReducedDims:   cfg.Clustering.ReducedDims,
		},
		Recall: engine.RecallConfig{
			TopClusters:       cfg.Recall.TopClusters,
			DefaultLimit:      cfg.Recall.DefaultLimit,
			GlobalScanLimit:   cfg.Recall.GlobalScanLimit,
			ClusterCandidates: cfg.Recall.ClusterCandidates,
		},
	}
}

// runReflect reads the transcript file and runs one reflection pass.
func runReflect(ctx context.Context, eng *engine.Engine, agentID, sessionID, path string) error {
	transcript, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	log.Printf("reflecting %s for agent %s (session %s)", path, agentID, sessionID)
	job, err := eng.Reflect(ctx, agentID, sessionID, string(transcript))
	if err != nil {
		if job != nil {
			logJob(job)
		}
		return err
	}
	logJob(job)
	return nil
}

// logJob prints the per-stage outcome of a finished job.
func logJob(job *types.PipelineJob) {
	log.Printf("job %s: %s (triggered by %s)", job.ID, job.Status, job.TriggeredBy)
	for _, stage := range job.Stages {
		switch stage.Status {
		case types.StageFailed:
			log.Printf("  %-17s %s: %s", stage.Stage, stage.Status, stage.Error)
		default:
			log.Printf("  %-17s %s: processed=%d created=%d updated=%d (%dms)",
				stage.Stage, stage.Status, stage.ItemsProcessed, stage.ItemsCreated,
				stage.ItemsUpdated, stage.DurationMs)
		}
	}
}

// maintainer runs the maintenance pipeline and clustering across all agents
// in the store. A per-agent mutex keeps overlapping sweeps from running
// maintenance or clustering for the same agent concurrently.
type maintainer struct {
	eng          *engine.Engine
	memories     storage.MemoryStore
	withClusters bool

	mu     sync.Mutex
	agents map[string]*sync.Mutex
}

// sweep runs one maintenance pass over every agent in the store.
func (m *maintainer) sweep(ctx context.Context) {
	agentIDs, err := m.memories.AgentIDs(ctx)
	if err != nil {
		log.Printf("sweep: failed to list agents: %v", err)
		return
	}
	if len(agentIDs) == 0 {
		log.Printf("sweep: no agents in the store yet")
		return
	}

	for _, agentID := range agentIDs {
		if ctx.Err() != nil {
			return
		}
		m.sweepAgent(ctx, agentID)
	}
}

func (m *maintainer) sweepAgent(ctx context.Context, agentID string) {
	lock := m.agentLock(agentID)
	if !lock.TryLock() {
		log.Printf("agent %s: previous sweep still running, skipping", agentID)
		return
	}
	defer lock.Unlock()

	job, err := m.eng.Maintain(ctx, agentID)
	if err != nil {
		log.Printf("agent %s: maintenance failed: %v", agentID, err)
		return
	}
	logJob(job)

	if m.withClusters {
		result, err := m.eng.RunClustering(ctx, agentID, 0)
		if err != nil {
			log.Printf("agent %s: clustering failed: %v", agentID, err)
			return
		}
		log.Printf("agent %s: clustering wrote %d clusters over %d memories",
			agentID, result.Clusters, result.Assigned)
	}
}

func (m *maintainer) agentLock(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.agents[agentID]
	if !ok {
		lock = &sync.Mutex{}
		m.agents[agentID] = lock
	}
	return lock
}
