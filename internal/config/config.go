// Package config provides configuration management for Reverie.
// It loads settings from environment variables with the REVERIE_ prefix,
// optionally overlays a YAML file named by REVERIE_CONFIG_FILE (file values
// take precedence over the environment), and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reveriehq/reverie/pkg/types"
)

// Config holds all configuration for the Reverie engine.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Decay      DecayConfig      `yaml:"decay"`
	Promotion  PromotionConfig  `yaml:"promotion"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Recall     RecallConfig     `yaml:"recall"`
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	Backend     string `yaml:"backend"`      // Storage backend: sqlite, postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // Directory for the sqlite database file (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // Connection string, required for the postgres backend
}

// LLMConfig contains provider configuration.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`           // LLM provider: ollama, openai, anthropic (default: ollama)
	Model             string        `yaml:"model"`              // Completion model, empty selects the provider default
	EmbeddingProvider string        `yaml:"embedding_provider"` // Defaults to Provider; required for anthropic
	EmbeddingModel    string        `yaml:"embedding_model"`    // Embedding model, empty selects the provider default
	OllamaURL         string        `yaml:"ollama_url"`         // Ollama API URL (default: http://localhost:11434)
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	AnthropicAPIKey   string        `yaml:"anthropic_api_key"`
	RequestTimeout    time.Duration `yaml:"request_timeout"` // Per-call timeout (default: 60s)
	EmbedRPS          float64       `yaml:"embed_rps"`       // Embedding calls per second, 0 disables limiting (default: 5)
	EmbedBurst        int           `yaml:"embed_burst"`     // Limiter burst (default: 2)
	EmbedCacheMB      int           `yaml:"embed_cache_mb"`  // Embedding cache size, 0 disables the cache (default: 64)
}

// PipelineConfig carries the per-stage toggles, caps and thresholds that
// resolve into types.StageSettings at job construction.
type PipelineConfig struct {
	UseLLMExtraction     bool `yaml:"use_llm_extraction"`
	UseLLMClassification bool `yaml:"use_llm_classification"`
	UseLLMConflictCheck  bool `yaml:"use_llm_conflict_check"`
	UseLLMEdges          bool `yaml:"use_llm_edges"`
	UseLLMEntities       bool `yaml:"use_llm_entities"`
	UseLLMReview         bool `yaml:"use_llm_review"`

	MaxCandidates      int `yaml:"max_candidates"`       // default: 20
	MaxTranscriptChars int `yaml:"max_transcript_chars"` // default: 8000

	DuplicateThreshold     float64 `yaml:"duplicate_threshold"`     // default: 0.92
	ReviewThreshold        float64 `yaml:"review_threshold"`        // default: 0.85
	ContradictionThreshold float64 `yaml:"contradiction_threshold"` // default: 0.75
	CoOccursThreshold      float64 `yaml:"co_occurs_threshold"`     // default: 0.85

	DedupeScanLimit int `yaml:"dedupe_scan_limit"` // default: 1000
	ClassifyBatch   int `yaml:"classify_batch"`    // default: 10
	EntitySeedLimit int `yaml:"entity_seed_limit"` // default: 50
}

// DecayConfig tunes the confidence/strength decay curve.
type DecayConfig struct {
	HalfLifeDays         float64 `yaml:"half_life_days"`        // Strength half-life in days (default: 30)
	ReinforcementBoost   float64 `yaml:"reinforcement_boost"`   // Strength added per reinforcement, capped at 10 (default: 0.02)
	ContradictionPenalty float64 `yaml:"contradiction_penalty"` // Confidence lost per contradiction (default: 0.1)
	ConfidenceFloor      float64 `yaml:"confidence_floor"`      // Confidence never decays below this (default: 0.05)
}

// PromotionConfig tunes the layer promotion rules.
type PromotionConfig struct {
	FastTrackConfidence    float64 `yaml:"fast_track_confidence"`    // default: 0.9
	FastTrackReinforcement int     `yaml:"fast_track_reinforcement"` // default: 5

	MinAgeDays           float64 `yaml:"min_age_days"`          // episodic→semantic age floor (default: 14)
	MinReinforcement     int     `yaml:"min_reinforcement"`     // episodic→semantic (default: 3)
	MinConfidence        float64 `yaml:"min_confidence"`        // episodic→semantic (default: 0.7)
	BorderlineConfidence float64 `yaml:"borderline_confidence"` // below this the promotion is borderline (default: 0.77)

	ArchivalMaxStrength        float64 `yaml:"archival_max_strength"`        // default: 0.25
	ArchivalMinAgeDays         float64 `yaml:"archival_min_age_days"`        // default: 60
	ArchivalMaxReinforcement   int     `yaml:"archival_max_reinforcement"`   // default: 5
	ArchivalBorderlineStrength float64 `yaml:"archival_borderline_strength"` // above this the archival move is borderline (default: 0.225)

	DemotionConfidence float64 `yaml:"demotion_confidence"` // semantic→episodic when contradicted (default: 0.5)
}

// ClusteringConfig tunes the K-Means clustering runs.
type ClusteringConfig struct {
	K             int `yaml:"k"`              // Cluster count; runs skip agents with fewer memories (default: 20)
	MaxIterations int `yaml:"max_iterations"` // K-Means iteration cap (default: 100)
	ReducedDims   int `yaml:"reduced_dims"`   // Centroid dimensionality (default: 64)
}

// RecallConfig tunes cluster-aware recall.
type RecallConfig struct {
	TopClusters       int `yaml:"top_clusters"`       // Clusters consulted per query (default: 2)
	DefaultLimit      int `yaml:"default_limit"`      // Results when the caller passes no limit (default: 10)
	GlobalScanLimit   int `yaml:"global_scan_limit"`  // Memories scanned in the global fallback (default: 10000)
	ClusterCandidates int `yaml:"cluster_candidates"` // Memories scored from the selected clusters (default: 1000)
}

// LoadConfig loads configuration from environment variables, overlays the
// YAML file named by REVERIE_CONFIG_FILE when set, and validates.
func LoadConfig() (*Config, error) {
	return LoadConfigFromFile(os.Getenv("REVERIE_CONFIG_FILE"))
}

// LoadConfigFromFile behaves like LoadConfig with an explicit overlay path.
// An empty path skips the overlay.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		// Unmarshal into the env-loaded struct: keys present in the file
		// override, absent keys keep their env or default values.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the documented defaults without consulting the
// environment.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:  "sqlite",
			DataPath: "./data",
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			OllamaURL:      "http://localhost:11434",
			RequestTimeout: 60 * time.Second,
			EmbedRPS:       5,
			EmbedBurst:     2,
			EmbedCacheMB:   64,
		},
		Pipeline: PipelineConfig{
			MaxCandidates:          20,
			MaxTranscriptChars:     8000,
			DuplicateThreshold:     0.92,
			ReviewThreshold:        0.85,
			ContradictionThreshold: 0.75,
			CoOccursThreshold:      0.85,
			DedupeScanLimit:        1000,
			ClassifyBatch:          10,
			EntitySeedLimit:        50,
		},
		Decay: DecayConfig{
			HalfLifeDays:         30,
			ReinforcementBoost:   0.02,
			ContradictionPenalty: 0.1,
			ConfidenceFloor:      0.05,
		},
		Promotion: PromotionConfig{
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
		},
		Clustering: ClusteringConfig{
			K:             20,
			MaxIterations: 100,
			ReducedDims:   64,
		},
		Recall: RecallConfig{
			TopClusters:       2,
			DefaultLimit:      10,
			GlobalScanLimit:   10000,
			ClusterCandidates: 1000,
		},
	}
}

// buildBaseConfig constructs a Config from environment variables layered
// over the defaults.
func buildBaseConfig() *Config {
	def := DefaultConfig()

	return &Config{
		Storage: StorageConfig{
			Backend:     getEnv("REVERIE_STORAGE_BACKEND", def.Storage.Backend),
			DataPath:    getEnv("REVERIE_DATA_PATH", def.Storage.DataPath),
			PostgresDSN: getEnv("REVERIE_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			Provider:          getEnv("REVERIE_LLM_PROVIDER", def.LLM.Provider),
			Model:             getEnv("REVERIE_LLM_MODEL", ""),
			EmbeddingProvider: getEnv("REVERIE_EMBEDDING_PROVIDER", ""),
			EmbeddingModel:    getEnv("REVERIE_EMBEDDING_MODEL", ""),
			OllamaURL:         getEnv("REVERIE_OLLAMA_URL", def.LLM.OllamaURL),
			OpenAIAPIKey:      getEnv("REVERIE_OPENAI_API_KEY", ""),
			AnthropicAPIKey:   getEnv("REVERIE_ANTHROPIC_API_KEY", ""),
			RequestTimeout:    getEnvDuration("REVERIE_LLM_TIMEOUT", def.LLM.RequestTimeout),
			EmbedRPS:          getEnvFloat("REVERIE_EMBED_RPS", def.LLM.EmbedRPS),
			EmbedBurst:        getEnvInt("REVERIE_EMBED_BURST", def.LLM.EmbedBurst),
			EmbedCacheMB:      getEnvInt("REVERIE_EMBED_CACHE_MB", def.LLM.EmbedCacheMB),
		},
		Pipeline: PipelineConfig{
			UseLLMExtraction:     getEnvBool("REVERIE_USE_LLM_EXTRACTION", false),
			UseLLMClassification: getEnvBool("REVERIE_USE_LLM_CLASSIFICATION", false),
			UseLLMConflictCheck:  getEnvBool("REVERIE_USE_LLM_CONFLICT_CHECK", false),
			UseLLMEdges:          getEnvBool("REVERIE_USE_LLM_EDGES", false),
			UseLLMEntities:       getEnvBool("REVERIE_USE_LLM_ENTITIES", false),
			UseLLMReview:         getEnvBool("REVERIE_USE_LLM_REVIEW", false),

			MaxCandidates:      getEnvInt("REVERIE_MAX_CANDIDATES", def.Pipeline.MaxCandidates),
			MaxTranscriptChars: getEnvInt("REVERIE_MAX_TRANSCRIPT_CHARS", def.Pipeline.MaxTranscriptChars),

			DuplicateThreshold:     getEnvFloat("REVERIE_DUPLICATE_THRESHOLD", def.Pipeline.DuplicateThreshold),
			ReviewThreshold:        getEnvFloat("REVERIE_REVIEW_THRESHOLD", def.Pipeline.ReviewThreshold),
			ContradictionThreshold: getEnvFloat("REVERIE_CONTRADICTION_THRESHOLD", def.Pipeline.ContradictionThreshold),
			CoOccursThreshold:      getEnvFloat("REVERIE_CO_OCCURS_THRESHOLD", def.Pipeline.CoOccursThreshold),

			DedupeScanLimit: getEnvInt("REVERIE_DEDUPE_SCAN_LIMIT", def.Pipeline.DedupeScanLimit),
			ClassifyBatch:   getEnvInt("REVERIE_CLASSIFY_BATCH", def.Pipeline.ClassifyBatch),
			EntitySeedLimit: getEnvInt("REVERIE_ENTITY_SEED_LIMIT", def.Pipeline.EntitySeedLimit),
		},
		Decay: DecayConfig{
			HalfLifeDays:         getEnvFloat("REVERIE_DECAY_HALF_LIFE_DAYS", def.Decay.HalfLifeDays),
			ReinforcementBoost:   getEnvFloat("REVERIE_DECAY_REINFORCEMENT_BOOST", def.Decay.ReinforcementBoost),
			ContradictionPenalty: getEnvFloat("REVERIE_DECAY_CONTRADICTION_PENALTY", def.Decay.ContradictionPenalty),
			ConfidenceFloor:      getEnvFloat("REVERIE_DECAY_CONFIDENCE_FLOOR", def.Decay.ConfidenceFloor),
		},
		Promotion: PromotionConfig{
			FastTrackConfidence:        getEnvFloat("REVERIE_PROMOTE_FAST_TRACK_CONFIDENCE", def.Promotion.FastTrackConfidence),
			FastTrackReinforcement:     getEnvInt("REVERIE_PROMOTE_FAST_TRACK_REINFORCEMENT", def.Promotion.FastTrackReinforcement),
			MinAgeDays:                 getEnvFloat("REVERIE_PROMOTE_MIN_AGE_DAYS", def.Promotion.MinAgeDays),
			MinReinforcement:           getEnvInt("REVERIE_PROMOTE_MIN_REINFORCEMENT", def.Promotion.MinReinforcement),
			MinConfidence:              getEnvFloat("REVERIE_PROMOTE_MIN_CONFIDENCE", def.Promotion.MinConfidence),
			BorderlineConfidence:       getEnvFloat("REVERIE_PROMOTE_BORDERLINE_CONFIDENCE", def.Promotion.BorderlineConfidence),
			ArchivalMaxStrength:        getEnvFloat("REVERIE_ARCHIVAL_MAX_STRENGTH", def.Promotion.ArchivalMaxStrength),
			ArchivalMinAgeDays:         getEnvFloat("REVERIE_ARCHIVAL_MIN_AGE_DAYS", def.Promotion.ArchivalMinAgeDays),
			ArchivalMaxReinforcement:   getEnvInt("REVERIE_ARCHIVAL_MAX_REINFORCEMENT", def.Promotion.ArchivalMaxReinforcement),
			ArchivalBorderlineStrength: getEnvFloat("REVERIE_ARCHIVAL_BORDERLINE_STRENGTH", def.Promotion.ArchivalBorderlineStrength),
			DemotionConfidence:         getEnvFloat("REVERIE_DEMOTION_CONFIDENCE", def.Promotion.DemotionConfidence),
		},
		Clustering: ClusteringConfig{
			K:             getEnvInt("REVERIE_CLUSTER_K", def.Clustering.K),
			MaxIterations: getEnvInt("REVERIE_CLUSTER_MAX_ITERATIONS", def.Clustering.MaxIterations),
			ReducedDims:   getEnvInt("REVERIE_CLUSTER_DIMS", def.Clustering.ReducedDims),
		},
		Recall: RecallConfig{
			TopClusters:       getEnvInt("REVERIE_RECALL_TOP_CLUSTERS", def.Recall.TopClusters),
			DefaultLimit:      getEnvInt("REVERIE_RECALL_LIMIT", def.Recall.DefaultLimit),
			GlobalScanLimit:   getEnvInt("REVERIE_RECALL_GLOBAL_SCAN", def.Recall.GlobalScanLimit),
			ClusterCandidates: getEnvInt("REVERIE_RECALL_CLUSTER_CANDIDATES", def.Recall.ClusterCandidates),
		},
	}
}

// StageSettings resolves the pipeline section into the per-job settings
// struct stages read.
func (c *Config) StageSettings() types.StageSettings {
	settings := types.StageSettings{
		UseLLMExtraction:     c.Pipeline.UseLLMExtraction,
		UseLLMClassification: c.Pipeline.UseLLMClassification,
		UseLLMConflictCheck:  c.Pipeline.UseLLMConflictCheck,
		UseLLMEdges:          c.Pipeline.UseLLMEdges,
		UseLLMEntities:       c.Pipeline.UseLLMEntities,
		UseLLMReview:         c.Pipeline.UseLLMReview,

		MaxCandidates:      c.Pipeline.MaxCandidates,
		MaxTranscriptChars: c.Pipeline.MaxTranscriptChars,

		DuplicateThreshold:     c.Pipeline.DuplicateThreshold,
		ReviewThreshold:        c.Pipeline.ReviewThreshold,
		ContradictionThreshold: c.Pipeline.ContradictionThreshold,
		CoOccursThreshold:      c.Pipeline.CoOccursThreshold,

		DedupeScanLimit: c.Pipeline.DedupeScanLimit,
		ClassifyBatch:   c.Pipeline.ClassifyBatch,
		EntitySeedLimit: c.Pipeline.EntitySeedLimit,
	}
	settings.Normalize()
	return settings
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.DataPath == "" {
			return fmt.Errorf("config: data_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q (supported: sqlite, postgres)", c.Storage.Backend)
	}

	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown llm provider %q (supported: ollama, openai, anthropic)", c.LLM.Provider)
	}
	if c.LLM.Provider == "anthropic" && c.LLM.EmbeddingProvider == "" {
		return fmt.Errorf("config: embedding_provider is required with the anthropic provider")
	}
	if c.LLM.RequestTimeout < 0 {
		return fmt.Errorf("config: request_timeout must not be negative")
	}
	if c.LLM.EmbedRPS < 0 {
		return fmt.Errorf("config: embed_rps must not be negative")
	}

	p := c.Pipeline
	for _, threshold := range []struct {
		name  string
		value float64
	}{
		{"duplicate_threshold", p.DuplicateThreshold},
		{"review_threshold", p.ReviewThreshold},
		{"contradiction_threshold", p.ContradictionThreshold},
		{"co_occurs_threshold", p.CoOccursThreshold},
	} {
		if threshold.value <= 0 || threshold.value > 1 {
			return fmt.Errorf("config: %s must be in (0, 1], got %v", threshold.name, threshold.value)
		}
	}
	if !(p.ContradictionThreshold < p.ReviewThreshold && p.ReviewThreshold < p.DuplicateThreshold) {
		return fmt.Errorf("config: thresholds must order contradiction < review < duplicate, got %v / %v / %v",
			p.ContradictionThreshold, p.ReviewThreshold, p.DuplicateThreshold)
	}

	if c.Decay.HalfLifeDays <= 0 {
		return fmt.Errorf("config: half_life_days must be positive, got %v", c.Decay.HalfLifeDays)
	}
	if c.Decay.ConfidenceFloor < 0 || c.Decay.ConfidenceFloor >= 1 {
		return fmt.Errorf("config: confidence_floor must be in [0, 1), got %v", c.Decay.ConfidenceFloor)
	}

	if c.Clustering.K < 1 {
		return fmt.Errorf("config: clustering k must be at least 1, got %d", c.Clustering.K)
	}
	if c.Clustering.MaxIterations < 1 {
		return fmt.Errorf("config: clustering max_iterations must be at least 1, got %d", c.Clustering.MaxIterations)
	}
	if c.Clustering.ReducedDims < 1 {
		return fmt.Errorf("config: clustering reduced_dims must be at least 1, got %d", c.Clustering.ReducedDims)
	}

	if c.Recall.TopClusters < 1 {
		return fmt.Errorf("config: recall top_clusters must be at least 1, got %d", c.Recall.TopClusters)
	}
	if c.Recall.DefaultLimit < 1 {
		return fmt.Errorf("config: recall default_limit must be at least 1, got %d", c.Recall.DefaultLimit)
	}

	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the variable exists but cannot be parsed, it returns the
// default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" as true and "false", "0", "no" as
// false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "90s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
