// Package postgres provides PostgreSQL implementations of the storage
// interfaces. Embeddings are stored canonically as little-endian float32
// BYTEA; when the pgvector extension is available an embedding_vec column is
// maintained alongside for index-assisted similarity search.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. All statements are idempotent.
const Schema = `
-- Memories table: consolidated memory atoms, partitioned by agent_id
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    text TEXT NOT NULL,

    -- Classification
    memory_type TEXT NOT NULL DEFAULT 'fact',
    layer TEXT NOT NULL DEFAULT 'episodic',
    tags JSONB,
    metadata JSONB,

    -- Embedding (little-endian float32 bytes; embedding_vec added by migration)
    embedding BYTEA,

    -- Durability signals
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    strength DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    reinforcement_count INTEGER NOT NULL DEFAULT 0,
    last_reinforced_at TIMESTAMPTZ,

    -- Knowledge graph (JSON arrays)
    contradictions JSONB,
    edges JSONB,

    -- Cluster assignment
    cluster_id INTEGER,
    cluster_label TEXT,

    -- Provenance
    source_session_id TEXT,

    -- Timestamps
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Pipeline jobs table: one row per reflection or maintenance run
CREATE TABLE IF NOT EXISTS pipeline_jobs (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    session_id TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    stages JSONB,
    triggered_by TEXT,
    error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at TIMESTAMPTZ,
    finished_at TIMESTAMPTZ
);

-- Pending edges table: staged graph relationships awaiting the apply step
CREATE TABLE IF NOT EXISTS pending_edges (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    job_id TEXT,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    edge_type TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    probability DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    metadata JSONB,
    applied BOOLEAN NOT NULL DEFAULT FALSE,
    applied_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Entities table: named-entity hub nodes, slug unique per agent
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    slug TEXT NOT NULL,
    display_name TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT 'concept',
    aliases JSONB,
    summary TEXT,
    summary_embedding BYTEA,
    memory_count INTEGER NOT NULL DEFAULT 0,
    last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE(agent_id, slug)
);

-- Clusters table: K-Means topic clusters keyed by (agent_id, cluster_id)
CREATE TABLE IF NOT EXISTS clusters (
    agent_id TEXT NOT NULL,
    cluster_id INTEGER NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    centroid BYTEA,
    member_count INTEGER NOT NULL DEFAULT 0,
    avg_confidence DOUBLE PRECISION NOT NULL DEFAULT 0.0,
    avg_strength DOUBLE PRECISION NOT NULL DEFAULT 0.0,
    top_entities JSONB,
    sample_texts JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (agent_id, cluster_id)
);

-- Indexes for the pipeline's access paths
CREATE INDEX IF NOT EXISTS idx_memories_agent_created ON memories(agent_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_agent_layer ON memories(agent_id, layer);
CREATE INDEX IF NOT EXISTS idx_memories_agent_cluster ON memories(agent_id, cluster_id);
CREATE INDEX IF NOT EXISTS idx_memories_agent_session ON memories(agent_id, source_session_id);
CREATE INDEX IF NOT EXISTS idx_jobs_agent_created ON pipeline_jobs(agent_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON pipeline_jobs(status);
CREATE INDEX IF NOT EXISTS idx_pending_edges_agent_applied ON pending_edges(agent_id, applied);
CREATE INDEX IF NOT EXISTS idx_pending_edges_source ON pending_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_entities_agent_seen ON entities(agent_id, last_seen_at DESC);
`

// MigrationPgvector adds the embedding_vec column and a cosine-distance
// ivfflat index. Applied only when the vector extension is available; safe to
// run multiple times. The dimension matches nomic-embed-text (768), the
// default embedding model.
const MigrationPgvector = `
-- Add embedding_vec column if it doesn't already exist.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE memories ADD COLUMN embedding_vec vector(768);
    END IF;
END
$$;

-- Create ivfflat index for approximate nearest-neighbor search.
-- ivfflat needs existing rows to build useful lists, so the index is only
-- created once the table is non-empty; the migration re-runs on every open.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_memories_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM memories LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_memories_vec_cosine ON memories USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
