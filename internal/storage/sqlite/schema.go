// Package sqlite provides SQLite implementations of the storage interfaces.
// The store is CGO-free (modernc.org/sqlite) and keeps one writer connection
// in WAL mode, which serialises concurrent pipeline jobs at the database
// boundary while readers proceed unblocked.
package sqlite

// Schema contains the SQL statements to create the database schema.
// Embeddings and centroids are stored as little-endian float32 blobs; sets
// and nested documents (tags, contradictions, edges, stages) as JSON text.
const Schema = `
-- Memories table: consolidated memory atoms, partitioned by agent_id
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    text TEXT NOT NULL,

    -- Classification
    memory_type TEXT NOT NULL DEFAULT 'fact',
    layer TEXT NOT NULL DEFAULT 'episodic',
    tags TEXT,
    metadata TEXT,

    -- Embedding (little-endian float32 blob)
    embedding BLOB,

    -- Durability signals
    confidence REAL NOT NULL DEFAULT 0.5,
    strength REAL NOT NULL DEFAULT 1.0,
    reinforcement_count INTEGER NOT NULL DEFAULT 0,
    last_reinforced_at TIMESTAMP,

    -- Knowledge graph (JSON arrays)
    contradictions TEXT,
    edges TEXT,

    -- Cluster assignment
    cluster_id INTEGER,
    cluster_label TEXT,

    -- Provenance
    source_session_id TEXT,

    -- Timestamps
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Pipeline jobs table: one row per reflection or maintenance run
CREATE TABLE IF NOT EXISTS pipeline_jobs (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    session_id TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    stages TEXT,
    triggered_by TEXT,
    error TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

-- Pending edges table: staged graph relationships awaiting the apply step
CREATE TABLE IF NOT EXISTS pending_edges (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    job_id TEXT,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    edge_type TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    probability REAL NOT NULL DEFAULT 1.0,
    metadata TEXT,
    applied INTEGER NOT NULL DEFAULT 0,
    applied_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Entities table: named-entity hub nodes, slug unique per agent
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    slug TEXT NOT NULL,
    display_name TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT 'concept',
    aliases TEXT,
    summary TEXT,
    summary_embedding BLOB,
    memory_count INTEGER NOT NULL DEFAULT 0,
    last_seen_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    UNIQUE(agent_id, slug)
);

-- Clusters table: K-Means topic clusters keyed by (agent_id, cluster_id)
CREATE TABLE IF NOT EXISTS clusters (
    agent_id TEXT NOT NULL,
    cluster_id INTEGER NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    centroid BLOB,
    member_count INTEGER NOT NULL DEFAULT 0,
    avg_confidence REAL NOT NULL DEFAULT 0.0,
    avg_strength REAL NOT NULL DEFAULT 0.0,
    top_entities TEXT,
    sample_texts TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    PRIMARY KEY (agent_id, cluster_id)
);

-- Indexes for performance

-- Agent-scoped scans, most recent first
CREATE INDEX IF NOT EXISTS idx_memories_agent_created ON memories(agent_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_agent_layer ON memories(agent_id, layer);
CREATE INDEX IF NOT EXISTS idx_memories_agent_cluster ON memories(agent_id, cluster_id);
CREATE INDEX IF NOT EXISTS idx_memories_agent_session ON memories(agent_id, source_session_id);

-- Job lookups
CREATE INDEX IF NOT EXISTS idx_jobs_agent_created ON pipeline_jobs(agent_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON pipeline_jobs(status);

-- Staged-edge consumption
CREATE INDEX IF NOT EXISTS idx_pending_edges_agent_applied ON pending_edges(agent_id, applied, created_at);
CREATE INDEX IF NOT EXISTS idx_pending_edges_source ON pending_edges(source_id);

-- Entity lookups
CREATE INDEX IF NOT EXISTS idx_entities_agent_seen ON entities(agent_id, last_seen_at DESC);
`
