package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity represents a named entity extracted from an agent's memories: a
// person, project, system, concept, or place. Entities act as hub nodes in
// the knowledge graph; MENTIONS_ENTITY edges connect memories to them. The
// slug is unique per agent so repeat mentions update the same record.
type Entity struct {
	// Core identification fields
	ID          string    `json:"id"`           // Unique identifier (uuid)
	AgentID     string    `json:"agent_id"`     // Owning agent
	Slug        string    `json:"slug"`         // Normalized name, unique per agent
	DisplayName string    `json:"display_name"` // Name as first encountered
	Type        string    `json:"type"`         // Entity type (see EntityType constants)
	CreatedAt   time.Time `json:"created_at"`   // First mention
	LastSeenAt  time.Time `json:"last_seen_at"` // Most recent mention

	// Aliases gather alternative surface forms seen for this entity.
	Aliases []string `json:"aliases,omitempty"`

	// Summary and its embedding, for entity-level semantic lookup
	Summary          string    `json:"summary,omitempty"`
	SummaryEmbedding []float32 `json:"summary_embedding,omitempty"`

	// MemoryCount tracks how many memories mention this entity.
	MemoryCount int `json:"memory_count"`
}

// NewEntityID returns a fresh unique entity identifier.
func NewEntityID() string {
	return uuid.NewString()
}

// Slugify normalizes an entity name into its per-agent unique slug:
// lowercased, trimmed, spaces collapsed to single hyphens, and every
// character outside [a-z0-9-] dropped.
func Slugify(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastHyphen := true // suppress leading hyphens
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
