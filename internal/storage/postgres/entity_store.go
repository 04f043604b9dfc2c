package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// EntityStore implements storage.EntityStore using PostgreSQL.
type EntityStore struct {
	db *sql.DB
}

var _ storage.EntityStore = (*EntityStore)(nil)

const entityColumns = `
	id, agent_id, slug, display_name, entity_type, aliases, summary,
	summary_embedding, memory_count, created_at, last_seen_at
`

// Insert persists a new entity. The (agent_id, slug) pair is unique; a
// duplicate slug returns ErrInvalidInput.
func (s *EntityStore) Insert(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if entity.AgentID == "" {
		return fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if entity.Slug == "" {
		return fmt.Errorf("%w: entity slug is required", storage.ErrInvalidInput)
	}
	if entity.Type != "" && !types.IsValidEntityType(entity.Type) {
		return fmt.Errorf("%w: invalid entity type: %s", storage.ErrInvalidInput, entity.Type)
	}

	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	if entity.LastSeenAt.IsZero() {
		entity.LastSeenAt = entity.CreatedAt
	}
	if entity.Type == "" {
		entity.Type = types.EntityTypeConcept
	}

	aliasesJSON, err := marshalJSON(entity.Aliases)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal aliases: %w", err)
	}

	query := `
		INSERT INTO entities (
			id, agent_id, slug, display_name, entity_type, aliases, summary,
			summary_embedding, memory_count, created_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.db.ExecContext(ctx, query,
		entity.ID,
		entity.AgentID,
		entity.Slug,
		entity.DisplayName,
		entity.Type,
		aliasesJSON,
		nullableString(entity.Summary),
		encodeVector(entity.SummaryEmbedding),
		entity.MemoryCount,
		entity.CreatedAt,
		entity.LastSeenAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value") {
			return fmt.Errorf("%w: entity slug %s already exists", storage.ErrInvalidInput, entity.Slug)
		}
		return fmt.Errorf("postgres: failed to insert entity: %w", err)
	}
	return nil
}

// GetBySlug retrieves an entity by its slug within an agent partition.
func (s *EntityStore) GetBySlug(ctx context.Context, agentID, slug string) (*types.Entity, error) {
	if agentID == "" || slug == "" {
		return nil, fmt.Errorf("%w: agent ID and slug are required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + entityColumns + ` FROM entities WHERE agent_id = $1 AND slug = $2`

	row := s.db.QueryRowContext(ctx, query, agentID, slug)
	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get entity: %w", err)
	}
	return entity, nil
}

// RecordMention atomically increments the mention count and touches
// last_seen_at. The alias union is computed in Go; a concurrent race can at
// worst drop an alias, never a count.
func (s *EntityStore) RecordMention(ctx context.Context, agentID, slug string, aliases []string) error {
	if agentID == "" || slug == "" {
		return fmt.Errorf("%w: agent ID and slug are required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		UPDATE entities
		SET memory_count = memory_count + 1, last_seen_at = $1
		WHERE agent_id = $2 AND slug = $3
	`

	result, err := s.db.ExecContext(ctx, query, now, agentID, slug)
	if err != nil {
		return fmt.Errorf("postgres: failed to record mention: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	if len(aliases) == 0 {
		return nil
	}

	// Merge new aliases into the stored set.
	var aliasesJSON sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT aliases FROM entities WHERE agent_id = $1 AND slug = $2`,
		agentID, slug).Scan(&aliasesJSON)
	if err != nil {
		return fmt.Errorf("postgres: failed to read aliases: %w", err)
	}

	var existing []string
	if err := unmarshalJSON(aliasesJSON, &existing); err != nil {
		return fmt.Errorf("postgres: failed to unmarshal aliases: %w", err)
	}

	merged := types.MergeTags(existing, aliases...)
	if len(merged) == len(existing) {
		return nil
	}

	mergedJSON, err := marshalJSON(merged)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal aliases: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE entities SET aliases = $1 WHERE agent_id = $2 AND slug = $3`,
		mergedJSON, agentID, slug)
	if err != nil {
		return fmt.Errorf("postgres: failed to update aliases: %w", err)
	}
	return nil
}

// ListByAgent retrieves an agent's entities, most recently seen first.
func (s *EntityStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*types.Entity, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if limit < 1 {
		limit = 50
	}

	query := `SELECT ` + entityColumns + ` FROM entities
		WHERE agent_id = $1 ORDER BY last_seen_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*types.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entity row: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate entity rows: %w", err)
	}
	return entities, nil
}

// scanEntity reads one row in entityColumns order.
func scanEntity(row rowScanner) (*types.Entity, error) {
	var entity types.Entity
	var entityType, aliasesJSON, summary sql.NullString
	var embeddingBlob []byte

	err := row.Scan(
		&entity.ID,
		&entity.AgentID,
		&entity.Slug,
		&entity.DisplayName,
		&entityType,
		&aliasesJSON,
		&summary,
		&embeddingBlob,
		&entity.MemoryCount,
		&entity.CreatedAt,
		&entity.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(aliasesJSON, &entity.Aliases); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal aliases: %w", err)
	}

	entity.SummaryEmbedding, err = decodeVector(embeddingBlob)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to decode summary embedding: %w", err)
	}

	if entityType.Valid {
		entity.Type = entityType.String
	}
	if summary.Valid {
		entity.Summary = summary.String
	}

	return &entity, nil
}
