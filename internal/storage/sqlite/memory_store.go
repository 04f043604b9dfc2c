package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db *sql.DB
}

var _ storage.MemoryStore = (*MemoryStore)(nil)

// memoryColumns is the canonical column list shared by every SELECT so scans
// stay aligned with scanMemory.
const memoryColumns = `
	id, agent_id, text, memory_type, layer, tags, metadata, embedding,
	confidence, strength, reinforcement_count, last_reinforced_at,
	contradictions, edges, cluster_id, cluster_label, source_session_id,
	created_at, updated_at
`

// memoryColumnsNoEmbedding substitutes NULL for the embedding blob on scans
// that do not need vectors.
const memoryColumnsNoEmbedding = `
	id, agent_id, text, memory_type, layer, tags, metadata, NULL,
	confidence, strength, reinforcement_count, last_reinforced_at,
	contradictions, edges, cluster_id, cluster_label, source_session_id,
	created_at, updated_at
`

// Insert persists a new memory.
func (s *MemoryStore) Insert(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return storage.ErrInvalidInput
	}
	if memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if memory.AgentID == "" {
		return fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if memory.Text == "" {
		return fmt.Errorf("%w: memory text is required", storage.ErrInvalidInput)
	}

	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now().UTC()
	}
	if memory.UpdatedAt.IsZero() {
		memory.UpdatedAt = memory.CreatedAt
	}
	if memory.Layer == "" {
		memory.Layer = types.LayerEpisodic
	}

	tagsJSON, err := marshalJSON(memory.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadataJSON, err := marshalJSON(memory.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	contradictionsJSON, err := marshalJSON(memory.Contradictions)
	if err != nil {
		return fmt.Errorf("failed to marshal contradictions: %w", err)
	}
	edgesJSON, err := marshalJSON(memory.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	query := `
		INSERT INTO memories (
			id, agent_id, text, memory_type, layer, tags, metadata, embedding,
			confidence, strength, reinforcement_count, last_reinforced_at,
			contradictions, edges, cluster_id, cluster_label, source_session_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		memory.ID,
		memory.AgentID,
		memory.Text,
		memory.MemoryType,
		memory.Layer,
		tagsJSON,
		metadataJSON,
		encodeVector(memory.Embedding),
		memory.Confidence,
		memory.Strength,
		memory.ReinforcementCount,
		nullableTime(memory.LastReinforcedAt),
		contradictionsJSON,
		edgesJSON,
		nullableInt(memory.ClusterID),
		nullableString(memory.ClusterLabel),
		nullableString(memory.SourceSessionID),
		memory.CreatedAt,
		memory.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// InsertMany persists a batch of memories inside one transaction.
func (s *MemoryStore) InsertMany(ctx context.Context, memories []*types.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, memory := range memories {
		if err := s.insertTx(ctx, tx, memory); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk insert: %w", err)
	}
	return nil
}

// insertTx mirrors Insert within an open transaction.
func (s *MemoryStore) insertTx(ctx context.Context, tx *sql.Tx, memory *types.Memory) error {
	if memory == nil || memory.ID == "" || memory.AgentID == "" || memory.Text == "" {
		return fmt.Errorf("%w: memory ID, agent ID and text are required", storage.ErrInvalidInput)
	}

	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now().UTC()
	}
	if memory.UpdatedAt.IsZero() {
		memory.UpdatedAt = memory.CreatedAt
	}
	if memory.Layer == "" {
		memory.Layer = types.LayerEpisodic
	}

	tagsJSON, err := marshalJSON(memory.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadataJSON, err := marshalJSON(memory.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	contradictionsJSON, err := marshalJSON(memory.Contradictions)
	if err != nil {
		return fmt.Errorf("failed to marshal contradictions: %w", err)
	}
	edgesJSON, err := marshalJSON(memory.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	query := `
		INSERT INTO memories (
			id, agent_id, text, memory_type, layer, tags, metadata, embedding,
			confidence, strength, reinforcement_count, last_reinforced_at,
			contradictions, edges, cluster_id, cluster_label, source_session_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		memory.ID, memory.AgentID, memory.Text, memory.MemoryType, memory.Layer,
		tagsJSON, metadataJSON, encodeVector(memory.Embedding),
		memory.Confidence, memory.Strength, memory.ReinforcementCount,
		nullableTime(memory.LastReinforcedAt),
		contradictionsJSON, edgesJSON,
		nullableInt(memory.ClusterID), nullableString(memory.ClusterLabel),
		nullableString(memory.SourceSessionID),
		memory.CreatedAt, memory.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory %s: %w", memory.ID, err)
	}
	return nil
}

// Get retrieves a memory by id within an agent partition.
func (s *MemoryStore) Get(ctx context.Context, agentID, id string) (*types.Memory, error) {
	if agentID == "" || id == "" {
		return nil, fmt.Errorf("%w: agent ID and memory ID are required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE agent_id = ? AND id = ?`

	row := s.db.QueryRowContext(ctx, query, agentID, id)
	memory, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return memory, nil
}

// ListByAgent retrieves an agent's memories bounded and ordered by opts.
func (s *MemoryStore) ListByAgent(ctx context.Context, agentID string, opts storage.ListOptions) ([]*types.Memory, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	opts.Normalize()

	var conditions []string
	var args []interface{}
	conditions = append(conditions, "agent_id = ?")
	args = append(args, agentID)

	if opts.Layer != "" {
		conditions = append(conditions, "layer = ?")
		args = append(args, opts.Layer)
	}
	if opts.MemoryType != "" {
		conditions = append(conditions, "memory_type = ?")
		args = append(args, opts.MemoryType)
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "source_session_id = ?")
		args = append(args, opts.SessionID)
	}

	columns := memoryColumnsNoEmbedding
	if opts.WithEmbeddings {
		columns = memoryColumns
	}

	// SortBy and SortOrder are whitelist-validated by Normalize.
	query := `SELECT ` + columns + ` FROM memories WHERE ` +
		strings.Join(conditions, " AND ") +
		fmt.Sprintf(" ORDER BY %s %s LIMIT ?", opts.SortBy, strings.ToUpper(opts.SortOrder))
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// ListByClusters retrieves up to limit memories assigned to the given
// clusters, embeddings included.
func (s *MemoryStore) ListByClusters(ctx context.Context, agentID string, clusterIDs []int, limit int) ([]*types.Memory, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if len(clusterIDs) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 1000
	}

	placeholders := make([]string, len(clusterIDs))
	args := make([]interface{}, 0, len(clusterIDs)+2)
	args = append(args, agentID)
	for i, id := range clusterIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, limit)

	query := `SELECT ` + memoryColumns + ` FROM memories
		WHERE agent_id = ? AND cluster_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// CountByAgent returns the number of memories in the agent partition.
func (s *MemoryStore) CountByAgent(ctx context.Context, agentID string) (int, error) {
	if agentID == "" {
		return 0, fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE agent_id = ?`, agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return count, nil
}

// AgentIDs returns the distinct agent partitions present in the store.
func (s *MemoryStore) AgentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT agent_id FROM memories ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent ids: %w", err)
	}
	defer rows.Close()

	var agentIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan agent id: %w", err)
		}
		agentIDs = append(agentIDs, id)
	}
	return agentIDs, rows.Err()
}

// Update replaces an existing memory document.
func (s *MemoryStore) Update(ctx context.Context, memory *types.Memory) error {
	if memory == nil || memory.ID == "" || memory.AgentID == "" {
		return fmt.Errorf("%w: memory ID and agent ID are required", storage.ErrInvalidInput)
	}

	memory.UpdatedAt = time.Now().UTC()

	tagsJSON, err := marshalJSON(memory.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadataJSON, err := marshalJSON(memory.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	contradictionsJSON, err := marshalJSON(memory.Contradictions)
	if err != nil {
		return fmt.Errorf("failed to marshal contradictions: %w", err)
	}
	edgesJSON, err := marshalJSON(memory.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	query := `
		UPDATE memories SET
			text = ?,
			memory_type = ?,
			layer = ?,
			tags = ?,
			metadata = ?,
			embedding = ?,
			confidence = ?,
			strength = ?,
			reinforcement_count = ?,
			last_reinforced_at = ?,
			contradictions = ?,
			edges = ?,
			cluster_id = ?,
			cluster_label = ?,
			source_session_id = ?,
			updated_at = ?
		WHERE agent_id = ? AND id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		memory.Text, memory.MemoryType, memory.Layer,
		tagsJSON, metadataJSON, encodeVector(memory.Embedding),
		memory.Confidence, memory.Strength, memory.ReinforcementCount,
		nullableTime(memory.LastReinforcedAt),
		contradictionsJSON, edgesJSON,
		nullableInt(memory.ClusterID), nullableString(memory.ClusterLabel),
		nullableString(memory.SourceSessionID),
		memory.UpdatedAt,
		memory.AgentID, memory.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Reinforce atomically increments reinforcement_count and touches
// last_reinforced_at.
func (s *MemoryStore) Reinforce(ctx context.Context, agentID, id string) error {
	if agentID == "" || id == "" {
		return fmt.Errorf("%w: agent ID and memory ID are required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		UPDATE memories
		SET reinforcement_count = reinforcement_count + 1,
		    last_reinforced_at = ?,
		    updated_at = ?
		WHERE agent_id = ? AND id = ?
	`

	result, err := s.db.ExecContext(ctx, query, now, now, agentID, id)
	if err != nil {
		return fmt.Errorf("failed to reinforce memory: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateScores atomically sets confidence and strength.
func (s *MemoryStore) UpdateScores(ctx context.Context, agentID, id string, confidence, strength float64) error {
	if agentID == "" || id == "" {
		return fmt.Errorf("%w: agent ID and memory ID are required", storage.ErrInvalidInput)
	}
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %f out of range [0,1]", storage.ErrInvalidInput, confidence)
	}
	if strength < 0 || strength > 1 {
		return fmt.Errorf("%w: strength %f out of range [0,1]", storage.ErrInvalidInput, strength)
	}

	query := `
		UPDATE memories
		SET confidence = ?, strength = ?, updated_at = ?
		WHERE agent_id = ? AND id = ?
	`

	result, err := s.db.ExecContext(ctx, query, confidence, strength, time.Now().UTC(), agentID, id)
	if err != nil {
		return fmt.Errorf("failed to update scores: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateLayer moves a memory to a new retention tier, validating the
// transition against the layer state machine.
func (s *MemoryStore) UpdateLayer(ctx context.Context, agentID, id, layer string) error {
	if agentID == "" || id == "" {
		return fmt.Errorf("%w: agent ID and memory ID are required", storage.ErrInvalidInput)
	}
	if !types.IsValidLayer(layer) {
		return fmt.Errorf("%w: invalid layer: %s", storage.ErrInvalidInput, layer)
	}

	// Read the current layer to validate the transition.
	var currentLayer string
	err := s.db.QueryRowContext(ctx,
		`SELECT layer FROM memories WHERE agent_id = ? AND id = ?`, agentID, id).Scan(&currentLayer)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read current layer: %w", err)
	}

	if !types.IsValidLayerTransition(currentLayer, layer) {
		return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidLayerTransition, currentLayer, layer)
	}

	// The WHERE guard on the old layer keeps concurrent passes from applying
	// two transitions to the same memory.
	query := `
		UPDATE memories
		SET layer = ?, updated_at = ?
		WHERE agent_id = ? AND id = ? AND layer = ?
	`

	result, err := s.db.ExecContext(ctx, query, layer, time.Now().UTC(), agentID, id, currentLayer)
	if err != nil {
		return fmt.Errorf("failed to update layer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: layer changed concurrently", storage.ErrInvalidLayerTransition)
	}
	return nil
}

// AssignClusters bulk-writes cluster assignments inside one transaction.
func (s *MemoryStore) AssignClusters(ctx context.Context, agentID string, assignments []storage.ClusterAssignment) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if len(assignments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE memories
		SET cluster_id = ?, cluster_label = ?, updated_at = ?
		WHERE agent_id = ? AND id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare assignment update: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, a := range assignments {
		if _, err := stmt.ExecContext(ctx, a.ClusterID, a.ClusterLabel, now, agentID, a.MemoryID); err != nil {
			return fmt.Errorf("failed to assign cluster for %s: %w", a.MemoryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cluster assignments: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanMemory.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMemory reads one row in memoryColumns order.
func scanMemory(row rowScanner) (*types.Memory, error) {
	var memory types.Memory
	var tagsJSON, metadataJSON, contradictionsJSON, edgesJSON sql.NullString
	var embeddingBlob []byte
	var lastReinforcedAt sql.NullTime
	var clusterID sql.NullInt64
	var clusterLabel, sourceSessionID sql.NullString

	err := row.Scan(
		&memory.ID,
		&memory.AgentID,
		&memory.Text,
		&memory.MemoryType,
		&memory.Layer,
		&tagsJSON,
		&metadataJSON,
		&embeddingBlob,
		&memory.Confidence,
		&memory.Strength,
		&memory.ReinforcementCount,
		&lastReinforcedAt,
		&contradictionsJSON,
		&edgesJSON,
		&clusterID,
		&clusterLabel,
		&sourceSessionID,
		&memory.CreatedAt,
		&memory.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(tagsJSON, &memory.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := unmarshalJSON(metadataJSON, &memory.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := unmarshalJSON(contradictionsJSON, &memory.Contradictions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contradictions: %w", err)
	}
	if err := unmarshalJSON(edgesJSON, &memory.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	memory.Embedding, err = decodeVector(embeddingBlob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}

	if lastReinforcedAt.Valid {
		t := lastReinforcedAt.Time
		memory.LastReinforcedAt = &t
	}
	if clusterID.Valid {
		c := int(clusterID.Int64)
		memory.ClusterID = &c
	}
	if clusterLabel.Valid {
		memory.ClusterLabel = clusterLabel.String
	}
	if sourceSessionID.Valid {
		memory.SourceSessionID = sourceSessionID.String
	}

	return &memory, nil
}

// collectMemories drains rows into a slice.
func collectMemories(rows *sql.Rows) ([]*types.Memory, error) {
	var memories []*types.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		memories = append(memories, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memory rows: %w", err)
	}
	return memories, nil
}

// nullableTime maps a *time.Time to its SQL representation.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// nullableInt maps a *int to its SQL representation.
func nullableInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

// nullableString maps "" to NULL.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
