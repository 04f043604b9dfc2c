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

// EdgeStore implements storage.EdgeStore using PostgreSQL.
type EdgeStore struct {
	db *sql.DB
}

var _ storage.EdgeStore = (*EdgeStore)(nil)

const edgeColumns = `
	id, agent_id, job_id, source_id, target_id, edge_type, weight,
	probability, metadata, applied, applied_at, created_at
`

// InsertMany stages a batch of pending edges inside one transaction.
func (s *EdgeStore) InsertMany(ctx context.Context, edges []*types.PendingEdge) error {
	if len(edges) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_edges (
			id, agent_id, job_id, source_id, target_id, edge_type, weight,
			probability, metadata, applied, applied_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return fmt.Errorf("postgres: failed to prepare edge insert: %w", err)
	}
	defer stmt.Close()

	for _, edge := range edges {
		if edge == nil || edge.ID == "" || edge.AgentID == "" {
			return fmt.Errorf("%w: edge ID and agent ID are required", storage.ErrInvalidInput)
		}
		if edge.SourceID == "" || edge.TargetID == "" {
			return fmt.Errorf("%w: edge source and target IDs are required", storage.ErrInvalidInput)
		}
		if !types.IsValidEdgeType(edge.EdgeType) {
			return fmt.Errorf("%w: invalid edge type: %s", storage.ErrInvalidInput, edge.EdgeType)
		}

		if edge.CreatedAt.IsZero() {
			edge.CreatedAt = time.Now().UTC()
		}

		metadataJSON, err := marshalJSON(edge.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: failed to marshal edge metadata: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			edge.ID,
			edge.AgentID,
			nullableString(edge.JobID),
			edge.SourceID,
			edge.TargetID,
			edge.EdgeType,
			edge.Weight,
			edge.Probability,
			metadataJSON,
			edge.Applied,
			nullableTime(edge.AppliedAt),
			edge.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert edge %s: %w", edge.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit edge batch: %w", err)
	}
	return nil
}

// ListUnapplied retrieves staged edges not yet merged into memory documents,
// oldest first so replays drain in insertion order.
func (s *EdgeStore) ListUnapplied(ctx context.Context, agentID string, limit int) ([]*types.PendingEdge, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if limit < 1 {
		limit = 500
	}

	query := `SELECT ` + edgeColumns + ` FROM pending_edges
		WHERE agent_id = $1 AND NOT applied
		ORDER BY created_at ASC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list unapplied edges: %w", err)
	}
	defer rows.Close()

	var edges []*types.PendingEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan edge row: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate edge rows: %w", err)
	}
	return edges, nil
}

// MarkApplied flags the given edges as merged. Already-applied edges are
// left untouched so replays stay idempotent.
func (s *EdgeStore) MarkApplied(ctx context.Context, agentID string, ids []string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, time.Now().UTC(), agentID)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, id)
	}

	query := `UPDATE pending_edges
		SET applied = TRUE, applied_at = $1
		WHERE agent_id = $2 AND NOT applied AND id IN (` + strings.Join(placeholders, ", ") + `)`

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: failed to mark edges applied: %w", err)
	}
	return nil
}

// scanEdge reads one row in edgeColumns order.
func scanEdge(row rowScanner) (*types.PendingEdge, error) {
	var edge types.PendingEdge
	var jobID, metadataJSON sql.NullString
	var appliedAt sql.NullTime

	err := row.Scan(
		&edge.ID,
		&edge.AgentID,
		&jobID,
		&edge.SourceID,
		&edge.TargetID,
		&edge.EdgeType,
		&edge.Weight,
		&edge.Probability,
		&metadataJSON,
		&edge.Applied,
		&appliedAt,
		&edge.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(metadataJSON, &edge.Metadata); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal edge metadata: %w", err)
	}

	if jobID.Valid {
		edge.JobID = jobID.String
	}
	if appliedAt.Valid {
		t := appliedAt.Time
		edge.AppliedAt = &t
	}

	return &edge, nil
}
