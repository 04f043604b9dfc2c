package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// ClusterStore implements storage.ClusterStore using PostgreSQL.
type ClusterStore struct {
	db *sql.DB
}

var _ storage.ClusterStore = (*ClusterStore)(nil)

const clusterColumns = `
	agent_id, cluster_id, label, centroid, member_count, avg_confidence,
	avg_strength, top_entities, sample_texts, created_at, updated_at
`

// Upsert writes a cluster summary keyed by (agent_id, cluster_id), replacing
// any previous pass's row for the same slot.
func (s *ClusterStore) Upsert(ctx context.Context, cluster *types.Cluster) error {
	if cluster == nil {
		return storage.ErrInvalidInput
	}
	if cluster.AgentID == "" {
		return fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if cluster.ClusterID < 0 {
		return fmt.Errorf("%w: cluster ID must be non-negative", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if cluster.CreatedAt.IsZero() {
		cluster.CreatedAt = now
	}
	cluster.UpdatedAt = now

	entitiesJSON, err := marshalJSON(cluster.TopEntities)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal top entities: %w", err)
	}
	samplesJSON, err := marshalJSON(cluster.SampleTexts)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal sample texts: %w", err)
	}

	query := `
		INSERT INTO clusters (
			agent_id, cluster_id, label, centroid, member_count, avg_confidence,
			avg_strength, top_entities, sample_texts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (agent_id, cluster_id) DO UPDATE SET
			label = EXCLUDED.label,
			centroid = EXCLUDED.centroid,
			member_count = EXCLUDED.member_count,
			avg_confidence = EXCLUDED.avg_confidence,
			avg_strength = EXCLUDED.avg_strength,
			top_entities = EXCLUDED.top_entities,
			sample_texts = EXCLUDED.sample_texts,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		cluster.AgentID,
		cluster.ClusterID,
		cluster.Label,
		encodeVector(cluster.Centroid),
		cluster.MemberCount,
		cluster.AvgConfidence,
		cluster.AvgStrength,
		entitiesJSON,
		samplesJSON,
		cluster.CreatedAt,
		cluster.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert cluster: %w", err)
	}
	return nil
}

// ListByAgent retrieves an agent's clusters ordered by cluster id.
func (s *ClusterStore) ListByAgent(ctx context.Context, agentID string) ([]*types.Cluster, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + clusterColumns + ` FROM clusters
		WHERE agent_id = $1 ORDER BY cluster_id ASC`

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*types.Cluster
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan cluster row: %w", err)
		}
		clusters = append(clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate cluster rows: %w", err)
	}
	return clusters, nil
}

// DeleteFrom removes cluster rows with cluster_id >= minClusterID, clearing
// stale slots left behind when a re-clustering pass shrinks k.
func (s *ClusterStore) DeleteFrom(ctx context.Context, agentID string, minClusterID int) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if minClusterID < 0 {
		return fmt.Errorf("%w: min cluster ID must be non-negative", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM clusters WHERE agent_id = $1 AND cluster_id >= $2`,
		agentID, minClusterID)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete stale clusters: %w", err)
	}
	return nil
}

// scanCluster reads one row in clusterColumns order.
func scanCluster(row rowScanner) (*types.Cluster, error) {
	var cluster types.Cluster
	var centroidBlob []byte
	var label sql.NullString
	var entitiesJSON, samplesJSON sql.NullString

	err := row.Scan(
		&cluster.AgentID,
		&cluster.ClusterID,
		&label,
		&centroidBlob,
		&cluster.MemberCount,
		&cluster.AvgConfidence,
		&cluster.AvgStrength,
		&entitiesJSON,
		&samplesJSON,
		&cluster.CreatedAt,
		&cluster.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(entitiesJSON, &cluster.TopEntities); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal top entities: %w", err)
	}
	if err := unmarshalJSON(samplesJSON, &cluster.SampleTexts); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal sample texts: %w", err)
	}

	cluster.Centroid, err = decodeVector(centroidBlob)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to decode centroid: %w", err)
	}

	if label.Valid {
		cluster.Label = label.String
	}

	return &cluster, nil
}
