package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// JobStore implements storage.JobStore using PostgreSQL.
type JobStore struct {
	db *sql.DB
}

var _ storage.JobStore = (*JobStore)(nil)

const jobColumns = `
	id, agent_id, session_id, status, stages, triggered_by, error,
	created_at, started_at, finished_at
`

// Create persists a new pipeline job record.
func (s *JobStore) Create(ctx context.Context, job *types.PipelineJob) error {
	if job == nil {
		return storage.ErrInvalidInput
	}
	if job.ID == "" {
		return fmt.Errorf("%w: job ID is required", storage.ErrInvalidInput)
	}
	if job.AgentID == "" {
		return fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if !types.IsValidJobStatus(string(job.Status)) {
		return fmt.Errorf("%w: invalid job status: %s", storage.ErrInvalidInput, job.Status)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	stagesJSON, err := marshalJSON(job.Stages)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal stages: %w", err)
	}

	query := `
		INSERT INTO pipeline_jobs (
			id, agent_id, session_id, status, stages, triggered_by, error,
			created_at, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.AgentID,
		nullableString(job.SessionID),
		job.Status,
		stagesJSON,
		nullableString(job.TriggeredBy),
		nullableString(job.Error),
		job.CreatedAt,
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create job: %w", err)
	}
	return nil
}

// Update replaces a job's mutable fields. Jobs already in a terminal status
// are frozen and return ErrJobTerminal.
func (s *JobStore) Update(ctx context.Context, job *types.PipelineJob) error {
	if job == nil || job.ID == "" || job.AgentID == "" {
		return fmt.Errorf("%w: job ID and agent ID are required", storage.ErrInvalidInput)
	}
	if !types.IsValidJobStatus(string(job.Status)) {
		return fmt.Errorf("%w: invalid job status: %s", storage.ErrInvalidInput, job.Status)
	}

	var storedStatus string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM pipeline_jobs WHERE agent_id = $1 AND id = $2`,
		job.AgentID, job.ID).Scan(&storedStatus)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to read job status: %w", err)
	}

	if types.JobStatus(storedStatus).Terminal() {
		return fmt.Errorf("%w: job %s is %s", storage.ErrJobTerminal, job.ID, storedStatus)
	}

	stagesJSON, err := marshalJSON(job.Stages)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal stages: %w", err)
	}

	query := `
		UPDATE pipeline_jobs
		SET status = $1, stages = $2, error = $3, started_at = $4, finished_at = $5
		WHERE agent_id = $6 AND id = $7
	`

	result, err := s.db.ExecContext(ctx, query,
		job.Status,
		stagesJSON,
		nullableString(job.Error),
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
		job.AgentID,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get retrieves a job by id within an agent partition.
func (s *JobStore) Get(ctx context.Context, agentID, id string) (*types.PipelineJob, error) {
	if agentID == "" || id == "" {
		return nil, fmt.Errorf("%w: agent ID and job ID are required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + jobColumns + ` FROM pipeline_jobs WHERE agent_id = $1 AND id = $2`

	row := s.db.QueryRowContext(ctx, query, agentID, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get job: %w", err)
	}
	return job, nil
}

// ListByAgent retrieves an agent's jobs, newest first.
func (s *JobStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*types.PipelineJob, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent ID is required", storage.ErrInvalidInput)
	}
	if limit < 1 {
		limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM pipeline_jobs
		WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.PipelineJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate job rows: %w", err)
	}
	return jobs, nil
}

// scanJob reads one row in jobColumns order.
func scanJob(row rowScanner) (*types.PipelineJob, error) {
	var job types.PipelineJob
	var sessionID, triggeredBy, jobError sql.NullString
	var stagesJSON sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.AgentID,
		&sessionID,
		&job.Status,
		&stagesJSON,
		&triggeredBy,
		&jobError,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(stagesJSON, &job.Stages); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal stages: %w", err)
	}

	if sessionID.Valid {
		job.SessionID = sessionID.String
	}
	if triggeredBy.Valid {
		job.TriggeredBy = triggeredBy.String
	}
	if jobError.Valid {
		job.Error = jobError.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}

	return &job, nil
}
