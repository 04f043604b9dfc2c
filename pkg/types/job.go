package types

import (
	"time"

	"github.com/google/uuid"
)

// PipelineJob tracks one pipeline run from creation to its terminal state.
// The document is created when the run is requested and mutated only by the
// orchestrator; once the status reaches complete or failed it never changes
// again.
type PipelineJob struct {
	ID          string        `json:"id"`                    // Unique identifier (uuid)
	AgentID     string        `json:"agent_id"`              // Agent the run belongs to
	SessionID   string        `json:"session_id,omitempty"`  // Session the transcript came from
	Status      JobStatus     `json:"status"`                // pending | running | complete | failed
	Stages      []StageResult `json:"stages,omitempty"`      // Per-stage execution records, in order
	TriggeredBy string        `json:"triggered_by,omitempty"` // Detected runner identity
	Error       string        `json:"error,omitempty"`       // Failure message when status is failed
	CreatedAt   time.Time     `json:"created_at"`            // Job document creation
	StartedAt   *time.Time    `json:"started_at,omitempty"`  // When the orchestrator picked it up
	FinishedAt  *time.Time    `json:"finished_at,omitempty"` // When it reached a terminal status
}

// StageResult records the execution of a single stage within a job.
type StageResult struct {
	Stage          string      `json:"stage"`                   // Stage name (see engine stage constants)
	Status         StageStatus `json:"status"`                  // running | complete | failed
	StartedAt      time.Time   `json:"started_at"`              // Stage start
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`  // Stage end, terminal statuses only
	DurationMs     int64       `json:"duration_ms"`             // Wall-clock duration
	ItemsProcessed int64       `json:"items_processed"`         // From stats "{stage}_processed"
	ItemsCreated   int64       `json:"items_created"`           // From stats "{stage}_created"
	ItemsUpdated   int64       `json:"items_updated"`           // From stats "{stage}_updated"
	Error          string      `json:"error,omitempty"`         // Failure message when status is failed
}

// NewJobID returns a fresh unique pipeline job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// NewPipelineJob builds a pending job document for the given agent.
func NewPipelineJob(agentID, sessionID string) *PipelineJob {
	return &PipelineJob{
		ID:        NewJobID(),
		AgentID:   agentID,
		SessionID: sessionID,
		Status:    JobPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Terminal reports whether the job has reached a final status.
func (j *PipelineJob) Terminal() bool {
	return j.Status.Terminal()
}
