package engine

import (
	"context"
	"log"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// Orchestrator executes an ordered stage list against a pipeline job,
// persisting per-stage progress as it goes. Execution is fail-fast: the first
// stage error aborts the run and the job lands in the failed status carrying
// the stage name and message. Stage records are written before and after each
// stage so an observer polling the job always sees where the run is.
type Orchestrator struct {
	jobs storage.JobStore
}

// NewOrchestrator returns an orchestrator persisting through the given store.
func NewOrchestrator(jobs storage.JobStore) *Orchestrator {
	return &Orchestrator{jobs: jobs}
}

// Run drives the job through the stage list. The job must already be
// persisted in the pending status; Run moves it to running, executes each
// stage in order, and leaves it complete or failed. The returned error is the
// failing stage's error wrapped in a StageError, or nil.
func (o *Orchestrator) Run(ctx context.Context, job *types.PipelineJob, pc *PipelineContext, stages []Stage) error {
	now := time.Now().UTC()
	job.Status = types.JobRunning
	job.StartedAt = &now
	if err := o.jobs.Update(ctx, job); err != nil {
		return err
	}
	log.Printf("[orchestrator] job %s started for agent %s (%d stages)", job.ID, job.AgentID, len(stages))

	for _, stage := range stages {
		started := time.Now().UTC()
		job.Stages = append(job.Stages, types.StageResult{
			Stage:     stage.Name(),
			Status:    types.StageRunning,
			StartedAt: started,
		})
		if err := o.jobs.Update(ctx, job); err != nil {
			return err
		}

		err := stage.Run(ctx, pc)
		finished := time.Now().UTC()

		result := &job.Stages[len(job.Stages)-1]
		result.CompletedAt = &finished
		result.DurationMs = finished.Sub(started).Milliseconds()
		result.ItemsProcessed = pc.Stat(stage.Name() + "_processed")
		result.ItemsCreated = pc.Stat(stage.Name() + "_created")
		result.ItemsUpdated = pc.Stat(stage.Name() + "_updated")

		if err != nil {
			stageErr := &StageError{Stage: stage.Name(), Err: err}
			result.Status = types.StageFailed
			result.Error = err.Error()
			job.Status = types.JobFailed
			job.Error = stageErr.Error()
			job.FinishedAt = &finished
			if uerr := o.jobs.Update(ctx, job); uerr != nil {
				log.Printf("[orchestrator] job %s: failed to persist failure: %v", job.ID, uerr)
			}
			log.Printf("[orchestrator] job %s failed at %s: %v", job.ID, stage.Name(), err)
			return stageErr
		}

		result.Status = types.StageComplete
		log.Printf("[orchestrator] job %s stage %s complete in %dms (processed=%d created=%d updated=%d)",
			job.ID, stage.Name(), result.DurationMs, result.ItemsProcessed, result.ItemsCreated, result.ItemsUpdated)
	}

	finished := time.Now().UTC()
	job.Status = types.JobComplete
	job.FinishedAt = &finished
	if err := o.jobs.Update(ctx, job); err != nil {
		return err
	}
	log.Printf("[orchestrator] job %s complete in %s", job.ID, finished.Sub(*job.StartedAt).Round(time.Millisecond))
	return nil
}
