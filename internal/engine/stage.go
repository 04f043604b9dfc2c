// Package engine implements the memory consolidation core: the staged
// reflection pipeline that turns conversation transcripts into persistent
// memory atoms, the maintenance passes that decay and promote them, the
// K-Means clustering service that groups them into topics, and the
// cluster-aware recall path that reads them back.
//
// Stages are small, single-purpose units composed into ordered lists by the
// orchestrator. Every stage is fallible; the orchestrator fails the whole run
// on the first stage error so a partially-processed job is never reported as
// complete. LLM-dependent refinements inside a stage degrade to heuristics
// instead of failing the stage.
package engine

import (
	"context"
	"fmt"
)

// Stage names, used in job records and stat keys.
const (
	StageExtract          = "extract"
	StageDeduplicate      = "deduplicate"
	StageConflictCheck    = "conflict_check"
	StageClassify         = "classify"
	StageGraphLink        = "graph_link"
	StageEntityUpdate     = "entity_update"
	StageGraphApply       = "graph_apply"
	StageConfidenceUpdate = "confidence_update"
	StageLayerPromote     = "layer_promote"
)

// Stage is one unit of pipeline work. Run mutates the shared PipelineContext
// and returns an error only for failures that must abort the run.
type Stage interface {
	Name() string
	Run(ctx context.Context, pc *PipelineContext) error
}

// StageError wraps a stage failure with the name of the stage that produced
// it, so job records can report where a run died.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
