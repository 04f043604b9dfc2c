package engine

import (
	"github.com/reveriehq/reverie/internal/usage"
	"github.com/reveriehq/reverie/pkg/types"
)

// PipelineContext is the mutable state a single pipeline run threads through
// its stages. Each stage reads the slices populated by its predecessors and
// appends its own output; the orchestrator owns the struct and never shares
// it between runs, so no locking is needed.
type PipelineContext struct {
	AgentID   string
	SessionID string
	JobID     string

	// Transcript is the raw conversation text a reflection run extracts
	// from. Maintenance runs leave it empty.
	Transcript string

	// Settings are resolved once at job construction; stages never re-read
	// configuration mid-run.
	Settings types.StageSettings

	// Usage tracks provider calls made on behalf of this run. Optional; a
	// nil tracker disables accounting without disabling the calls.
	Usage *usage.Tracker

	// ExtractedAtoms is the extract stage's output: raw candidates before
	// deduplication.
	ExtractedAtoms []*types.CandidateMemory

	// DeduplicatedAtoms is the surviving candidate set after the dedupe and
	// conflict-check stages. Conflict-check annotates in place.
	DeduplicatedAtoms []*types.CandidateMemory

	// ClassifiedAtoms are the persisted memories created by the classify
	// stage. Graph stages link against these.
	ClassifiedAtoms []*types.Memory

	stats map[string]int64
}

// NewPipelineContext builds the context for one run with normalized settings.
func NewPipelineContext(agentID, sessionID, jobID string, settings types.StageSettings) *PipelineContext {
	settings.Normalize()
	return &PipelineContext{
		AgentID:   agentID,
		SessionID: sessionID,
		JobID:     jobID,
		Settings:  settings,
		stats:     make(map[string]int64),
	}
}

// AddStat increments a named counter. Stages record their work under
// "{stage}_processed", "{stage}_created" and "{stage}_updated" keys; the
// orchestrator folds those into the job's stage results.
func (pc *PipelineContext) AddStat(key string, delta int64) {
	if pc.stats == nil {
		pc.stats = make(map[string]int64)
	}
	pc.stats[key] += delta
}

// Stat returns the current value of a counter, zero when never incremented.
func (pc *PipelineContext) Stat(key string) int64 {
	return pc.stats[key]
}

// Stats returns a copy of all counters recorded so far.
func (pc *PipelineContext) Stats() map[string]int64 {
	out := make(map[string]int64, len(pc.stats))
	for k, v := range pc.stats {
		out[k] = v
	}
	return out
}
