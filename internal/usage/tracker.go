// Package usage attributes provider calls to the agent, job and stage that
// made them. The pipeline wraps every embedding and completion call in a
// span; the tracker aggregates counts and durations so a runaway stage shows
// up in the job summary instead of only on the provider bill.
package usage

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Operation names used by the pipeline.
const (
	OpEmbedding  = "embedding"
	OpCompletion = "completion"
)

// OpStats aggregates the calls recorded under one operation:stage key.
type OpStats struct {
	Calls   int64
	Errors  int64
	TotalMs int64
}

// Tracker collects spans for one pipeline job. Safe for concurrent use.
type Tracker struct {
	runner string

	mu     sync.Mutex
	active int
	totals map[string]*OpStats
}

// NewTracker creates a tracker attributed to the detected runner.
func NewTracker() *Tracker {
	return &Tracker{
		runner: DetectRunner(),
		totals: make(map[string]*OpStats),
	}
}

// Runner returns who or what is driving this job.
func (t *Tracker) Runner() string {
	return t.runner
}

// Span is one in-flight provider call.
type Span struct {
	tracker *Tracker
	agentID string
	jobID   string
	key     string
	started time.Time

	mu   sync.Mutex
	done bool
}

// Begin opens a span for one provider call. The stage becomes part of the
// attribution key so per-stage hotspots are visible. A nil tracker returns a
// nil span; both are no-ops, so call sites never need a nil check.
func (t *Tracker) Begin(op, agentID, jobID, stage string) *Span {
	if t == nil {
		return nil
	}
	key := op
	if stage != "" {
		key = op + ":" + stage
	}

	t.mu.Lock()
	t.active++
	t.mu.Unlock()

	return &Span{
		tracker: t,
		agentID: agentID,
		jobID:   jobID,
		key:     key,
		started: time.Now(),
	}
}

// End closes the span, recording the call and whether it failed. Calling
// End more than once is a no-op, so it is safe both inline and deferred.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	elapsed := time.Since(s.started).Milliseconds()

	t := s.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active--
	stats := t.totals[s.key]
	if stats == nil {
		stats = &OpStats{}
		t.totals[s.key] = stats
	}
	stats.Calls++
	stats.TotalMs += elapsed
	if err != nil {
		stats.Errors++
	}
}

// Active returns the number of open spans.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Snapshot returns a copy of the aggregated stats keyed by
// "operation:stage".
func (t *Tracker) Snapshot() map[string]OpStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]OpStats, len(t.totals))
	for key, stats := range t.totals {
		snapshot[key] = *stats
	}
	return snapshot
}

// LogSummary writes one line for the job, sorted by key for stable output.
func (t *Tracker) LogSummary(jobID string) {
	snapshot := t.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		stats := snapshot[key]
		if stats.Errors > 0 {
			parts = append(parts, fmt.Sprintf("%s %d calls (%d failed) %dms", key, stats.Calls, stats.Errors, stats.TotalMs))
		} else {
			parts = append(parts, fmt.Sprintf("%s %d calls %dms", key, stats.Calls, stats.TotalMs))
		}
	}

	log.Printf("[usage] job %s by %s: %s", jobID, t.runner, strings.Join(parts, " | "))
}
