package orchestrator

import (
	"time"

	"github.com/dpolat/pagelift/pkg/stage"
)

// WorkItem is one unit of pipeline work: a page with its payload seed.
// Immutable once constructed; one fan-out task per item.
type WorkItem struct {
	Path    string
	Content string
}

// EvaluationRecord is the per-page outcome of the aggregation pass. Every
// attempted page has exactly one record by the time the run completes.
type EvaluationRecord struct {
	Score   float64  `json:"score"`
	Issues  []string `json:"issues"`
	Summary string   `json:"summary"`
}

// RunReport summarizes one completed run.
type RunReport struct {
	Status      string                      `json:"status"` // complete or cancelled
	SessionID   string                      `json:"session_id"`
	RunID       string                      `json:"run_id"`
	Migrated    int                         `json:"migrated"`
	Evaluations map[string]EvaluationRecord `json:"evaluations"`
	DurationSec float64                     `json:"duration_sec"`
	StartedAt   time.Time                   `json:"started_at"`
}

// EvalPolicy holds the aggregation pass's retry schedule and scores.
type EvalPolicy struct {
	MaxAttempts    int
	QuotaDelay     time.Duration
	QuotaGrowth    float64
	OverloadGrowth float64
	SuccessScore   float64
	DeferredScore  float64
}

// DefaultEvalPolicy returns the standard aggregation schedule.
func DefaultEvalPolicy() EvalPolicy {
	return EvalPolicy{
		MaxAttempts:    5,
		QuotaDelay:     30 * time.Second,
		QuotaGrowth:    2.0,
		OverloadGrowth: 1.5,
		SuccessScore:   9.0,
		DeferredScore:  5.0,
	}
}

// taskResult carries one fan-out completion back to the driver.
type taskResult struct {
	path   string
	result stage.Value
}
