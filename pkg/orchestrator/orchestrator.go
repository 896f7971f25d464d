// Package orchestrator drives one full migration run: bootstrap, bounded
// fan-out over the pages, the aggregation pass, artifact persistence and
// guaranteed memory teardown.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dpolat/pagelift/internal/metrics"
	"github.com/dpolat/pagelift/internal/observability"
	"github.com/dpolat/pagelift/internal/tracing"
	"github.com/dpolat/pagelift/pkg/bus"
	"github.com/dpolat/pagelift/pkg/eventlog"
	"github.com/dpolat/pagelift/pkg/executor"
	"github.com/dpolat/pagelift/pkg/membank"
	"github.com/dpolat/pagelift/pkg/session"
	"github.com/dpolat/pagelift/pkg/stage"
)

// RunsQueue is the bus queue run completion reports are published to.
const RunsQueue = "runs"

// LatestEvaluationFile is the fixed-name latest-result pointer.
const LatestEvaluationFile = "evaluation.json"

// Options wires the orchestrator's collaborators. Everything is explicit;
// the orchestrator owns the bank for the duration of a run and passes work
// items read-only snapshots.
type Options struct {
	ObsDir    string
	Eval      EvalPolicy
	Executor  *executor.Executor
	Limiter   *executor.Limiter
	Sessions  *session.Registry
	Bank      *membank.Bank
	Events    *eventlog.Log
	Metrics   *metrics.Store
	Bus       *bus.Bus // optional
	Bootstrap stage.Stage
	Migrate   stage.Stage
	ListPages func() ([]WorkItem, error)
	Logger    zerolog.Logger
}

// Orchestrator runs migration sessions.
type Orchestrator struct {
	obsDir    string
	eval      EvalPolicy
	exec      *executor.Executor
	limiter   *executor.Limiter
	sessions  *session.Registry
	bank      *membank.Bank
	events    *eventlog.Log
	metrics   *metrics.Store
	bus       *bus.Bus
	bootstrap stage.Stage
	migrate   stage.Stage
	listPages func() ([]WorkItem, error)
	logger    zerolog.Logger

	// sleep is swapped out in tests to observe the aggregation schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator from its wired collaborators.
func New(opts Options) (*Orchestrator, error) {
	if opts.Executor == nil || opts.Sessions == nil || opts.Bank == nil || opts.Events == nil || opts.Metrics == nil {
		return nil, fmt.Errorf("executor, sessions, bank, events and metrics are required")
	}
	if opts.Bootstrap == nil || opts.Migrate == nil {
		return nil, fmt.Errorf("bootstrap and migrate stages are required")
	}
	if opts.ListPages == nil {
		return nil, fmt.Errorf("page lister is required")
	}

	eval := opts.Eval
	if eval.MaxAttempts == 0 {
		eval = DefaultEvalPolicy()
	}

	observability.EnsureRegistered()

	return &Orchestrator{
		obsDir:    opts.ObsDir,
		eval:      eval,
		exec:      opts.Executor,
		limiter:   opts.Limiter,
		sessions:  opts.Sessions,
		bank:      opts.Bank,
		events:    opts.Events,
		metrics:   opts.Metrics,
		bus:       opts.Bus,
		bootstrap: opts.Bootstrap,
		migrate:   opts.Migrate,
		listPages: opts.ListPages,
		logger:    opts.Logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}, nil
}

// Run drives one full run for the session. The run always completes with a
// status and a per-item evaluation map; individual page failures degrade to
// error entries while sibling pages continue. Memory teardown is guaranteed
// on every path.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) (report *RunReport, err error) {
	start := time.Now()
	runID, idErr := gonanoid.New()
	if idErr != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", idErr)
	}

	ctx = tracing.WithRunID(tracing.WithSessionID(ctx, sessionID), runID)
	ctx, span := tracing.StartSpan(ctx, "pagelift/orchestrator", "run",
		attribute.String("session", sessionID),
		attribute.String("run_id", runID),
	)
	defer span.End()

	o.sessions.Create(sessionID)

	o.append(ctx, "run_start", eventlog.Fields{"session": sessionID, "run_id": runID})
	o.bank.Clear()
	o.bank.Load()

	defer func() {
		o.bank.Clear()
		o.append(ctx, "cleanup_done", eventlog.Fields{"session": sessionID})
	}()

	pages, err := o.listPages()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate pages: %w", err)
	}

	o.runBootstrap(ctx, sessionID, pages)

	results, cancelled := o.fanOut(ctx, sessionID, pages)
	o.append(ctx, "migrate_finished", eventlog.Fields{"results_count": len(results)})

	evaluations := o.aggregate(ctx, results)
	o.persistEvaluations(ctx, runID, evaluations)

	if err := o.metrics.Update("pages_migrated", len(results)); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to update pages_migrated metric")
	}

	status := "complete"
	if cancelled {
		status = "cancelled"
	}
	duration := time.Since(start)
	o.append(ctx, "run_complete", eventlog.Fields{
		"session":      sessionID,
		"status":       status,
		"duration_sec": duration.Seconds(),
	})
	observability.RecordRun(status, duration)

	report = &RunReport{
		Status:      status,
		SessionID:   sessionID,
		RunID:       runID,
		Migrated:    len(results),
		Evaluations: evaluations,
		DurationSec: duration.Seconds(),
		StartedAt:   start.UTC(),
	}

	if o.bus != nil {
		o.bus.TrySend(RunsQueue, report)
	}

	return report, nil
}

// runBootstrap executes the bootstrap stage once, unbounded, and commits its
// output to the memory bank. Bootstrap failure is not fatal: migration
// proceeds with an empty project memory.
func (o *Orchestrator) runBootstrap(ctx context.Context, sessionID string, pages []WorkItem) {
	o.append(ctx, "bootstrap_start", eventlog.Fields{"file_count": len(pages)})

	payload := make([]interface{}, 0, len(pages))
	for _, p := range pages {
		payload = append(payload, map[string]interface{}{
			"file_path":    p.Path,
			"file_content": p.Content,
		})
	}

	result, err := o.exec.Observe(ctx, o.bootstrap, payload, "Bootstrap", sessionID, nil)
	if err != nil {
		o.append(ctx, "bootstrap_result", eventlog.Fields{"error": err.Error()})
		return
	}

	o.commitBootstrap(ctx, result)
	o.bank.Load()
	o.append(ctx, "bootstrap_result", eventlog.Fields{
		"result_summary": truncate(stringifyResult(result), 500),
	})
}

// commitBootstrap parses the bootstrap output into the bank and saves the
// snapshot. Schema mismatches are logged, never fatal.
func (o *Orchestrator) commitBootstrap(ctx context.Context, result stage.Value) {
	text, ok := result.(string)
	if !ok {
		if data, err := json.Marshal(result); err == nil {
			text = string(data)
		}
	}

	var m map[string]interface{}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &m); err != nil {
		o.logger.Warn().Err(err).Msg("Bootstrap output is not a JSON object, keeping memory empty")
		return
	}

	if err := validateProjectMemory(m); err != nil {
		o.logger.Warn().Err(err).Msg("Bootstrap output failed schema validation, committing as-is")
	}

	for k, v := range m {
		o.bank.Set(k, v)
	}
	if err := o.bank.Save(); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to save memory snapshot")
	}
}

// fanOut schedules one migration task per page and observes completions as
// they arrive. Between completions it polls for session cancellation;
// abandonment is best-effort, already-scheduled tasks run to their own
// cancellation checkpoint.
func (o *Orchestrator) fanOut(ctx context.Context, sessionID string, pages []WorkItem) (map[string]stage.Value, bool) {
	paths := make([]string, len(pages))
	for i, p := range pages {
		paths[i] = p.Path
	}
	o.append(ctx, "migrate_start", eventlog.Fields{"pages": paths})

	results := make(map[string]stage.Value, len(pages))
	completions := make(chan taskResult, len(pages))

	memory := o.bank.Snapshot()
	for _, page := range pages {
		go func(item WorkItem) {
			payload := map[string]interface{}{
				"file_path":      item.Path,
				"file_content":   item.Content,
				"project_memory": memory,
			}
			label := "Migration:" + item.Path

			res, err := o.exec.Observe(ctx, o.migrate, payload, label, sessionID, o.limiter)
			if err != nil {
				o.append(ctx, "task_error", eventlog.Fields{"page": item.Path, "error": err.Error()})
				res = map[string]interface{}{"error": err.Error()}
			}
			completions <- taskResult{path: item.Path, result: res}
		}(page)
	}

	cancelled := false
	for range pages {
		if o.sessions.IsCancelled(sessionID) {
			o.append(ctx, "run_cancelled", eventlog.Fields{"session": sessionID})
			cancelled = true
			break
		}
		tr := <-completions
		results[tr.path] = tr.result
	}

	return results, cancelled
}

// persistEvaluations writes the evaluation map twice: a run-unique audit file
// and the fixed latest-result pointer.
func (o *Orchestrator) persistEvaluations(ctx context.Context, runID string, evaluations map[string]EvaluationRecord) {
	data, err := json.MarshalIndent(evaluations, "", "  ")
	if err != nil {
		o.append(ctx, "evaluation_write_failed", eventlog.Fields{"error": err.Error()})
		return
	}

	if err := os.MkdirAll(o.obsDir, 0755); err != nil {
		o.append(ctx, "evaluation_write_failed", eventlog.Fields{"error": err.Error()})
		return
	}

	auditPath := filepath.Join(o.obsDir, fmt.Sprintf("evaluation_%s.json", runID))
	if err := os.WriteFile(auditPath, data, 0644); err != nil {
		o.append(ctx, "evaluation_write_failed", eventlog.Fields{"error": err.Error()})
		return
	}
	if err := os.WriteFile(filepath.Join(o.obsDir, LatestEvaluationFile), data, 0644); err != nil {
		o.append(ctx, "evaluation_write_failed", eventlog.Fields{"error": err.Error()})
		return
	}

	o.append(ctx, "evaluation_saved", eventlog.Fields{"path": auditPath})
}

func (o *Orchestrator) append(ctx context.Context, event string, fields eventlog.Fields) {
	if err := o.events.Append(ctx, event, fields); err != nil {
		o.logger.Warn().Err(err).Str("event", event).Msg("Failed to append event")
	}
}

// stripCodeFence removes a surrounding markdown code fence if the model
// wrapped its JSON output in one.
func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	if i := strings.LastIndex(t, "```"); i >= 0 {
		t = t[:i]
	}
	return t
}
