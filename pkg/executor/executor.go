// Package executor wraps one work-stage invocation with retry, backoff,
// failure classification and session pause/cancel cooperation.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dpolat/pagelift/internal/metrics"
	"github.com/dpolat/pagelift/internal/observability"
	"github.com/dpolat/pagelift/internal/tracing"
	"github.com/dpolat/pagelift/pkg/eventlog"
	"github.com/dpolat/pagelift/pkg/session"
	"github.com/dpolat/pagelift/pkg/stage"
)

// Kind names the non-success outcomes of an observed run.
type Kind string

const (
	KindCancelled        Kind = "cancelled"
	KindFatal            Kind = "fatal"
	KindRetriesExhausted Kind = "retries_exhausted"
)

// RunError is the structured error result of an observed run. The executor
// never lets a stage failure escape as a panic; every non-success outcome is
// one of these.
type RunError struct {
	Kind     Kind
	Message  string
	Attempts int
}

func (e *RunError) Error() string {
	switch e.Kind {
	case KindCancelled:
		return "CANCELLED"
	case KindRetriesExhausted:
		return fmt.Sprintf("max retries exceeded: %s", e.Message)
	default:
		return e.Message
	}
}

// Policy holds the retry and backoff schedule.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	TransientGrowth   float64
	QuotaInitialDelay time.Duration
	QuotaGrowth       float64
}

// DefaultPolicy returns the standard schedule: 4 attempts, 30s quota base
// with x1.5 growth, 5s transient base with x2 growth.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       4,
		BaseDelay:         5 * time.Second,
		TransientGrowth:   2.0,
		QuotaInitialDelay: 30 * time.Second,
		QuotaGrowth:       1.5,
	}
}

// QuotaDelay returns the backoff before the next attempt after a quota-class
// failure on the given attempt (1-based).
func (p Policy) QuotaDelay(attempt int) time.Duration {
	return scaleDelay(p.QuotaInitialDelay, p.QuotaGrowth, attempt)
}

// TransientDelay returns the backoff after a transient-class failure.
func (p Policy) TransientDelay(attempt int) time.Duration {
	return scaleDelay(p.BaseDelay, p.TransientGrowth, attempt)
}

func scaleDelay(base time.Duration, growth float64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(base) * math.Pow(growth, float64(attempt-1)))
}

// Executor drives observed work-stage runs for one pipeline.
type Executor struct {
	policy     Policy
	compaction stage.CompactOptions
	events     *eventlog.Log
	metrics    *metrics.Store
	sessions   *session.Registry
	logger     zerolog.Logger

	// sleep is swapped out in tests to observe backoff schedules.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an executor.
func New(policy Policy, compaction stage.CompactOptions, events *eventlog.Log, store *metrics.Store, sessions *session.Registry, logger zerolog.Logger) *Executor {
	observability.EnsureRegistered()

	return &Executor{
		policy:     policy,
		compaction: compaction,
		events:     events,
		metrics:    store,
		sessions:   sessions,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observe invokes one work stage with the compacted payload, recording every
// attempt, retrying transient failures with policy backoff and honoring the
// session's pause/cancel state. When a limiter is supplied it is acquired
// before the retry loop and released unconditionally on exit.
func (e *Executor) Observe(ctx context.Context, st stage.Stage, payload stage.Value, label, sessionID string, limiter *Limiter) (stage.Value, error) {
	compacted := stage.Compact(payload, e.compaction)
	payloadStr, err := stage.EncodePayload(compacted)
	if err != nil {
		return nil, &RunError{Kind: KindFatal, Message: err.Error()}
	}

	ctx, span := tracing.StartSpan(ctx, "pagelift/executor", "observe_run",
		attribute.String("label", label),
		attribute.String("session", sessionID),
	)
	defer span.End()

	if limiter != nil {
		if err := limiter.Acquire(ctx); err != nil {
			return nil, &RunError{Kind: KindCancelled, Message: err.Error()}
		}
	}

	attempt := 0
	startAll := time.Now()
	defer func() {
		if limiter != nil {
			limiter.Release()
		}
		e.append(ctx, "finished_observe_run", eventlog.Fields{
			"label":          label,
			"total_duration": time.Since(startAll).Seconds(),
			"attempts":       attempt,
		})
	}()

	sess := e.sessions.Create(sessionID)

	var lastMsg string
	for attempt < e.policy.MaxAttempts {
		attempt++

		// Respect pause; a concurrent resume or cancel wakes the wait.
		if err := sess.AwaitResume(ctx); err != nil {
			return nil, &RunError{Kind: KindCancelled, Message: err.Error(), Attempts: attempt}
		}
		if sess.Cancelled() {
			e.append(ctx, "cancelled", eventlog.Fields{"label": label, "attempt": attempt})
			return nil, &RunError{Kind: KindCancelled, Attempts: attempt}
		}

		e.append(ctx, "start_attempt", eventlog.Fields{"label": label, "attempt": attempt})

		start := time.Now()
		observability.StageStarted()
		result, err := st.Run(ctx, payloadStr)
		observability.StageFinished()
		duration := time.Since(start)

		if err == nil {
			e.append(ctx, "success", eventlog.Fields{
				"label":    label,
				"attempt":  attempt,
				"duration": duration.Seconds(),
			})
			observability.RecordStageAttempt("success", duration)
			if _, merr := e.metrics.Increment("successful_runs", 1); merr != nil {
				e.logger.Warn().Err(merr).Msg("Failed to update successful_runs metric")
			}
			return result, nil
		}

		lastMsg = err.Error()
		e.append(ctx, "error", eventlog.Fields{
			"label":    label,
			"attempt":  attempt,
			"duration": duration.Seconds(),
			"error":    lastMsg,
		})
		observability.RecordStageAttempt("error", duration)

		switch Classify(lastMsg) {
		case ClassQuota:
			wait := e.policy.QuotaDelay(attempt)
			e.append(ctx, "quota_backoff", eventlog.Fields{
				"label":        label,
				"attempt":      attempt,
				"wait_seconds": wait.Seconds(),
			})
			observability.RecordBackoff("quota")
			if err := e.sleep(ctx, wait); err != nil {
				return nil, &RunError{Kind: KindCancelled, Message: err.Error(), Attempts: attempt}
			}

		case ClassTransient:
			observability.RecordBackoff("transient")
			if err := e.sleep(ctx, e.policy.TransientDelay(attempt)); err != nil {
				return nil, &RunError{Kind: KindCancelled, Message: err.Error(), Attempts: attempt}
			}

		default:
			e.append(ctx, "non_retriable", eventlog.Fields{"label": label, "message": lastMsg})
			return nil, &RunError{Kind: KindFatal, Message: lastMsg, Attempts: attempt}
		}
	}

	e.append(ctx, "max_retries_exceeded", eventlog.Fields{"label": label, "last_error": lastMsg})
	return nil, &RunError{Kind: KindRetriesExhausted, Message: lastMsg, Attempts: attempt}
}

func (e *Executor) append(ctx context.Context, event string, fields eventlog.Fields) {
	if err := e.events.Append(ctx, event, fields); err != nil {
		e.logger.Warn().Err(err).Str("event", event).Msg("Failed to append event")
	}
}
