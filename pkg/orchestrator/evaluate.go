package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dpolat/pagelift/internal/observability"
	"github.com/dpolat/pagelift/pkg/eventlog"
	"github.com/dpolat/pagelift/pkg/executor"
	"github.com/dpolat/pagelift/pkg/stage"
)

const deferredIssue = "Evaluation deferred due to quota exhaustion"

// aggregate runs the secondary evaluation pass over the fan-out results.
// Each page gets its own bounded retry loop: quota and overload signatures in
// the result text defer evaluation with growing waits; exhaustion degrades to
// a fixed mid-range score instead of failing the run.
func (o *Orchestrator) aggregate(ctx context.Context, results map[string]stage.Value) map[string]EvaluationRecord {
	evaluations := make(map[string]EvaluationRecord, len(results))

	for page, result := range results {
		text := stringifyResult(result)
		summary := truncate(text, 1000)
		probe := lowerTruncate(text, 2000)

		wait := o.eval.QuotaDelay
		scored := false

		for retry := 1; retry <= o.eval.MaxAttempts; retry++ {
			if executor.HasQuotaPattern(probe) {
				o.append(ctx, "evaluation_backoff", eventlog.Fields{
					"page":         page,
					"retry":        retry,
					"wait_seconds": wait.Seconds(),
				})
				if err := o.sleep(ctx, wait); err != nil {
					break
				}
				wait = time.Duration(float64(wait) * o.eval.QuotaGrowth)
				continue
			}

			if executor.HasOverloadPattern(probe) {
				o.append(ctx, "evaluation_model_overloaded", eventlog.Fields{
					"page":         page,
					"retry":        retry,
					"wait_seconds": wait.Seconds(),
				})
				if err := o.sleep(ctx, wait); err != nil {
					break
				}
				wait = time.Duration(float64(wait) * o.eval.OverloadGrowth)
				continue
			}

			evaluations[page] = EvaluationRecord{
				Score:   o.eval.SuccessScore,
				Issues:  []string{},
				Summary: summary,
			}
			observability.RecordEvaluation("scored")
			scored = true
			break
		}

		if !scored {
			evaluations[page] = EvaluationRecord{
				Score:   o.eval.DeferredScore,
				Issues:  []string{deferredIssue},
				Summary: summary,
			}
			observability.RecordEvaluation("deferred")
		}
	}

	return evaluations
}

// stringifyResult renders a fan-out result for signature probing. JSON where
// possible so error wrappers keep their message text.
func stringifyResult(v stage.Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up so the cut never splits a multibyte rune.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func lowerTruncate(s string, n int) string {
	return strings.ToLower(truncate(s, n))
}
