package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpolat/pagelift/internal/metrics"
	"github.com/dpolat/pagelift/pkg/eventlog"
	"github.com/dpolat/pagelift/pkg/session"
	"github.com/dpolat/pagelift/pkg/stage"
)

type harness struct {
	exec     *Executor
	events   *eventlog.Log
	store    *metrics.Store
	registry *session.Registry
	delays   *[]time.Duration
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()

	dir := t.TempDir()
	events := eventlog.New(filepath.Join(dir, "logs.jsonl"))
	store := metrics.NewStore(filepath.Join(dir, "metrics.json"))
	registry := session.NewRegistry()

	e := New(policy, stage.DefaultCompactOptions(), events, store, registry, zerolog.Nop())

	delays := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}

	return &harness{exec: e, events: events, store: store, registry: registry, delays: delays}
}

func readEvents(t *testing.T, path string) []map[string]interface{} {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		entries = append(entries, m)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func eventNames(entries []map[string]interface{}) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e["event"].(string)
	}
	return names
}

func failNTimes(n int, errMsg string) stage.Stage {
	calls := 0
	return stage.Func{
		StageName: "flaky",
		Fn: func(ctx context.Context, payload string) (stage.Value, error) {
			calls++
			if calls <= n {
				return nil, errors.New(errMsg)
			}
			return "ok", nil
		},
	}
}

func TestObserve_SuccessFirstAttempt(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	result, err := h.exec.Observe(context.Background(), failNTimes(0, ""), map[string]interface{}{"file_path": "a.xhtml"}, "Migration:a.xhtml", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	names := eventNames(readEvents(t, h.events.Path()))
	assert.Equal(t, []string{"start_attempt", "success", "finished_observe_run"}, names)
	assert.Equal(t, float64(1), h.store.Load()["successful_runs"])
	assert.Empty(t, *h.delays)
}

func TestObserve_QuotaBackoffSchedule(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	result, err := h.exec.Observe(context.Background(), failNTimes(2, "429 quota exceeded"), "payload", "Migration:b.xhtml", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	// initialQuotaDelay x 1.5^(attempt-1): 30s, 45s
	require.Len(t, *h.delays, 2)
	assert.Equal(t, 30*time.Second, (*h.delays)[0])
	assert.Equal(t, 45*time.Second, (*h.delays)[1])

	names := eventNames(readEvents(t, h.events.Path()))
	backoffs := 0
	for _, n := range names {
		if n == "quota_backoff" {
			backoffs++
		}
	}
	assert.Equal(t, 2, backoffs)
}

func TestObserve_TransientBackoffSchedule(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	_, err := h.exec.Observe(context.Background(), failNTimes(99, "internal error"), "payload", "Migration:c.xhtml", "s1", nil)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, KindRetriesExhausted, runErr.Kind)
	assert.Contains(t, runErr.Message, "internal error")

	// baseDelay x 2^(attempt-1), independent of the quota schedule
	require.Len(t, *h.delays, 4)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}, *h.delays)

	names := eventNames(readEvents(t, h.events.Path()))
	assert.NotContains(t, names, "quota_backoff")
	assert.Equal(t, "max_retries_exceeded", names[len(names)-2])
	assert.Equal(t, "finished_observe_run", names[len(names)-1])
}

func TestObserve_FatalStopsImmediately(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	calls := 0
	st := stage.Func{StageName: "broken", Fn: func(ctx context.Context, payload string) (stage.Value, error) {
		calls++
		return nil, errors.New("invalid argument")
	}}

	_, err := h.exec.Observe(context.Background(), st, "payload", "Migration:d.xhtml", "s1", nil)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, KindFatal, runErr.Kind)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *h.delays)

	names := eventNames(readEvents(t, h.events.Path()))
	assert.Contains(t, names, "non_retriable")
}

func TestObserve_CancelledBeforeAttempt(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.registry.Create("s1")
	h.registry.Cancel("s1")

	calls := 0
	st := stage.Func{StageName: "never", Fn: func(ctx context.Context, payload string) (stage.Value, error) {
		calls++
		return "ok", nil
	}}

	_, err := h.exec.Observe(context.Background(), st, "payload", "Migration:e.xhtml", "s1", nil)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, KindCancelled, runErr.Kind)
	assert.Equal(t, "CANCELLED", runErr.Error())
	assert.Equal(t, 0, calls)

	names := eventNames(readEvents(t, h.events.Path()))
	assert.Equal(t, []string{"cancelled", "finished_observe_run"}, names)
}

func TestObserve_CancelWakesPausedRun(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.registry.Create("s1")
	h.registry.Pause("s1")

	done := make(chan error, 1)
	go func() {
		_, err := h.exec.Observe(context.Background(), failNTimes(0, ""), "payload", "Migration:f.xhtml", "s1", nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	h.registry.Cancel("s1")

	select {
	case err := <-done:
		var runErr *RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, KindCancelled, runErr.Kind)
	case <-time.After(time.Second):
		t.Fatal("paused run was not woken by cancel")
	}
}

func TestObserve_LimiterReleasedOnFailure(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	limiter := NewLimiter(1)

	_, err := h.exec.Observe(context.Background(), failNTimes(99, "bad request"), "payload", "Migration:g.xhtml", "s1", limiter)
	require.Error(t, err)

	assert.True(t, limiter.TryAcquire(), "limiter slot not released after failure")
	limiter.Release()
}

func TestObserve_ConcurrencyNeverExceedsLimit(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	limiter := NewLimiter(2)

	var mu sync.Mutex
	inFlight, peak := 0, 0

	st := stage.Func{StageName: "slow", Fn: func(ctx context.Context, payload string) (stage.Value, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return "ok", nil
	}}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := h.exec.Observe(context.Background(), st, "payload", fmt.Sprintf("Migration:%d", n), "s1", limiter)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
}

func TestPolicyDelays(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 30*time.Second, p.QuotaDelay(1))
	assert.Equal(t, 45*time.Second, p.QuotaDelay(2))
	assert.Equal(t, time.Duration(67.5*float64(time.Second)), p.QuotaDelay(3))

	assert.Equal(t, 5*time.Second, p.TransientDelay(1))
	assert.Equal(t, 40*time.Second, p.TransientDelay(4))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassQuota, Classify("RESOURCE_EXHAUSTED: try later"))
	assert.Equal(t, ClassQuota, Classify("got HTTP 429"))
	assert.Equal(t, ClassQuota, Classify("rate-limit hit"))
	assert.Equal(t, ClassTransient, Classify("server UNAVAILABLE"))
	assert.Equal(t, ClassTransient, Classify("deadline timeout"))
	assert.Equal(t, ClassTransient, Classify("Internal error"))
	assert.Equal(t, ClassFatal, Classify("invalid request"))
}

func TestPatternHelpers(t *testing.T) {
	assert.True(t, HasQuotaPattern("error: Quota exceeded"))
	assert.False(t, HasQuotaPattern("all good"))
	assert.True(t, HasOverloadPattern("HTTP 503 from upstream"))
	assert.True(t, HasOverloadPattern("model unavailable"))
	assert.False(t, HasOverloadPattern("fine"))
}
