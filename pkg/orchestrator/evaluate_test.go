package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpolat/pagelift/internal/metrics"
	"github.com/dpolat/pagelift/pkg/eventlog"
	"github.com/dpolat/pagelift/pkg/executor"
	"github.com/dpolat/pagelift/pkg/membank"
	"github.com/dpolat/pagelift/pkg/session"
	"github.com/dpolat/pagelift/pkg/stage"
)

func newAggFixture(t *testing.T) (*Orchestrator, *[]time.Duration, string) {
	t.Helper()

	dir := t.TempDir()
	obsDir := filepath.Join(dir, "observability")
	events := eventlog.New(filepath.Join(obsDir, "logs.jsonl"))
	store := metrics.NewStore(filepath.Join(obsDir, "metrics.json"))
	registry := session.NewRegistry()
	noop := stage.Func{StageName: "noop", Fn: func(ctx context.Context, payload string) (stage.Value, error) {
		return "ok", nil
	}}

	orch, err := New(Options{
		ObsDir:    obsDir,
		Eval:      DefaultEvalPolicy(),
		Executor:  executor.New(executor.DefaultPolicy(), stage.DefaultCompactOptions(), events, store, registry, zerolog.Nop()),
		Sessions:  registry,
		Bank:      membank.New(filepath.Join(dir, "memory", "project_memory.json")),
		Events:    events,
		Metrics:   store,
		Bootstrap: noop,
		Migrate:   noop,
		ListPages: func() ([]WorkItem, error) { return nil, nil },
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	delays := &[]time.Duration{}
	orch.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}

	return orch, delays, events.Path()
}

func TestAggregate_CleanResultScoresImmediately(t *testing.T) {
	orch, delays, _ := newAggFixture(t)

	evals := orch.aggregate(context.Background(), map[string]stage.Value{
		"a.xhtml": `{"generated_files": []}`,
	})

	require.Contains(t, evals, "a.xhtml")
	assert.Equal(t, 9.0, evals["a.xhtml"].Score)
	assert.Empty(t, evals["a.xhtml"].Issues)
	assert.Empty(t, *delays)
}

func TestAggregate_QuotaPatternExhaustsToDeferred(t *testing.T) {
	orch, delays, path := newAggFixture(t)

	evals := orch.aggregate(context.Background(), map[string]stage.Value{
		"b.xhtml": map[string]interface{}{"error": "429 rate limited"},
	})

	rec := evals["b.xhtml"]
	assert.Equal(t, 5.0, rec.Score)
	require.Len(t, rec.Issues, 1)
	assert.Contains(t, rec.Issues[0], "deferred")

	// 5 attempts, all backing off: 30s, then x2 growth
	require.Len(t, *delays, 5)
	assert.Equal(t, 30*time.Second, (*delays)[0])
	assert.Equal(t, 60*time.Second, (*delays)[1])
	assert.Equal(t, 480*time.Second, (*delays)[4])

	entries := readEvents(t, path)
	assert.Equal(t, 5, countEvents(entries, "evaluation_backoff", ""))
}

func TestAggregate_OverloadPatternUsesSlowerGrowth(t *testing.T) {
	orch, delays, path := newAggFixture(t)

	orch.aggregate(context.Background(), map[string]stage.Value{
		"c.xhtml": map[string]interface{}{"error": "503 service unavailable"},
	})

	require.Len(t, *delays, 5)
	assert.Equal(t, 30*time.Second, (*delays)[0])
	assert.Equal(t, 45*time.Second, (*delays)[1])

	entries := readEvents(t, path)
	assert.Equal(t, 5, countEvents(entries, "evaluation_model_overloaded", ""))
}

func TestAggregate_EveryItemGetsExactlyOneRecord(t *testing.T) {
	orch, _, _ := newAggFixture(t)

	evals := orch.aggregate(context.Background(), map[string]stage.Value{
		"a.xhtml": "clean",
		"b.xhtml": map[string]interface{}{"error": "quota exceeded"},
		"c.xhtml": map[string]interface{}{"error": "fatal thing"},
	})

	assert.Len(t, evals, 3)
}

func TestAggregate_SummaryBounded(t *testing.T) {
	orch, _, _ := newAggFixture(t)

	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'z'
	}

	evals := orch.aggregate(context.Background(), map[string]stage.Value{
		"a.xhtml": string(big),
	})

	assert.LessOrEqual(t, len(evals["a.xhtml"].Summary), 1000)
}

func TestAggregate_SummaryCutStaysValidUTF8(t *testing.T) {
	orch, _, _ := newAggFixture(t)

	// 3-byte runes; 1000 is not a multiple of 3, so a byte-offset cut
	// would split a rune at the summary boundary.
	evals := orch.aggregate(context.Background(), map[string]stage.Value{
		"a.xhtml": strings.Repeat("世", 400),
	})

	summary := evals["a.xhtml"].Summary
	assert.True(t, utf8.ValidString(summary))
	assert.LessOrEqual(t, len(summary), 1000)
	assert.Equal(t, 0, len(summary)%3)
}

func TestValidateProjectMemory(t *testing.T) {
	assert.NoError(t, validateProjectMemory(map[string]interface{}{
		"global_beans": []interface{}{"userBean"},
		"styles":       []interface{}{},
	}))

	assert.Error(t, validateProjectMemory(map[string]interface{}{
		"global_beans": "not-an-array",
	}))
}
