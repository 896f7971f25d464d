package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dpolat/pagelift/internal/config"
	"github.com/dpolat/pagelift/internal/logger"
	"github.com/dpolat/pagelift/internal/metrics"
	"github.com/dpolat/pagelift/internal/tracing"
	"github.com/dpolat/pagelift/pkg/bus"
	"github.com/dpolat/pagelift/pkg/eventlog"
	"github.com/dpolat/pagelift/pkg/executor"
	"github.com/dpolat/pagelift/pkg/membank"
	"github.com/dpolat/pagelift/pkg/orchestrator"
	"github.com/dpolat/pagelift/pkg/session"
	"github.com/dpolat/pagelift/pkg/stage"
	"github.com/dpolat/pagelift/pkg/workspace"
)

// app is the wired daemon: configuration, logging, and the full run pipeline.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	events   *eventlog.Log
	store    *metrics.Store
	sessions *session.Registry
	limiter  *executor.Limiter
	bank     *membank.Bank
	bus      *bus.Bus
	ws       *workspace.Workspace
	orch     *orchestrator.Orchestrator
}

// buildApp loads configuration and assembles the run pipeline. The stages are
// live Gemini clients, so this needs a valid API key.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := tracing.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}

	events := eventlog.New(filepath.Join(cfg.ObsDir, "logs.jsonl"))
	store := metrics.NewStore(filepath.Join(cfg.ObsDir, "metrics.json"))
	sessions := session.NewRegistry()
	limiter := executor.NewLimiter(cfg.Pipeline.MaxConcurrentMigrations)
	bank := membank.New(filepath.Join(cfg.MemoryDir, "project_memory.json"))
	runBus := bus.New()
	ws := workspace.New(cfg.InputDir, cfg.Pipeline.PagePattern)

	bootstrap, err := stage.NewGeminiStage(ctx, cfg.Model.APIKey, cfg.Model.Name,
		"Bootstrap", stage.BootstrapInstruction)
	if err != nil {
		lg.Close()
		return nil, err
	}
	migrate, err := stage.NewGeminiStage(ctx, cfg.Model.APIKey, cfg.Model.Name,
		"Migration", stage.MigrationInstruction)
	if err != nil {
		lg.Close()
		return nil, err
	}

	exec := executor.New(
		executor.Policy{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			BaseDelay:         cfg.Retry.BaseDelay,
			TransientGrowth:   cfg.Retry.TransientGrowth,
			QuotaInitialDelay: cfg.Retry.QuotaInitialDelay,
			QuotaGrowth:       cfg.Retry.QuotaGrowth,
		},
		stage.CompactOptions{
			MaxChars:     cfg.Compaction.MaxChars,
			MaxListItems: cfg.Compaction.MaxListItems,
		},
		events, store, sessions, log.Logger,
	)

	orch, err := orchestrator.New(orchestrator.Options{
		ObsDir: cfg.ObsDir,
		Eval: orchestrator.EvalPolicy{
			MaxAttempts:    cfg.Eval.MaxAttempts,
			QuotaDelay:     cfg.Eval.QuotaDelay,
			QuotaGrowth:    cfg.Eval.QuotaGrowth,
			OverloadGrowth: cfg.Eval.OverloadGrowth,
			SuccessScore:   cfg.Eval.SuccessScore,
			DeferredScore:  cfg.Eval.DeferredScore,
		},
		Executor:  exec,
		Limiter:   limiter,
		Sessions:  sessions,
		Bank:      bank,
		Events:    events,
		Metrics:   store,
		Bus:       runBus,
		Bootstrap: bootstrap,
		Migrate:   stage.WithArtifacts(migrate, cfg.OutputDir),
		ListPages: func() ([]orchestrator.WorkItem, error) {
			pages, err := ws.ListPages()
			if err != nil {
				return nil, err
			}
			items := make([]orchestrator.WorkItem, len(pages))
			for i, p := range pages {
				items[i] = orchestrator.WorkItem{Path: p.Path, Content: p.Content}
			}
			return items, nil
		},
		Logger: log.Logger,
	})
	if err != nil {
		lg.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      lg,
		events:   events,
		store:    store,
		sessions: sessions,
		limiter:  limiter,
		bank:     bank,
		bus:      runBus,
		ws:       ws,
		orch:     orch,
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = tracing.Shutdown(ctx)

	if a.log != nil {
		_ = a.log.Close()
	}
}
