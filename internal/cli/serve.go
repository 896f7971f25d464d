package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dpolat/pagelift/pkg/control"
	"github.com/dpolat/pagelift/pkg/orchestrator"
	"github.com/dpolat/pagelift/pkg/schedule"
	"github.com/dpolat/pagelift/pkg/workspace"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Pagelift daemon with the control server",
	Long: `Serve keeps the pipeline resident and exposes the control API:
session pause/resume/cancel, run status, Prometheus metrics, a websocket
event stream, and scheduled or file-watch triggered runs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "trigger a run when input pages change")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// Only one run at a time; concurrent triggers are rejected, not queued.
	var runMu sync.Mutex
	trigger := func(_ context.Context, sessionID string) error {
		if !runMu.TryLock() {
			return fmt.Errorf("a run is already in progress")
		}
		go func() {
			defer runMu.Unlock()
			if _, err := a.orch.Run(ctx, sessionID); err != nil {
				log.Error().Err(err).Str("sessionId", sessionID).Msg("Triggered run failed")
			}
		}()
		return nil
	}

	srv, err := control.NewServer(control.Config{
		Host:       a.cfg.Control.Host,
		Port:       a.cfg.Control.Port,
		Secret:     a.cfg.Control.Secret,
		ObsDir:     a.cfg.ObsDir,
		Sessions:   a.sessions,
		TriggerRun: trigger,
		Logger:     log.Logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	srv.Pump(a.bus, orchestrator.RunsQueue)

	scheduler, err := schedule.NewService(schedule.ServiceOptions{
		StorePath: filepath.Join(a.cfg.ObsDir, "schedules.json"),
		TriggerRun: func(entry *schedule.Entry, sessionID string) error {
			return trigger(ctx, sessionID)
		},
		OnEvent: func(evt schedule.Event) {
			srv.Broadcast("schedule."+string(evt.Action), evt)
		},
	})
	if err != nil {
		return err
	}

	var watcher *workspace.Watcher
	if serveWatch {
		watcher, err = workspace.NewWatcher(log.Logger, a.cfg.Pipeline.PagePattern, func() {
			sessionID := "watch-triggered"
			if err := trigger(ctx, sessionID); err != nil {
				log.Warn().Err(err).Msg("Watch-triggered run skipped")
			}
		})
		if err != nil {
			return err
		}
		if err := watcher.Watch(a.cfg.InputDir); err != nil {
			return err
		}
		log.Info().Str("dir", a.cfg.InputDir).Msg("Watching input pages")
	}

	log.Info().Str("addr", srv.Addr()).Msg("Pagelift daemon ready")
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	if watcher != nil {
		_ = watcher.Stop()
	}
	if err := scheduler.Stop(); err != nil {
		log.Error().Err(err).Msg("Scheduler shutdown failed")
	}
	return srv.Stop()
}
