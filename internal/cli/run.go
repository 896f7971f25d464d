package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runSessionID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one migration pass over the input pages",
	Long: `Run bootstraps project memory from every input page, migrates the
pages concurrently with retry and backoff, evaluates the results, and writes
the evaluation artifacts before exiting.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session ID (generated when empty)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sessionID := runSessionID
	if sessionID == "" {
		sessionID, _ = gonanoid.New()
	}

	log.Info().Str("sessionId", sessionID).Msg("Starting migration run")

	report, err := a.orch.Run(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if report.Status != "complete" {
		return fmt.Errorf("run ended with status %q", report.Status)
	}
	return nil
}
