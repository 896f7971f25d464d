package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dpolat/pagelift/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a default configuration file and create project directories",
	Long: `Configure writes a pagelift.json with the default retry, backoff and
evaluation policies and creates the input, output, memory, and observability
directories. Edit the file afterwards to set the model API key, or export
GOOGLE_API_KEY instead.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved. Input pages go in: %s\n", cfg.InputDir)
	fmt.Fprintln(cmd.OutOrStdout(), "Start a migration with: pagelift run")

	return nil
}
