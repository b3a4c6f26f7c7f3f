package root

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/collabridge/rapport-tracker/apps/cli/internal/clienv"
)

// rootCmd is the base command for the rapport admin CLI. Subcommands are attached by wire.
var rootCmd = &cobra.Command{
	Use:           "rapport",
	Short:         "Rapport tracker admin CLI",
	Long:          "Administrative utilities for the rapport tracker (tokens, bootstrap, soft delete maintenance).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute loads the environment, attaches the subcommands and runs the CLI.
func Execute(ctx context.Context) error {
	cfg, err := clienv.Load()
	if err != nil {
		return err
	}
	wire(rootCmd, cfg)
	return rootCmd.ExecuteContext(ctx)
}

// Root returns the mutable root command.
func Root() *cobra.Command {
	return rootCmd
}
