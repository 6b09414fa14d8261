package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for anvil
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anvil",
		Short: "Multi-phase build orchestrator",
		Long: `Anvil runs configurable build pipelines defined in anvil.yaml.

A pipeline is a sequence of phases: shell commands, file copies,
solution builds and static analysis. Phases are filtered by the
selected task and configuration, their output is classified into
errors and warnings, and results are stored for later inspection.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewWatchCommand())
	cmd.AddCommand(NewHistoryCommand())
	cmd.AddCommand(NewReportCommand())

	return cmd
}
