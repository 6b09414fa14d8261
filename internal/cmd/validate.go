package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkessler/anvil/internal/config"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the project definition and tool configuration",
		Long: `Parse and validate the project definition, checking for:
  - At least one phase is declared
  - Every phase has the fields its type requires
  - Phase names are unique
  - Classification patterns compile and have a valid kind

All problems are reported together rather than stopping at the first.

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateProject(cmd, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("config", "", "Path to tool config file (default: .anvil/config.yaml)")
	cmd.Flags().String("project", "", "Path to project definition (default: search for anvil.yaml)")

	return cmd
}

// validateProject checks the tool configuration and the project
// definition, reporting every problem found.
func validateProject(cmd *cobra.Command, output io.Writer) error {
	cfg, err := loadToolConfig(cmd)
	if err != nil {
		fmt.Fprintf(output, "✗ Tool configuration is invalid\n  Error: %v\n", err)
		return err
	}
	fmt.Fprintf(output, "✓ Tool configuration is valid\n")

	project, err := loadProjectDef(cmd)
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(output, "\n✗ Project definition failed validation\n")
			for _, problem := range cfgErr.Problems {
				fmt.Fprintf(output, "  ✗ %s\n", problem)
			}
			fmt.Fprintf(output, "\nFound %d validation error(s)!\n", len(cfgErr.Problems))
			return fmt.Errorf("validation failed with %d error(s)", len(cfgErr.Problems))
		}
		fmt.Fprintf(output, "✗ Failed to load project definition\n  Error: %v\n", err)
		return err
	}

	fmt.Fprintf(output, "✓ Parsed %d phase(s) from %s\n", len(project.Phases), config.ProjectFileName)

	for _, phase := range project.Phases {
		scope := "all tasks"
		if !phase.AppliesToAllTasks() {
			scope = "tasks: " + strings.Join(phase.Tasks, ", ")
		}
		if len(phase.Configurations) > 0 {
			scope += "; configurations: " + strings.Join(phase.Configurations, ", ")
		}
		fmt.Fprintf(output, "  - %s (%s, %s)\n", phase.DisplayName(), phase.Type, scope)
	}

	if len(project.Configurations) > 0 {
		fmt.Fprintf(output, "✓ Configurations: %s (default: %s)\n",
			strings.Join(project.Configurations, ", "), project.DefaultConfiguration())
	}

	if len(cfg.Tools.SolutionBuild) > 0 {
		fmt.Fprintf(output, "✓ Solution build tool: %s\n", strings.Join(cfg.Tools.SolutionBuild, " "))
	}
	if len(cfg.Tools.StyleCop) > 0 {
		fmt.Fprintf(output, "✓ Style analysis tool: %s\n", strings.Join(cfg.Tools.StyleCop, " "))
	}

	fmt.Fprintf(output, "\n✓ Project is valid!\n")
	return nil
}
