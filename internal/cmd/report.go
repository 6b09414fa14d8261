package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkessler/anvil/internal/filelock"
	"github.com/mkessler/anvil/internal/history"
	"github.com/mkessler/anvil/internal/report"
)

// NewReportCommand creates the report command
func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [build-id]",
		Short: "Render a report for a recorded build",
		Long: `Render the stored results of one build as a Markdown document, or
as a standalone HTML page with --html.

Without a build ID the most recent build is reported. A unique prefix
of the build ID (as shown by 'anvil history') is accepted.

Examples:
  anvil report                       # latest build, Markdown to stdout
  anvil report 3f2a9c1e              # by ID prefix
  anvil report --html -o report.html # standalone HTML page`,
		Args: cobra.MaximumNArgs(1),
		RunE: reportCommand,
	}

	cmd.Flags().String("config", "", "Path to tool config file (default: .anvil/config.yaml)")
	cmd.Flags().String("project", "", "Path to project definition (default: search for anvil.yaml)")
	cmd.Flags().Bool("html", false, "Render a standalone HTML page instead of Markdown")
	cmd.Flags().StringP("output", "o", "", "Write the report to a file instead of stdout")

	return cmd
}

// reportCommand implements the report command logic
func reportCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadToolConfig(cmd)
	if err != nil {
		return err
	}

	project, err := loadProjectDef(cmd)
	if err != nil {
		return err
	}

	store, err := openHistoryStore(cfg, project)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	var record *history.BuildRecord
	if len(args) == 0 {
		record, err = store.LatestBuild(ctx)
		if err != nil {
			return fmt.Errorf("failed to read build history: %w", err)
		}
		if record == nil {
			return fmt.Errorf("no builds recorded yet")
		}
	} else {
		record, err = findBuild(ctx, store, args[0])
		if err != nil {
			return err
		}
	}

	annotations, err := store.Annotations(ctx, record.BuildID)
	if err != nil {
		return fmt.Errorf("failed to read annotations: %w", err)
	}

	generator := report.NewGenerator()

	htmlOut, _ := cmd.Flags().GetBool("html")
	var rendered string
	if htmlOut {
		rendered, err = generator.HTML(record, annotations)
		if err != nil {
			return err
		}
	} else {
		rendered = generator.Markdown(record, annotations)
	}

	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath != "" {
		if err := filelock.AtomicWrite(outputPath, []byte(rendered)); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", outputPath)
		return nil
	}

	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}

// findBuild resolves a build ID or unique ID prefix to a stored record.
func findBuild(ctx context.Context, store *history.Store, id string) (*history.BuildRecord, error) {
	record, err := store.GetBuild(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read build history: %w", err)
	}
	if record != nil {
		return record, nil
	}

	// Fall back to prefix matching against recent builds.
	records, err := store.RecentBuilds(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read build history: %w", err)
	}

	var matches []*history.BuildRecord
	for _, r := range records {
		if strings.HasPrefix(r.BuildID, id) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no build found matching %q", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("build ID prefix %q is ambiguous (%d matches)", id, len(matches))
	}
}
