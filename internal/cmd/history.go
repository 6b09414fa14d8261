package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mkessler/anvil/internal/models"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent builds",
		Long: `List builds recorded in the history database, newest first.

Each line shows the build ID, task, configuration, status, phase counts
and duration. Use 'anvil report <build-id>' for the full annotation
listing of one build.

Examples:
  anvil history
  anvil history --limit 5`,
		Args: cobra.NoArgs,
		RunE: historyCommand,
	}

	cmd.Flags().String("config", "", "Path to tool config file (default: .anvil/config.yaml)")
	cmd.Flags().String("project", "", "Path to project definition (default: search for anvil.yaml)")
	cmd.Flags().Int("limit", 20, "Maximum number of builds to list (0 = all)")

	return cmd
}

// historyCommand implements the history command logic
func historyCommand(cmd *cobra.Command, args []string) error {
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

	limit, _ := cmd.Flags().GetInt("limit")
	records, err := store.RecentBuilds(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("failed to read build history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No builds recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BUILD ID\tSTARTED\tTASK\tCONFIGURATION\tSTATUS\tPHASES\tDURATION")
	for _, record := range records {
		phases := fmt.Sprintf("%d", record.PhasesRun)
		if record.PhasesFailed > 0 {
			phases = fmt.Sprintf("%d (%d failed)", record.PhasesRun, record.PhasesFailed)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.1fs\n",
			shortID(record.BuildID),
			record.StartedAt.Format("2006-01-02 15:04:05"),
			record.Task,
			record.Configuration,
			statusLabel(record.Status),
			phases,
			record.Duration.Seconds(),
		)
	}
	return w.Flush()
}

// shortID truncates a build UUID for listing output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// statusLabel colors a build status when the terminal supports it.
func statusLabel(status string) string {
	switch status {
	case models.BuildSucceeded:
		return color.GreenString(status)
	case models.BuildFailed:
		return color.RedString(status)
	case models.BuildAborted:
		return color.YellowString(status)
	default:
		return status
	}
}
