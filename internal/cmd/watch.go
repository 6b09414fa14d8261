package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkessler/anvil/internal/models"
	"github.com/mkessler/anvil/internal/watch"
)

// NewWatchCommand creates the watch command
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild whenever project sources change",
		Long: `Watch the project folders and run the build pipeline whenever a
source file changes. Rapid bursts of changes (editor saves, branch
switches) are coalesced into a single rebuild. Build output directories
and the .anvil state directory are never watched.

Press Ctrl-C to stop watching.

Examples:
  anvil watch
  anvil watch --task Build --configuration Debug
  anvil watch --ext .cs --ext .sln
  anvil watch --debounce 1s`,
		Args: cobra.NoArgs,
		RunE: watchCommand,
	}

	cmd.Flags().String("config", "", "Path to tool config file (default: .anvil/config.yaml)")
	cmd.Flags().String("project", "", "Path to project definition (default: search for anvil.yaml)")
	cmd.Flags().String("task", models.DefaultTask, "Build task to run on change")
	cmd.Flags().String("configuration", "", "Build configuration (default: project's first)")
	cmd.Flags().Bool("build-all", false, "Run every phase regardless of task/configuration filters")
	cmd.Flags().Bool("quiet", false, "Suppress unclassified build output")
	cmd.Flags().String("log-level", "", "Log verbosity (trace, debug, info, warn, error)")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().String("timeout", "", "Maximum time per build (e.g. 30m)")
	cmd.Flags().StringSlice("ext", nil, "File extensions that trigger a rebuild (default: .cs, .sln, .csproj, .yaml, .yml)")
	cmd.Flags().Duration("debounce", watch.DefaultDebounceDelay, "Quiet period before a change burst triggers a rebuild")
	cmd.Flags().Bool("no-initial", false, "Skip the build that normally runs before watching starts")

	return cmd
}

// watchCommand implements the watch command logic
func watchCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadToolConfig(cmd)
	if err != nil {
		return err
	}

	project, err := loadProjectDef(cmd)
	if err != nil {
		return err
	}

	opts, err := buildOptionsFromFlags(cmd, project)
	if err != nil {
		return err
	}

	extensions, _ := cmd.Flags().GetStringSlice("ext")
	debounce, _ := cmd.Flags().GetDuration("debounce")
	noInitial, _ := cmd.Flags().GetBool("no-initial")

	out := cmd.OutOrStdout()

	if !noInitial {
		if _, err := executeBuild(out, cfg, project, opts); err != nil {
			return err
		}
	}

	watcher, err := watch.New(project.AbsFolders(), extensions)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()
	if debounce > 0 {
		watcher.SetDebounceDelay(debounce)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	fmt.Fprintf(out, "Watching %d folder(s) for changes. Press Ctrl-C to stop.\n", len(watcher.Roots()))

	for {
		select {
		case <-sigChan:
			fmt.Fprintln(out, "\nStopping watch mode.")
			return nil

		case err := <-watcher.Errors():
			fmt.Fprintf(cmd.OutOrStderr(), "Warning: watcher error: %v\n", err)

		case trigger := <-watcher.Triggers():
			fmt.Fprintf(out, "\n%d file(s) changed at %s, rebuilding...\n",
				len(trigger.Paths), trigger.Timestamp.Format("15:04:05"))

			if _, err := executeBuild(out, cfg, project, opts); err != nil {
				// An interrupt during the build also ends watch mode.
				select {
				case <-sigChan:
					fmt.Fprintln(out, "\nStopping watch mode.")
					return nil
				case <-time.After(10 * time.Millisecond):
				}
				fmt.Fprintf(cmd.OutOrStderr(), "Build error: %v\n", err)
			}
		}
	}
}
