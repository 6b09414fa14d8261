package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkessler/anvil/internal/config"
	"github.com/mkessler/anvil/internal/executor"
	"github.com/mkessler/anvil/internal/filelock"
	"github.com/mkessler/anvil/internal/history"
	"github.com/mkessler/anvil/internal/logger"
	"github.com/mkessler/anvil/internal/models"
	"github.com/mkessler/anvil/internal/resolver"
	"github.com/mkessler/anvil/internal/updater"
)

// consoleSink routes the classified output stream of a running phase to
// the console. Annotations go through the leveled logger; unclassified
// lines pass through verbatim unless quiet mode is on.
type consoleSink struct {
	out     io.Writer
	console *logger.ConsoleLogger
	quiet   bool
}

func (s *consoleSink) Emit(annotation models.Annotation) {
	s.console.LogAnnotation(annotation)
}

func (s *consoleSink) Raw(line string) {
	if s.quiet {
		return
	}
	fmt.Fprintln(s.out, line)
}

// buildOptions selects what one build invocation runs.
type buildOptions struct {
	Task          string
	Configuration string
	TargetFile    string
	BuildAll      bool
}

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the project's build pipeline",
		Long: `Run the build phases defined in anvil.yaml.

The project definition is located by searching upward from the working
directory. Phases are filtered by the selected task and configuration,
executed in declaration order, and stopped at the first failing phase
that has stop_on_error set (the default).

Tool configuration is loaded from .anvil/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  anvil run                              # default task (Build), default configuration
  anvil run --task Clean                 # run the Clean task
  anvil run --configuration Release     # select a build variant
  anvil run --build-all                  # ignore task/configuration filters
  anvil run --file src/Main.cs           # build for one file (path_selector phases)
  anvil run --quiet                      # suppress unclassified output
  anvil run --timeout 30m                # bound the whole build`,
		Args: cobra.NoArgs,
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to tool config file (default: .anvil/config.yaml)")
	cmd.Flags().String("project", "", "Path to project definition (default: search for anvil.yaml)")
	cmd.Flags().String("task", models.DefaultTask, "Build task to run")
	cmd.Flags().String("configuration", "", "Build configuration (default: project's first)")
	cmd.Flags().Bool("build-all", false, "Run every phase regardless of task/configuration filters")
	cmd.Flags().String("file", "", "Target file for path_selector phase filtering")
	cmd.Flags().Bool("quiet", false, "Suppress unclassified build output")
	cmd.Flags().String("timeout", "", "Maximum build time (e.g. 30m, 2h)")
	cmd.Flags().String("log-level", "", "Log verbosity (trace, debug, info, warn, error)")
	cmd.Flags().String("log-dir", "", "Directory for log files")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
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

	summary, err := executeBuild(cmd.OutOrStdout(), cfg, project, opts)
	if err != nil {
		return err
	}

	switch summary.Status {
	case models.BuildAborted:
		return fmt.Errorf("build aborted by phase %q", summary.AbortedBy)
	case models.BuildFailed:
		return fmt.Errorf("build failed: %d phase(s) failed", len(summary.FailedPhases()))
	}
	return nil
}

// loadToolConfig loads the tool configuration, merges CLI overrides and
// validates the result.
func loadToolConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var timeoutPtr *time.Duration
	if cmd.Flags().Changed("timeout") {
		timeoutStr, _ := cmd.Flags().GetString("timeout")
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout format %q: %w", timeoutStr, err)
		}
		timeoutPtr = &timeout
	}

	var logLevelPtr *string
	if cmd.Flags().Changed("log-level") {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &logLevel
	}

	var logDirPtr *string
	if cmd.Flags().Changed("log-dir") {
		logDir, _ := cmd.Flags().GetString("log-dir")
		logDirPtr = &logDir
	}

	var quietPtr *bool
	if cmd.Flags().Changed("quiet") {
		quiet, _ := cmd.Flags().GetBool("quiet")
		quietPtr = &quiet
	}

	cfg.MergeWithFlags(timeoutPtr, logLevelPtr, logDirPtr, quietPtr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadProjectDef loads the project definition from the --project flag or
// by searching upward for anvil.yaml.
func loadProjectDef(cmd *cobra.Command) (*config.Project, error) {
	projectPath, _ := cmd.Flags().GetString("project")
	if projectPath != "" {
		return config.LoadProject(projectPath)
	}
	return config.FindProject(".")
}

// buildOptionsFromFlags validates the task/configuration selection.
func buildOptionsFromFlags(cmd *cobra.Command, project *config.Project) (buildOptions, error) {
	task, _ := cmd.Flags().GetString("task")
	configuration, _ := cmd.Flags().GetString("configuration")
	buildAll, _ := cmd.Flags().GetBool("build-all")
	targetFile, _ := cmd.Flags().GetString("file")

	if configuration == "" {
		configuration = project.DefaultConfiguration()
	} else if !project.HasConfiguration(configuration) {
		return buildOptions{}, fmt.Errorf("unknown configuration %q (project declares %v)", configuration, project.Configurations)
	}

	return buildOptions{
		Task:          task,
		Configuration: configuration,
		TargetFile:    targetFile,
		BuildAll:      buildAll,
	}, nil
}

// executeBuild runs one complete build: lock, orchestrate, record
// history, persist discovered assemblies. It returns the summary even
// when the build failed; the error reports setup problems or abnormal
// termination.
func executeBuild(out io.Writer, cfg *config.Config, project *config.Project, opts buildOptions) (*models.BuildSummary, error) {
	lockPath := filepath.Join(project.Dir, ".anvil", "build.lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create .anvil directory: %w", err)
	}
	lock := filelock.NewFileLock(lockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("another build is already running (lock held: %s)", lockPath)
	}
	defer lock.Unlock()

	bctx := models.NewBuildContext(opts.Task, opts.Configuration, project.AbsFolders())
	bctx.TargetFile = opts.TargetFile
	bctx.BuildAll = opts.BuildAll
	bctx.Quiet = cfg.Quiet

	consoleLog := logger.NewConsoleLogger(out, cfg.LogLevel)

	logDir := cfg.LogDir
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(project.Dir, logDir)
	}
	fileLog, err := logger.NewFileLoggerWithDirAndLevel(logDir, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()

	multiLog := logger.NewMultiLogger(consoleLog, fileLog)

	sink := &consoleSink{out: out, console: consoleLog, quiet: cfg.Quiet}
	res := resolver.New(project.ProjectGlobs)
	tools := executor.Tools{
		SolutionBuild: cfg.Tools.SolutionBuild,
		StyleCop:      cfg.Tools.StyleCop,
	}
	runner := executor.NewPhaseRunner(res, tools, project.Patterns, sink)
	orch := executor.NewOrchestrator(runner, multiLog)

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	summary, execErr := orch.Execute(ctx, project.Phases, bctx)
	if summary == nil {
		return nil, execErr
	}

	if cfg.History.Enabled {
		if err := recordHistory(cfg, project, summary); err != nil {
			consoleLog.LogWarn(fmt.Sprintf("failed to record build history: %v", err))
		}
	}

	if assemblies := collectAssemblies(summary); len(assemblies) > 0 {
		projectFile := filepath.Join(project.Dir, config.ProjectFileName)
		if err := updater.PersistAssemblies(projectFile, assemblies, updater.WithTimeout(5*time.Second)); err != nil {
			consoleLog.LogWarn(fmt.Sprintf("failed to persist assembly references: %v", err))
		}
	}

	fmt.Fprintf(out, "Logs written to: %s\n", fileLog.RunFile())

	return summary, execErr
}

// recordHistory stores the summary in the history database and applies
// the retention policy.
func recordHistory(cfg *config.Config, project *config.Project, summary *models.BuildSummary) error {
	dbPath := cfg.History.DBPath
	if dbPath != ":memory:" && !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(project.Dir, dbPath)
	}

	store, err := history.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.RecordBuild(ctx, summary); err != nil {
		return err
	}

	_, err = store.CleanupOldBuilds(ctx, cfg.History.KeepBuildsDays, cfg.History.MaxBuilds)
	return err
}

// collectAssemblies unions the assembly side channels of all phase
// results, preserving first-seen order.
func collectAssemblies(summary *models.BuildSummary) []string {
	var all []string
	seen := make(map[string]bool)
	for _, result := range summary.Results {
		for _, path := range result.Assemblies {
			if !seen[path] {
				seen[path] = true
				all = append(all, path)
			}
		}
	}
	return all
}

// openHistoryStore opens the configured history database for read-side
// commands.
func openHistoryStore(cfg *config.Config, project *config.Project) (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("build history is disabled in the tool configuration")
	}
	dbPath := cfg.History.DBPath
	if dbPath != ":memory:" && !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(project.Dir, dbPath)
	}
	return history.NewStore(dbPath)
}
