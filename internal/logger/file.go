package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mkessler/anvil/internal/models"
)

// FileLogger logs build events to files in .anvil/logs/ directory.
// It creates timestamped per-run log files, per-phase detailed logs,
// and maintains a latest.log symlink pointing to the most recent run.
// It is thread-safe and implements the executor.Logger interface.
// It supports log level filtering to control message verbosity.
type FileLogger struct {
	logDir    string
	runLog    *os.File
	runFile   string
	phasesDir string
	logLevel  string
	mu        sync.Mutex
}

// NewFileLogger creates a new FileLogger that writes to .anvil/logs/.
// It creates the log directory if it doesn't exist, opens a timestamped
// run log file, and creates/updates the latest.log symlink.
// Uses default log level "info".
func NewFileLogger() (*FileLogger, error) {
	logDir := filepath.Join(".anvil", "logs")
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDir creates a new FileLogger with a custom log directory.
// This is useful for testing or custom deployments.
// Uses default log level "info".
func NewFileLoggerWithDir(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDirAndLevel creates a new FileLogger with a custom log directory and log level.
// This is useful for testing or custom deployments.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	phasesDir := filepath.Join(logDir, "phases")
	if err := os.MkdirAll(phasesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create phases directory: %w", err)
	}

	// Generate timestamped filename: run-YYYYMMDD-HHMMSS.log
	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", timestamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	// Create/update latest.log symlink
	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:    logDir,
		runLog:    file,
		runFile:   runFile,
		phasesDir: phasesDir,
		logLevel:  normalizeLogLevel(logLevel),
		mu:        sync.Mutex{},
	}

	logger.writeRunLog("=== Anvil Build Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// shouldLog checks if a message at the given level should be logged.
// Returns true if messageLevel >= configured logLevel.
func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}

	formatted := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message)
	fl.writeRunLog(formatted)
}

// LogBuildStart logs the start of a build at INFO level.
func (fl *FileLogger) LogBuildStart(bctx *models.BuildContext, phases int) {
	if !fl.shouldLog("info") {
		return
	}

	phaseLabel := "phase"
	if phases != 1 {
		phaseLabel = "phases"
	}

	message := fmt.Sprintf(
		"[%s] Build %s: task %s, configuration %q, %d %s\n",
		time.Now().Format("15:04:05"),
		bctx.BuildID,
		bctx.Task,
		bctx.Configuration,
		phases,
		phaseLabel,
	)

	fl.writeRunLog(message)
}

// LogPhaseStart logs the start of a phase at INFO level.
func (fl *FileLogger) LogPhaseStart(cfg *models.PhaseConfig) {
	if !fl.shouldLog("info") {
		return
	}

	message := fmt.Sprintf(
		"[%s] Running phase %s (%s)\n",
		time.Now().Format("15:04:05"),
		cfg.DisplayName(),
		cfg.Type,
	)

	fl.writeRunLog(message)
}

// LogPhaseResult logs a phase result summary to the run log and writes
// the phase's full annotation log into the phases/ subdirectory.
func (fl *FileLogger) LogPhaseResult(result models.PhaseResult) {
	if fl.shouldLog("info") {
		message := fmt.Sprintf(
			"[%s] Phase %s: %s (%.1fs)\n",
			time.Now().Format("15:04:05"),
			result.Phase,
			result.Status,
			result.Duration.Seconds(),
		)
		fl.writeRunLog(message)
	}

	if result.Status == models.StatusSkipped {
		return
	}
	if err := fl.writePhaseLog(result); err != nil {
		fl.LogWarn(fmt.Sprintf("failed to write phase log: %v", err))
	}
}

// writePhaseLog creates a detailed log file for one executed phase.
func (fl *FileLogger) writePhaseLog(result models.PhaseResult) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	phaseLogPath := filepath.Join(fl.phasesDir, fmt.Sprintf("%s.log", sanitizeFilename(result.Phase)))

	file, err := os.OpenFile(phaseLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create phase log file: %w", err)
	}
	defer file.Close()

	content := fmt.Sprintf("=== Phase %s (%s) ===\n", result.Phase, result.Type)
	content += fmt.Sprintf("Status: %s\n", result.Status)
	content += fmt.Sprintf("Duration: %.1fs\n", result.Duration.Seconds())
	if result.ExitCode != 0 {
		content += fmt.Sprintf("Exit code: %d\n", result.ExitCode)
	}
	content += "\n"

	if len(result.Annotations) > 0 {
		content += "=== Annotations ===\n"
		for _, a := range result.Annotations {
			content += a.String() + "\n"
		}
		content += "\n"
	}

	if len(result.Assemblies) > 0 {
		content += "=== Assemblies ===\n"
		for _, a := range result.Assemblies {
			content += a + "\n"
		}
		content += "\n"
	}

	if result.Err != nil {
		content += fmt.Sprintf("Error:\n%v\n\n", result.Err)
	}

	content += fmt.Sprintf("Completed at: %s\n", time.Now().Format(time.RFC3339))

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write phase log: %w", err)
	}

	return nil
}

// LogSummary logs the build summary with final statistics at INFO level.
func (fl *FileLogger) LogSummary(summary models.BuildSummary) {
	if !fl.shouldLog("info") {
		return
	}

	timestamp := time.Now().Format("15:04:05")
	failed := summary.FailedPhases()

	message := fmt.Sprintf(
		"\n[%s] === BUILD SUMMARY ===\n"+
			"[%s] Build ID:     %s\n"+
			"[%s] Task:         %s\n"+
			"[%s] Phases run:   %d\n"+
			"[%s] Failed:       %d\n"+
			"[%s] Total time:   %.1fs\n"+
			"[%s] Status:       %s\n",
		timestamp,
		timestamp,
		summary.BuildID,
		timestamp,
		summary.Task,
		timestamp,
		summary.ExecutedCount(),
		timestamp,
		len(failed),
		timestamp,
		summary.Duration.Seconds(),
		timestamp,
		summary.Status,
	)

	if summary.AbortedBy != "" {
		message += fmt.Sprintf("[%s] Aborted by:   %s\n", timestamp, summary.AbortedBy)
	}
	message += fmt.Sprintf("[%s] Completed at: %s\n", timestamp, time.Now().Format(time.RFC3339))

	fl.writeRunLog(message)
}

// sanitizeFilename replaces path-hostile characters in a phase name.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "-", ":", "_")
	return replacer.Replace(name)
}

// RunFile returns the path of the current run log file.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// Close flushes and closes the run log file.
// It should be called when the logger is no longer needed.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}

	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write for real-time logging
		fl.runLog.Sync()
	}
}
