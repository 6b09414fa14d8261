// Package logger provides logging implementations for build execution.
//
// The logger package offers structured logging of build progress at the
// phase and summary levels. Implementations are thread-safe and support
// various output destinations (console, file, etc.).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/mkessler/anvil/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs build progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps for tracking execution flow.
// It supports log level filtering to control message verbosity.
// Color output is automatically enabled for terminal writers.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// logLevel determines the minimum log level for messages to be output.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
// Color output is automatically enabled when the writer is a TTY.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		mutex:       sync.Mutex{},
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// color.NoColor honors the NO_COLOR convention; the writer itself must
// additionally be a real TTY (pipes and buffers stay plain).
func isTerminal(w io.Writer) bool {
	if w == nil || color.NoColor {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if validLevels[normalized] {
		return normalized
	}

	return "info" // Default level
}

// shouldLog checks if a message at the given level should be logged.
// Returns true if messageLevel >= configured logLevel.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo // Default to info if unknown
	}
}

// LogTrace logs a trace-level message (most verbose).
// Format: "[HH:MM:SS] [TRACE] <message>"
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
// Format: "[HH:MM:SS] [DEBUG] <message>"
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
// Format: "[HH:MM:SS] [WARN] <message>"
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
// Format: "[HH:MM:SS] [ERROR] <message>"
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}

	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string

	if cl.colorOutput {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, cl.colorLevel(level), message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}

	cl.writer.Write([]byte(formatted))
}

// colorLevel applies the ANSI color for a level label.
func (cl *ConsoleLogger) colorLevel(level string) string {
	switch strings.ToUpper(level) {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}

// LogBuildStart logs the start of a build at INFO level.
// Format: "[HH:MM:SS] Starting <task> (<configuration>): <count> phases"
func (cl *ConsoleLogger) LogBuildStart(bctx *models.BuildContext, phases int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	task := bctx.Task
	if cl.colorOutput {
		task = color.New(color.Bold).Sprint(task)
	}

	var message string
	if bctx.Configuration != "" {
		message = fmt.Sprintf("[%s] Starting %s (%s): %d phases\n", ts, task, bctx.Configuration, phases)
	} else {
		message = fmt.Sprintf("[%s] Starting %s: %d phases\n", ts, task, phases)
	}

	cl.writer.Write([]byte(message))
}

// LogPhaseStart logs the start of a phase at INFO level.
// Format: "[HH:MM:SS] Running phase <name>"
func (cl *ConsoleLogger) LogPhaseStart(cfg *models.PhaseConfig) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	name := cfg.DisplayName()
	if cl.colorOutput {
		name = color.New(color.Bold).Sprint(name)
	}

	cl.writer.Write([]byte(fmt.Sprintf("[%s] Running phase %s\n", ts, name)))
}

// LogPhaseResult logs the completion of a phase at INFO level; skipped
// phases are only shown at DEBUG.
// Format: "[HH:MM:SS] Phase <name>: <status> (<duration>)"
func (cl *ConsoleLogger) LogPhaseResult(result models.PhaseResult) {
	if cl.writer == nil {
		return
	}

	minLevel := "info"
	if result.Status == models.StatusSkipped {
		minLevel = "debug"
	}
	if !cl.shouldLog(minLevel) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	status := result.Status
	if cl.colorOutput {
		status = cl.colorStatus(status)
	}

	var message string
	if result.Status == models.StatusSkipped {
		message = fmt.Sprintf("[%s] Phase %s: %s\n", ts, result.Phase, status)
	} else {
		message = fmt.Sprintf("[%s] Phase %s: %s (%s)\n", ts, result.Phase, status, formatDuration(result.Duration))
	}

	cl.writer.Write([]byte(message))
}

// colorStatus applies the status color convention: green for success,
// red for failure, yellow for everything in between.
func (cl *ConsoleLogger) colorStatus(status string) string {
	switch status {
	case models.StatusSucceeded:
		return color.New(color.FgGreen).Sprint(status)
	case models.StatusFailed:
		return color.New(color.FgRed).Sprint(status)
	case models.StatusSkipped, models.StatusCancelled:
		return color.New(color.FgYellow).Sprint(status)
	default:
		return status
	}
}

// LogAnnotation logs one classified output line at the level implied by
// its kind.
func (cl *ConsoleLogger) LogAnnotation(a models.Annotation) {
	switch a.Kind {
	case models.KindError:
		cl.LogError(a.String())
	case models.KindWarning:
		cl.LogWarn(a.String())
	default:
		cl.LogInfo(a.String())
	}
}

// LogSummary logs the build summary with phase statistics at INFO level.
func (cl *ConsoleLogger) LogSummary(summary models.BuildSummary) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	durationStr := formatDuration(summary.Duration)
	failed := summary.FailedPhases()

	var output string

	if cl.colorOutput {
		header := color.New(color.Bold).Sprint("=== Build Summary ===")
		output = fmt.Sprintf("[%s] %s\n", ts, header)
		output += fmt.Sprintf("[%s] Build: %s\n", ts, cl.colorStatus(summary.Status))
		output += fmt.Sprintf("[%s] Phases run: %d\n", ts, summary.ExecutedCount())

		if len(failed) > 0 {
			failedText := color.New(color.FgRed).Sprintf("Failed: %d", len(failed))
			output += fmt.Sprintf("[%s] %s\n", ts, failedText)
			for _, name := range failed {
				output += fmt.Sprintf("[%s]   - %s\n", ts, color.New(color.FgRed).Sprint(name))
			}
		}
		if summary.AbortedBy != "" {
			abortText := color.New(color.FgRed).Sprintf("Aborted by: %s", summary.AbortedBy)
			output += fmt.Sprintf("[%s] %s\n", ts, abortText)
		}

		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)
	} else {
		output = fmt.Sprintf("[%s] === Build Summary ===\n", ts)
		output += fmt.Sprintf("[%s] Build: %s\n", ts, summary.Status)
		output += fmt.Sprintf("[%s] Phases run: %d\n", ts, summary.ExecutedCount())

		if len(failed) > 0 {
			output += fmt.Sprintf("[%s] Failed: %d\n", ts, len(failed))
			for _, name := range failed {
				output += fmt.Sprintf("[%s]   - %s\n", ts, name)
			}
		}
		if summary.AbortedBy != "" {
			output += fmt.Sprintf("[%s] Aborted by: %s\n", ts, summary.AbortedBy)
		}

		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)
	}

	cl.writer.Write([]byte(output))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// NoOpLogger is a Logger implementation that discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// LogBuildStart is a no-op implementation.
func (n *NoOpLogger) LogBuildStart(bctx *models.BuildContext, phases int) {
}

// LogPhaseStart is a no-op implementation.
func (n *NoOpLogger) LogPhaseStart(cfg *models.PhaseConfig) {
}

// LogPhaseResult is a no-op implementation.
func (n *NoOpLogger) LogPhaseResult(result models.PhaseResult) {
}

// LogSummary is a no-op implementation.
func (n *NoOpLogger) LogSummary(summary models.BuildSummary) {
}
