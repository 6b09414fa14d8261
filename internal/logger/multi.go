package logger

import (
	"github.com/mkessler/anvil/internal/models"
)

// BuildLogger is the full logging surface the build pipeline uses:
// lifecycle events plus leveled messages.
type BuildLogger interface {
	LogBuildStart(bctx *models.BuildContext, phases int)
	LogPhaseStart(cfg *models.PhaseConfig)
	LogPhaseResult(result models.PhaseResult)
	LogSummary(summary models.BuildSummary)

	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// MultiLogger fans every event out to multiple loggers. The usual pair
// is a ConsoleLogger for the terminal and a FileLogger for the run log.
type MultiLogger struct {
	loggers []BuildLogger
}

// NewMultiLogger creates a MultiLogger over the given loggers. Nil
// entries are skipped.
func NewMultiLogger(loggers ...BuildLogger) *MultiLogger {
	var kept []BuildLogger
	for _, l := range loggers {
		if l != nil {
			kept = append(kept, l)
		}
	}
	return &MultiLogger{loggers: kept}
}

// LogBuildStart forwards to every logger.
func (m *MultiLogger) LogBuildStart(bctx *models.BuildContext, phases int) {
	for _, l := range m.loggers {
		l.LogBuildStart(bctx, phases)
	}
}

// LogPhaseStart forwards to every logger.
func (m *MultiLogger) LogPhaseStart(cfg *models.PhaseConfig) {
	for _, l := range m.loggers {
		l.LogPhaseStart(cfg)
	}
}

// LogPhaseResult forwards to every logger.
func (m *MultiLogger) LogPhaseResult(result models.PhaseResult) {
	for _, l := range m.loggers {
		l.LogPhaseResult(result)
	}
}

// LogSummary forwards to every logger.
func (m *MultiLogger) LogSummary(summary models.BuildSummary) {
	for _, l := range m.loggers {
		l.LogSummary(summary)
	}
}

// LogTrace forwards to every logger.
func (m *MultiLogger) LogTrace(message string) {
	for _, l := range m.loggers {
		l.LogTrace(message)
	}
}

// LogDebug forwards to every logger.
func (m *MultiLogger) LogDebug(message string) {
	for _, l := range m.loggers {
		l.LogDebug(message)
	}
}

// LogInfo forwards to every logger.
func (m *MultiLogger) LogInfo(message string) {
	for _, l := range m.loggers {
		l.LogInfo(message)
	}
}

// LogWarn forwards to every logger.
func (m *MultiLogger) LogWarn(message string) {
	for _, l := range m.loggers {
		l.LogWarn(message)
	}
}

// LogError forwards to every logger.
func (m *MultiLogger) LogError(message string) {
	for _, l := range m.loggers {
		l.LogError(message)
	}
}
