package executor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkessler/anvil/internal/models"
)

// Logger defines the interface for logging build progress and results.
type Logger interface {
	LogBuildStart(ctx *models.BuildContext, phases int)
	LogPhaseStart(cfg *models.PhaseConfig)
	LogPhaseResult(result models.PhaseResult)
	LogSummary(summary models.BuildSummary)
}

// Runner defines the behavior required to execute a single phase.
type Runner interface {
	Run(ctx context.Context, cfg *models.PhaseConfig, bctx *models.BuildContext) models.PhaseResult
}

// Orchestrator runs the configured phases in declaration order, applies
// each phase's stop-on-error policy and aggregates the results. Phases
// never run concurrently; later phases consume the artifacts of earlier
// ones.
type Orchestrator struct {
	runner Runner
	logger Logger
}

// NewOrchestrator creates an Orchestrator.
// The logger parameter is optional and can be nil.
func NewOrchestrator(runner Runner, logger Logger) *Orchestrator {
	if runner == nil {
		panic("phase runner cannot be nil")
	}

	return &Orchestrator{
		runner: runner,
		logger: logger,
	}
}

// Execute runs a build with graceful shutdown support. It handles
// SIGINT/SIGTERM, runs each phase through the runner, stops early when
// a stop-on-error phase fails and aggregates everything into a
// BuildSummary. The summary is returned even when the build fails; the
// error reports abnormal termination, not phase failure.
func (o *Orchestrator) Execute(ctx context.Context, phases []models.PhaseConfig, bctx *models.BuildContext) (*models.BuildSummary, error) {
	if bctx == nil {
		return nil, fmt.Errorf("build context cannot be nil")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			fmt.Println("\nReceived interrupt signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if o.logger != nil {
		o.logger.LogBuildStart(bctx, len(phases))
	}

	startTime := time.Now()
	summary := &models.BuildSummary{
		BuildID:       bctx.BuildID,
		Task:          bctx.Task,
		Configuration: bctx.Configuration,
	}

	for i := range phases {
		cfg := &phases[i]

		// Phases that never started leave no result behind; the summary
		// lists only what actually ran.
		if ctx.Err() != nil {
			break
		}

		if o.logger != nil {
			o.logger.LogPhaseStart(cfg)
		}

		result := o.runner.Run(ctx, cfg, bctx)
		summary.Results = append(summary.Results, result)

		if o.logger != nil {
			o.logger.LogPhaseResult(result)
		}

		if result.Failed() && cfg.ShouldStopOnError() {
			summary.AbortedBy = result.Phase
			cancel()
			break
		}
	}

	summary.Duration = time.Since(startTime)
	summary.Status = o.overallStatus(summary)
	if ctx.Err() != nil && summary.AbortedBy == "" {
		// Interrupted from outside rather than by a failing phase.
		summary.Status = models.BuildFailed
	}

	if o.logger != nil {
		o.logger.LogSummary(*summary)
	}

	if ctx.Err() != nil && summary.AbortedBy == "" {
		return summary, ctx.Err()
	}
	return summary, nil
}

// overallStatus derives the build status from the phase results.
func (o *Orchestrator) overallStatus(summary *models.BuildSummary) string {
	if summary.AbortedBy != "" {
		return models.BuildAborted
	}
	for _, r := range summary.Results {
		if r.Failed() || r.Status == models.StatusCancelled {
			return models.BuildFailed
		}
	}
	return models.BuildSucceeded
}
