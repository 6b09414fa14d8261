// Package executor runs configured build phases in order and aggregates
// their results into a build summary.
package executor

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/mkessler/anvil/internal/classify"
	"github.com/mkessler/anvil/internal/models"
	"github.com/mkessler/anvil/internal/phase"
	"github.com/mkessler/anvil/internal/resolver"
)

// Tools carries the external tool invocations phases depend on. The
// tool configuration populates it; tests substitute stand-ins.
type Tools struct {
	// SolutionBuild is the argv prefix for building a solution file; the
	// solution path is appended.
	SolutionBuild []string

	// StyleCop is the argv prefix for the style analysis tool; report,
	// settings and source file arguments are appended.
	StyleCop []string
}

// PhaseRunner prepares and executes a single phase: applicability
// check, placeholder resolution, classifier construction and action
// dispatch.
type PhaseRunner struct {
	resolver        *resolver.Resolver
	tools           Tools
	defaultPatterns map[string]models.PatternConfig
	sink            classify.Sink
}

// NewPhaseRunner creates a PhaseRunner. defaultPatterns apply to phases
// that declare no patterns of their own; sink receives the classified
// output stream and may be nil.
func NewPhaseRunner(res *resolver.Resolver, tools Tools, defaultPatterns map[string]models.PatternConfig, sink classify.Sink) *PhaseRunner {
	return &PhaseRunner{
		resolver:        res,
		tools:           tools,
		defaultPatterns: defaultPatterns,
		sink:            sink,
	}
}

// Run executes one phase against the build context and returns its
// result. Run never returns an error: resolution and execution problems
// become a failed result so the orchestrator can apply the phase's
// stop-on-error policy uniformly.
//
// The named return lets the duration defer apply to every exit path.
func (r *PhaseRunner) Run(ctx context.Context, cfg *models.PhaseConfig, bctx *models.BuildContext) (result models.PhaseResult) {
	result = models.PhaseResult{
		Phase: cfg.DisplayName(),
		Type:  cfg.Type,
	}

	if !r.applies(cfg, bctx) {
		result.Status = models.StatusSkipped
		return result
	}

	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
	}()

	classifier, err := classify.NewClassifier(cfg.DisplayName(), r.patternsFor(cfg))
	if err != nil {
		return r.fail(&result, bctx, err)
	}
	out := phase.NewOutput(classifier, r.sink, nil)

	resolved, err := r.resolve(cfg, bctx)
	if err != nil {
		result.Status = models.StatusFailed
		result.ExitCode = -1
		result.Err = err
		ann := models.Annotation{
			Kind:    models.KindError,
			Message: err.Error(),
			Phase:   cfg.DisplayName(),
		}
		out.Annotate(ann)
		result.Annotations = out.Annotations()
		bctx.Append(result.Annotations...)
		return result
	}

	action, err := phase.ForType(cfg.Type)
	if err != nil {
		return r.fail(&result, bctx, err)
	}

	outcome := action.Execute(ctx, resolved, out)

	result.Status = outcome.Status
	result.ExitCode = outcome.ExitCode
	result.Err = outcome.Err
	result.Assemblies = outcome.Assemblies
	result.Annotations = out.Annotations()
	bctx.Append(result.Annotations...)
	return result
}

// applies implements the phase applicability rules. An unrestricted
// phase applies to every build; build-all bypasses filtering entirely.
func (r *PhaseRunner) applies(cfg *models.PhaseConfig, bctx *models.BuildContext) bool {
	if bctx.BuildAll {
		return true
	}
	if !cfg.AppliesTo(bctx.Task, bctx.Configuration) {
		return false
	}
	if cfg.PathSelector != "" && bctx.TargetFile != "" {
		selector := filepath.ToSlash(cfg.PathSelector)
		target := filepath.ToSlash(bctx.TargetFile)
		if !strings.Contains(target, selector) {
			return false
		}
	}
	return true
}

// patternsFor returns the phase's own patterns or the project defaults.
func (r *PhaseRunner) patternsFor(cfg *models.PhaseConfig) map[string]models.PatternConfig {
	if len(cfg.Patterns) > 0 {
		return cfg.Patterns
	}
	return r.defaultPatterns
}

// resolve expands every placeholder-bearing field of the phase. The
// first unresolved placeholder fails the whole phase.
func (r *PhaseRunner) resolve(cfg *models.PhaseConfig, bctx *models.BuildContext) (*phase.ResolvedPhase, error) {
	resolved := &phase.ResolvedPhase{Config: cfg}
	var err error

	switch cfg.Type {
	case models.PhaseCommand:
		if resolved.Command, err = r.resolver.ExpandAll(cfg.Command, bctx); err != nil {
			return nil, err
		}
		if resolved.WorkingDir, err = r.resolver.Expand(cfg.WorkingDir, bctx); err != nil {
			return nil, err
		}

	case models.PhaseCopy:
		if resolved.Sources, err = r.resolver.ExpandAll(cfg.Sources, bctx); err != nil {
			return nil, err
		}
		if resolved.Destination, err = r.resolver.Expand(cfg.Destination, bctx); err != nil {
			return nil, err
		}

	case models.PhaseSolution, models.PhaseUnitySolution:
		if resolved.Solution, err = r.resolver.Expand(cfg.Solution, bctx); err != nil {
			return nil, err
		}
		resolved.BuildTool = r.tools.SolutionBuild

	case models.PhaseStyleCop:
		if resolved.Path, err = r.resolver.Expand(cfg.Path, bctx); err != nil {
			return nil, err
		}
		if resolved.Settings, err = r.resolver.Expand(cfg.Settings, bctx); err != nil {
			return nil, err
		}
		resolved.AnalysisTool = r.tools.StyleCop
	}

	return resolved, nil
}

// fail marks the result failed with a single error annotation.
func (r *PhaseRunner) fail(result *models.PhaseResult, bctx *models.BuildContext, err error) models.PhaseResult {
	result.Status = models.StatusFailed
	result.ExitCode = -1
	result.Err = err
	result.Annotations = []models.Annotation{{
		Kind:    models.KindError,
		Message: err.Error(),
		Phase:   result.Phase,
	}}
	bctx.Append(result.Annotations...)
	return *result
}
