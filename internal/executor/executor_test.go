package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessler/anvil/internal/classify"
	"github.com/mkessler/anvil/internal/models"
	"github.com/mkessler/anvil/internal/resolver"
)

// spyRunner returns scripted results and records the phases it ran.
type spyRunner struct {
	results map[string]models.PhaseResult
	ran     []string
}

func (s *spyRunner) Run(ctx context.Context, cfg *models.PhaseConfig, bctx *models.BuildContext) models.PhaseResult {
	s.ran = append(s.ran, cfg.DisplayName())
	if r, ok := s.results[cfg.DisplayName()]; ok {
		return r
	}
	return models.PhaseResult{Phase: cfg.DisplayName(), Status: models.StatusSucceeded}
}

func commandPhase(name string) models.PhaseConfig {
	return models.PhaseConfig{Name: name, Type: models.PhaseCommand, Command: []string{"true"}}
}

func TestOrchestratorRunsPhasesInOrder(t *testing.T) {
	spy := &spyRunner{}
	o := NewOrchestrator(spy, nil)

	phases := []models.PhaseConfig{commandPhase("one"), commandPhase("two"), commandPhase("three")}
	bctx := models.NewBuildContext("Build", "Debug", nil)

	summary, err := o.Execute(context.Background(), phases, bctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two", "three"}, spy.ran)
	assert.Equal(t, models.BuildSucceeded, summary.Status)
	assert.Len(t, summary.Results, 3)
	assert.Empty(t, summary.AbortedBy)
}

func TestOrchestratorStopOnErrorAborts(t *testing.T) {
	spy := &spyRunner{results: map[string]models.PhaseResult{
		"two": {Phase: "two", Status: models.StatusFailed},
	}}
	o := NewOrchestrator(spy, nil)

	phases := []models.PhaseConfig{commandPhase("one"), commandPhase("two"), commandPhase("three")}
	bctx := models.NewBuildContext("Build", "Debug", nil)

	summary, err := o.Execute(context.Background(), phases, bctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two"}, spy.ran, "phase three should never run")
	assert.Equal(t, models.BuildAborted, summary.Status)
	assert.Equal(t, "two", summary.AbortedBy)

	// Phases that never started leave no trace in the summary.
	require.Len(t, summary.Results, 2)
	assert.Equal(t, 2, summary.ExecutedCount())
}

func TestOrchestratorAbortCountsOnlyStartedPhases(t *testing.T) {
	spy := &spyRunner{results: map[string]models.PhaseResult{
		"one": {Phase: "one", Status: models.StatusFailed},
	}}
	o := NewOrchestrator(spy, nil)

	phases := []models.PhaseConfig{commandPhase("one"), commandPhase("two"), commandPhase("three")}
	bctx := models.NewBuildContext("Build", "Debug", nil)

	summary, err := o.Execute(context.Background(), phases, bctx)
	require.NoError(t, err)

	assert.Equal(t, models.BuildAborted, summary.Status)
	assert.Equal(t, 1, summary.ExecutedCount(), "only the failing phase ran")
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "one", summary.Results[0].Phase)
}

func TestOrchestratorContinueOnError(t *testing.T) {
	noStop := false
	failing := commandPhase("two")
	failing.StopOnError = &noStop

	spy := &spyRunner{results: map[string]models.PhaseResult{
		"two": {Phase: "two", Status: models.StatusFailed},
	}}
	o := NewOrchestrator(spy, nil)

	phases := []models.PhaseConfig{commandPhase("one"), failing, commandPhase("three")}
	bctx := models.NewBuildContext("Build", "Debug", nil)

	summary, err := o.Execute(context.Background(), phases, bctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two", "three"}, spy.ran)
	assert.Equal(t, models.BuildFailed, summary.Status)
	assert.Empty(t, summary.AbortedBy)
	assert.Equal(t, []string{"two"}, summary.FailedPhases())
}

func TestOrchestratorSkippedPhasesDoNotFailBuild(t *testing.T) {
	spy := &spyRunner{results: map[string]models.PhaseResult{
		"two": {Phase: "two", Status: models.StatusSkipped},
	}}
	o := NewOrchestrator(spy, nil)

	phases := []models.PhaseConfig{commandPhase("one"), commandPhase("two")}
	bctx := models.NewBuildContext("Build", "Debug", nil)

	summary, err := o.Execute(context.Background(), phases, bctx)
	require.NoError(t, err)
	assert.Equal(t, models.BuildSucceeded, summary.Status)
	assert.Equal(t, 1, summary.ExecutedCount())
}

func TestOrchestratorNilContext(t *testing.T) {
	o := NewOrchestrator(&spyRunner{}, nil)
	_, err := o.Execute(context.Background(), nil, nil)
	assert.Error(t, err)
}

func newTestRunner(t *testing.T, tools Tools) *PhaseRunner {
	t.Helper()
	return NewPhaseRunner(resolver.New([]string{"anvil-executor-test.sln"}), tools, nil, classify.NewMemorySink())
}

func TestPhaseRunnerSkipsInapplicablePhase(t *testing.T) {
	r := newTestRunner(t, Tools{})
	bctx := models.NewBuildContext("Build", "Debug", nil)

	cfg := commandPhase("clean-only")
	cfg.Tasks = []string{"Clean"}

	result := r.Run(context.Background(), &cfg, bctx)
	assert.Equal(t, models.StatusSkipped, result.Status)
	assert.Empty(t, result.Annotations)
}

func TestPhaseRunnerBuildAllBypassesFilters(t *testing.T) {
	r := newTestRunner(t, Tools{})
	bctx := models.NewBuildContext("Build", "Debug", nil)
	bctx.BuildAll = true

	cfg := models.PhaseConfig{
		Name:    "clean-only",
		Type:    models.PhaseCommand,
		Tasks:   []string{"Clean"},
		Command: []string{"/bin/sh", "-c", "true"},
	}

	result := r.Run(context.Background(), &cfg, bctx)
	assert.Equal(t, models.StatusSucceeded, result.Status)
}

func TestPhaseRunnerPathSelector(t *testing.T) {
	r := newTestRunner(t, Tools{})

	cfg := models.PhaseConfig{
		Name:         "scoped",
		Type:         models.PhaseCommand,
		PathSelector: "src/client",
		Command:      []string{"/bin/sh", "-c", "true"},
	}

	bctx := models.NewBuildContext("Build", "Debug", nil)
	bctx.TargetFile = "/work/src/server/Main.cs"
	result := r.Run(context.Background(), &cfg, bctx)
	assert.Equal(t, models.StatusSkipped, result.Status)

	bctx = models.NewBuildContext("Build", "Debug", nil)
	bctx.TargetFile = "/work/src/client/App.cs"
	result = r.Run(context.Background(), &cfg, bctx)
	assert.Equal(t, models.StatusSucceeded, result.Status)
}

func TestPhaseRunnerUnresolvedVariableFailsPhase(t *testing.T) {
	r := newTestRunner(t, Tools{})
	bctx := models.NewBuildContext("Build", "Debug", nil)

	cfg := models.PhaseConfig{
		Name:    "broken",
		Type:    models.PhaseCommand,
		Command: []string{"echo", "${env:ANVIL_DEFINITELY_UNSET_VARIABLE}"},
	}

	result := r.Run(context.Background(), &cfg, bctx)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, -1, result.ExitCode)
	require.Error(t, result.Err)

	var unresolved *resolver.UnresolvedVariableError
	require.ErrorAs(t, result.Err, &unresolved)

	require.Len(t, result.Annotations, 1)
	assert.Equal(t, models.KindError, result.Annotations[0].Kind)
	assert.Len(t, bctx.Annotations(), 1, "failure annotation should reach the build log")
}

func TestPhaseRunnerExecutesCommand(t *testing.T) {
	r := NewPhaseRunner(resolver.New(nil), Tools{}, map[string]models.PatternConfig{
		"errors": {Kind: models.KindError, Regex: `^fail: (?P<message>.*)$`},
	}, classify.NewMemorySink())

	bctx := models.NewBuildContext("Build", "Debug", nil)
	cfg := models.PhaseConfig{
		Name:    "emit",
		Type:    models.PhaseCommand,
		Command: []string{"/bin/sh", "-c", "echo 'fail: bad thing'"},
	}

	result := r.Run(context.Background(), &cfg, bctx)
	assert.Equal(t, models.StatusSucceeded, result.Status)
	require.Len(t, result.Annotations, 1)
	assert.Equal(t, "bad thing", result.Annotations[0].Message)
	assert.Equal(t, 1, result.ErrorCount())
}

func TestPhaseRunnerRecordsDuration(t *testing.T) {
	r := newTestRunner(t, Tools{})
	bctx := models.NewBuildContext("Build", "Debug", nil)

	cfg := models.PhaseConfig{
		Name:    "pause",
		Type:    models.PhaseCommand,
		Command: []string{"/bin/sh", "-c", "sleep 0.3"},
	}

	result := r.Run(context.Background(), &cfg, bctx)
	require.Equal(t, models.StatusSucceeded, result.Status)
	assert.GreaterOrEqual(t, result.Duration, 200*time.Millisecond, "wall time must be recorded on the result")
}

func TestPhaseRunnerResolvesPlaceholders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "anvil-executor-test.sln"), []byte(""), 0644))

	marker := filepath.Join(t.TempDir(), "marker")
	r := newTestRunner(t, Tools{})

	bctx := models.NewBuildContext("Build", "Release", []string{dir})
	cfg := models.PhaseConfig{
		Name:    "touch",
		Type:    models.PhaseCommand,
		Command: []string{"/bin/sh", "-c", "echo ${configuration} > " + marker + " && test -d ${project_path}"},
	}

	result := r.Run(context.Background(), &cfg, bctx)
	require.Equal(t, models.StatusSucceeded, result.Status)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "Release\n", string(data))
}
