// Package phase implements the build phase actions: running commands,
// copying files, building solutions and running static analysis. Each
// action executes one resolved phase against an output stream.
package phase

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mkessler/anvil/internal/classify"
	"github.com/mkessler/anvil/internal/models"
)

// ResolvedPhase carries one phase's configuration after all placeholder
// expansion. Actions only ever see resolved values.
type ResolvedPhase struct {
	Config *models.PhaseConfig

	// Command phases
	Command    []string
	WorkingDir string

	// Copy phases
	Sources     []string
	Destination string

	// Solution phases
	Solution  string
	BuildTool []string

	// Static analysis phases
	Path         string
	Settings     string
	AnalysisTool []string
}

// Outcome is what an action reports back to the phase runner.
type Outcome struct {
	Status     string   // SUCCEEDED, FAILED or CANCELLED
	ExitCode   int      // process exit code, 0 when not applicable
	Err        error    // underlying execution error, if any
	Assemblies []string // side channel: discovered assembly references
}

// Action executes one resolved phase. Implementations stream their
// output through the provided Output as it is produced and must honor
// context cancellation: a running process is killed, a copy loop stops.
type Action interface {
	Execute(ctx context.Context, phase *ResolvedPhase, out *Output) Outcome
}

// ForType returns the action implementation for a phase type tag.
// Unknown tags are a configuration error; the project loader rejects
// them before a build starts, so hitting one here aborts the build.
func ForType(t models.PhaseType) (Action, error) {
	switch t {
	case models.PhaseCommand:
		return &CommandAction{}, nil
	case models.PhaseCopy:
		return &CopyAction{}, nil
	case models.PhaseSolution:
		return &SolutionBuildAction{}, nil
	case models.PhaseUnitySolution:
		return &SolutionBuildAction{Unity: true}, nil
	case models.PhaseStyleCop:
		return &StyleCopAction{}, nil
	default:
		return nil, fmt.Errorf("unknown phase type %q", t)
	}
}

// Output couples the phase's classifier with the build's sink and the
// per-phase annotation log. It is safe for concurrent use: a command's
// stdout and stderr readers emit from separate goroutines.
type Output struct {
	classifier *classify.Classifier
	sink       classify.Sink
	onEmit     func(models.Annotation)

	mu          sync.Mutex
	annotations []models.Annotation
}

// NewOutput creates an Output for one phase. sink may be nil (discard
// raw lines); onEmit, when non-nil, observes every annotation as it is
// produced (the orchestrator uses it to feed the build log).
func NewOutput(classifier *classify.Classifier, sink classify.Sink, onEmit func(models.Annotation)) *Output {
	return &Output{classifier: classifier, sink: sink, onEmit: onEmit}
}

// Annotate records an annotation produced directly by an action (copy
// failures, resolution problems) rather than by output classification.
func (o *Output) Annotate(a models.Annotation) {
	o.mu.Lock()
	o.annotations = append(o.annotations, a)
	o.mu.Unlock()

	if o.onEmit != nil {
		o.onEmit(a)
	}
	if o.sink != nil {
		o.sink.Emit(a)
	}
}

// Line classifies one output line and routes it to the sink.
func (o *Output) Line(line string) {
	if o.classifier != nil {
		if ann, ok := o.classifier.Classify(line); ok {
			o.Annotate(ann)
			return
		}
	}
	if o.sink != nil {
		o.sink.Raw(line)
	}
}

// Stream reads r line by line through the classifier. Classification is
// incremental; nothing is buffered beyond the current line.
func (o *Output) Stream(r io.Reader) (int, error) {
	return classify.Stream(r, o.classifier, sinkFunc{o}, nil)
}

// Annotations returns a snapshot of the annotations recorded so far.
func (o *Output) Annotations() []models.Annotation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Annotation, len(o.annotations))
	copy(out, o.annotations)
	return out
}

// sinkFunc adapts Output to the classify.Sink interface so Stream can
// reuse the shared line scanner.
type sinkFunc struct {
	out *Output
}

func (s sinkFunc) Emit(a models.Annotation) { s.out.Annotate(a) }

func (s sinkFunc) Raw(line string) {
	if s.out.sink != nil {
		s.out.sink.Raw(line)
	}
}
