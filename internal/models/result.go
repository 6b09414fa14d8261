package models

import "time"

// Phase execution status constants.
const (
	StatusSucceeded = "SUCCEEDED" // phase completed without errors
	StatusFailed    = "FAILED"    // phase executed and failed
	StatusSkipped   = "SKIPPED"   // phase did not apply to the task/configuration
	StatusCancelled = "CANCELLED" // phase was terminated by an abort
)

// Build summary status constants.
const (
	BuildSucceeded = "SUCCEEDED" // every non-skipped phase succeeded
	BuildFailed    = "FAILED"    // at least one phase failed, all phases ran
	BuildAborted   = "ABORTED"   // a stop-on-error phase failed before all phases ran
)

// PhaseResult is the outcome of running one phase. It is created at
// phase completion and consumed immediately by the orchestrator.
type PhaseResult struct {
	Phase       string        // display name of the phase
	Type        PhaseType     // phase type tag
	Status      string        // SUCCEEDED, FAILED, SKIPPED or CANCELLED
	ExitCode    int           // process exit code, 0 when not applicable
	Err         error         // execution error, if any
	Annotations []Annotation  // classified output lines
	Assemblies  []string      // side channel: discovered assembly references
	Duration    time.Duration // wall time spent in the phase
}

// Failed reports whether the phase executed and did not succeed.
func (r *PhaseResult) Failed() bool {
	return r.Status == StatusFailed
}

// ErrorCount returns the number of error annotations in the result.
func (r *PhaseResult) ErrorCount() int {
	n := 0
	for _, a := range r.Annotations {
		if a.Kind == KindError {
			n++
		}
	}
	return n
}

// BuildSummary is the aggregate result of one build invocation.
type BuildSummary struct {
	BuildID       string        // unique invocation identifier
	Task          string        // selected task
	Configuration string        // selected configuration
	Status        string        // SUCCEEDED, FAILED or ABORTED
	Results       []PhaseResult // results of executed phases, in order
	AbortedBy     string        // phase that triggered an abort, if any
	Duration      time.Duration // total build time
}

// FailedPhases returns the display names of all failed phases, in order.
func (s *BuildSummary) FailedPhases() []string {
	var names []string
	for _, r := range s.Results {
		if r.Failed() {
			names = append(names, r.Phase)
		}
	}
	return names
}

// ExecutedCount returns the number of phases that actually ran
// (everything except skipped phases).
func (s *BuildSummary) ExecutedCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Status != StatusSkipped {
			n++
		}
	}
	return n
}

// Annotations returns all annotations across executed phases, in
// phase order.
func (s *BuildSummary) Annotations() []Annotation {
	var all []Annotation
	for _, r := range s.Results {
		all = append(all, r.Annotations...)
	}
	return all
}
