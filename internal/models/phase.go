package models

import (
	"errors"
	"fmt"
)

// PhaseType identifies which action a phase performs.
type PhaseType string

// Supported phase types.
const (
	PhaseCommand       PhaseType = "command"
	PhaseCopy          PhaseType = "copy"
	PhaseSolution      PhaseType = "solution"
	PhaseUnitySolution PhaseType = "unity_solution"
	PhaseStyleCop      PhaseType = "stylecop"
)

// DefaultTask is assumed when a build is started without an explicit task.
const DefaultTask = "Build"

// PatternConfig describes one named output-classification pattern.
// The regex may expose the named capture groups "file", "line", "column"
// and "message"; groups that are absent simply leave the corresponding
// annotation field empty. The exact group usage is a per-pattern contract.
type PatternConfig struct {
	Kind  AnnotationKind `yaml:"kind"`
	Regex string         `yaml:"regex"`
}

// PhaseConfig is the immutable description of one configured build phase.
// It is created once by the project loader and never mutated afterwards.
type PhaseConfig struct {
	// Name is the display name of the phase.
	Name string `yaml:"name"`

	// Type selects the action variant. Unknown types are a fatal
	// configuration error caught at load time.
	Type PhaseType `yaml:"type"`

	// Tasks restricts the phase to the named tasks. Empty (or the "*"
	// wildcard) means the phase applies to every task.
	Tasks []string `yaml:"tasks"`

	// Configurations restricts the phase to the named build
	// configurations. Empty means all configurations.
	Configurations []string `yaml:"configurations"`

	// StopOnError aborts the remaining phases when this phase fails.
	// Defaults to true; subsequent phases usually depend on earlier ones.
	StopOnError *bool `yaml:"stop_on_error"`

	// PathSelector limits the phase to builds whose target file lives
	// under this path. Empty means no path filtering.
	PathSelector string `yaml:"path_selector"`

	// Command holds the argv for command phases.
	Command []string `yaml:"command"`

	// WorkingDir is the working directory for command phases.
	WorkingDir string `yaml:"working_dir"`

	// Sources and Destination configure copy phases. Sources are
	// shell-style glob patterns.
	Sources     []string `yaml:"sources"`
	Destination string   `yaml:"destination"`

	// Solution is the solution file path for solution phases.
	Solution string `yaml:"solution"`

	// AddAssemblies enables persisting discovered assembly references
	// back into the project configuration. Defaults to true.
	AddAssemblies *bool `yaml:"add_assemblies"`

	// Path, Settings, SkipFilters and LimitResults configure static
	// analysis phases.
	Path         string   `yaml:"path"`
	Settings     string   `yaml:"settings"`
	SkipFilters  []string `yaml:"skip_filters"`
	LimitResults int      `yaml:"limit_results"`

	// Patterns are the per-phase output classification patterns. When
	// empty, the project-wide defaults apply.
	Patterns map[string]PatternConfig `yaml:"patterns"`
}

// ShouldStopOnError reports the effective stop-on-error setting.
func (p *PhaseConfig) ShouldStopOnError() bool {
	if p.StopOnError == nil {
		return true
	}
	return *p.StopOnError
}

// ShouldAddAssemblies reports whether solution phases persist their
// discovered assembly references.
func (p *PhaseConfig) ShouldAddAssemblies() bool {
	if p.AddAssemblies == nil {
		return true
	}
	return *p.AddAssemblies
}

// AppliesToAllTasks reports whether the phase opted into every task,
// either by leaving the task set empty or by listing the "*" wildcard.
func (p *PhaseConfig) AppliesToAllTasks() bool {
	if len(p.Tasks) == 0 {
		return true
	}
	for _, t := range p.Tasks {
		if t == "*" {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the phase participates in a build for the
// given task and configuration. Empty restriction lists do not restrict:
// a phase with no tasks and no configurations applies to every build.
func (p *PhaseConfig) AppliesTo(task, configuration string) bool {
	if !p.AppliesToAllTasks() && !containsString(p.Tasks, task) {
		return false
	}
	if len(p.Configurations) > 0 && !containsString(p.Configurations, configuration) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Validate checks the phase for structural configuration errors. These
// are fatal: a build cannot sensibly proceed with a broken phase list.
func (p *PhaseConfig) Validate() error {
	if p.Type == "" {
		return errors.New("phase type is required")
	}

	switch p.Type {
	case PhaseCommand:
		if len(p.Command) == 0 {
			return fmt.Errorf("phase %q: command phases require a command", p.Name)
		}
	case PhaseCopy:
		if len(p.Sources) == 0 {
			return fmt.Errorf("phase %q: copy phases require sources", p.Name)
		}
		if p.Destination == "" {
			return fmt.Errorf("phase %q: copy phases require a destination", p.Name)
		}
	case PhaseSolution, PhaseUnitySolution:
		if p.Solution == "" {
			return fmt.Errorf("phase %q: solution phases require a solution file", p.Name)
		}
	case PhaseStyleCop:
		if p.Path == "" {
			return fmt.Errorf("phase %q: stylecop phases require a path", p.Name)
		}
	default:
		return fmt.Errorf("phase %q: unknown phase type %q", p.Name, p.Type)
	}

	return nil
}

// DisplayName returns the phase name, falling back to the type when the
// name is empty.
func (p *PhaseConfig) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.Type)
}
