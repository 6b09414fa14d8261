package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mkessler/anvil/internal/models"
)

// ProjectFileName is the build definition file anvil looks for.
const ProjectFileName = "anvil.yaml"

// ConfigurationError is a fatal problem with the build definition. No
// build starts while the definition is broken; the error lists every
// problem found so one validation run surfaces them all.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid build definition: " + e.Problems[0]
	}
	msg := fmt.Sprintf("invalid build definition (%d problems):", len(e.Problems))
	for _, p := range e.Problems {
		msg += "\n  - " + p
	}
	return msg
}

// Project is the per-project build definition loaded from anvil.yaml.
type Project struct {
	// Folders are the project folder roots, in declaration order.
	Folders []string `yaml:"folders"`

	// Configurations lists the build variants the project supports.
	// The first entry is the default.
	Configurations []string `yaml:"configurations"`

	// ProjectGlobs identify the project-definition files used to anchor
	// ${project_path}; empty uses the resolver default.
	ProjectGlobs []string `yaml:"project_globs"`

	// Patterns are the project-wide output classification defaults,
	// applied to phases that declare none of their own.
	Patterns map[string]models.PatternConfig `yaml:"patterns"`

	// Phases are the build phases in execution order.
	Phases []models.PhaseConfig `yaml:"phases"`

	// Dir is the directory the definition was loaded from. Not part of
	// the YAML; relative folder paths resolve against it.
	Dir string `yaml:"-"`
}

// DefaultConfiguration returns the project's first configured variant,
// or empty when the project declares none.
func (p *Project) DefaultConfiguration() string {
	if len(p.Configurations) > 0 {
		return p.Configurations[0]
	}
	return ""
}

// HasConfiguration reports whether name is a declared build variant.
// Every name is valid for a project that declares no variants.
func (p *Project) HasConfiguration(name string) bool {
	if len(p.Configurations) == 0 {
		return true
	}
	for _, c := range p.Configurations {
		if c == name {
			return true
		}
	}
	return false
}

// AbsFolders returns the folder roots resolved against the project
// directory.
func (p *Project) AbsFolders() []string {
	out := make([]string, 0, len(p.Folders))
	for _, f := range p.Folders {
		if !filepath.IsAbs(f) {
			f = filepath.Join(p.Dir, f)
		}
		out = append(out, f)
	}
	return out
}

// LoadProject reads and validates a build definition file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("cannot read %s: %v", path, err)}}
	}

	var project Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("cannot parse %s: %v", path, err)}}
	}

	project.Dir = filepath.Dir(path)

	if err := project.Validate(); err != nil {
		return nil, err
	}
	return &project, nil
}

// FindProject searches for the build definition file in dir and its
// ancestors and loads the nearest one.
func FindProject(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &ConfigurationError{Problems: []string{err.Error()}}
	}

	for {
		candidate := filepath.Join(abs, ProjectFileName)
		if _, err := os.Stat(candidate); err == nil {
			return LoadProject(candidate)
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, &ConfigurationError{Problems: []string{
				fmt.Sprintf("no %s found in %s or any parent directory", ProjectFileName, dir),
			}}
		}
		abs = parent
	}
}

// Validate checks the whole build definition and collects every
// problem into a single ConfigurationError.
func (p *Project) Validate() error {
	var problems []string

	if len(p.Phases) == 0 {
		problems = append(problems, "no phases defined")
	}

	seen := make(map[string]bool)
	for i := range p.Phases {
		phase := &p.Phases[i]
		if err := phase.Validate(); err != nil {
			problems = append(problems, err.Error())
		}

		name := phase.DisplayName()
		if seen[name] {
			problems = append(problems, fmt.Sprintf("duplicate phase name %q", name))
		}
		seen[name] = true

		problems = append(problems, validatePatterns(fmt.Sprintf("phase %q", name), phase.Patterns)...)
	}

	problems = append(problems, validatePatterns("project", p.Patterns)...)

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// validatePatterns checks pattern kinds and regex syntax.
func validatePatterns(scope string, patterns map[string]models.PatternConfig) []string {
	var problems []string
	for name, pattern := range patterns {
		switch pattern.Kind {
		case models.KindError, models.KindWarning, models.KindInfo:
		default:
			problems = append(problems, fmt.Sprintf("%s pattern %q: unknown kind %q", scope, name, pattern.Kind))
		}
		if _, err := regexp.Compile(pattern.Regex); err != nil {
			problems = append(problems, fmt.Sprintf("%s pattern %q: %v", scope, name, err))
		}
	}
	return problems
}
