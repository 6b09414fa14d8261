package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mkessler/anvil/internal/models"
)

const validProject = `
folders:
  - src
configurations: [Debug, Release]
patterns:
  errors:
    kind: error
    regex: '^(?P<file>.+)\((?P<line>\d+),(?P<column>\d+)\): error'
phases:
  - name: compile
    type: solution
    solution: src/App.sln
  - name: deploy
    type: copy
    tasks: [Build]
    sources: ["src/bin/*.dll"]
    destination: out/
`

func writeProject(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ProjectFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProject(t *testing.T) {
	dir := t.TempDir()
	path := writeProject(t, dir, validProject)

	project, err := LoadProject(path)
	if err != nil {
		t.Fatalf("LoadProject() error: %v", err)
	}

	if len(project.Phases) != 2 {
		t.Fatalf("Phases = %d, want 2", len(project.Phases))
	}
	if project.Phases[0].Type != models.PhaseSolution {
		t.Errorf("first phase type = %q, want solution", project.Phases[0].Type)
	}
	if project.DefaultConfiguration() != "Debug" {
		t.Errorf("DefaultConfiguration() = %q, want Debug", project.DefaultConfiguration())
	}
	if !project.HasConfiguration("Release") {
		t.Error("HasConfiguration(Release) = false, want true")
	}
	if project.HasConfiguration("Profile") {
		t.Error("HasConfiguration(Profile) = true, want false")
	}
	if project.Dir != dir {
		t.Errorf("Dir = %q, want %q", project.Dir, dir)
	}

	folders := project.AbsFolders()
	if len(folders) != 1 || folders[0] != filepath.Join(dir, "src") {
		t.Errorf("AbsFolders() = %v, want folder under project dir", folders)
	}
}

func TestLoadProjectMissingFile(t *testing.T) {
	_, err := LoadProject(filepath.Join(t.TempDir(), ProjectFileName))

	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	broken := `
patterns:
  bad-kind:
    kind: fatal
    regex: ok
  bad-regex:
    kind: error
    regex: '[unclosed'
phases:
  - name: one
    type: command
  - name: one
    type: copy
    destination: out/
  - name: mystery
    type: teleport
`
	path := writeProject(t, t.TempDir(), broken)

	_, err := LoadProject(path)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}

	// One problem per defect: missing command, missing sources, duplicate
	// name, unknown type, bad pattern kind, bad pattern regex.
	if len(confErr.Problems) != 6 {
		t.Errorf("Problems = %d, want 6:\n%s", len(confErr.Problems), confErr.Error())
	}

	msg := confErr.Error()
	for _, want := range []string{"duplicate phase name", "unknown phase type", "unknown kind", "error parsing regexp"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateRequiresPhases(t *testing.T) {
	path := writeProject(t, t.TempDir(), "folders: [src]\n")

	_, err := LoadProject(path)
	if err == nil || !strings.Contains(err.Error(), "no phases defined") {
		t.Errorf("error = %v, want no-phases problem", err)
	}
}

func TestFindProjectSearchesUpward(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, validProject)

	nested := filepath.Join(root, "src", "deep", "inner")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	project, err := FindProject(nested)
	if err != nil {
		t.Fatalf("FindProject() error: %v", err)
	}
	if project.Dir != root {
		t.Errorf("Dir = %q, want %q", project.Dir, root)
	}
}

func TestFindProjectNotFound(t *testing.T) {
	_, err := FindProject(t.TempDir())
	if err == nil {
		t.Error("FindProject() = nil error, want ConfigurationError")
	}
}
