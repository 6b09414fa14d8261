package phase

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/mkessler/anvil/internal/models"
)

// projectLineRe matches project entries in a solution file:
// Project("{GUID}") = "Name", "relative\path.csproj", "{GUID}"
var projectLineRe = regexp.MustCompile(`^Project\("\{.*\}"\) = "(?P<name>.*)", "(?P<path>.*)", "\{.*\}"`)

// unityScriptAssemblies are the locations Unity moves compiled script
// assemblies to after a build.
var unityScriptAssemblies = []string{
	filepath.Join("Library", "ScriptAssemblies", "Assembly-CSharp.dll"),
	filepath.Join("Library", "ScriptAssemblies", "Assembly-CSharp-Editor.dll"),
}

// SolutionBuildAction invokes the configured build tool against a
// solution file and, on success, enumerates the output and reference
// assemblies of every project the solution contains. The assembly list
// is the phase's side-channel payload; an external collaborator
// persists it into project configuration.
type SolutionBuildAction struct {
	// Unity adds Unity's relocated script assemblies and filters
	// engine-provided references from the returned list.
	Unity bool
}

// Execute builds the solution and collects assembly references.
func (a *SolutionBuildAction) Execute(ctx context.Context, phase *ResolvedPhase, out *Output) Outcome {
	name := phase.Config.DisplayName()

	if _, err := os.Stat(phase.Solution); err != nil {
		return failure(out, name, fmt.Errorf("solution file not found: %s", phase.Solution))
	}

	argv := append(append([]string{}, phase.BuildTool...), phase.Solution)
	outcome := runProcess(ctx, argv, filepath.Dir(phase.Solution), name, out)
	if outcome.Status != models.StatusSucceeded {
		return outcome
	}

	if !phase.Config.ShouldAddAssemblies() {
		return outcome
	}

	assemblies, err := a.collectAssemblies(phase.Solution)
	if err != nil {
		// The build itself succeeded; a parse problem only costs the
		// side channel.
		out.Annotate(models.Annotation{
			Kind:    models.KindWarning,
			Message: fmt.Sprintf("failed to enumerate assemblies: %v", err),
			Phase:   name,
		})
		return outcome
	}

	outcome.Assemblies = assemblies
	return outcome
}

// collectAssemblies parses the solution and all referenced projects and
// returns the existing output and reference assembly paths, absolute,
// sorted and deduplicated.
func (a *SolutionBuildAction) collectAssemblies(solutionPath string) ([]string, error) {
	projects, err := parseSolution(solutionPath)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var assemblies []string
	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if _, err := os.Stat(abs); err != nil {
			return
		}
		if a.Unity && isEngineAssembly(abs) {
			return
		}
		if !seen[abs] {
			seen[abs] = true
			assemblies = append(assemblies, abs)
		}
	}

	for _, project := range projects {
		outputs, references, err := parseProject(project)
		if err != nil {
			// A single unparsable project should not cost the rest.
			continue
		}
		for _, p := range outputs {
			add(p)
		}
		for _, p := range references {
			add(p)
		}

		if a.Unity {
			projectDir := filepath.Dir(project)
			for _, rel := range unityScriptAssemblies {
				add(filepath.Join(projectDir, rel))
			}
		}
	}

	sort.Strings(assemblies)
	return assemblies, nil
}

// isEngineAssembly reports whether an assembly is provided by the Unity
// engine itself. Engine assemblies are resolved by Unity, not by the
// project, so referencing them from project configuration is noise.
func isEngineAssembly(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "UnityEngine") || strings.HasPrefix(base, "UnityEditor")
}

// parseSolution extracts the existing project file paths referenced by
// a solution file. Paths inside the solution are Windows-style relative
// paths regardless of platform.
func parseSolution(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open solution: %w", err)
	}
	defer f.Close()

	solutionDir := filepath.Dir(path)
	var projects []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		match := projectLineRe.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}

		rel := strings.ReplaceAll(match[projectLineRe.SubexpIndex("path")], `\`, string(filepath.Separator))
		projectPath := filepath.Join(solutionDir, rel)
		if info, err := os.Stat(projectPath); err != nil || info.IsDir() {
			// Solution folders and missing projects both land here.
			continue
		}
		projects = append(projects, projectPath)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read solution: %w", err)
	}

	return projects, nil
}

// csprojXML is the subset of the MSBuild project schema the assembly
// enumeration needs.
type csprojXML struct {
	PropertyGroups []struct {
		AssemblyName string `xml:"AssemblyName"`
		OutputType   string `xml:"OutputType"`
		OutputPath   string `xml:"OutputPath"`
	} `xml:"PropertyGroup"`
	ItemGroups []struct {
		References []struct {
			Include  string `xml:"Include,attr"`
			HintPath string `xml:"HintPath"`
		} `xml:"Reference"`
	} `xml:"ItemGroup"`
}

// parseProject returns the candidate output assembly paths and the
// hint-path references of one project file. Paths are joined against
// the project directory; existence is checked by the caller.
func parseProject(path string) (outputs, references []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read project: %w", err)
	}

	var proj csprojXML
	if err := xml.Unmarshal(data, &proj); err != nil {
		return nil, nil, fmt.Errorf("failed to parse project %s: %w", path, err)
	}

	projectDir := filepath.Dir(path)

	// Assembly names and output type typically live in one property
	// group, per-configuration output paths in others. Cross them.
	var targets []string
	ext := ".dll"
	for _, pg := range proj.PropertyGroups {
		if strings.EqualFold(pg.OutputType, "Exe") || strings.EqualFold(pg.OutputType, "WinExe") {
			ext = ".exe"
		}
	}
	for _, pg := range proj.PropertyGroups {
		if pg.AssemblyName != "" {
			targets = append(targets, pg.AssemblyName+ext)
		}
	}

	for _, pg := range proj.PropertyGroups {
		if pg.OutputPath == "" {
			continue
		}
		outputDir := filepath.Join(projectDir, windowsPath(pg.OutputPath))
		for _, target := range targets {
			outputs = append(outputs, filepath.Join(outputDir, target))
		}
	}

	for _, ig := range proj.ItemGroups {
		for _, ref := range ig.References {
			if ref.HintPath == "" {
				// References without hints point at GAC or package
				// assemblies the project does not carry paths for.
				continue
			}
			references = append(references, filepath.Join(projectDir, windowsPath(ref.HintPath)))
		}
	}

	return outputs, references, nil
}

// windowsPath converts a backslash-separated path from a project file
// to the platform separator.
func windowsPath(p string) string {
	return strings.ReplaceAll(p, `\`, string(filepath.Separator))
}
