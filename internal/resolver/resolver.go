// Package resolver expands placeholder tokens in phase configuration
// strings. Project-root placeholders are anchored by searching for a
// project-definition file near the configured folder roots; the search
// is bounded and memoized per build invocation.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mkessler/anvil/internal/models"
)

// MaxSearchDepth bounds the project-root search. Starting from a folder
// root, the resolver scans downward up to this many directory levels and
// steps upward through the same number of ancestors, shrinking the
// downward budget by one per step. Nothing beyond the bound resolves;
// that limitation is deliberate and surfaces as an error instead of a
// silent default.
const MaxSearchDepth = 4

// DefaultProjectGlobs are the filename patterns that identify a
// project-definition file when the project configuration names none.
var DefaultProjectGlobs = []string{"*.sln"}

// UnresolvedVariableError reports a placeholder that could not be
// substituted. It is phase-scoped: the phase fails, the build continues
// unless the phase stops on error.
type UnresolvedVariableError struct {
	Variable string
	Reason   string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("cannot resolve ${%s}: %s", e.Variable, e.Reason)
}

var placeholderRe = regexp.MustCompile(`\$\{([a-z_]+)(?::([^}]+))?\}`)

// Resolver expands placeholders against one build context.
type Resolver struct {
	projectGlobs []string
}

// New creates a Resolver. projectGlobs identifies project-definition
// files for ${project_path} anchoring; empty falls back to
// DefaultProjectGlobs.
func New(projectGlobs []string) *Resolver {
	if len(projectGlobs) == 0 {
		projectGlobs = DefaultProjectGlobs
	}
	return &Resolver{projectGlobs: projectGlobs}
}

// Expand substitutes every placeholder in template using the build
// context. Recognized tokens: ${project_path}, ${folder},
// ${configuration}, ${task}, ${task:default}, ${env:NAME}, ${home}.
// Unknown tokens and unanchorable project paths return an
// UnresolvedVariableError.
func (r *Resolver) Expand(template string, ctx *models.BuildContext) (string, error) {
	var firstErr error

	expanded := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		name, arg := groups[1], groups[2]

		value, err := r.resolveToken(name, arg, ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}

	// Keep forward slashes throughout so emitted paths match the
	// classification regexes regardless of platform.
	return strings.ReplaceAll(expanded, "\\", "/"), nil
}

// ExpandAll expands a slice of templates, failing on the first
// unresolved placeholder.
func (r *Resolver) ExpandAll(templates []string, ctx *models.BuildContext) ([]string, error) {
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		v, err := r.Expand(t, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Resolver) resolveToken(name, arg string, ctx *models.BuildContext) (string, error) {
	switch name {
	case "project_path":
		return r.projectPath(ctx)
	case "folder":
		if len(ctx.Folders) == 0 {
			return ".", nil
		}
		return ctx.Folders[0], nil
	case "configuration":
		return ctx.Configuration, nil
	case "task":
		if ctx.Task == "" && arg != "" {
			return arg, nil
		}
		return ctx.Task, nil
	case "env":
		if value, ok := os.LookupEnv(arg); ok {
			return value, nil
		}
		return "", &UnresolvedVariableError{Variable: "env:" + arg, Reason: "environment variable not set"}
	case "home":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", &UnresolvedVariableError{Variable: "home", Reason: err.Error()}
		}
		return home, nil
	default:
		return "", &UnresolvedVariableError{Variable: name, Reason: "unknown placeholder"}
	}
}

// projectPath locates the directory holding the project-definition file
// nearest to the configured folders. Results are memoized on the build
// context; folder declaration order breaks ties.
func (r *Resolver) projectPath(ctx *models.BuildContext) (string, error) {
	for _, folder := range ctx.Folders {
		if root, ok := ctx.CachedRoot(folder); ok {
			if root != "" {
				return root, nil
			}
			continue
		}

		root := r.findProjectRoot(folder)
		ctx.CacheRoot(folder, root)
		if root != "" {
			return root, nil
		}
	}

	return "", &UnresolvedVariableError{
		Variable: "project_path",
		Reason:   fmt.Sprintf("no project file within %d levels of the configured folders", MaxSearchDepth),
	}
}

// findProjectRoot searches outward from root: downward with the full
// depth budget, then one ancestor at a time with one level less each
// step. Scanned directories are remembered so the upward pass does not
// rescan subtrees.
func (r *Resolver) findProjectRoot(root string) string {
	path, err := filepath.Abs(root)
	if err != nil {
		return ""
	}

	scanned := make(map[string]bool)
	for depth := MaxSearchDepth; depth >= 0; depth-- {
		if found := r.findDownwards(path, depth, scanned); found != "" {
			return filepath.Dir(found)
		}

		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	return ""
}

func (r *Resolver) findDownwards(dir string, remaining int, scanned map[string]bool) string {
	if remaining < 0 || scanned[dir] {
		return ""
	}
	scanned[dir] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	// Files first: the closest project file wins before descending.
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, glob := range r.projectGlobs {
			if ok, _ := filepath.Match(glob, entry.Name()); ok {
				return filepath.Join(dir, entry.Name())
			}
		}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if found := r.findDownwards(filepath.Join(dir, entry.Name()), remaining-1, scanned); found != "" {
			return found
		}
	}

	return ""
}
