package phase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mkessler/anvil/internal/fileutil"
	"github.com/mkessler/anvil/internal/models"
)

// CopyAction copies files matching the configured source globs into the
// destination directory. Copying is best effort per file: one failed
// copy becomes an error annotation but the remaining files still copy.
type CopyAction struct{}

// Execute expands each source glob and copies the matches. A glob that
// matches nothing is a warning, not a failure; the phase fails only
// when an actual copy errored. The loop stops early on cancellation.
func (a *CopyAction) Execute(ctx context.Context, phase *ResolvedPhase, out *Output) Outcome {
	name := phase.Config.DisplayName()

	dest := expandUser(phase.Destination)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return failure(out, name, fmt.Errorf("failed to create destination %s: %w", dest, err))
	}

	copied := 0
	failed := 0
	for _, pattern := range phase.Sources {
		if ctx.Err() != nil {
			return Outcome{Status: models.StatusCancelled, Err: ctx.Err()}
		}

		pattern = os.ExpandEnv(expandUser(pattern))
		matches, err := filepath.Glob(pattern)
		if err != nil {
			failed++
			out.Annotate(models.Annotation{
				Kind:    models.KindError,
				Message: fmt.Sprintf("invalid source pattern %q: %v", pattern, err),
				Phase:   name,
			})
			continue
		}
		if len(matches) == 0 {
			out.Annotate(models.Annotation{
				Kind:    models.KindWarning,
				Message: fmt.Sprintf("source pattern %q matched no files", pattern),
				Phase:   name,
			})
			continue
		}

		for _, src := range matches {
			if ctx.Err() != nil {
				return Outcome{Status: models.StatusCancelled, Err: ctx.Err()}
			}

			dst := filepath.Join(dest, filepath.Base(src))
			if err := fileutil.CopyFile(src, dst); err != nil {
				failed++
				out.Annotate(models.Annotation{
					Kind:    models.KindError,
					Message: fmt.Sprintf("copy failed: %v", err),
					Phase:   name,
				})
				continue
			}
			copied++
		}
	}

	out.Annotate(models.Annotation{
		Kind:    models.KindInfo,
		Message: fmt.Sprintf("copied %d file(s) to %s", copied, dest),
		Phase:   name,
	})

	if failed > 0 {
		return Outcome{
			Status: models.StatusFailed,
			Err:    fmt.Errorf("%d file(s) failed to copy", failed),
		}
	}
	return Outcome{Status: models.StatusSucceeded}
}

// expandUser replaces a leading ~ with the user's home directory.
func expandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
