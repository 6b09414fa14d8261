package phase

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkessler/anvil/internal/fileutil"
	"github.com/mkessler/anvil/internal/models"
)

// DefaultViolationLimit caps how many violations a single analysis phase
// reports when the phase does not set its own limit.
const DefaultViolationLimit = 100

// violationsReport mirrors the XML report the analysis tool writes.
type violationsReport struct {
	Violations []struct {
		Section string `xml:"Section,attr"`
		LineNo  int    `xml:"LineNumber,attr"`
		CheckID string `xml:"RuleId,attr"`
		Rule    string `xml:"Rule,attr"`
		Source  struct {
			Name string `xml:"Name,attr"`
		} `xml:"SourceCode"`
		Message string `xml:",chardata"`
	} `xml:"Violation"`
}

// StyleCopAction runs the configured style analysis tool over the C#
// sources under a path and turns the tool's XML report into warning
// annotations. The phase fails when any violation is found, so an
// analysis phase with stop_on_error can gate the rest of the build.
type StyleCopAction struct{}

// Execute scans for sources, runs the tool against a temporary report
// file and parses the report. A tool that exits non-zero is a failure
// in its own right; a clean exit with violations in the report also
// fails the phase.
func (a *StyleCopAction) Execute(ctx context.Context, phase *ResolvedPhase, out *Output) Outcome {
	name := phase.Config.DisplayName()

	scan, err := fileutil.ScanDirectory(phase.Path, fileutil.ScanOptions{
		Extensions:  []string{".cs"},
		SkipFilters: phase.Config.SkipFilters,
	})
	if err != nil {
		return failure(out, name, fmt.Errorf("failed to scan %s: %w", phase.Path, err))
	}
	if len(scan.Files) == 0 {
		out.Annotate(models.Annotation{
			Kind:    models.KindInfo,
			Message: fmt.Sprintf("no source files found under %s", phase.Path),
			Phase:   name,
		})
		return Outcome{Status: models.StatusSucceeded}
	}

	report, err := os.CreateTemp("", "anvil-violations-*.xml")
	if err != nil {
		return failure(out, name, fmt.Errorf("failed to create report file: %w", err))
	}
	reportPath := report.Name()
	report.Close()
	defer os.Remove(reportPath)

	argv := append([]string{}, phase.AnalysisTool...)
	argv = append(argv, "-xml", reportPath)
	if phase.Settings != "" {
		argv = append(argv, "-settings", phase.Settings)
	}
	argv = append(argv, scan.Files...)

	outcome := runProcess(ctx, argv, phase.Path, name, out)
	if outcome.Status == models.StatusCancelled {
		return outcome
	}

	violations, total, parseErr := parseViolations(reportPath, effectiveLimit(phase.Config), name)
	if parseErr != nil {
		if outcome.Status != models.StatusSucceeded {
			// Tool failure already annotated; a missing report is expected.
			return outcome
		}
		return failure(out, name, parseErr)
	}

	for _, ann := range violations {
		out.Annotate(ann)
	}
	if total > len(violations) {
		out.Annotate(models.Annotation{
			Kind:    models.KindInfo,
			Message: fmt.Sprintf("%d further violation(s) suppressed", total-len(violations)),
			Phase:   name,
		})
	}

	if total > 0 {
		return Outcome{
			Status: models.StatusFailed,
			Err:    fmt.Errorf("%d style violation(s) found", total),
		}
	}
	return outcome
}

// effectiveLimit returns the violation cap for a phase.
func effectiveLimit(cfg *models.PhaseConfig) int {
	if cfg.LimitResults > 0 {
		return cfg.LimitResults
	}
	return DefaultViolationLimit
}

// parseViolations reads the tool's XML report and converts at most limit
// violations into warning annotations. total is the full violation count
// before the limit applied.
func parseViolations(reportPath string, limit int, phaseName string) (annotations []models.Annotation, total int, err error) {
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read violations report: %w", err)
	}

	var report violationsReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, 0, fmt.Errorf("failed to parse violations report: %w", err)
	}

	total = len(report.Violations)
	for _, v := range report.Violations {
		if len(annotations) >= limit {
			break
		}

		message := v.Message
		if v.CheckID != "" {
			message = fmt.Sprintf("%s: %s", v.CheckID, message)
		}
		annotations = append(annotations, models.Annotation{
			Kind:    models.KindWarning,
			File:    filepath.ToSlash(v.Source.Name),
			Line:    v.LineNo,
			Message: message,
			Phase:   phaseName,
		})
	}

	return annotations, total, nil
}
