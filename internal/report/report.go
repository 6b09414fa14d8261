// Package report renders stored build results as Markdown and HTML
// documents for sharing outside the terminal.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/mkessler/anvil/internal/history"
	"github.com/mkessler/anvil/internal/models"
)

// Generator renders build reports.
type Generator struct {
	markdown goldmark.Markdown
}

// NewGenerator creates a report generator. Tables are used for the
// annotation listing.
func NewGenerator() *Generator {
	return &Generator{
		markdown: goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

// Markdown renders one build record and its annotations as a Markdown
// document.
func (g *Generator) Markdown(record *history.BuildRecord, annotations []models.Annotation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Build Report: %s\n\n", record.BuildID)
	fmt.Fprintf(&b, "- **Task:** %s\n", record.Task)
	if record.Configuration != "" {
		fmt.Fprintf(&b, "- **Configuration:** %s\n", record.Configuration)
	}
	fmt.Fprintf(&b, "- **Status:** %s\n", record.Status)
	fmt.Fprintf(&b, "- **Started:** %s\n", record.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **Duration:** %.1fs\n", record.Duration.Seconds())
	fmt.Fprintf(&b, "- **Phases run:** %d (%d failed)\n", record.PhasesRun, record.PhasesFailed)
	if record.AbortedBy != "" {
		fmt.Fprintf(&b, "- **Aborted by:** %s\n", record.AbortedBy)
	}
	b.WriteString("\n")

	errors, warnings := countKinds(annotations)
	fmt.Fprintf(&b, "## Annotations (%d errors, %d warnings)\n\n", errors, warnings)

	if len(annotations) == 0 {
		b.WriteString("No annotations were produced.\n")
		return b.String()
	}

	b.WriteString("| Kind | Location | Message | Phase |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, a := range annotations {
		location := ""
		if a.HasLocation() {
			location = fmt.Sprintf("%s:%d", a.File, a.Line)
			if a.Column > 0 {
				location = fmt.Sprintf("%s:%d", location, a.Column)
			}
		} else if a.File != "" {
			location = a.File
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			a.Kind, escapeCell(location), escapeCell(a.Message), escapeCell(a.Phase))
	}

	return b.String()
}

// HTML renders one build record as a standalone HTML page.
func (g *Generator) HTML(record *history.BuildRecord, annotations []models.Annotation) (string, error) {
	md := g.Markdown(record, annotations)

	var body bytes.Buffer
	if err := g.markdown.Convert([]byte(md), &body); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(&page, "<title>Build Report: %s</title>\n", record.BuildID)
	page.WriteString("<meta charset=\"utf-8\">\n")
	page.WriteString("<style>\n")
	page.WriteString("body { font-family: sans-serif; max-width: 60em; margin: 2em auto; padding: 0 1em; }\n")
	page.WriteString("table { border-collapse: collapse; width: 100%; }\n")
	page.WriteString("th, td { border: 1px solid #ccc; padding: 0.3em 0.6em; text-align: left; }\n")
	page.WriteString("</style>\n</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")

	return page.String(), nil
}

// countKinds tallies errors and warnings.
func countKinds(annotations []models.Annotation) (errors, warnings int) {
	for _, a := range annotations {
		switch a.Kind {
		case models.KindError:
			errors++
		case models.KindWarning:
			warnings++
		}
	}
	return errors, warnings
}

// escapeCell keeps pipes in messages from breaking the table layout.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
