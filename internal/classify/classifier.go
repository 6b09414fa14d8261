// Package classify turns phase output lines into annotations by
// matching them against named regular-expression patterns.
package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/mkessler/anvil/internal/models"
)

// compiledPattern is one named pattern ready for matching.
type compiledPattern struct {
	name string
	kind models.AnnotationKind
	re   *regexp.Regexp
}

// Classifier matches output lines against a fixed pattern set.
// Patterns are tested in lexicographic name order, so the result for a
// given line never depends on the order patterns were declared in.
type Classifier struct {
	patterns []compiledPattern
	phase    string
}

// NewClassifier compiles the pattern set for one phase. Invalid regexes
// or kinds are configuration errors. phase is recorded on every
// produced annotation.
func NewClassifier(phase string, patterns map[string]models.PatternConfig) (*Classifier, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for name, p := range patterns {
		switch p.Kind {
		case models.KindError, models.KindWarning, models.KindInfo:
		default:
			return nil, fmt.Errorf("pattern %q: unknown kind %q", name, p.Kind)
		}

		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
		compiled = append(compiled, compiledPattern{name: name, kind: p.Kind, re: re})
	}

	// Deterministic tie-break: lexicographic pattern name. Patterns are
	// expected to be non-overlapping in practice; when they do overlap,
	// the first name wins regardless of declaration order.
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].name < compiled[j].name
	})

	return &Classifier{patterns: compiled, phase: phase}, nil
}

// Classify matches one line against the pattern set. It returns the
// annotation for the first matching pattern in name order, or false when
// no pattern matches; unmatched lines stay visible as plain output, they
// are never dropped. A nil classifier matches nothing.
func (c *Classifier) Classify(line string) (models.Annotation, bool) {
	if c == nil {
		return models.Annotation{}, false
	}
	for _, p := range c.patterns {
		match := p.re.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		ann := models.Annotation{
			Kind:    p.kind,
			Message: line,
			Phase:   c.phase,
		}

		for i, group := range p.re.SubexpNames() {
			if i == 0 || i >= len(match) || match[i] == "" {
				continue
			}
			switch group {
			case "file":
				ann.File = match[i]
			case "line":
				if n, err := strconv.Atoi(match[i]); err == nil {
					ann.Line = n
				}
			case "column":
				if n, err := strconv.Atoi(match[i]); err == nil {
					ann.Column = n
				}
			case "message":
				ann.Message = match[i]
			}
		}

		// Line and column only make sense relative to a file.
		if ann.File == "" {
			ann.Line = 0
			ann.Column = 0
		}

		return ann, true
	}

	return models.Annotation{}, false
}
