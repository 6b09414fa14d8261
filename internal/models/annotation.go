package models

import "fmt"

// AnnotationKind classifies one line of phase output.
type AnnotationKind string

// Annotation kinds, from most to least severe.
const (
	KindError   AnnotationKind = "error"
	KindWarning AnnotationKind = "warning"
	KindInfo    AnnotationKind = "info"
)

// Annotation is one classified line of phase output. File, Line and
// Column are optional; Line and Column are only meaningful when File is
// set. Annotations are immutable once created.
type Annotation struct {
	Kind    AnnotationKind // error, warning or info
	File    string         // source file the line refers to, if any
	Line    int            // 1-based line number, 0 when unknown
	Column  int            // 1-based column number, 0 when unknown
	Message string         // the message text
	Phase   string         // display name of the phase that produced it
}

// HasLocation reports whether the annotation points at a source location.
func (a Annotation) HasLocation() bool {
	return a.File != "" && a.Line > 0
}

// String renders the annotation in the navigable output format:
// "[ERROR]: path/to/file.cs (12, 3): message".
func (a Annotation) String() string {
	prefix := ""
	switch a.Kind {
	case KindError:
		prefix = "[ERROR]: "
	case KindWarning:
		prefix = "[WARNING]: "
	case KindInfo:
		prefix = "[INFO]: "
	}

	if a.File == "" {
		return prefix + a.Message
	}
	if a.Line == 0 {
		return fmt.Sprintf("%s%s: %s", prefix, a.File, a.Message)
	}
	// Column defaults to 0 so jump-to-line still works without one.
	return fmt.Sprintf("%s%s (%d, %d): %s", prefix, a.File, a.Line, a.Column, a.Message)
}
