package classify

import (
	"bufio"
	"io"
	"sync"

	"github.com/mkessler/anvil/internal/models"
)

// Sink receives the classified output stream of a running phase as it
// arrives. Implementations must be safe for concurrent use: a phase's
// stdout and stderr readers emit from separate goroutines. The host UI
// registers one implementation; tests use MemorySink.
type Sink interface {
	// Emit delivers one classified annotation.
	Emit(annotation models.Annotation)

	// Raw delivers one unclassified output line. The line stays part of
	// the visible log even though no pattern matched it.
	Raw(line string)
}

// MemorySink captures emitted annotations and raw lines in memory.
type MemorySink struct {
	mu          sync.Mutex
	annotations []models.Annotation
	raw         []string
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit records an annotation.
func (s *MemorySink) Emit(annotation models.Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations = append(s.annotations, annotation)
}

// Raw records an unclassified line.
func (s *MemorySink) Raw(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, line)
}

// Annotations returns a snapshot of the captured annotations.
func (s *MemorySink) Annotations() []models.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Annotation, len(s.annotations))
	copy(out, s.annotations)
	return out
}

// RawLines returns a snapshot of the captured unclassified lines.
func (s *MemorySink) RawLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.raw))
	copy(out, s.raw)
	return out
}

// LineCount returns the total number of lines the sink has seen.
func (s *MemorySink) LineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.annotations) + len(s.raw)
}

// Stream reads r line by line, classifies each line and forwards it to
// the sink. Classification is incremental so UI-facing sinks can render
// progress while the phase is still running. collect, when non-nil,
// additionally receives every produced annotation (the per-phase result
// log). Returns the number of lines read.
func Stream(r io.Reader, c *Classifier, sink Sink, collect func(models.Annotation)) (int, error) {
	scanner := bufio.NewScanner(r)
	// Tool output lines can be long; grow the buffer well beyond the
	// bufio default.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines := 0
	for scanner.Scan() {
		line := scanner.Text()
		lines++

		if ann, ok := c.Classify(line); ok {
			if collect != nil {
				collect(ann)
			}
			if sink != nil {
				sink.Emit(ann)
			}
			continue
		}
		if sink != nil {
			sink.Raw(line)
		}
	}

	return lines, scanner.Err()
}
