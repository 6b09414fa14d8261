package models

import (
	"sync"

	"github.com/google/uuid"
)

// BuildContext carries the per-invocation state of one build. It is
// constructed once by the orchestrator and passed by reference to the
// phase runners. Phases execute sequentially, but within one phase the
// stdout and stderr readers append annotations concurrently, so the
// annotation log is guarded by a mutex.
type BuildContext struct {
	// BuildID uniquely identifies this invocation.
	BuildID string

	// Task is the selected build task (e.g. Build, Run, Clean).
	Task string

	// Configuration is the selected build variant (e.g. Debug, Release).
	Configuration string

	// Folders are the configured project folder roots, in declaration
	// order. Declaration order breaks ties during project-root search.
	Folders []string

	// TargetFile is the file the build was started for, if any. Used by
	// path_selector applicability checks.
	TargetFile string

	// BuildAll disables applicability filtering, forcing every phase.
	BuildAll bool

	// Quiet suppresses unclassified passthrough output.
	Quiet bool

	mu          sync.Mutex
	annotations []Annotation

	// rootCache memoizes project-root resolution per folder for the
	// duration of the build. Reads and writes happen only during
	// sequential phase setup, but the mutex keeps the contract simple.
	cacheMu   sync.Mutex
	rootCache map[string]string
}

// NewBuildContext creates a BuildContext for one invocation with a
// fresh build ID.
func NewBuildContext(task, configuration string, folders []string) *BuildContext {
	if task == "" {
		task = DefaultTask
	}
	return &BuildContext{
		BuildID:       uuid.New().String(),
		Task:          task,
		Configuration: configuration,
		Folders:       folders,
		rootCache:     make(map[string]string),
	}
}

// Append adds annotations to the build log. Safe for concurrent use by
// the per-stream readers of a running phase.
func (c *BuildContext) Append(annotations ...Annotation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.annotations = append(c.annotations, annotations...)
}

// Annotations returns a snapshot of the accumulated annotation log.
func (c *BuildContext) Annotations() []Annotation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Annotation, len(c.annotations))
	copy(out, c.annotations)
	return out
}

// CachedRoot returns the memoized project root for a folder.
func (c *BuildContext) CachedRoot(folder string) (string, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	root, ok := c.rootCache[folder]
	return root, ok
}

// CacheRoot memoizes the resolved project root for a folder.
func (c *BuildContext) CacheRoot(folder, root string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.rootCache[folder] = root
}
