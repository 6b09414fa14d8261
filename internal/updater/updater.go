// Package updater writes discovered assembly references back into the
// project file. Solution builds report the assemblies they produced and
// referenced; persisting them keeps completion tooling pointed at the
// current outputs. Updates are lock-coordinated and written atomically
// so concurrent builds cannot tear the project file.
package updater

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mkessler/anvil/internal/filelock"
)

const assembliesKey = "assemblies"

var (
	// ErrInvalidProject indicates the project file cannot be parsed or has
	// an unexpected structure.
	ErrInvalidProject = errors.New("updater: invalid project file")
)

// UpdateMonitor receives metrics describing each persistence attempt.
type UpdateMonitor func(UpdateMetrics)

// UpdateMetrics captures contextual data about one assembly update.
type UpdateMetrics struct {
	Path         string
	Assemblies   int
	Changed      bool
	Duration     time.Duration
	BytesRead    int
	BytesWritten int
	Err          error
}

type options struct {
	timeout time.Duration
	monitor UpdateMonitor
}

// Option configures behaviour of PersistAssemblies.
type Option func(*options)

// WithTimeout bounds how long to wait for the project file lock.
// A non-positive duration blocks until the lock is available.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMonitor registers a callback that receives metrics after each update.
func WithMonitor(m UpdateMonitor) Option {
	return func(o *options) {
		o.monitor = m
	}
}

// PersistAssemblies replaces the top-level assemblies list in the project
// file with the given paths. The rest of the document, including comments,
// is preserved. When the stored list already matches, the file is left
// untouched.
func PersistAssemblies(projectPath string, assemblies []string, opts ...Option) error {
	config := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&config)
		}
	}

	metrics := UpdateMetrics{
		Path:       projectPath,
		Assemblies: len(assemblies),
	}
	start := time.Now()
	defer func() {
		metrics.Duration = time.Since(start)
		if config.monitor != nil {
			config.monitor(metrics)
		}
	}()

	lockPath := projectPath + ".lock"
	lock := filelock.NewFileLock(lockPath)
	var lockErr error
	if config.timeout > 0 {
		lockErr = lock.LockWithTimeout(config.timeout)
	} else {
		lockErr = lock.Lock()
	}
	if lockErr != nil {
		metrics.Err = lockErr
		return lockErr
	}
	defer func() {
		lock.Unlock()
		os.Remove(lockPath)
	}()

	content, err := os.ReadFile(projectPath)
	if err != nil {
		metrics.Err = err
		return err
	}
	metrics.BytesRead = len(content)

	updated, changed, err := replaceAssemblies(content, assemblies)
	if err != nil {
		metrics.Err = err
		return err
	}
	metrics.Changed = changed
	if !changed {
		return nil
	}

	if err := filelock.AtomicWrite(projectPath, updated); err != nil {
		metrics.Err = err
		return err
	}
	metrics.BytesWritten = len(updated)
	return nil
}

// replaceAssemblies rewrites the assemblies sequence in the YAML document,
// reporting whether anything changed.
func replaceAssemblies(content []byte, assemblies []string) ([]byte, bool, error) {
	var doc yaml.Node

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	if err := decoder.Decode(&doc); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, false, fmt.Errorf("%w: missing document node", ErrInvalidProject)
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, false, fmt.Errorf("%w: top level must be a mapping", ErrInvalidProject)
	}

	current := findMapValue(root, assembliesKey)
	if current != nil && sequenceEquals(current, assemblies) {
		return nil, false, nil
	}

	listNode := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, path := range assemblies {
		listNode.Content = append(listNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: path})
	}

	if current != nil {
		*current = *listNode
	} else {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: assembliesKey},
			listNode)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return nil, false, fmt.Errorf("encode project file: %w", err)
	}
	encoder.Close()

	return buf.Bytes(), true, nil
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}

	return nil
}

// sequenceEquals reports whether the sequence node holds exactly the
// given scalar values, in order.
func sequenceEquals(node *yaml.Node, values []string) bool {
	if node.Kind != yaml.SequenceNode || len(node.Content) != len(values) {
		return false
	}
	for i, item := range node.Content {
		if item.Kind != yaml.ScalarNode || item.Value != values[i] {
			return false
		}
	}
	return true
}
