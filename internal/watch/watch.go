// Package watch monitors project source folders and triggers rebuilds
// when files change. Rapid bursts of events (editor saves, checkouts)
// are coalesced into a single trigger.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceDelay is the default quiet period before a change
// burst is reported.
const DefaultDebounceDelay = 500 * time.Millisecond

// DefaultExtensions are the file extensions watched when none are
// configured.
var DefaultExtensions = []string{".cs", ".sln", ".csproj", ".yaml", ".yml"}

// ignoredDirs are directory basenames that never trigger rebuilds.
// They hold build output or tool state, which the build itself writes.
var ignoredDirs = map[string]bool{
	".anvil": true,
	".git":   true,
	".svn":   true,
	"bin":    true,
	"obj":    true,
}

// Trigger is one coalesced batch of file changes.
type Trigger struct {
	Paths     []string  // Files that changed, in first-seen order
	Timestamp time.Time // When the quiet period ended
}

// Watcher watches a set of root directories for source changes.
type Watcher struct {
	watcher    *fsnotify.Watcher
	triggers   chan Trigger
	errors     chan error
	done       chan struct{}
	roots      []string
	extensions map[string]bool

	mu            sync.Mutex
	debounceDelay time.Duration
	pending       []string
	pendingSet    map[string]bool
	timer         *time.Timer
	closed        bool
}

// New creates a Watcher over the given root directories. Only files
// with one of the given extensions trigger; an empty list means
// DefaultExtensions.
func New(roots []string, extensions []string) (*Watcher, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:       watcher,
		triggers:      make(chan Trigger, 10),
		errors:        make(chan error, 10),
		done:          make(chan struct{}),
		roots:         roots,
		extensions:    extSet,
		debounceDelay: DefaultDebounceDelay,
		pendingSet:    make(map[string]bool),
	}

	for _, root := range roots {
		if err := w.addRecursive(filepath.Clean(root)); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	go w.processEvents()

	return w, nil
}

// addRecursive adds the directory and all its subdirectories to the
// watcher, skipping ignored directories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Missing roots are allowed; they may appear later.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if !info.IsDir() {
			return nil
		}
		if ignoredDirs[info.Name()] {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			if os.IsPermission(err) {
				return nil
			}
			return err
		}
		return nil
	})
}

// processEvents converts fsnotify events into debounced triggers.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				// Error channel full, drop the error
			}
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	// New directories need to be watched too.
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if ignoredDirs[info.Name()] {
				return
			}
			if err := w.addRecursive(path); err != nil {
				select {
				case w.errors <- err:
				default:
				}
			}
			return
		}
	}

	// Chmod-only events are noise.
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if !w.matches(path) {
		return
	}

	w.record(path)
}

// matches reports whether the file is interesting: right extension and
// not inside an ignored directory.
func (w *Watcher) matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if !w.extensions[ext] {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if ignoredDirs[part] {
			return false
		}
	}
	return true
}

// record adds a change to the pending batch and (re)starts the quiet
// period timer.
func (w *Watcher) record(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if !w.pendingSet[path] {
		w.pendingSet[path] = true
		w.pending = append(w.pending, path)
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDelay, w.flush)
}

// flush emits the pending batch as one trigger.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := w.pending
	w.pending = nil
	w.pendingSet = make(map[string]bool)
	w.mu.Unlock()

	trigger := Trigger{Paths: paths, Timestamp: time.Now()}
	select {
	case w.triggers <- trigger:
	case <-w.done:
	default:
		// Trigger channel full, drop the batch
	}
}

// Triggers returns the channel for receiving coalesced change batches.
func (w *Watcher) Triggers() <-chan Trigger {
	return w.triggers
}

// Errors returns the channel for receiving watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Roots returns the directories being watched.
func (w *Watcher) Roots() []string {
	return w.roots
}

// SetDebounceDelay sets the quiet period for coalescing change bursts.
// This should only be called before events start arriving.
func (w *Watcher) SetDebounceDelay(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDelay = delay
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = nil
	w.pendingSet = nil
	w.mu.Unlock()

	close(w.done)

	return w.watcher.Close()
}
