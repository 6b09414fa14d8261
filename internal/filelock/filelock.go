// Package filelock coordinates access to shared files across processes.
// The build runner uses it to guard against two concurrent builds of the
// same project, and the config updater uses it for safe read-modify-write
// cycles on project files.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout indicates a lock could not be acquired within the deadline.
var ErrLockTimeout = errors.New("filelock: timed out waiting for lock")

// retryDelay is the polling interval for timed lock acquisition.
const retryDelay = 25 * time.Millisecond

// LockMetrics describes one lock acquisition.
type LockMetrics struct {
	Attempts int
	Wait     time.Duration
	TimedOut bool
}

// Monitor receives metrics after each lock acquisition attempt completes.
type Monitor func(path string, metrics LockMetrics)

// FileLock wraps a flock file lock.
type FileLock struct {
	flock *flock.Flock
	path  string

	mu      sync.Mutex
	monitor Monitor
	last    LockMetrics
}

// NewFileLock creates a file lock backed by the given lock file path.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Lock acquires an exclusive lock, blocking until it is available.
func (fl *FileLock) Lock() error {
	start := time.Now()
	if err := fl.flock.Lock(); err != nil {
		return fmt.Errorf("acquire lock on %s: %w", fl.path, err)
	}
	fl.report(LockMetrics{Attempts: 1, Wait: time.Since(start)})
	return nil
}

// LockWithTimeout acquires an exclusive lock, polling until it is
// available or the timeout elapses. Returns ErrLockTimeout when another
// holder keeps the lock past the deadline.
func (fl *FileLock) LockWithTimeout(timeout time.Duration) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	attempts := 0
	for {
		attempts++
		acquired, err := fl.flock.TryLock()
		if err != nil {
			return fmt.Errorf("try lock on %s: %w", fl.path, err)
		}
		if acquired {
			fl.report(LockMetrics{Attempts: attempts, Wait: time.Since(start)})
			return nil
		}

		select {
		case <-ctx.Done():
			fl.report(LockMetrics{Attempts: attempts, Wait: time.Since(start), TimedOut: true})
			return fmt.Errorf("%w: %s after %v", ErrLockTimeout, fl.path, timeout)
		case <-time.After(retryDelay):
		}
	}
}

// TryLock attempts to acquire an exclusive lock without blocking.
// Returns true when the lock was acquired.
func (fl *FileLock) TryLock() (bool, error) {
	acquired, err := fl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock on %s: %w", fl.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock on %s: %w", fl.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// SetMonitor registers a callback that receives metrics after each
// acquisition. Pass nil to remove the monitor.
func (fl *FileLock) SetMonitor(m Monitor) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.monitor = m
}

// LastMetrics returns the metrics of the most recent acquisition attempt.
func (fl *FileLock) LastMetrics() LockMetrics {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.last
}

func (fl *FileLock) report(metrics LockMetrics) {
	fl.mu.Lock()
	fl.last = metrics
	monitor := fl.monitor
	fl.mu.Unlock()

	if monitor != nil {
		monitor(fl.path, metrics)
	}
}

// AtomicWrite writes data to a file through a temp-file-and-rename cycle
// so readers never observe a partial write. The temp file is created in
// the target's directory, which keeps the rename on one filesystem.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}

	// Rename succeeded, nothing left to clean up.
	tempFile = nil

	return nil
}

// LockAndWrite acquires a lock, performs an atomic write, then releases
// and removes the lock file. The lock path is the target path with a
// ".lock" suffix.
func LockAndWrite(path string, data []byte) error {
	lockPath := path + ".lock"
	lock := NewFileLock(lockPath)

	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() {
		lock.Unlock()
		os.Remove(lockPath)
	}()

	return AtomicWrite(path, data)
}
