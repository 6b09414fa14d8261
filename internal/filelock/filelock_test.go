package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLockUnlock(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "build.lock"))

	if err := lock.Lock(); err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}

	metrics := lock.LastMetrics()
	if metrics.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", metrics.Attempts)
	}
	if metrics.TimedOut {
		t.Error("uncontended lock should not report timeout")
	}
}

func TestTryLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "build.lock")

	first := NewFileLock(lockPath)
	second := NewFileLock(lockPath)

	acquired, err := first.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error: %v", err)
	}
	if !acquired {
		t.Fatal("first TryLock() should succeed")
	}

	acquired, err = second.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error: %v", err)
	}
	if acquired {
		t.Error("second TryLock() should fail while the lock is held")
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}

	acquired, err = second.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error: %v", err)
	}
	if !acquired {
		t.Error("TryLock() should succeed after unlock")
	}
	second.Unlock()
}

func TestLockWithTimeoutSuccess(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "build.lock")

	holder := NewFileLock(lockPath)
	if err := holder.Lock(); err != nil {
		t.Fatalf("holder Lock() error: %v", err)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		if err := holder.Unlock(); err != nil {
			t.Errorf("holder Unlock() error: %v", err)
		}
		close(released)
	}()

	contender := NewFileLock(lockPath)
	start := time.Now()
	if err := contender.LockWithTimeout(500 * time.Millisecond); err != nil {
		t.Fatalf("LockWithTimeout() should succeed: %v", err)
	}

	if wait := time.Since(start); wait < 90*time.Millisecond {
		t.Fatalf("expected to wait for the holder, waited only %v", wait)
	}

	metrics := contender.LastMetrics()
	if metrics.Attempts < 2 {
		t.Errorf("Attempts = %d, want multiple polls", metrics.Attempts)
	}
	if metrics.TimedOut {
		t.Error("metrics should not report timeout")
	}

	contender.Unlock()
	<-released
}

func TestLockWithTimeoutExpires(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "build.lock")

	holder := NewFileLock(lockPath)
	if err := holder.Lock(); err != nil {
		t.Fatalf("holder Lock() error: %v", err)
	}
	defer holder.Unlock()

	contender := NewFileLock(lockPath)
	err := contender.LockWithTimeout(100 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("error = %v, want ErrLockTimeout", err)
	}

	metrics := contender.LastMetrics()
	if !metrics.TimedOut {
		t.Error("metrics should report timeout")
	}
	if metrics.Attempts == 0 {
		t.Error("expected at least one attempt")
	}
}

func TestMonitorReceivesMetrics(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "build.lock")
	lock := NewFileLock(lockPath)

	metricsCh := make(chan LockMetrics, 1)
	lock.SetMonitor(func(path string, metrics LockMetrics) {
		if path != lockPath {
			t.Errorf("monitor path = %s, want %s", path, lockPath)
		}
		metricsCh <- metrics
	})

	if err := lock.Lock(); err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	defer lock.Unlock()

	select {
	case metrics := <-metricsCh:
		if metrics.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", metrics.Attempts)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor did not receive metrics")
	}
}

func TestConcurrentLocking(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "build.lock")
	counterPath := filepath.Join(tmpDir, "counter.txt")
	os.WriteFile(counterPath, []byte("0"), 0644)

	const goroutines = 5
	const iterations = 10

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()

			for j := 0; j < iterations; j++ {
				lock := NewFileLock(lockPath)
				if err := lock.Lock(); err != nil {
					t.Errorf("Lock() error: %v", err)
					return
				}

				data, err := os.ReadFile(counterPath)
				if err != nil {
					t.Errorf("read counter: %v", err)
					lock.Unlock()
					return
				}

				var counter int
				fmt.Sscanf(string(data), "%d", &counter)
				time.Sleep(time.Millisecond)
				counter++

				if err := os.WriteFile(counterPath, []byte(fmt.Sprintf("%d", counter)), 0644); err != nil {
					t.Errorf("write counter: %v", err)
					lock.Unlock()
					return
				}

				if err := lock.Unlock(); err != nil {
					t.Errorf("Unlock() error: %v", err)
					return
				}
			}
		}()
	}

	wg.Wait()

	data, err := os.ReadFile(counterPath)
	if err != nil {
		t.Fatalf("read final counter: %v", err)
	}
	var finalCounter int
	fmt.Sscanf(string(data), "%d", &finalCounter)
	if want := goroutines * iterations; finalCounter != want {
		t.Errorf("counter = %d, want %d (lost update)", finalCounter, want)
	}
}

func TestAtomicWrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "anvil.yaml")
	content := []byte("folders:\n  - src\n")

	if err := AtomicWrite(target, content); err != nil {
		t.Fatalf("AtomicWrite() error: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content = %q, want %q", got, content)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("permissions = %v, want 0644", info.Mode().Perm())
	}
}

func TestAtomicWriteOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "anvil.yaml")
	if err := os.WriteFile(target, []byte("old"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if err := AtomicWrite(target, []byte("new")); err != nil {
		t.Fatalf("AtomicWrite() error: %v", err)
	}

	got, _ := os.ReadFile(target)
	if string(got) != "new" {
		t.Errorf("content = %q, want %q", got, "new")
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "anvil.yaml")

	if err := AtomicWrite(target, []byte("x")); err != nil {
		t.Fatalf("AtomicWrite() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "anvil.yaml" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory = %v, want only anvil.yaml", names)
	}
}

func TestAtomicWriteCreatesDirectories(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "dir", "anvil.yaml")

	if err := AtomicWrite(target, []byte("x")); err != nil {
		t.Fatalf("AtomicWrite() error: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("target missing: %v", err)
	}
}

func TestLockAndWriteRemovesLockFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "anvil.yaml")
	lockPath := target + ".lock"

	if err := LockAndWrite(target, []byte("content")); err != nil {
		t.Fatalf("LockAndWrite() error: %v", err)
	}

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("target missing: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("lock file %s was not removed", lockPath)
	}
}

func TestConcurrentLockAndWrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "anvil.yaml")

	const goroutines = 10
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			if err := LockAndWrite(target, []byte{byte('A' + id)}); err != nil {
				t.Errorf("LockAndWrite() error for writer %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	// Exactly one write wins; partial content would show torn writes.
	if len(content) != 1 {
		t.Errorf("content = %q, want a single byte", content)
	}
}
