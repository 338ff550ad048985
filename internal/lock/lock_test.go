package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newLock(t *testing.T, dir, job string) *FileLock {
	t.Helper()
	l, err := NewFileLock(dir, job)
	if err != nil {
		t.Fatalf("NewFileLock() error = %v", err)
	}
	return l
}

func writeInfo(t *testing.T, path string, info Info) {
	t.Helper()
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewFileLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	l := newLock(t, dir, "reindex")

	if want := filepath.Join(dir, "reindex.lock"); l.Path() != want {
		t.Errorf("Path() = %q, want %q", l.Path(), want)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("lock directory not created: %v", err)
	}
	if _, err := NewFileLock(dir, ""); err == nil {
		t.Error("NewFileLock() with empty job expected error")
	}
}

func TestAcquireRelease(t *testing.T) {
	l := newLock(t, t.TempDir(), "reindex")

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	holder, err := l.Holder()
	if err != nil || holder == nil {
		t.Fatalf("Holder() = %v, %v", holder, err)
	}
	if holder.PID != os.Getpid() || holder.Job != "reindex" || holder.Token == "" {
		t.Errorf("holder = %+v", holder)
	}

	// Acquire on the owning instance is a no-op.
	if err := l.Acquire(); err != nil {
		t.Errorf("second Acquire() error = %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Error("lock file still exists after Release")
	}
	if err := l.Release(); err != nil {
		t.Errorf("Release() when not held error = %v", err)
	}
}

func TestAcquire_HeldByOtherInstance(t *testing.T) {
	dir := t.TempDir()
	first := newLock(t, dir, "reindex")
	second := newLock(t, dir, "reindex")

	if err := first.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	err := second.Acquire()
	if !IsHeld(err) {
		t.Fatalf("Acquire() error = %v, want HeldError", err)
	}

	// Different jobs do not contend.
	other := newLock(t, dir, "snapshot")
	if err := other.Acquire(); err != nil {
		t.Errorf("Acquire() of another job error = %v", err)
	}
	other.Release()
}

func TestAcquire_Concurrent(t *testing.T) {
	dir := t.TempDir()
	const n = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := NewFileLock(dir, "reindex")
			if err != nil {
				t.Error(err)
				return
			}
			if l.Acquire() == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("%d instances acquired the lock, want 1", winners)
	}
}

func TestAcquire_StaleDeadProcess(t *testing.T) {
	l := newLock(t, t.TempDir(), "reindex")
	hostname, _ := os.Hostname()
	writeInfo(t, l.Path(), Info{Job: "reindex", PID: 0x7ffffff0, Hostname: hostname, StartTime: time.Now()})

	if holder, _ := l.Holder(); holder != nil {
		t.Errorf("Holder() = %+v, want nil for dead process", holder)
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire() over stale lock error = %v", err)
	}
	l.Release()
}

func TestAcquire_LiveProcessNeverStale(t *testing.T) {
	l := newLock(t, t.TempDir(), "reindex")
	l.SetStaleTimeout(time.Millisecond)
	hostname, _ := os.Hostname()
	writeInfo(t, l.Path(), Info{Job: "reindex", PID: os.Getpid(), Hostname: hostname, StartTime: time.Now().Add(-time.Hour)})

	if err := l.Acquire(); !IsHeld(err) {
		t.Errorf("Acquire() error = %v, want HeldError for live process", err)
	}
}

func TestAcquire_OtherHostUsesTimeout(t *testing.T) {
	l := newLock(t, t.TempDir(), "reindex")
	writeInfo(t, l.Path(), Info{Job: "reindex", PID: 1, Hostname: "elsewhere.invalid", StartTime: time.Now().Add(-time.Hour)})

	if err := l.Acquire(); !IsHeld(err) {
		t.Fatalf("Acquire() error = %v, want HeldError within timeout", err)
	}

	l.SetStaleTimeout(time.Minute)
	if err := l.Acquire(); err != nil {
		t.Errorf("Acquire() after timeout error = %v", err)
	}
	l.Release()
}

func TestRelease_TakenOver(t *testing.T) {
	l := newLock(t, t.TempDir(), "reindex")
	if err := l.Acquire(); err != nil {
		t.Fatal(err)
	}
	hostname, _ := os.Hostname()
	writeInfo(t, l.Path(), Info{Job: "reindex", PID: os.Getpid(), Hostname: hostname, StartTime: time.Now(), Token: "someone-else"})

	if err := l.Release(); err == nil {
		t.Error("Release() of a taken-over lock expected error")
	}
	if _, err := os.Stat(l.Path()); err != nil {
		t.Error("Release() removed a lock it did not own")
	}
}

func TestForceRelease(t *testing.T) {
	l := newLock(t, t.TempDir(), "reindex")
	if err := l.Acquire(); err != nil {
		t.Fatal(err)
	}
	if err := l.ForceRelease(); err != nil {
		t.Fatalf("ForceRelease() error = %v", err)
	}
	if holder, err := l.Holder(); err != nil || holder != nil {
		t.Errorf("Holder() after ForceRelease = %v, %v", holder, err)
	}
}

func TestHeldError(t *testing.T) {
	err := &HeldError{Holder: &Info{Job: "reindex", PID: 42, Hostname: "box", StartTime: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}}
	want := "job reindex is already running (PID 42 on box since 2024-01-15T10:30:00Z)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
