package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	lockSuffix = ".lock"

	// DefaultStaleTimeout applies to locks recorded by another host, whose
	// process cannot be checked.
	DefaultStaleTimeout = 6 * time.Hour
)

// Info is the lock file content.
type Info struct {
	Job       string    `json:"job"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	Token     string    `json:"token"`
}

// FileLock is an advisory lock for a named maintenance job, held as
// <dir>/<job>.lock. It guards against two dv processes running the same
// job; it is not meant for goroutines inside one process.
type FileLock struct {
	job          string
	path         string
	staleTimeout time.Duration
	held         *Info
}

// NewFileLock creates the lock for job inside dir, creating dir if needed.
func NewFileLock(dir, job string) (*FileLock, error) {
	if job == "" {
		return nil, fmt.Errorf("lock job name is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileLock{
		job:          job,
		path:         filepath.Join(dir, job+lockSuffix),
		staleTimeout: DefaultStaleTimeout,
	}, nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// Acquire takes the lock. A stale lock left by a dead process is removed
// first. A live holder yields a *HeldError.
func (l *FileLock) Acquire() error {
	if l.held != nil {
		return nil
	}

	existing, err := l.read()
	switch {
	case err == nil:
		if !l.isStale(existing) {
			return &HeldError{Holder: existing}
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return err
	}

	hostname, _ := os.Hostname()
	info := &Info{
		Job:       l.job,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartTime: time.Now(),
		Token:     uuid.NewString(),
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Lost the race to another process.
			if holder, readErr := l.read(); readErr == nil {
				return &HeldError{Holder: holder}
			}
			return fmt.Errorf("lock %s acquired concurrently: %w", l.job, err)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		file.Close()
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock info: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock info: %w", err)
	}

	l.held = info
	return nil
}

// Release removes the lock file if this instance still owns it.
func (l *FileLock) Release() error {
	if l.held == nil {
		return nil
	}
	defer func() { l.held = nil }()

	existing, err := l.read()
	if err != nil {
		return nil // already gone
	}
	if existing.Token != l.held.Token {
		return fmt.Errorf("lock %s was taken over by PID %d", l.job, existing.PID)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Holder returns the current live holder, or nil when the lock is free or
// stale.
func (l *FileLock) Holder() (*Info, error) {
	info, err := l.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if l.isStale(info) {
		return nil, nil
	}
	return info, nil
}

// ForceRelease removes the lock file regardless of its holder.
func (l *FileLock) ForceRelease() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to force remove lock: %w", err)
	}
	l.held = nil
	return nil
}

func (l *FileLock) read() (*Info, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file %s: %w", l.path, err)
	}
	return &info, nil
}

// isStale reports whether the holder is gone. On this host that means the
// process is dead; for other hosts only the timeout can tell.
func (l *FileLock) isStale(info *Info) bool {
	hostname, _ := os.Hostname()
	if info.Hostname == hostname {
		return !processExists(info.PID)
	}
	return time.Since(info.StartTime) > l.staleTimeout
}

// HeldError reports a lock held by another live process.
type HeldError struct {
	Holder *Info
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("job %s is already running (PID %d on %s since %s)",
		e.Holder.Job, e.Holder.PID, e.Holder.Hostname, e.Holder.StartTime.Format(time.RFC3339))
}

// IsHeld reports whether err is a *HeldError.
func IsHeld(err error) bool {
	var held *HeldError
	return errors.As(err, &held)
}
