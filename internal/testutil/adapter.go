package testutil

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"

	"docvault/internal/adapter"
	"docvault/internal/dv"
)

// NewSeededAdapter creates a memory adapter holding files. Keys ending in
// "/" create empty directories; other keys are files with the value as
// content.
func NewSeededAdapter(t *testing.T, files map[string]string) *adapter.MemoryAdapter {
	t.Helper()
	a := adapter.NewMemoryAdapter()
	Seed(t, a, files)
	return a
}

// Seed writes files into a, with NewSeededAdapter's conventions.
func Seed(t *testing.T, a dv.Adapter, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	for p, content := range files {
		if strings.HasSuffix(p, "/") {
			if err := a.CreateDirectory(ctx, strings.TrimSuffix(p, "/")); err != nil {
				t.Fatalf("seeding directory %s: %v", p, err)
			}
			continue
		}
		if _, err := a.CreateFile(ctx, p, strings.NewReader(content)); err != nil {
			t.Fatalf("seeding file %s: %v", p, err)
		}
	}
}

// ErrInjected is the error returned by FaultyAdapter for failing paths.
var ErrInjected = errors.New("injected failure")

// FaultyAdapter wraps an adapter and fails selected calls. Listing a path
// in FailList yields ErrInjected; writing a path in FailWrite does too.
// OnList, when set, runs before every listing.
type FaultyAdapter struct {
	dv.Adapter

	mu        sync.Mutex
	FailList  map[string]bool
	FailWrite map[string]bool
	OnList    func(path string)
	Listed    []string
}

func NewFaultyAdapter(inner dv.Adapter) *FaultyAdapter {
	return &FaultyAdapter{
		Adapter:   inner,
		FailList:  make(map[string]bool),
		FailWrite: make(map[string]bool),
	}
}

func (a *FaultyAdapter) ListFiles(ctx context.Context, path string) iter.Seq2[dv.Entry, error] {
	a.mu.Lock()
	a.Listed = append(a.Listed, path)
	fail := a.FailList[path]
	hook := a.OnList
	a.mu.Unlock()

	if hook != nil {
		hook(path)
	}

	if fail {
		return func(yield func(dv.Entry, error) bool) {
			yield(dv.Entry{}, dv.NewStorageAdapterError("list", path, ErrInjected))
		}
	}
	return a.Adapter.ListFiles(ctx, path)
}

func (a *FaultyAdapter) CreateFile(ctx context.Context, path string, r io.Reader) (int64, error) {
	if a.failWrite(path) {
		return 0, dv.NewStorageAdapterError("create", path, ErrInjected)
	}
	return a.Adapter.CreateFile(ctx, path, r)
}

func (a *FaultyAdapter) Move(ctx context.Context, src, dest string) error {
	if a.failWrite(src) {
		return dv.NewStorageAdapterError("move", src, ErrInjected)
	}
	return a.Adapter.Move(ctx, src, dest)
}

func (a *FaultyAdapter) failWrite(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.FailWrite[path]
}

var _ dv.Adapter = (*FaultyAdapter)(nil)
