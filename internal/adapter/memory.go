package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"

	"docvault/internal/dv"
)

type memNode struct {
	isDir bool
	data  []byte
}

// MemoryAdapter is an in-memory implementation of dv.Adapter, useful for
// testing. It is safe for concurrent use.
type MemoryAdapter struct {
	nodes map[string]*memNode // index path -> node; the root is implicit
	mu    sync.RWMutex
}

// NewMemoryAdapter creates an empty in-memory store.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{nodes: make(map[string]*memNode)}
}

// mkdirLocked creates p and its ancestors. The caller holds the write lock.
func (m *MemoryAdapter) mkdirLocked(op, p string) error {
	segments := dv.SplitPath(p)
	for i := range segments {
		dir := dv.JoinPath(segments[:i+1]...)
		node, ok := m.nodes[dir]
		if !ok {
			m.nodes[dir] = &memNode{isDir: true}
			continue
		}
		if !node.isDir {
			return dv.NewStorageAdapterError(op, dir, errors.New("not a directory"))
		}
	}
	return nil
}

func (m *MemoryAdapter) CreateDirectory(ctx context.Context, p string) error {
	cleaned, err := cleanLogical("mkdir", p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mkdirLocked("mkdir", cleaned)
}

func (m *MemoryAdapter) CreateFile(ctx context.Context, p string, r io.Reader) (int64, error) {
	cleaned, err := cleanLogical("write", p)
	if err != nil {
		return 0, err
	}
	if cleaned == "" {
		return 0, dv.NewStorageAdapterError("write", "/", fmt.Errorf("%w: the root is a directory", dv.ErrInvalidPath))
	}
	data, err := io.ReadAll(&contextReader{ctx: ctx, r: r})
	if err != nil {
		return 0, dv.NewStorageAdapterError("write", cleaned, fmt.Errorf("failed to read content: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mkdirLocked("write", dv.ParentPath(cleaned)); err != nil {
		return 0, err
	}
	if node, ok := m.nodes[cleaned]; ok && node.isDir {
		return 0, dv.NewStorageAdapterError("write", cleaned, errors.New("is a directory"))
	}
	m.nodes[cleaned] = &memNode{data: data}
	return int64(len(data)), nil
}

func (m *MemoryAdapter) IsFileExists(ctx context.Context, p string) (bool, error) {
	cleaned, err := cleanLogical("stat", p)
	if err != nil {
		return false, err
	}
	if cleaned == "" {
		return true, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[cleaned]
	return ok, nil
}

// ListFiles snapshots the children of p in name order and yields them.
func (m *MemoryAdapter) ListFiles(ctx context.Context, p string) iter.Seq2[dv.Entry, error] {
	return func(yield func(dv.Entry, error) bool) {
		cleaned, err := cleanLogical("list", p)
		if err != nil {
			yield(dv.Entry{}, err)
			return
		}

		m.mu.RLock()
		if cleaned != "" {
			node, ok := m.nodes[cleaned]
			if !ok || !node.isDir {
				m.mu.RUnlock()
				yield(dv.Entry{}, notFoundError("list", cleaned))
				return
			}
		}
		var entries []dv.Entry
		for key, node := range m.nodes {
			if dv.ParentPath(key) != cleaned {
				continue
			}
			entries = append(entries, dv.Entry{Path: key, IsDir: node.isDir, Size: int64(len(node.data))})
		}
		m.mu.RUnlock()

		sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(dv.Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// subtreeLocked returns p and every key below it.
func (m *MemoryAdapter) subtreeLocked(p string) []string {
	var keys []string
	for key := range m.nodes {
		if key == p || strings.HasPrefix(key, p+"/") {
			keys = append(keys, key)
		}
	}
	return keys
}

func (m *MemoryAdapter) Move(ctx context.Context, src, dest string) error {
	from, err := cleanLogical("move", src)
	if err != nil {
		return err
	}
	to, err := cleanLogical("move", dest)
	if err != nil {
		return err
	}
	if from == "" || to == "" {
		return dv.NewStorageAdapterError("move", dv.AdapterPath(from), fmt.Errorf("%w: cannot move the root", dv.ErrInvalidPath))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[from]; !ok {
		return notFoundError("move", from)
	}
	if err := m.mkdirLocked("move", dv.ParentPath(to)); err != nil {
		return err
	}
	moved := make(map[string]*memNode)
	for _, key := range m.subtreeLocked(from) {
		moved[to+key[len(from):]] = m.nodes[key]
		delete(m.nodes, key)
	}
	for key, node := range moved {
		m.nodes[key] = node
	}
	return nil
}

func (m *MemoryAdapter) Remove(ctx context.Context, p string) error {
	cleaned, err := cleanLogical("remove", p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return dv.NewStorageAdapterError("remove", "/", fmt.Errorf("%w: refusing to remove the storage root", dv.ErrInvalidPath))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.subtreeLocked(cleaned) {
		delete(m.nodes, key)
	}
	return nil
}

func (m *MemoryAdapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	cleaned, err := cleanLogical("read", p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[cleaned]
	if !ok {
		return nil, notFoundError("read", cleaned)
	}
	if node.isDir {
		return nil, dv.NewStorageAdapterError("read", cleaned, errors.New("is a directory"))
	}
	return io.NopCloser(bytes.NewReader(node.data)), nil
}

// Len returns the number of stored files and directories.
func (m *MemoryAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// Compile-time check that MemoryAdapter implements dv.Adapter
var _ dv.Adapter = (*MemoryAdapter)(nil)
