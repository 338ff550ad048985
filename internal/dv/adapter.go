package dv

import (
	"context"
	"io"
	"iter"
)

// Entry is one item of a physical directory listing. Path is the full
// logical path of the item.
type Entry struct {
	Path  string
	IsDir bool
	Size  int64
}

// Adapter talks to the physical byte store. Paths use '/' and the root is
// "/". Every failure is a *StorageAdapterError.
type Adapter interface {
	// CreateDirectory ensures every segment of path exists as a directory.
	// It is a no-op for existing directories.
	CreateDirectory(ctx context.Context, path string) error

	// CreateFile writes r to path, creating parent directories first. An
	// existing file is overwritten. It returns the number of bytes written.
	CreateFile(ctx context.Context, path string, r io.Reader) (int64, error)

	// IsFileExists reports whether a file or directory exists at path.
	IsFileExists(ctx context.Context, path string) (bool, error)

	// ListFiles lists the direct children of path. The sequence is lazy and
	// single-use: every call hits the store again.
	ListFiles(ctx context.Context, path string) iter.Seq2[Entry, error]

	// Move copies src to dest and then deletes src. Parents of dest are
	// created as needed. The two steps are not atomic.
	Move(ctx context.Context, src, dest string) error

	// Remove deletes the file or directory tree at path. Removing an absent
	// path succeeds.
	Remove(ctx context.Context, path string) error

	// Read opens the file at path. The caller closes the reader.
	Read(ctx context.Context, path string) (io.ReadCloser, error)
}
