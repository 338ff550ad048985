package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"docvault/internal/dv"
)

const (
	tempPrefix   = ".dv-tmp-"
	readDirChunk = 64
)

// FileSystemAdapter stores the tree as plain directories and files below
// a root directory. Logical paths map one-to-one onto the directory layout:
//
//	<root>/
//	  TypeA/
//	    CA/
//	      report.pdf
type FileSystemAdapter struct {
	root string
}

// NewFileSystemAdapter creates an adapter rooted at the given directory,
// creating it if needed.
func NewFileSystemAdapter(root string) (*FileSystemAdapter, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	return &FileSystemAdapter{root: abs}, nil
}

// resolve maps a logical path below the root. CleanPath anchors the path
// at "/" so ".." segments cannot climb out of the root.
func (a *FileSystemAdapter) resolve(op, p string) (string, string, error) {
	cleaned, err := dv.CleanPath(p)
	if err != nil {
		return "", "", dv.NewStorageAdapterError(op, p, err)
	}
	return cleaned, filepath.Join(a.root, filepath.FromSlash(cleaned)), nil
}

func fsError(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%w: %w", dv.ErrNotFound, err)
	}
	return dv.NewStorageAdapterError(op, dv.AdapterPath(p), err)
}

func (a *FileSystemAdapter) CreateDirectory(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned, full, err := a.resolve("mkdir", p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return fsError("mkdir", cleaned, err)
	}
	return nil
}

// CreateFile writes r to a temp file next to the destination and renames it
// into place, so readers never see a partial file.
func (a *FileSystemAdapter) CreateFile(ctx context.Context, p string, r io.Reader) (int64, error) {
	cleaned, full, err := a.resolve("write", p)
	if err != nil {
		return 0, err
	}
	if cleaned == "" {
		return 0, dv.NewStorageAdapterError("write", "/", fmt.Errorf("%w: the root is a directory", dv.ErrInvalidPath))
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fsError("write", cleaned, err)
	}

	tmpFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return 0, fsError("write", cleaned, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, &contextReader{ctx: ctx, r: r})
	if err != nil {
		tmpFile.Close()
		return 0, fsError("write", cleaned, fmt.Errorf("failed to write data: %w", err))
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fsError("write", cleaned, fmt.Errorf("failed to close temp file: %w", err))
	}
	if err := os.Rename(tmpPath, full); err != nil {
		return 0, fsError("write", cleaned, fmt.Errorf("failed to rename temp file: %w", err))
	}

	success = true
	return written, nil
}

func (a *FileSystemAdapter) IsFileExists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	cleaned, full, err := a.resolve("stat", p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fsError("stat", cleaned, err)
	}
	return true, nil
}

// ListFiles reads the directory in chunks and yields entries as they are
// read. Temp files from in-flight writes and anything that is neither a
// regular file nor a directory are skipped.
func (a *FileSystemAdapter) ListFiles(ctx context.Context, p string) iter.Seq2[dv.Entry, error] {
	return func(yield func(dv.Entry, error) bool) {
		cleaned, full, err := a.resolve("list", p)
		if err != nil {
			yield(dv.Entry{}, err)
			return
		}

		dir, err := os.Open(full)
		if err != nil {
			yield(dv.Entry{}, fsError("list", cleaned, err))
			return
		}
		defer dir.Close()

		for {
			if err := ctx.Err(); err != nil {
				yield(dv.Entry{}, err)
				return
			}
			entries, err := dir.ReadDir(readDirChunk)
			for _, e := range entries {
				name := e.Name()
				if strings.HasPrefix(name, tempPrefix) {
					continue
				}
				if !e.IsDir() && !e.Type().IsRegular() {
					continue
				}
				entry := dv.Entry{Path: cleaned + "/" + name, IsDir: e.IsDir()}
				if !e.IsDir() {
					info, err := e.Info()
					if err != nil {
						if errors.Is(err, fs.ErrNotExist) {
							continue // removed since ReadDir
						}
						if !yield(dv.Entry{}, fsError("list", entry.Path, err)) {
							return
						}
						continue
					}
					entry.Size = info.Size()
				}
				if !yield(entry, nil) {
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield(dv.Entry{}, fsError("list", cleaned, err))
				return
			}
		}
	}
}

// Move renames src to dest. Across devices it falls back to copying the
// tree and deleting the source.
func (a *FileSystemAdapter) Move(ctx context.Context, src, dest string) error {
	from, fullFrom, err := a.resolve("move", src)
	if err != nil {
		return err
	}
	to, fullTo, err := a.resolve("move", dest)
	if err != nil {
		return err
	}
	if from == "" || to == "" {
		return dv.NewStorageAdapterError("move", dv.AdapterPath(from), fmt.Errorf("%w: cannot move the root", dv.ErrInvalidPath))
	}
	if _, err := os.Stat(fullFrom); err != nil {
		return fsError("move", from, err)
	}
	if err := os.MkdirAll(filepath.Dir(fullTo), 0755); err != nil {
		return fsError("move", to, err)
	}

	err = os.Rename(fullFrom, fullTo)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fsError("move", from, err)
	}

	if err := copyTree(ctx, fullFrom, fullTo); err != nil {
		os.RemoveAll(fullTo)
		return fsError("move", from, fmt.Errorf("copying across devices: %w", err))
	}
	if err := os.RemoveAll(fullFrom); err != nil {
		return fsError("move", from, fmt.Errorf("removing source after copy: %w", err))
	}
	return nil
}

func (a *FileSystemAdapter) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned, full, err := a.resolve("remove", p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return dv.NewStorageAdapterError("remove", "/", fmt.Errorf("%w: refusing to remove the storage root", dv.ErrInvalidPath))
	}
	if err := os.RemoveAll(full); err != nil {
		return fsError("remove", cleaned, err)
	}
	return nil
}

func (a *FileSystemAdapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, full, err := a.resolve("read", p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fsError("read", cleaned, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fsError("read", cleaned, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, dv.NewStorageAdapterError("read", dv.AdapterPath(cleaned), errors.New("is a directory"))
	}
	return f, nil
}

func copyTree(ctx context.Context, src, dest string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Compile-time check that FileSystemAdapter implements dv.Adapter
var _ dv.Adapter = (*FileSystemAdapter)(nil)
