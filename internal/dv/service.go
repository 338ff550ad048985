package dv

import (
	"context"
	"fmt"
	"io"
)

// StorageService pairs every physical mutation with the matching index
// mutation. The physical step always runs first so the index never points
// at bytes that were not stored. Index failures after a successful
// physical step are returned as *IndexConsistencyError and are not rolled
// back.
type StorageService struct {
	adapter Adapter
	index   Index
	logger  Logger
}

// NewStorageService creates a StorageService over the given adapter and index.
func NewStorageService(adapter Adapter, index Index, logger Logger) *StorageService {
	return &StorageService{adapter: adapter, index: index, logger: logger}
}

// CreateDirectory creates the directory at path and indexes it.
func (s *StorageService) CreateDirectory(ctx context.Context, path string) (*File, error) {
	p, err := cleanNonRoot(path)
	if err != nil {
		return nil, err
	}
	if err := s.adapter.CreateDirectory(ctx, p); err != nil {
		return nil, err
	}
	f, err := s.index.Index(ctx, p, true, 0)
	if err != nil {
		return nil, &IndexConsistencyError{Op: "create directory", Path: p, Err: err}
	}
	s.logger.Info("directory created", "path", p)
	return f, nil
}

// CreateFile stores the content of r at path and indexes the document with
// the number of bytes written.
func (s *StorageService) CreateFile(ctx context.Context, path string, r io.Reader) (*File, error) {
	p, err := cleanNonRoot(path)
	if err != nil {
		return nil, err
	}
	n, err := s.adapter.CreateFile(ctx, p, r)
	if err != nil {
		return nil, err
	}
	f, err := s.index.Index(ctx, p, false, n)
	if err != nil {
		return nil, &IndexConsistencyError{Op: "create file", Path: p, Err: err}
	}
	s.logger.Info("file stored", "path", p, "size", n)
	return f, nil
}

// GetFile looks an entry up by slug.
func (s *StorageService) GetFile(ctx context.Context, slug string) (*File, error) {
	f, err := s.index.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", slug, err)
	}
	if f == nil {
		return nil, fmt.Errorf("slug %s: %w", slug, ErrNotFound)
	}
	return f, nil
}

// GetFileByPath looks an entry up by public path.
func (s *StorageService) GetFileByPath(ctx context.Context, path string) (*File, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	f, err := s.index.FindByPath(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", p, err)
	}
	if f == nil {
		return nil, fmt.Errorf("path %s: %w", AdapterPath(p), ErrNotFound)
	}
	return f, nil
}

// Open returns the content of a document.
func (s *StorageService) Open(ctx context.Context, f *File) (io.ReadCloser, error) {
	if f.IsDir() {
		return nil, newDomainError(CodeNotADirectory, "%s is a directory", f.PublicPath)
	}
	return s.adapter.Read(ctx, f.PublicPath)
}

// Move relocates the entry at src to dest, physically and in the index.
func (s *StorageService) Move(ctx context.Context, src, dest string) error {
	from, err := cleanNonRoot(src)
	if err != nil {
		return err
	}
	to, err := cleanNonRoot(dest)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}

	entry, err := s.index.FindByPath(ctx, from)
	if err != nil {
		return fmt.Errorf("finding %s: %w", from, err)
	}
	if entry == nil {
		return newDomainError(CodeSourceMissing, "cannot move %s: source does not exist", from)
	}
	if entry.IsDir() && IsDescendant(to, from) {
		return newDomainError(CodeMoveIntoSelf, "cannot move %s into its own subtree", from)
	}

	taken, err := s.index.FindByPath(ctx, to)
	if err != nil {
		return fmt.Errorf("finding %s: %w", to, err)
	}
	if taken == nil {
		exists, err := s.adapter.IsFileExists(ctx, to)
		if err != nil {
			return err
		}
		if exists {
			taken = &File{}
		}
	}
	if taken != nil {
		return &DomainError{
			Code:    CodeDestinationExists,
			Message: fmt.Sprintf("cannot move %s: destination already exists", from),
			Err:     fmt.Errorf("%s: %w", to, ErrAlreadyExists),
		}
	}

	if err := s.adapter.Move(ctx, from, to); err != nil {
		return err
	}
	if err := s.index.Move(ctx, from, to); err != nil {
		return &IndexConsistencyError{Op: "move", Path: from, Err: err}
	}
	s.logger.Info("entry moved", "from", from, "to", to)
	return nil
}

// Remove deletes the entry at path, and its subtree, physically and in
// the index.
func (s *StorageService) Remove(ctx context.Context, path string) error {
	p, err := cleanNonRoot(path)
	if err != nil {
		return err
	}
	if err := s.adapter.Remove(ctx, p); err != nil {
		return err
	}
	if err := s.index.Remove(ctx, p); err != nil {
		return &IndexConsistencyError{Op: "remove", Path: p, Err: err}
	}
	s.logger.Info("entry removed", "path", p)
	return nil
}

// SetHidden toggles the hidden flag of an entry. Only the index is touched.
func (s *StorageService) SetHidden(ctx context.Context, path string, hidden bool) error {
	p, err := cleanNonRoot(path)
	if err != nil {
		return err
	}
	return s.index.SetHidden(ctx, p, hidden)
}

// List starts a listing of the entries below path.
func (s *StorageService) List(path string) ListBuilder {
	return s.index.CreateFileListBuilder(path)
}

func cleanNonRoot(path string) (string, error) {
	p, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", newDomainError(CodeRootOperation, "the root cannot be the target of this operation")
	}
	return p, nil
}
