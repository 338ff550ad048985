package dv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports a missing physical resource or index entry.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports a destination that is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrSlugCollision reports that a new path derives the slug of a
	// different, already indexed path. The second write fails.
	ErrSlugCollision = errors.New("slug collision")

	// ErrInvalidOrder reports an unknown ordering field or direction.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidPath reports a path that cannot be used as a logical path.
	ErrInvalidPath = errors.New("invalid path")

	// ErrCommitFailed marks index failures that are not tied to one entry:
	// the transaction itself could not be started or committed.
	ErrCommitFailed = errors.New("index commit failed")
)

// StorageAdapterError is returned by adapters for every failed physical
// operation. Callers can only tell not-found apart (errors.Is ErrNotFound).
type StorageAdapterError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageAdapterError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageAdapterError) Unwrap() error { return e.Err }

// NewStorageAdapterError wraps err for the given operation and path.
func NewStorageAdapterError(op, path string, err error) *StorageAdapterError {
	return &StorageAdapterError{Op: op, Path: path, Err: err}
}

// IndexConsistencyError reports that the physical store accepted a
// mutation but the index did not record it. The physical store is now
// ahead of the index; a reindex repairs it.
type IndexConsistencyError struct {
	Op   string
	Path string
	Err  error
}

func (e *IndexConsistencyError) Error() string {
	return fmt.Sprintf("index out of sync after %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IndexConsistencyError) Unwrap() error { return e.Err }

// Domain error codes.
const (
	CodeDestinationExists = "destination_exists"
	CodeSourceMissing     = "source_missing"
	CodeNotADirectory     = "not_a_directory"
	CodeMoveIntoSelf      = "move_into_self"
	CodeInvalidName       = "invalid_name"
	CodeRootOperation     = "root_operation"
)

// DomainError is a business rule violation. It is never retried.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

func newDomainError(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StructuralError reports a walk that violated the tree invariants, such as
// a child being processed before its parent was committed. It aborts a
// reindex run.
type StructuralError struct {
	Path   string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error at %s: %s", e.Path, e.Reason)
}

// PathError pairs a path with the error it produced.
type PathError struct {
	Path string
	Err  error
}

func (e PathError) Error() string { return e.Path + ": " + e.Err.Error() }

// BatchError lists the entries of a flushed batch that could not be
// indexed. The rest of the batch was committed.
type BatchError struct {
	Failures []PathError
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 1 {
		return "1 entry failed: " + e.Failures[0].Error()
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%d entries failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// IsFatal reports whether err must abort a maintenance run rather than be
// recorded against a single entry.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var structural *StructuralError
	return errors.As(err, &structural) ||
		errors.Is(err, ErrCommitFailed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
