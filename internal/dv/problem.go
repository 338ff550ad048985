package dv

import "errors"

// Problem is the structured, user-facing rendition of an error returned by
// a client operation.
type Problem struct {
	Title  string
	Code   string
	Detail string
}

func (p Problem) String() string {
	return p.Title + " (" + p.Code + "): " + p.Detail
}

// ProblemFor maps an error from the storage engine onto a Problem.
func ProblemFor(err error) Problem {
	var (
		domain      *DomainError
		consistency *IndexConsistencyError
		storage     *StorageAdapterError
	)
	switch {
	case errors.As(err, &domain):
		return Problem{Title: "Operation not allowed", Code: domain.Code, Detail: domain.Error()}
	case errors.Is(err, ErrSlugCollision):
		return Problem{Title: "Name conflict", Code: "slug_collision", Detail: err.Error()}
	case errors.As(err, &consistency):
		return Problem{Title: "Index out of sync", Code: "index_inconsistent", Detail: err.Error()}
	case errors.Is(err, ErrNotFound):
		return Problem{Title: "Not found", Code: "not_found", Detail: err.Error()}
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidOrder):
		return Problem{Title: "Invalid request", Code: "invalid_request", Detail: err.Error()}
	case errors.As(err, &storage):
		return Problem{Title: "Storage failure", Code: "storage_error", Detail: err.Error()}
	default:
		return Problem{Title: "Unexpected error", Code: "internal", Detail: err.Error()}
	}
}
