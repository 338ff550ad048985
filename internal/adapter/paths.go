package adapter

import (
	"context"
	"io"

	"docvault/internal/dv"
)

// cleanLogical normalizes p into its index form, reporting bad paths as
// adapter errors.
func cleanLogical(op, p string) (string, error) {
	cleaned, err := dv.CleanPath(p)
	if err != nil {
		return "", dv.NewStorageAdapterError(op, p, err)
	}
	return cleaned, nil
}

func notFoundError(op, p string) error {
	return dv.NewStorageAdapterError(op, dv.AdapterPath(p), dv.ErrNotFound)
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
