package dv

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// Index is the relational metadata store mirroring the physical tree.
// Paths are index paths (see CleanPath). Find methods return (nil, nil)
// when nothing is indexed at the requested key.
type Index interface {
	// Index materializes path and its missing ancestors and commits
	// immediately. A path that is already indexed is a benign skip; for
	// documents the recorded size is refreshed.
	Index(ctx context.Context, path string, isDir bool, size int64) (*File, error)

	// DeferIndex buffers the same write until Flush. The buffer flushes by
	// itself once it reaches the batch threshold.
	DeferIndex(ctx context.Context, path string, isDir bool, size int64) error

	// Flush commits all buffered writes in one transaction. Entries that
	// fail are reported through a *BatchError; the others are committed.
	Flush(ctx context.Context) error

	// Move rewrites the entry at src, and every descendant, to live under
	// dest. Ids are preserved. Equal paths are a no-op.
	Move(ctx context.Context, src, dest string) error

	// Remove deletes the entry at path and all of its descendants. Absent
	// paths are ignored.
	Remove(ctx context.Context, path string) error

	// ClearIndex deletes every entry.
	ClearIndex(ctx context.Context) error

	FindByPath(ctx context.Context, path string) (*File, error)
	FindBySlug(ctx context.Context, slug string) (*File, error)
	FindByID(ctx context.Context, id int64) (*File, error)

	// SetHidden toggles the hidden flag of the entry at path.
	SetHidden(ctx context.Context, path string, hidden bool) error

	// CreateFileListBuilder starts a listing of the entries below path.
	CreateFileListBuilder(path string) ListBuilder
}

// Rebuilder is implemented by indexes that support an online rebuild into
// a shadow copy.
type Rebuilder interface {
	BeginShadow(ctx context.Context) (ShadowIndex, error)
}

// ShadowIndex receives the writes of an online rebuild. Swap replaces the
// live index with the shadow contents; Discard drops the shadow and leaves
// the live index untouched.
type ShadowIndex interface {
	Index
	Swap(ctx context.Context) error
	Discard(ctx context.Context) error
}

// EntityStore is the persistence seam used by EntityFactory.
type EntityStore interface {
	FindByPath(ctx context.Context, path string) (*File, error)
	// Insert persists f and assigns f.ID.
	Insert(ctx context.Context, f *File) error
}

// Order fields and directions accepted by ListBuilder.OrderBy.
const (
	OrderName     = "name"
	OrderFileSize = "fileSize"

	Asc  = "asc"
	Desc = "desc"
)

// Order is one ordering term of a listing.
type Order struct {
	Field     string
	Direction string
}

// Validate checks the term against the accepted fields and directions.
func (o Order) Validate() error {
	switch o.Field {
	case OrderName, OrderFileSize:
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidOrder, o.Field)
	}
	switch o.Direction {
	case Asc, Desc:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidOrder, o.Direction)
	}
	return nil
}

// ParseOrders parses "name:desc,fileSize" style ordering specs. A missing
// direction means ascending.
func ParseOrders(spec string) ([]Order, error) {
	var orders []Order
	for _, term := range strings.Split(spec, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		field, dir, _ := strings.Cut(term, ":")
		o := Order{Field: field, Direction: strings.ToLower(dir)}
		if o.Direction == "" {
			o.Direction = Asc
		}
		if err := o.Validate(); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// ListBuilder is a lazy, chainable listing query. Nothing runs until All or
// Count; errors from the chain surface there.
type ListBuilder interface {
	SetLimit(n int) ListBuilder
	SetOffset(n int) ListBuilder
	OrderBy(orders ...Order) ListBuilder
	// ShowHidden includes hidden entries. They are excluded by default.
	ShowHidden(show bool) ListBuilder
	// Recursive lists all descendants instead of direct children.
	Recursive(recursive bool) ListBuilder
	// Search keeps entries whose name contains term.
	Search(term string) ListBuilder

	// All yields matching entries, fetching them from storage page by page.
	All(ctx context.Context) iter.Seq2[*File, error]
	Count(ctx context.Context) (int64, error)
}
