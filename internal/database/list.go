package database

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"docvault/internal/dv"
)

const defaultPageSize = 100

var orderColumns = map[string]string{
	dv.OrderName:     "name",
	dv.OrderFileSize: "file_size",
}

type listBuilder struct {
	q         *queries
	path      string
	err       error
	limit     int
	offset    int
	orders    []dv.Order
	hidden    bool
	recursive bool
	search    string
	pageSize  int
}

func (b *listBuilder) SetLimit(n int) dv.ListBuilder {
	b.limit = n
	return b
}

func (b *listBuilder) SetOffset(n int) dv.ListBuilder {
	if n < 0 {
		n = 0
	}
	b.offset = n
	return b
}

func (b *listBuilder) OrderBy(orders ...dv.Order) dv.ListBuilder {
	for _, o := range orders {
		if err := o.Validate(); err != nil && b.err == nil {
			b.err = err
		}
	}
	b.orders = append(b.orders, orders...)
	return b
}

func (b *listBuilder) ShowHidden(show bool) dv.ListBuilder {
	b.hidden = show
	return b
}

func (b *listBuilder) Recursive(recursive bool) dv.ListBuilder {
	b.recursive = recursive
	return b
}

func (b *listBuilder) Search(term string) dv.ListBuilder {
	b.search = term
	return b
}

// where builds the filter for the listing. A missing directory is reported
// as dv.ErrNotFound.
func (b *listBuilder) where(ctx context.Context) (string, []any, error) {
	var (
		conds []string
		args  []any
	)

	switch {
	case b.path == "" && !b.recursive:
		conds = append(conds, "parent_id IS NULL")
	case b.path == "":
	default:
		dir, err := b.q.FindByPath(ctx, b.path)
		if err != nil {
			return "", nil, err
		}
		if dir == nil {
			return "", nil, fmt.Errorf("listing %s: %w", b.path, dv.ErrNotFound)
		}
		if !dir.IsDir() {
			return "", nil, &dv.DomainError{
				Code:    dv.CodeNotADirectory,
				Message: fmt.Sprintf("%s is not a directory", b.path),
			}
		}
		if b.recursive {
			lo, hi := descendantRange(b.path)
			conds = append(conds, "public_path >= ? AND public_path < ?")
			args = append(args, lo, hi)
		} else {
			conds = append(conds, "parent_id = ?")
			args = append(args, dir.ID)
		}
	}

	if !b.hidden {
		conds = append(conds, "hidden <> 1")
	}
	if b.search != "" {
		conds = append(conds, `name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(b.search)+"%")
	}

	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (b *listBuilder) orderClause() string {
	terms := make([]string, 0, len(b.orders)+1)
	for _, o := range b.orders {
		dir := "ASC"
		if o.Direction == dv.Desc {
			dir = "DESC"
		}
		terms = append(terms, orderColumns[o.Field]+" "+dir)
	}
	if len(terms) == 0 {
		terms = append(terms, "kind ASC", "name ASC")
	}
	// id last keeps pages stable between queries.
	terms = append(terms, "id ASC")
	return " ORDER BY " + strings.Join(terms, ", ")
}

// All runs the listing page by page. Each page is read completely before
// anything is yielded so the connection is free while the caller works.
func (b *listBuilder) All(ctx context.Context) iter.Seq2[*dv.File, error] {
	return func(yield func(*dv.File, error) bool) {
		if b.err != nil {
			yield(nil, b.err)
			return
		}
		where, args, err := b.where(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		base := b.q.stmt("SELECT "+fileColumns+" FROM {files}") + where + b.orderClause() + " LIMIT ? OFFSET ?"

		remaining := b.limit
		offset := b.offset
		for remaining != 0 {
			size := b.pageSize
			if remaining > 0 && remaining < size {
				size = remaining
			}
			page, err := b.fetch(ctx, base, append(args[:len(args):len(args)], size, offset))
			if err != nil {
				yield(nil, err)
				return
			}
			for _, f := range page {
				if !yield(f, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
			offset += len(page)
			if remaining > 0 {
				remaining -= len(page)
			}
		}
	}
}

func (b *listBuilder) fetch(ctx context.Context, query string, args []any) ([]*dv.File, error) {
	rows, err := b.q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var page []*dv.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		page = append(page, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return page, nil
}

// Count returns the number of entries matching the filter, ignoring limit
// and offset.
func (b *listBuilder) Count(ctx context.Context) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	where, args, err := b.where(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := b.q.db.QueryRowContext(ctx, b.q.stmt("SELECT COUNT(*) FROM {files}")+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return n, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ dv.ListBuilder = (*listBuilder)(nil)
