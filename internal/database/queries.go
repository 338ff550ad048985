package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"docvault/internal/dv"
)

// dbtx is the subset of *sql.DB and *sql.Tx used by queries.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const fileColumns = "id, kind, name, ext, public_path, slug, file_size, created_at, parent_id, hidden"

// queries runs the file statements against one table. The table is a
// parameter so the same statements serve the live table and the shadow
// table of an online rebuild.
type queries struct {
	db    dbtx
	table string
}

func newQueries(db dbtx, table string) *queries {
	return &queries{db: db, table: table}
}

func (q *queries) withTx(tx *sql.Tx) *queries {
	return &queries{db: tx, table: q.table}
}

// stmt substitutes the table name into a statement template.
func (q *queries) stmt(tmpl string) string {
	return strings.ReplaceAll(tmpl, "{files}", q.table)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*dv.File, error) {
	var (
		f        dv.File
		kind     string
		ext      sql.NullString
		size     sql.NullInt64
		parentID sql.NullInt64
	)
	if err := row.Scan(&f.ID, &kind, &f.Name, &ext, &f.PublicPath, &f.Slug, &size, &f.CreatedAt, &parentID, &f.Hidden); err != nil {
		return nil, err
	}
	f.Kind = dv.Kind(kind)
	f.Ext = ext.String
	f.FileSize = size.Int64
	if parentID.Valid {
		id := parentID.Int64
		f.ParentID = &id
	}
	return &f, nil
}

func (q *queries) findOne(ctx context.Context, where string, args ...any) (*dv.File, error) {
	row := q.db.QueryRowContext(ctx, q.stmt("SELECT "+fileColumns+" FROM {files} WHERE "+where), args...)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return f, nil
}

// FindByPath implements dv.EntityStore.
func (q *queries) FindByPath(ctx context.Context, path string) (*dv.File, error) {
	f, err := q.findOne(ctx, "public_path = ?", path)
	if err != nil {
		return nil, fmt.Errorf("finding file by path: %w", err)
	}
	return f, nil
}

func (q *queries) findBySlug(ctx context.Context, slug string) (*dv.File, error) {
	f, err := q.findOne(ctx, "slug = ?", slug)
	if err != nil {
		return nil, fmt.Errorf("finding file by slug: %w", err)
	}
	return f, nil
}

func (q *queries) findByID(ctx context.Context, id int64) (*dv.File, error) {
	f, err := q.findOne(ctx, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("finding file by id: %w", err)
	}
	return f, nil
}

// checkSlug fails with dv.ErrSlugCollision when slug already belongs to a
// path other than path.
func (q *queries) checkSlug(ctx context.Context, slug, path string) error {
	owner, err := q.findBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if owner != nil && owner.PublicPath != path {
		return fmt.Errorf("%w: %s and %s both map to %q", dv.ErrSlugCollision, owner.PublicPath, path, slug)
	}
	return nil
}

// Insert implements dv.EntityStore.
func (q *queries) Insert(ctx context.Context, f *dv.File) error {
	if err := q.checkSlug(ctx, f.Slug, f.PublicPath); err != nil {
		return err
	}

	var ext, size any
	if f.Kind == dv.KindDocument {
		ext = sql.NullString{String: f.Ext, Valid: f.Ext != ""}
		size = f.FileSize
	}
	var parent any
	if f.ParentID != nil {
		parent = *f.ParentID
	}

	res, err := q.db.ExecContext(ctx, q.stmt(`
		INSERT INTO {files} (kind, name, ext, public_path, slug, file_size, created_at, parent_id, hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(f.Kind), f.Name, ext, f.PublicPath, f.Slug, size, f.CreatedAt.UTC(), parent, f.Hidden,
	)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", f.PublicPath, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted id: %w", err)
	}
	f.ID = id
	return nil
}

func (q *queries) updateSize(ctx context.Context, id, size int64) error {
	if _, err := q.db.ExecContext(ctx, q.stmt("UPDATE {files} SET file_size = ? WHERE id = ?"), size, id); err != nil {
		return fmt.Errorf("updating size: %w", err)
	}
	return nil
}

func (q *queries) updateLocation(ctx context.Context, f *dv.File) error {
	var ext any
	if f.Kind == dv.KindDocument {
		ext = sql.NullString{String: f.Ext, Valid: f.Ext != ""}
	}
	var parent any
	if f.ParentID != nil {
		parent = *f.ParentID
	}
	_, err := q.db.ExecContext(ctx, q.stmt(`
		UPDATE {files} SET name = ?, ext = ?, public_path = ?, slug = ?, parent_id = ?
		WHERE id = ?`),
		f.Name, ext, f.PublicPath, f.Slug, parent, f.ID,
	)
	if err != nil {
		return fmt.Errorf("updating %s: %w", f.PublicPath, err)
	}
	return nil
}

func (q *queries) updatePath(ctx context.Context, id int64, path, slug string) error {
	_, err := q.db.ExecContext(ctx, q.stmt("UPDATE {files} SET public_path = ?, slug = ? WHERE id = ?"), path, slug, id)
	if err != nil {
		return fmt.Errorf("updating path to %s: %w", path, err)
	}
	return nil
}

// descendantRange returns the bounds of the public_path range holding every
// path below p. '0' is the byte after '/', so the half-open range
// [p+"/", p+"0") is exactly the set of paths with prefix p+"/".
func descendantRange(p string) (lo, hi string) {
	return p + "/", p + "0"
}

type pathRow struct {
	id   int64
	path string
}

func (q *queries) descendants(ctx context.Context, p string) ([]pathRow, error) {
	lo, hi := descendantRange(p)
	rows, err := q.db.QueryContext(ctx, q.stmt(`
		SELECT id, public_path FROM {files}
		WHERE public_path >= ? AND public_path < ?
		ORDER BY public_path`), lo, hi)
	if err != nil {
		return nil, fmt.Errorf("finding descendants of %s: %w", p, err)
	}
	defer rows.Close()

	var out []pathRow
	for rows.Next() {
		var r pathRow
		if err := rows.Scan(&r.id, &r.path); err != nil {
			return nil, fmt.Errorf("scanning descendant: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *queries) deleteByID(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, q.stmt("DELETE FROM {files} WHERE id = ?"), id); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

func (q *queries) deleteDescendants(ctx context.Context, p string) error {
	lo, hi := descendantRange(p)
	_, err := q.db.ExecContext(ctx, q.stmt("DELETE FROM {files} WHERE public_path >= ? AND public_path < ?"), lo, hi)
	if err != nil {
		return fmt.Errorf("deleting descendants of %s: %w", p, err)
	}
	return nil
}

func (q *queries) setHidden(ctx context.Context, path string, hidden bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, q.stmt("UPDATE {files} SET hidden = ? WHERE public_path = ?"), hidden, path)
	if err != nil {
		return 0, fmt.Errorf("updating hidden flag: %w", err)
	}
	return res.RowsAffected()
}

// Compile-time check that queries can back an EntityFactory.
var _ dv.EntityStore = (*queries)(nil)
