package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"docvault/internal/database/migrations"
	"docvault/internal/dv"
)

const (
	liveTable   = "files"
	shadowTable = "files_shadow"
)

// Options tunes an SQLiteIndex. Zero values select the defaults.
type Options struct {
	Clock            dv.Clock
	Logger           dv.Logger
	BatchSize        int
	ExpandStateCodes bool
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = dv.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = dv.NewNopLogger()
	}
	if o.BatchSize <= 0 {
		o.BatchSize = dv.DefaultBatchSize
	}
	return o
}

type pendingEntry struct {
	path  string
	isDir bool
	size  int64
}

// SQLiteIndex implements dv.Index on SQLite.
type SQLiteIndex struct {
	db      *sql.DB
	q       *queries
	path    string
	opts    Options
	mu      sync.Mutex
	pending *dv.Batch[pendingEntry]
}

// NewSQLiteIndex opens the index database at path. path can be a file path
// or ":memory:".
func NewSQLiteIndex(path string, opts Options) (*SQLiteIndex, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	idx := newSQLiteIndex(db, liveTable, opts)
	idx.path = path
	return idx, nil
}

func newSQLiteIndex(db *sql.DB, table string, opts Options) *SQLiteIndex {
	opts = opts.withDefaults()
	return &SQLiteIndex{
		db:      db,
		q:       newQueries(db, table),
		opts:    opts,
		pending: dv.NewBatch[pendingEntry](opts.BatchSize),
	}
}

// OpenConnection opens and configures a SQLite connection. It is exported
// for tools and tests that need a configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: PRAGMAs are per connection, ":memory:" databases are
	// per connection, and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

func (s *SQLiteIndex) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: starting transaction: %w", dv.ErrCommitFailed, err)
	}
	return tx, nil
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %w", dv.ErrCommitFailed, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// mapConstraint turns a slug uniqueness violation into dv.ErrSlugCollision.
func mapConstraint(err error, path string) error {
	if isUniqueViolation(err) && strings.Contains(err.Error(), ".slug") {
		return fmt.Errorf("%w: %s", dv.ErrSlugCollision, path)
	}
	return err
}

func indexPath(p string) (string, error) {
	cleaned, err := dv.CleanPath(p)
	if err != nil {
		return "", err
	}
	if cleaned == "" {
		return "", fmt.Errorf("%w: the root is not an indexable entry", dv.ErrInvalidPath)
	}
	return cleaned, nil
}

// materialize stores the entry and any missing ancestors through q.
func (s *SQLiteIndex) materialize(ctx context.Context, q *queries, e pendingEntry) (*dv.File, error) {
	existing, err := q.FindByPath(ctx, e.path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !e.isDir && !existing.IsDir() && existing.FileSize != e.size {
			if err := q.updateSize(ctx, existing.ID, e.size); err != nil {
				return nil, err
			}
			existing.FileSize = e.size
		}
		return existing, nil
	}

	factory := dv.NewEntityFactory(q, s.opts.Clock, s.opts.ExpandStateCodes)
	segments := dv.SplitPath(e.path)
	if e.isDir {
		dir, err := factory.CreateDirectoryByPath(ctx, segments)
		if err != nil {
			return nil, mapConstraint(err, e.path)
		}
		return dir, nil
	}

	parent, err := factory.CreateDirectoryByPath(ctx, segments[:len(segments)-1])
	if err != nil {
		return nil, mapConstraint(err, e.path)
	}
	doc, err := factory.CreateDocument(segments[len(segments)-1], e.size, parent)
	if err != nil {
		return nil, err
	}
	if err := q.Insert(ctx, doc); err != nil {
		return nil, mapConstraint(err, e.path)
	}
	return doc, nil
}

// Index materializes path and commits immediately.
func (s *SQLiteIndex) Index(ctx context.Context, path string, isDir bool, size int64) (*dv.File, error) {
	p, err := indexPath(path)
	if err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	f, err := s.materialize(ctx, s.q.withTx(tx), pendingEntry{path: p, isDir: isDir, size: size})
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", p, err)
	}
	if err := commit(tx); err != nil {
		return nil, err
	}
	return f, nil
}

// DeferIndex buffers the entry and flushes once the batch is full.
func (s *SQLiteIndex) DeferIndex(ctx context.Context, path string, isDir bool, size int64) error {
	p, err := indexPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	full := s.pending.Add(pendingEntry{path: p, isDir: isDir, size: size})
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered entries.
func (s *SQLiteIndex) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Flush commits buffered entries in one transaction. Each entry runs in
// its own savepoint so a failing entry is rolled back alone.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	s.mu.Lock()
	items := s.pending.Drain()
	s.mu.Unlock()
	if len(items) == 0 {
		return nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := s.q.withTx(tx)
	var failures []dv.PathError
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "SAVEPOINT entry"); err != nil {
			return fmt.Errorf("%w: opening savepoint: %w", dv.ErrCommitFailed, err)
		}
		if _, err := s.materialize(ctx, q, item); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO entry"); rbErr != nil {
				return fmt.Errorf("%w: rolling back savepoint: %w", dv.ErrCommitFailed, rbErr)
			}
			failures = append(failures, dv.PathError{Path: item.path, Err: err})
		}
		if _, err := tx.ExecContext(ctx, "RELEASE entry"); err != nil {
			return fmt.Errorf("%w: releasing savepoint: %w", dv.ErrCommitFailed, err)
		}
	}

	if err := commit(tx); err != nil {
		return err
	}
	s.opts.Logger.Debug("flushed deferred entries", "count", len(items), "failed", len(failures))

	if len(failures) > 0 {
		return &dv.BatchError{Failures: failures}
	}
	return nil
}

// Move rewrites the entry at src and its descendants in place, keeping ids.
func (s *SQLiteIndex) Move(ctx context.Context, src, dest string) error {
	from, err := indexPath(src)
	if err != nil {
		return err
	}
	to, err := indexPath(dest)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	q := s.q.withTx(tx)

	entry, err := q.FindByPath(ctx, from)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("moving %s: %w", from, dv.ErrNotFound)
	}
	taken, err := q.FindByPath(ctx, to)
	if err != nil {
		return err
	}
	if taken != nil {
		return &dv.DomainError{
			Code:    dv.CodeDestinationExists,
			Message: fmt.Sprintf("cannot move %s: destination already exists", from),
			Err:     fmt.Errorf("%s: %w", to, dv.ErrAlreadyExists),
		}
	}
	if entry.IsDir() && dv.IsDescendant(to, from) {
		return &dv.DomainError{
			Code:    dv.CodeMoveIntoSelf,
			Message: fmt.Sprintf("cannot move %s into its own subtree", from),
		}
	}

	factory := dv.NewEntityFactory(q, s.opts.Clock, s.opts.ExpandStateCodes)
	parent, err := factory.CreateDirectoryByPath(ctx, dv.SplitPath(dv.ParentPath(to)))
	if err != nil {
		return fmt.Errorf("materializing parent of %s: %w", to, mapConstraint(err, to))
	}

	base := dv.BaseName(to)
	if entry.IsDir() {
		entry.Name = factory.DirectoryName(len(dv.SplitPath(to)), base)
	} else {
		entry.Name, entry.Ext = dv.SplitExt(base)
	}
	entry.PublicPath = to
	entry.Slug = dv.Slugify(to)
	entry.ParentID = nil
	if parent != nil {
		id := parent.ID
		entry.ParentID = &id
	}

	if err := q.updateLocation(ctx, entry); err != nil {
		return mapConstraint(err, to)
	}

	children, err := q.descendants(ctx, from)
	if err != nil {
		return err
	}
	for _, c := range children {
		newPath := to + c.path[len(from):]
		if err := q.updatePath(ctx, c.id, newPath, dv.Slugify(newPath)); err != nil {
			return mapConstraint(err, newPath)
		}
	}

	if err := commit(tx); err != nil {
		return err
	}
	s.opts.Logger.Debug("index entry moved", "from", from, "to", to, "descendants", len(children))
	return nil
}

// Remove deletes the entry at path. Descendants go with it through the
// ON DELETE CASCADE of parent_id; tables without the constraint have them
// deleted explicitly.
func (s *SQLiteIndex) Remove(ctx context.Context, path string) error {
	p, err := indexPath(path)
	if err != nil {
		return err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	q := s.q.withTx(tx)

	entry, err := q.FindByPath(ctx, p)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	if q.table != liveTable {
		if err := q.deleteDescendants(ctx, p); err != nil {
			return err
		}
	}
	if err := q.deleteByID(ctx, entry.ID); err != nil {
		return err
	}
	return commit(tx)
}

// ClearIndex deletes every entry with foreign key enforcement switched off
// around the truncate.
func (s *SQLiteIndex) ClearIndex(ctx context.Context) error {
	s.mu.Lock()
	s.pending.Drain()
	s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disabling foreign keys: %w", err)
	}
	defer s.db.ExecContext(context.Background(), "PRAGMA foreign_keys = ON")

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q.stmt("DELETE FROM {files}")); err != nil {
		return fmt.Errorf("truncating index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = ?", s.q.table); err != nil {
		return fmt.Errorf("resetting id sequence: %w", err)
	}
	return commit(tx)
}

func (s *SQLiteIndex) FindByPath(ctx context.Context, path string) (*dv.File, error) {
	p, err := dv.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, nil
	}
	return s.q.FindByPath(ctx, p)
}

func (s *SQLiteIndex) FindBySlug(ctx context.Context, slug string) (*dv.File, error) {
	return s.q.findBySlug(ctx, strings.Trim(slug, "/"))
}

func (s *SQLiteIndex) FindByID(ctx context.Context, id int64) (*dv.File, error) {
	return s.q.findByID(ctx, id)
}

// SetHidden toggles the hidden flag; it fails with dv.ErrNotFound for
// paths that are not indexed.
func (s *SQLiteIndex) SetHidden(ctx context.Context, path string, hidden bool) error {
	p, err := indexPath(path)
	if err != nil {
		return err
	}
	n, err := s.q.setHidden(ctx, p, hidden)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("hiding %s: %w", p, dv.ErrNotFound)
	}
	return nil
}

// CreateFileListBuilder starts a listing below path.
func (s *SQLiteIndex) CreateFileListBuilder(path string) dv.ListBuilder {
	p, err := dv.CleanPath(path)
	return &listBuilder{q: s.q, path: p, err: err, limit: -1, pageSize: defaultPageSize}
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteIndex) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteIndex) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrateUp applies pending schema migrations.
func (s *SQLiteIndex) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// MigrationStatus reports the schema version.
func (s *SQLiteIndex) MigrationStatus() (migrations.Status, error) {
	return migrations.GetStatus(s.db)
}

// BackupTo writes a complete copy of the database to destPath using
// VACUUM INTO.
func (s *SQLiteIndex) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteIndex implements dv.Index and dv.Rebuilder.
var (
	_ dv.Index     = (*SQLiteIndex)(nil)
	_ dv.Rebuilder = (*SQLiteIndex)(nil)
)
