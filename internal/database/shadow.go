package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"docvault/internal/dv"
)

var (
	createTableRe = regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\s+(IF\s+NOT\s+EXISTS\s+)?["` + "`" + `]?files["` + "`" + `]?`)
	foreignKeyRe  = regexp.MustCompile(`(?i)\s+REFERENCES\s+["` + "`" + `]?\w+["` + "`" + `]?\s*\([^)]*\)(\s+ON\s+(DELETE|UPDATE)\s+(CASCADE|SET\s+NULL|SET\s+DEFAULT|RESTRICT|NO\s+ACTION))*`)
)

const nextTable = "files_next"

// schemaDDL is the production table definition captured when a rebuild starts.
type schemaDDL struct {
	table   string
	indexes []string
}

// renameTable rewrites a captured CREATE TABLE statement for another table.
func renameTable(ddl, name string) string {
	return createTableRe.ReplaceAllString(ddl, "CREATE TABLE "+name)
}

// stripForeignKeys removes column REFERENCES clauses.
func stripForeignKeys(ddl string) string {
	return foreignKeyRe.ReplaceAllString(ddl, "")
}

func captureDDL(ctx context.Context, db dbtx) (schemaDDL, error) {
	var out schemaDDL
	err := db.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", liveTable,
	).Scan(&out.table)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, fmt.Errorf("table %s does not exist (needs migration)", liveTable)
		}
		return out, fmt.Errorf("reading %s definition: %w", liveTable, err)
	}

	rows, err := db.QueryContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name", liveTable)
	if err != nil {
		return out, fmt.Errorf("reading %s indexes: %w", liveTable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ddl string
		if err := rows.Scan(&ddl); err != nil {
			return out, fmt.Errorf("scanning index definition: %w", err)
		}
		out.indexes = append(out.indexes, ddl)
	}
	return out, rows.Err()
}

// BeginShadow creates an empty shadow copy of the files table without
// foreign keys and returns an index writing only to it.
func (s *SQLiteIndex) BeginShadow(ctx context.Context) (dv.ShadowIndex, error) {
	if s.q.table != liveTable {
		return nil, fmt.Errorf("cannot start a rebuild from table %s", s.q.table)
	}

	ddl, err := captureDDL(ctx, s.db)
	if err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+shadowTable); err != nil {
		return nil, fmt.Errorf("dropping stale shadow table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, stripForeignKeys(renameTable(ddl.table, shadowTable))); err != nil {
		return nil, fmt.Errorf("creating shadow table: %w", err)
	}
	if err := commit(tx); err != nil {
		return nil, err
	}

	s.opts.Logger.Info("shadow index created", "table", shadowTable)
	return &shadowIndex{
		SQLiteIndex: newSQLiteIndex(s.db, shadowTable, s.opts),
		live:        s,
		ddl:         ddl,
	}, nil
}

type shadowIndex struct {
	*SQLiteIndex
	live *SQLiteIndex
	ddl  schemaDDL
}

// Swap replaces the live table with the shadow contents. The new table is
// created from the captured definition so the foreign key comes back, and
// the captured indexes are recreated. Foreign keys are checked before the
// transaction commits.
func (sh *shadowIndex) Swap(ctx context.Context) error {
	if err := sh.Flush(ctx); err != nil {
		return fmt.Errorf("flushing shadow index: %w", err)
	}

	db := sh.db
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disabling foreign keys: %w", err)
	}
	defer db.ExecContext(context.Background(), "PRAGMA foreign_keys = ON")

	tx, err := sh.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []struct {
		what string
		stmt string
	}{
		{"dropping leftover table", "DROP TABLE IF EXISTS " + nextTable},
		{"creating replacement table", renameTable(sh.ddl.table, nextTable)},
		{"copying shadow rows", "INSERT INTO " + nextTable + " (" + fileColumns + ") SELECT " + fileColumns + " FROM " + shadowTable},
		{"dropping live table", "DROP TABLE " + liveTable},
		{"renaming replacement table", "ALTER TABLE " + nextTable + " RENAME TO " + liveTable},
		{"dropping shadow table", "DROP TABLE " + shadowTable},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.stmt); err != nil {
			return fmt.Errorf("%s: %w", step.what, err)
		}
	}
	for _, idx := range sh.ddl.indexes {
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("recreating index: %w", err)
		}
	}

	if err := checkForeignKeys(ctx, tx); err != nil {
		return err
	}
	if err := commit(tx); err != nil {
		return err
	}
	sh.live.opts.Logger.Info("shadow index swapped in", "table", liveTable)
	return nil
}

func checkForeignKeys(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check("+liveTable+")")
	if err != nil {
		return fmt.Errorf("checking foreign keys: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return fmt.Errorf("%w: foreign key violations in rebuilt %s table", dv.ErrCommitFailed, liveTable)
	}
	return rows.Err()
}

// Discard drops the shadow table. The live table is not touched.
func (sh *shadowIndex) Discard(ctx context.Context) error {
	sh.mu.Lock()
	sh.pending.Drain()
	sh.mu.Unlock()

	if _, err := sh.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+shadowTable); err != nil {
		return fmt.Errorf("dropping shadow table: %w", err)
	}
	sh.live.opts.Logger.Info("shadow index discarded", "table", shadowTable)
	return nil
}

var _ dv.ShadowIndex = (*shadowIndex)(nil)
