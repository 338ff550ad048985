package database

import (
	"context"
	"database/sql"
	"fmt"
)

// IndexRun is one recorded maintenance run (reindex, migration, snapshot).
type IndexRun struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  sql.NullTime
	FinishedAt sql.NullTime
	Status     string
	Indexed    int64
	Failed     int64
}

// Run tracking

func (s *SQLiteIndex) CreateIndexRun(ctx context.Context, operation, parameters string) (*IndexRun, error) {
	run := &IndexRun{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  sql.NullTime{Time: s.opts.Clock.Now().UTC(), Valid: true},
		Status:     "running",
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO index_runs (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)",
		run.Operation, run.Parameters, run.StartedAt.Time, run.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating index run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading index run id: %w", err)
	}
	return run, nil
}

func (s *SQLiteIndex) FinishIndexRun(ctx context.Context, id int64, status string, indexed, failed int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE index_runs SET finished_at = ?, status = ?, indexed = ?, failed = ? WHERE id = ?",
		s.opts.Clock.Now().UTC(), status, indexed, failed, id,
	)
	if err != nil {
		return fmt.Errorf("finishing index run: %w", err)
	}
	return nil
}

// ListIndexRuns returns the most recent runs, newest first.
func (s *SQLiteIndex) ListIndexRuns(ctx context.Context, limit int) ([]*IndexRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, parameters, started_at, finished_at, status, indexed, failed
		FROM index_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing index runs: %w", err)
	}
	defer rows.Close()

	var runs []*IndexRun
	for rows.Next() {
		var r IndexRun
		if err := rows.Scan(&r.ID, &r.Operation, &r.Parameters, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Indexed, &r.Failed); err != nil {
			return nil, fmt.Errorf("scanning index run: %w", err)
		}
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing index runs: %w", err)
	}
	return runs, nil
}
