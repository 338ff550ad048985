package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"docvault/internal/adapter"
	"docvault/internal/config"
	"docvault/internal/database"
	"docvault/internal/database/migrations"
	"docvault/internal/dv"
	"docvault/internal/indexer"
	"docvault/internal/lock"
	"docvault/internal/metrics"
)

// Job names guarded by the advisory lock.
const (
	JobReindex = "reindex"
	JobMigrate = "migrate"
)

// DVApp is the application layer between the CLI and the storage engine.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the index lifecycle on Close.
type DVApp struct {
	cfg       *config.Config
	adapter   dv.Adapter
	index     *database.SQLiteIndex
	service   *dv.StorageService
	logger    dv.Logger
	logCloser io.Closer
	metrics   metrics.ReindexMetrics
	op        *Operation
}

type appOptions struct {
	console        io.Writer
	skipMigrations bool
}

// Option adjusts how NewDVApp wires the application.
type Option func(*appOptions)

// WithConsole mirrors log records to w. The default is stderr; nil turns
// the mirror off.
func WithConsole(w io.Writer) Option {
	return func(o *appOptions) { o.console = w }
}

// WithoutMigrationCheck opens an index whose schema may be out of date, for
// the commands that inspect or migrate it.
func WithoutMigrationCheck() Option {
	return func(o *appOptions) { o.skipMigrations = true }
}

// NewDVApp creates a fully wired DVApp from the given config.
// op identifies the CLI command being run. The caller must call Close when
// done.
func NewDVApp(ctx context.Context, cfg *config.Config, op *Operation, opts ...Option) (*DVApp, error) {
	o := appOptions{console: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logCloser, err := newLogger(cfg.LogDir, cfg.Logging, opID, o.console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	dvLogger := &slogAdapter{l: logger.With(slog.String("op", op.Name))}

	a, err := adapter.NewAdapterFromConfig(ctx, cfg.Storage)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating storage adapter: %w", err)
	}

	idx, err := database.NewIndexFromConfig(cfg.Database, database.Options{
		Logger:           dvLogger,
		BatchSize:        cfg.Indexer.BatchSize,
		ExpandStateCodes: cfg.Indexer.ExpandStates(),
	})
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("creating index: %w", err)
	}

	if !o.skipMigrations {
		if err := idx.CheckMigrations(); err != nil {
			idx.Close()
			logCloser.Close()
			return nil, fmt.Errorf("index schema out of date (run `dv db migrate`): %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	return &DVApp{
		cfg:       cfg,
		adapter:   a,
		index:     idx,
		service:   dv.NewStorageService(a, idx, dvLogger),
		logger:    dvLogger,
		logCloser: logCloser,
		metrics:   metrics.Reindex(),
		op:        op,
	}, nil
}

// persistOperation records the operation in index_runs. Only commands that
// change the index call it.
func (a *DVApp) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	run, err := a.index.CreateIndexRun(ctx, a.op.Name, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = run.ID
	return nil
}

// track persists the operation and marks it failed when err is not nil.
func (a *DVApp) track(ctx context.Context, fn func() error) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		a.op.Fail()
		return err
	}
	return nil
}

// MakeDirectory creates the directory at path.
func (a *DVApp) MakeDirectory(ctx context.Context, path string) (*dv.File, error) {
	var f *dv.File
	err := a.track(ctx, func() error {
		var err error
		f, err = a.service.CreateDirectory(ctx, path)
		return err
	})
	return f, err
}

// Put stores r as the document at path.
func (a *DVApp) Put(ctx context.Context, path string, r io.Reader) (*dv.File, error) {
	var f *dv.File
	err := a.track(ctx, func() error {
		var err error
		f, err = a.service.CreateFile(ctx, path, r)
		return err
	})
	return f, err
}

// Stat resolves ref, which is a public path when it starts with "/" and a
// slug otherwise.
func (a *DVApp) Stat(ctx context.Context, ref string) (*dv.File, error) {
	if strings.HasPrefix(ref, "/") {
		return a.service.GetFileByPath(ctx, ref)
	}
	return a.service.GetFile(ctx, ref)
}

// Get resolves ref like Stat and opens the document content.
func (a *DVApp) Get(ctx context.Context, ref string) (*dv.File, io.ReadCloser, error) {
	f, err := a.Stat(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	rc, err := a.service.Open(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

func (a *DVApp) Move(ctx context.Context, src, dest string) error {
	return a.track(ctx, func() error { return a.service.Move(ctx, src, dest) })
}

func (a *DVApp) Remove(ctx context.Context, path string) error {
	return a.track(ctx, func() error { return a.service.Remove(ctx, path) })
}

func (a *DVApp) SetHidden(ctx context.Context, path string, hidden bool) error {
	return a.track(ctx, func() error { return a.service.SetHidden(ctx, path, hidden) })
}

// ListOptions are the listing knobs exposed by `dv ls`.
type ListOptions struct {
	Limit      int // 0 lists everything
	Offset     int
	Order      string // e.g. "name:asc,fileSize:desc"
	ShowHidden bool
	Recursive  bool
	Search     string
}

// List returns one page of entries below path and the total number of
// matching entries.
func (a *DVApp) List(ctx context.Context, path string, opts ListOptions) ([]*dv.File, int64, error) {
	orders, err := dv.ParseOrders(opts.Order)
	if err != nil {
		return nil, 0, err
	}

	b := a.service.List(path).
		ShowHidden(opts.ShowHidden).
		Recursive(opts.Recursive).
		Search(opts.Search)
	if len(orders) > 0 {
		b = b.OrderBy(orders...)
	}

	total, err := b.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	if opts.Limit > 0 {
		b = b.SetLimit(opts.Limit)
	}
	var files []*dv.File
	for f, err := range b.SetOffset(opts.Offset).All(ctx) {
		if err != nil {
			return nil, 0, err
		}
		files = append(files, f)
	}
	return files, total, nil
}

// Reindex rebuilds the index from the physical store. The job lock keeps
// two dv processes from rebuilding at once; onState, when set, observes
// the phases of the run.
func (a *DVApp) Reindex(ctx context.Context, opts indexer.Options, onState func(from, to indexer.State)) (*indexer.Report, error) {
	if opts.Workers == 0 {
		opts.Workers = a.cfg.Indexer.Workers
	}

	var rep *indexer.Report
	err := a.withLock(JobReindex, func() error {
		if err := a.persistOperation(ctx); err != nil {
			return err
		}

		queue, err := indexer.NewQueueFromConfig(a.cfg.Indexer)
		if err != nil {
			return fmt.Errorf("creating reindex queue: %w", err)
		}
		defer queue.Close()

		r := indexer.NewReindexer(a.adapter, a.index, indexer.Config{
			Queue:         queue,
			Ignore:        a.cfg.Indexer.Ignore,
			Logger:        a.logger,
			Metrics:       a.metrics,
			OnStateChange: onState,
		})
		rep, err = r.Run(ctx, opts)
		a.op.RecordReport(rep, err)
		return err
	})
	if err != nil && rep == nil {
		a.op.Fail()
	}
	return rep, err
}

func (a *DVApp) withLock(job string, fn func() error) error {
	l, err := lock.NewFileLock(a.cfg.Indexer.LockDir, job)
	if err != nil {
		return err
	}
	if err := l.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			a.logger.Warn("failed to release job lock", "job", job, "error", err)
		}
	}()
	return fn()
}

// ServeMetrics starts the /metrics listener when metrics are enabled. It
// returns nil when they are not. The server stops when ctx is done.
func (a *DVApp) ServeMetrics(ctx context.Context) (*metrics.Server, error) {
	if !metrics.IsEnabled() {
		return nil, nil
	}
	s := metrics.NewServer(a.cfg.Metrics.Listen, metrics.GetRegistry(), a.logger)
	if err := s.Listen(); err != nil {
		return nil, err
	}
	go func() {
		if err := s.Serve(ctx); err != nil {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	return s, nil
}

// Migrate applies pending schema migrations.
func (a *DVApp) Migrate(ctx context.Context) (migrations.Status, error) {
	var status migrations.Status
	err := a.withLock(JobMigrate, func() error {
		if err := a.index.MigrateUp(); err != nil {
			return err
		}
		var err error
		if status, err = a.index.MigrationStatus(); err != nil {
			return err
		}
		return a.persistOperation(ctx)
	})
	if err != nil {
		a.op.Fail()
	}
	return status, err
}

func (a *DVApp) MigrationStatus() (migrations.Status, error) {
	return a.index.MigrationStatus()
}

// Snapshot writes a consistent copy of the index to destPath.
func (a *DVApp) Snapshot(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("snapshot destination %s already exists", destPath)
	}
	return a.index.BackupTo(ctx, destPath)
}

// Runs returns the most recent recorded operations, newest first.
func (a *DVApp) Runs(ctx context.Context, limit int) ([]*database.IndexRun, error) {
	return a.index.ListIndexRuns(ctx, limit)
}

// Close finalizes the operation record and closes all resources.
func (a *DVApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		if err := a.index.FinishIndexRun(context.Background(), a.op.ID, a.op.Status, a.op.Indexed, a.op.Failed); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}
	}
	if err := a.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing index: %w", err))
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return errors.Join(errs...)
}
