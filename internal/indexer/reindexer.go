package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"docvault/internal/dv"
	"docvault/internal/fs"
	"docvault/internal/metrics"
)

// Mode selects how the index is rebuilt.
type Mode string

const (
	// ModeFull clears the live index and walks into it.
	ModeFull Mode = "full"
	// ModeSafe walks into a shadow index and swaps it in at the end. The
	// live index stays readable and untouched until the swap.
	ModeSafe Mode = "safe"
)

// ParseMode parses a mode name. The empty string means ModeFull.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeSafe:
		return ModeSafe, nil
	}
	return "", fmt.Errorf("unknown reindex mode %q (want full or safe)", s)
}

// State is the phase a run is in.
type State string

const (
	StateIdle          State = "idle"
	StateClearingIndex State = "clearing_index"
	StateWalking       State = "walking"
	StateFlushing      State = "flushing"
	StateShadowSwap    State = "shadow_swap"
)

var (
	// ErrAlreadyRunning is returned when Run is called during another run.
	ErrAlreadyRunning = errors.New("reindex already running")
	// ErrIncompleteWalk is returned by a safe rebuild that could not list
	// every directory. The shadow is discarded instead of swapped in.
	ErrIncompleteWalk = errors.New("reindex walk incomplete")
)

// Options configures one run.
type Options struct {
	Mode Mode
	// Workers > 1 switches to the level-by-level parallel walk.
	Workers int
	// Deferred buffers index writes and commits them in batches.
	Deferred bool
}

// Report summarizes a run. Failures lists every entry or listing that
// could not be processed; the walk continued past them.
type Report struct {
	Mode        Mode
	Workers     int
	StartedAt   time.Time
	FinishedAt  time.Time
	Directories int
	Documents   int
	Skipped     int
	Failed      int
	Failures    []dv.PathError
}

// Indexed returns the number of entries written to the index.
func (r *Report) Indexed() int {
	return r.Directories + r.Documents - r.Failed
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status is "success", "partial" when some entries failed, or "failed".
func (r *Report) Status(err error) string {
	switch {
	case err != nil:
		return "failed"
	case len(r.Failures) > 0:
		return "partial"
	}
	return "success"
}

// Config holds the optional collaborators of a Reindexer.
type Config struct {
	// Queue feeds the parallel workers. A bounded MemoryQueue is used when
	// nil.
	Queue Queue
	// Ignore patterns are added to the defaults and to /.dvignore.
	Ignore  []string
	Logger  dv.Logger
	Clock   dv.Clock
	Metrics metrics.ReindexMetrics
	// OnStateChange is called after every state transition.
	OnStateChange func(from, to State)
}

// Reindexer rebuilds the index from the physical store.
type Reindexer struct {
	adapter dv.Adapter
	index   dv.Index
	cfg     Config

	mu      sync.Mutex
	state   State
	running bool
}

func NewReindexer(adapter dv.Adapter, index dv.Index, cfg Config) *Reindexer {
	if cfg.Logger == nil {
		cfg.Logger = dv.NewNopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = dv.RealClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopReindexMetrics()
	}
	return &Reindexer{adapter: adapter, index: index, cfg: cfg, state: StateIdle}
}

// State returns the current phase.
func (r *Reindexer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reindexer) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()

	if prev == s {
		return
	}
	r.cfg.Logger.Debug("reindex state changed", "from", string(prev), "to", string(s))
	if r.cfg.OnStateChange != nil {
		r.cfg.OnStateChange(prev, s)
	}
}

// Run performs one reindex. The returned report is never nil, even when
// the run aborts with an error. A run rejected with ErrAlreadyRunning gets
// an empty report.
func (r *Reindexer) Run(ctx context.Context, opts Options) (*Report, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return &Report{Mode: opts.Mode, Workers: opts.Workers}, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.setState(StateIdle)
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	t := newTally(&Report{Mode: opts.Mode, Workers: opts.Workers, StartedAt: r.cfg.Clock.Now()})
	r.cfg.Metrics.RunStarted(string(opts.Mode))
	r.cfg.Logger.Info("reindex started", "mode", string(opts.Mode), "workers", opts.Workers, "deferred", opts.Deferred)

	err := r.run(ctx, opts, t)

	rep := t.report()
	rep.FinishedAt = r.cfg.Clock.Now()
	status := rep.Status(err)
	r.cfg.Metrics.RunFinished(string(opts.Mode), status, rep.Duration())

	if err != nil {
		r.cfg.Logger.Error("reindex aborted", "mode", string(opts.Mode), "error", err)
		return rep, err
	}
	r.cfg.Logger.Info("reindex finished",
		"mode", string(opts.Mode),
		"status", status,
		"indexed", rep.Indexed(),
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"duration", rep.Duration(),
	)
	return rep, nil
}

func (r *Reindexer) run(ctx context.Context, opts Options, t *tally) error {
	matcher, err := r.loadIgnore(ctx)
	if err != nil {
		return err
	}

	switch opts.Mode {
	case ModeFull:
		r.setState(StateClearingIndex)
		if err := r.index.ClearIndex(ctx); err != nil {
			return fmt.Errorf("clearing index: %w", err)
		}
		return r.populate(ctx, r.index, matcher, opts, t)

	case ModeSafe:
		rb, ok := r.index.(dv.Rebuilder)
		if !ok {
			return fmt.Errorf("index %T does not support safe rebuilds", r.index)
		}
		shadow, err := rb.BeginShadow(ctx)
		if err != nil {
			return fmt.Errorf("starting shadow index: %w", err)
		}
		if err := r.populate(ctx, shadow, matcher, opts, t); err != nil {
			r.discard(shadow)
			return err
		}
		// A subtree that could not be listed would vanish from the live
		// index with the swap.
		if n := t.unlisted(); n > 0 {
			r.discard(shadow)
			return fmt.Errorf("%w: %d directories could not be listed", ErrIncompleteWalk, n)
		}
		r.setState(StateShadowSwap)
		if err := shadow.Swap(ctx); err != nil {
			r.discard(shadow)
			return fmt.Errorf("swapping shadow index: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown reindex mode %q", opts.Mode)
	}
}

// discard drops the shadow even when ctx is already cancelled.
func (r *Reindexer) discard(shadow dv.ShadowIndex) {
	if err := shadow.Discard(context.Background()); err != nil {
		r.cfg.Logger.Warn("failed to discard shadow index", "error", err)
	}
}

func (r *Reindexer) populate(ctx context.Context, target dv.Index, m *fs.IgnoreMatcher, opts Options, t *tally) error {
	r.setState(StateWalking)

	var err error
	if opts.Workers > 1 {
		err = r.walkParallel(ctx, target, m, opts, t)
	} else {
		err = r.walkDir(ctx, target, "/", m, opts.Deferred, t)
	}
	if err != nil {
		return err
	}

	r.setState(StateFlushing)
	return r.flush(ctx, target, t)
}

func (r *Reindexer) loadIgnore(ctx context.Context) (*fs.IgnoreMatcher, error) {
	rc, err := r.adapter.Read(ctx, "/"+fs.IgnoreFileName)
	if err != nil {
		if errors.Is(err, dv.ErrNotFound) {
			return fs.WithDefaults(r.cfg.Ignore), nil
		}
		return nil, fmt.Errorf("reading %s: %w", fs.IgnoreFileName, err)
	}
	defer rc.Close()

	extra, err := fs.ParseIgnore(rc)
	if err != nil {
		return nil, err
	}
	return fs.WithDefaults(r.cfg.Ignore, extra), nil
}

func (r *Reindexer) flush(ctx context.Context, target dv.Index, t *tally) error {
	start := time.Now()
	err := target.Flush(ctx)
	r.cfg.Metrics.ObserveFlush(time.Since(start))
	return r.absorb(t, "", err)
}

// absorb records a non-fatal error against path and returns fatal ones.
func (r *Reindexer) absorb(t *tally, path string, err error) error {
	if err == nil {
		return nil
	}
	if dv.IsFatal(err) {
		return err
	}
	var batchErr *dv.BatchError
	if errors.As(err, &batchErr) {
		for _, f := range batchErr.Failures {
			r.recordFailure(t, f.Path, f.Err, true)
		}
		return nil
	}
	r.recordFailure(t, path, err, true)
	return nil
}

func (r *Reindexer) recordFailure(t *tally, path string, err error, entry bool) {
	t.fail(path, err, entry)
	if entry {
		r.cfg.Metrics.EntryFailed()
	}
	r.cfg.Logger.Warn("reindex entry failed", "path", path, "error", err)
}

// indexEntry writes e to target and reports whether it is usable as a
// parent for further entries.
func (r *Reindexer) indexEntry(ctx context.Context, target dv.Index, e dv.Entry, deferred bool, t *tally) (bool, error) {
	var err error
	if deferred {
		err = target.DeferIndex(ctx, e.Path, e.IsDir, e.Size)
	} else {
		_, err = target.Index(ctx, e.Path, e.IsDir, e.Size)
	}

	t.submitted(e.IsDir)
	kind := dv.KindDocument
	if e.IsDir {
		kind = dv.KindDirectory
	}
	r.cfg.Metrics.EntryIndexed(string(kind))

	if err := r.absorb(t, e.Path, err); err != nil {
		return false, err
	}
	return !t.hasFailed(e.Path), nil
}

// walkDir indexes the children of dir and then descends into the
// subdirectories that were indexed.
func (r *Reindexer) walkDir(ctx context.Context, target dv.Index, dir string, m *fs.IgnoreMatcher, deferred bool, t *tally) error {
	var subdirs []string
	for e, err := range r.adapter.ListFiles(ctx, dir) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			r.recordFailure(t, dir, fmt.Errorf("listing: %w", err), false)
			break
		}
		if m.Match(e.Path) {
			t.skip()
			continue
		}
		ok, err := r.indexEntry(ctx, target, e, deferred, t)
		if err != nil {
			return err
		}
		if ok && e.IsDir {
			subdirs = append(subdirs, e.Path)
		}
	}

	for _, sub := range subdirs {
		if err := r.walkDir(ctx, target, sub, m, deferred, t); err != nil {
			return err
		}
	}
	return nil
}

// walkParallel lists the tree one level at a time. Every entry of a level
// is queued for the workers, and the producer waits for the queue to drain
// before listing the next level, so parents are always committed before
// their children are processed.
func (r *Reindexer) walkParallel(ctx context.Context, target dv.Index, m *fs.IgnoreMatcher, opts Options, t *tally) error {
	q := r.cfg.Queue
	if q == nil {
		mq := NewMemoryQueue(DefaultQueueCapacity)
		defer mq.Close()
		q = mq
	}
	if err := q.Purge(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	for range opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.work(ctx, target, q, opts.Deferred, t); err != nil {
				cancel(err)
			}
		}()
	}

	err := r.produce(ctx, target, q, m, opts.Deferred, t)
	q.Seal()
	if err != nil {
		cancel(err)
	}
	wg.Wait()

	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return nil
}

func (r *Reindexer) produce(ctx context.Context, target dv.Index, q Queue, m *fs.IgnoreMatcher, deferred bool, t *tally) error {
	level := []string{"/"}
	for depth := 0; len(level) > 0; depth++ {
		var next []string
		for _, dir := range level {
			for e, err := range r.adapter.ListFiles(ctx, dir) {
				if ctx.Err() != nil {
					return context.Cause(ctx)
				}
				if err != nil {
					r.recordFailure(t, dir, fmt.Errorf("listing: %w", err), false)
					break
				}
				if m.Match(e.Path) {
					t.skip()
					continue
				}
				msg := Message{Kind: MessageFile, Path: e.Path, Size: e.Size}
				if e.IsDir {
					msg.Kind = MessageDir
					next = append(next, e.Path)
				}
				if err := q.Push(ctx, msg); err != nil {
					return err
				}
			}
		}
		r.cfg.Metrics.SetQueueDepth(q.Len())

		if err := q.WaitDrained(ctx); err != nil {
			return err
		}
		if deferred {
			if err := r.flush(ctx, target, t); err != nil {
				return err
			}
		}
		r.cfg.Logger.Debug("reindex level done", "depth", depth, "directories", len(next))
		level = slices.DeleteFunc(next, t.hasFailed)
	}
	return nil
}

func (r *Reindexer) work(ctx context.Context, target dv.Index, q Queue, deferred bool, t *tally) error {
	for {
		msg, err := q.Pop(ctx)
		if errors.Is(err, ErrQueueSealed) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = r.handle(ctx, target, msg, deferred, t)
		q.Done()
		if err != nil {
			return err
		}
	}
}

func (r *Reindexer) handle(ctx context.Context, target dv.Index, msg Message, deferred bool, t *tally) error {
	if parent := dv.ParentPath(msg.Path); parent != "" {
		p, err := target.FindByPath(ctx, parent)
		if err != nil {
			return fmt.Errorf("%w: checking parent of %s: %w", dv.ErrCommitFailed, msg.Path, err)
		}
		if p == nil {
			return &dv.StructuralError{Path: msg.Path, Reason: "parent " + parent + " is not indexed"}
		}
	}
	_, err := r.indexEntry(ctx, target, dv.Entry{Path: msg.Path, IsDir: msg.Kind == MessageDir, Size: msg.Size}, deferred, t)
	return err
}

// tally collects results from concurrent workers.
type tally struct {
	mu       sync.Mutex
	rep      *Report
	failed   map[string]bool
	listings int
}

func newTally(rep *Report) *tally {
	return &tally{rep: rep, failed: make(map[string]bool)}
}

func (t *tally) submitted(isDir bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isDir {
		t.rep.Directories++
	} else {
		t.rep.Documents++
	}
}

func (t *tally) skip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rep.Skipped++
}

func (t *tally) fail(path string, err error, entry bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rep.Failures = append(t.rep.Failures, dv.PathError{Path: path, Err: err})
	if entry {
		t.rep.Failed++
		t.failed[path] = true
	} else {
		t.listings++
	}
}

// unlisted returns the number of directories whose listing failed.
func (t *tally) unlisted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listings
}

func (t *tally) hasFailed(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed[path]
}

func (t *tally) report() *Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rep
}
