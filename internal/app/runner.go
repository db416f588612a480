// Package app coordinates batch runs: it admits one run at a time, executes it in
// the background, and reports progress and a final summary over channels.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/palantir/batch-record-editor/pkg/batch/core"
	"github.com/palantir/batch-record-editor/pkg/batch/driver"
	"github.com/palantir/batch-record-editor/pkg/batch/instruction"
	"github.com/palantir/batch-record-editor/pkg/batch/io/local"
	"github.com/palantir/batch-record-editor/pkg/batch/schema"
	"github.com/palantir/batch-record-editor/pkg/record"
)

var ErrBusy = errors.New("a batch run is already in progress")

// Request describes one run.
type Request struct {
	Mode         core.Mode
	Instructions string

	// AllowEmpty permits directives with an empty value.
	AllowEmpty bool

	// Store is the bulk mode source.
	Store core.Store[*record.Record]

	// Root and Destination are the tree mode source directory and output directory.
	Root        string
	Destination string

	Workers      int
	MaxRetries   int
	RateLimitRPS float64

	// Seed makes $rand and $shiny reproducible when set.
	Seed *uint64
}

// Summary is delivered once when a run finishes.
type Summary struct {
	RunID    string
	Mode     core.Mode
	Stats    core.Stats
	Duration time.Duration

	// Err is a failure that stopped the run (source IO), not a per-record error.
	Err error
}

func (s Summary) String() string {
	if s.Err != nil {
		return fmt.Sprintf("run %s failed: %v", s.RunID, s.Err)
	}
	return s.Stats.Summary()
}

// Run is a started batch run.
type Run struct {
	ID       string
	progress chan int
	done     chan Summary
}

// Progress delivers the processed item count. Intermediate values may be dropped;
// the last value received before the channel closes is the final count.
func (r *Run) Progress() <-chan int { return r.progress }

// Done receives exactly one Summary when the run completes.
func (r *Run) Done() <-chan Summary { return r.done }

// Wait blocks until the run completes.
func (r *Run) Wait() Summary { return <-r.done }

// report replaces any undelivered value with n.
func (r *Run) report(n int) {
	for {
		select {
		case r.progress <- n:
			return
		default:
		}
		select {
		case <-r.progress:
		default:
		}
	}
}

// Runner admits at most one active run.
type Runner struct {
	logger   *slog.Logger
	registry *schema.Registry

	mu     sync.Mutex
	active bool
}

func NewRunner(logger *slog.Logger, registry *schema.Registry) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if registry == nil {
		registry = schema.Default()
	}
	return &Runner{logger: logger, registry: registry}
}

// Busy reports whether a run is in progress.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start validates req and launches the run in the background. Setup errors are
// returned here and no record is touched. A second Start while a run is active
// fails with ErrBusy.
func (r *Runner) Start(ctx context.Context, req Request) (*Run, error) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.active = true
	r.mu.Unlock()

	set, err := r.setup(req)
	if err != nil {
		r.release()
		return nil, err
	}

	run := &Run{
		ID:       uuid.NewString(),
		progress: make(chan int, 1),
		done:     make(chan Summary, 1),
	}
	logger := r.logger.With("run", run.ID, "mode", string(req.Mode))

	go func() {
		start := time.Now()
		stats, err := r.execute(context.WithoutCancel(ctx), req, set, run, logger)
		sum := Summary{RunID: run.ID, Mode: req.Mode, Stats: stats, Duration: time.Since(start), Err: err}
		if err != nil {
			logger.Error("run failed", "error", err)
		} else {
			logger.Info("run complete",
				"considered", stats.Considered,
				"modified", stats.Modified,
				"errors", stats.Errors,
				"duration", sum.Duration.Round(time.Millisecond),
			)
		}

		close(run.progress)
		r.release()
		run.done <- sum
		close(run.done)
	}()
	return run, nil
}

func (r *Runner) release() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
}

func (r *Runner) setup(req Request) (instruction.Set, error) {
	switch req.Mode {
	case core.ModeBulk:
		if req.Store == nil {
			return instruction.Set{}, errors.New("bulk mode requires a record store")
		}
	case core.ModeTree:
		if req.Root == "" || req.Destination == "" {
			return instruction.Set{}, errors.New("tree mode requires a source and a destination directory")
		}
	default:
		return instruction.Set{}, fmt.Errorf("unknown mode %q", req.Mode)
	}
	return Prepare(req.Instructions, req.AllowEmpty)
}

func (r *Runner) execute(ctx context.Context, req Request, set instruction.Set, run *Run, logger *slog.Logger) (core.Stats, error) {
	opts := driver.Options{
		Registry:     r.registry,
		Logger:       logger,
		Workers:      req.Workers,
		MaxRetries:   req.MaxRetries,
		RateLimitRPS: req.RateLimitRPS,
	}
	if req.Seed != nil {
		opts.Rand = rand.New(rand.NewPCG(*req.Seed, *req.Seed))
	}

	switch req.Mode {
	case core.ModeBulk:
		recs, err := req.Store.Load(ctx)
		if err != nil {
			return core.Stats{}, fmt.Errorf("load records: %w", err)
		}
		opts.Progress = progressFunc(run, logger, len(recs))
		logger.Info("run start", "records", len(recs), "filters", len(set.Filters), "directives", len(set.Directives))

		stats, err := driver.RunBulk(ctx, recs, set, opts)
		if err != nil {
			return stats, err
		}
		if err := req.Store.Store(ctx, recs); err != nil {
			return stats, fmt.Errorf("store records: %w", err)
		}
		return stats, nil

	default:
		paths, err := local.FindFiles(req.Root)
		if err != nil {
			return core.Stats{}, err
		}
		opts.Progress = progressFunc(run, logger, len(paths))
		logger.Info("run start", "files", len(paths), "filters", len(set.Filters), "directives", len(set.Directives), "destination", req.Destination)
		return driver.RunTree(ctx, paths, set, req.Destination, opts)
	}
}

func progressFunc(run *Run, logger *slog.Logger, total int) core.ProgressFunc {
	every := rate.Sometimes{First: 1, Interval: 2 * time.Second}
	return func(n int) {
		run.report(n)
		every.Do(func() {
			logger.Info("progress", "processed", n, "total", total)
		})
	}
}
