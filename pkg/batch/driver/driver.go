// Package driver feeds a data source through the mutation engine one record at a
// time and tallies the outcomes.
//
// Two sources are supported. Bulk mode edits an in-memory slice that the caller
// writes back to its store afterwards. Tree mode edits individually encoded record
// files and writes modified ones into a destination directory.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/palantir/batch-record-editor/pkg/batch/core"
	"github.com/palantir/batch-record-editor/pkg/batch/engine"
	"github.com/palantir/batch-record-editor/pkg/batch/instruction"
	"github.com/palantir/batch-record-editor/pkg/batch/io/local"
	"github.com/palantir/batch-record-editor/pkg/batch/schema"
	"github.com/palantir/batch-record-editor/pkg/batch/worker"
	"github.com/palantir/batch-record-editor/pkg/record"
)

type Options struct {
	// Registry decides which file sizes are candidate records in tree mode.
	// Defaults to schema.Default().
	Registry *schema.Registry

	// Rand drives $rand and $shiny. Defaults to a time-seeded source.
	Rand     *rand.Rand
	Progress core.ProgressFunc
	Logger   *slog.Logger

	// Tree mode file handling.
	Workers      int
	MaxRetries   int
	RateLimitRPS float64
}

func (o Options) withDefaults() Options {
	if o.Registry == nil {
		o.Registry = schema.Default()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Progress == nil {
		o.Progress = func(int) {}
	}
	return o
}

func (o Options) engine() *engine.Engine {
	opts := []engine.Option{engine.WithValidity(Valid)}
	if o.Rand != nil {
		opts = append(opts, engine.WithRand(o.Rand))
	}
	return engine.New(opts...)
}

// Valid is the validity check used by both modes.
func Valid(r engine.Record) bool {
	rec, ok := r.(*record.Record)
	return ok && rec.Valid()
}

// tally folds one outcome into st.
func tally(st *core.Stats, out engine.Outcome) {
	if out == engine.Invalid {
		return
	}
	st.Considered++
	switch out {
	case engine.Modified:
		st.Modified++
	case engine.Error:
		st.Errors++
	}
}

// RunBulk applies set to every record in place. Modified records with a non-zero
// key get their checksum refreshed; the caller persists the slice.
func RunBulk(ctx context.Context, records []*record.Record, set instruction.Set, opts Options) (core.Stats, error) {
	opts = opts.withDefaults()
	eng := opts.engine()

	st := core.Stats{Total: len(records)}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		out, err := eng.Apply(rec, set)
		if err != nil {
			opts.Logger.Debug("record error", "slot", i, "error", err)
		}
		if out == engine.Modified && rec.Key() != 0 {
			rec.RefreshChecksum()
		}
		tally(&st, out)
		opts.Progress(i + 1)
	}
	return st, nil
}

type fileResult struct {
	outcome engine.Outcome
	wrote   bool
}

// RunTree applies set to each record file in paths. Files whose size matches no
// registered schema are Invalid and never read. Read, decode and write failures
// count as errors and do not stop the run. Only Modified records with a non-zero
// key are written, to dest/<basename>; the source files are never changed unless
// dest is their own directory.
func RunTree(ctx context.Context, paths []string, set instruction.Set, dest string, opts Options) (core.Stats, error) {
	opts = opts.withDefaults()
	eng := opts.engine()
	var engMu sync.Mutex

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return core.Stats{}, fmt.Errorf("create destination: %w", err)
	}

	process := core.ProcessFunc[string, fileResult](func(ctx context.Context, path string) (fileResult, error) {
		size, err := local.FileSize(path)
		if err != nil {
			return fileResult{}, core.RetryableIO(err)
		}
		desc, ok := opts.Registry.RecordSize(size)
		if !ok {
			return fileResult{outcome: engine.Invalid}, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fileResult{}, core.RetryableIO(err)
		}
		rec, err := record.DecodeAs(desc.Layout, data)
		if err != nil {
			return fileResult{}, err
		}

		engMu.Lock()
		out, applyErr := eng.Apply(rec, set)
		engMu.Unlock()
		if applyErr != nil {
			opts.Logger.Debug("record error", "path", path, "error", applyErr)
		}

		res := fileResult{outcome: out}
		if out != engine.Modified || rec.Key() == 0 {
			return res, nil
		}
		rec.RefreshChecksum()
		if err := local.WriteFileAtomic(local.DestinationPath(dest, path), rec.Bytes()); err != nil {
			return fileResult{}, core.RetryableIO(err)
		}
		res.wrote = true
		return res, nil
	})

	st := core.Stats{Total: len(paths)}
	processed := 0
	_, err := worker.ProcessAllWithCallback(ctx, paths, process.Process, func(r worker.Result[string, fileResult]) error {
		processed++
		switch {
		case r.Err != nil:
			opts.Logger.Warn("file error", "path", r.Input, "error", r.Err)
			tally(&st, engine.Error)
		case r.Output.outcome == engine.Modified && !r.Output.wrote:
			// cleared records are considered but neither written nor counted
			st.Considered++
		default:
			tally(&st, r.Output.outcome)
		}
		opts.Progress(processed)
		return nil
	}, worker.Options{
		Workers:      opts.Workers,
		MaxRetries:   opts.MaxRetries,
		RateLimitRPS: opts.RateLimitRPS,
	})
	if err != nil {
		return st, err
	}
	return st, nil
}
