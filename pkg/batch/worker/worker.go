// Package worker runs a function over a list of items with bounded concurrency,
// an optional global rate limit, and retries for transient failures.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/palantir/batch-record-editor/pkg/batch/core"
	"golang.org/x/time/rate"
)

type Options struct {
	Workers     int
	MaxRetries  int
	ItemTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	// BackoffInitial is the sleep before the first retry; it doubles up to BackoffMax.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 50 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Second
	}
	if o.BackoffJitterFrac <= 0 {
		o.BackoffJitterFrac = 0.2
	}
	return o
}

// Result holds the outcome for the item at Index.
type Result[In any, Out any] struct {
	Index  int
	Input  In
	Output Out
	Err    error
}

// ProcessAllWithCallback runs fn over items and calls onResult (if non-nil) as each
// item completes. Callbacks arrive in completion order and never concurrently.
// Item errors are recorded in the results; only a callback error or context
// cancellation stops the run. The returned slice is indexed like items.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := retrier[In, Out]{fn: fn, opts: opts}
	if opts.RateLimitRPS > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	indexes := make(chan int)
	done := make(chan Result[In, Out], opts.Workers)

	var wg sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				out, err := r.run(runCtx, items[i])
				select {
				case done <- Result[In, Out]{Index: i, Input: items[i], Output: out, Err: err}:
				case <-runCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(indexes)
		for i := range items {
			select {
			case indexes <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	results := make([]Result[In, Out], len(items))
	for res := range done {
		results[res.Index] = res
		if onResult == nil || runCtx.Err() != nil {
			continue
		}
		if err := onResult(res); err != nil {
			cancel(err)
		}
	}

	if err := context.Cause(runCtx); err != nil {
		return nil, err
	}
	return results, nil
}

type retrier[In any, Out any] struct {
	fn      func(context.Context, In) (Out, error)
	limiter *rate.Limiter
	opts    Options
}

func (r retrier[In, Out]) run(ctx context.Context, item In) (Out, error) {
	var last Out
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return last, err
			}
		}

		itemCtx, cancel := context.WithTimeout(ctx, r.opts.ItemTimeout)
		out, err := r.fn(itemCtx, item)
		cancel()
		last = out
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		if !isTransient(err) || attempt >= r.opts.MaxRetries {
			return last, err
		}

		t := time.NewTimer(backoff(r.opts, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return last, ctx.Err()
		}
	}
}

func isTransient(err error) bool {
	var te *core.TransientError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

func backoff(opts Options, attempt int) time.Duration {
	sleep := opts.BackoffInitial
	for i := 0; i < attempt && sleep < opts.BackoffMax; i++ {
		sleep = min(sleep*2, opts.BackoffMax)
	}
	j := 1 + (rand.Float64()*2-1)*opts.BackoffJitterFrac
	return time.Duration(float64(sleep) * j)
}
