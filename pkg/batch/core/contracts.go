package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// InputAdapter loads the records of a bulk source.
type InputAdapter[In any] interface {
	Load(ctx context.Context) ([]In, error)
}

// OutputAdapter replaces the contents of a bulk source in one atomic step.
type OutputAdapter[Out any] interface {
	Store(ctx context.Context, rows []Out) error
}

// Store is a bulk source read at run start and replaced at run end.
type Store[T any] interface {
	InputAdapter[T]
	OutputAdapter[T]
}

// Processor transforms one input item into one output item.
type Processor[In any, Out any] interface {
	Process(ctx context.Context, in In) (Out, error)
}

// ProcessFunc adapts a function to the Processor interface.
type ProcessFunc[In any, Out any] func(ctx context.Context, in In) (Out, error)

func (f ProcessFunc[In, Out]) Process(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// ProgressFunc receives the number of items handled so far, after every item.
// Values increase monotonically from 1 to the item count.
type ProgressFunc func(processed int)

// Mode selects the data source of a run.
type Mode string

const (
	ModeBulk Mode = "bulk"
	ModeTree Mode = "tree"
)

var ErrUnknownMode = errors.New("unknown mode")

// ParseMode accepts a mode name or one of its aliases. Empty means bulk.
func ParseMode(raw string) (Mode, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "bulk":
		return ModeBulk, nil
	case "tree", "folder", "dir", "directory":
		return ModeTree, nil
	default:
		return "", fmt.Errorf("%w %q (want bulk or tree)", ErrUnknownMode, raw)
	}
}

// Stats are the counters of one run.
type Stats struct {
	// Total is the number of items in the source, including skipped ones.
	Total      int
	Considered int
	Modified   int
	Errors     int
}

// Summary renders the end-of-run message.
func (s Stats) Summary() string {
	out := fmt.Sprintf("Modified %d/%d records.", s.Modified, s.Considered)
	if s.Errors > 0 {
		out += fmt.Sprintf("\n%d records ignored due to an internal error.", s.Errors)
	}
	return out
}

// TransientError marks an error as retryable by worker implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryableIO wraps filesystem errors that usually clear on a second attempt
// (EAGAIN, EBUSY, EINTR) in a TransientError. Other errors pass through.
func RetryableIO(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EINTR) {
		return &TransientError{Err: err}
	}
	return err
}
