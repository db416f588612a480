// Package engine applies a parsed instruction set to one record at a time.
package engine

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/palantir/batch-record-editor/pkg/batch/instruction"
	"github.com/palantir/batch-record-editor/pkg/batch/value"
	"github.com/palantir/batch-record-editor/pkg/record"
)

// Outcome classifies one Apply call.
type Outcome int

const (
	Invalid Outcome = iota
	Unmodified
	Modified
	Error
)

func (o Outcome) String() string {
	switch o {
	case Invalid:
		return "invalid"
	case Unmodified:
		return "unmodified"
	case Modified:
		return "modified"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Record is the name-indexed accessor the engine edits.
type Record interface {
	Field(name string) (record.Field, error)
	Get(name string) (record.Value, error)
	Set(name string, v record.Value) error
}

// Snapshotter is implemented by records that can capture and restore their state.
// When available the engine uses it to detect net change and to undo a failed run.
type Snapshotter interface {
	Snapshot() []byte
	Restore([]byte)
}

// ValidFunc is the caller's record pre-check.
type ValidFunc func(Record) bool

// Engine is not safe for concurrent use: it owns a random source.
type Engine struct {
	valid ValidFunc
	rng   *rand.Rand
}

type Option func(*Engine)

// WithValidity sets the pre-check. By default every record is valid.
func WithValidity(fn ValidFunc) Option {
	return func(e *Engine) { e.valid = fn }
}

// WithRand sets the random source used for dynamic tokens.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		seed := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return e
}

// Apply filters rec and, if every filter passes, applies the directives in order.
// The returned error carries detail for an Error outcome and is nil otherwise.
func (e *Engine) Apply(rec Record, set instruction.Set) (Outcome, error) {
	if e.valid != nil && !e.valid(rec) {
		return Invalid, nil
	}

	for _, f := range set.Filters {
		if !e.match(rec, f) {
			return Unmodified, nil
		}
	}
	if len(set.Directives) == 0 {
		return Unmodified, nil
	}

	snap, canSnap := rec.(Snapshotter)
	var before []byte
	if canSnap {
		before = snap.Snapshot()
	}
	touched := make(map[string]record.Value, len(set.Directives))

	for _, d := range set.Directives {
		if err := e.set(rec, d, touched); err != nil {
			if canSnap {
				snap.Restore(before)
			}
			return Error, fmt.Errorf("line %d: %w", d.Line, err)
		}
	}

	if canSnap {
		if bytes.Equal(before, snap.Snapshot()) {
			return Unmodified, nil
		}
		return Modified, nil
	}
	for name, old := range touched {
		cur, err := rec.Get(name)
		if err != nil || !cur.Equal(old) {
			return Modified, nil
		}
	}
	return Unmodified, nil
}

func (e *Engine) match(rec Record, f instruction.Filter) bool {
	field, err := rec.Field(f.Attribute)
	if err != nil {
		return false
	}
	cur, err := rec.Get(field.Name)
	if err != nil {
		return false
	}
	want, err := value.Resolve(field, f.Operand, e.rng, shinySource(rec))
	if err != nil {
		return false
	}
	if f.Comparison == instruction.NotEquals {
		return !cur.Equal(want)
	}
	return cur.Equal(want)
}

func (e *Engine) set(rec Record, d instruction.Directive, touched map[string]record.Value) error {
	field, err := rec.Field(d.Attribute)
	if err != nil {
		return err
	}
	if _, seen := touched[field.Name]; !seen {
		old, err := rec.Get(field.Name)
		if err != nil {
			return err
		}
		touched[field.Name] = old
	}
	v, err := value.Resolve(field, d.Operand, e.rng, shinySource(rec))
	if err != nil {
		return err
	}
	return rec.Set(field.Name, v)
}

func shinySource(rec Record) value.ShinySource {
	if s, ok := rec.(value.ShinySource); ok {
		return s
	}
	return nil
}
