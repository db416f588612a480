package engine_test

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/batch-record-editor/pkg/batch/engine"
	"github.com/palantir/batch-record-editor/pkg/batch/instruction"
	"github.com/palantir/batch-record-editor/pkg/batch/value"
	"github.com/palantir/batch-record-editor/pkg/record"
)

func newRecord(t *testing.T, species, level uint64) *record.Record {
	t.Helper()

	r := record.New(record.PK6)
	require.NoError(t, r.Set("Species", record.IntValue(species)))
	require.NoError(t, r.Set("Level", record.IntValue(level)))
	r.RefreshChecksum()
	return r
}

func parse(t *testing.T, lines ...string) instruction.Set {
	t.Helper()

	set, err := instruction.Parse(lines)
	require.NoError(t, err)
	return set
}

func newEngine() *engine.Engine {
	return engine.New(
		engine.WithRand(rand.New(rand.NewPCG(1, 1))),
		engine.WithValidity(func(r engine.Record) bool {
			rec, ok := r.(*record.Record)
			return ok && rec.Valid()
		}),
	)
}

func level(t *testing.T, r *record.Record) uint64 {
	t.Helper()
	v, err := r.Get("Level")
	require.NoError(t, err)
	return v.Int
}

func TestApply_FilterThenSet(t *testing.T) {
	set := parse(t, ".species=1", "=level=100")
	e := newEngine()

	match := newRecord(t, 1, 50)
	out, err := e.Apply(match, set)
	require.NoError(t, err)
	assert.Equal(t, engine.Modified, out)
	assert.Equal(t, uint64(100), level(t, match))

	other := newRecord(t, 2, 50)
	before := other.Bytes()
	out, err = e.Apply(other, set)
	require.NoError(t, err)
	assert.Equal(t, engine.Unmodified, out)
	assert.Equal(t, before, other.Bytes())
}

func TestApply_InvalidLeavesRecordUntouched(t *testing.T) {
	r := newRecord(t, 1, 50)
	require.NoError(t, r.Set("Level", record.IntValue(60))) // stale checksum
	before := r.Bytes()

	out, err := newEngine().Apply(r, parse(t, "=Level=100"))
	require.NoError(t, err)
	assert.Equal(t, engine.Invalid, out)
	assert.Equal(t, before, r.Bytes())
}

func TestApply_NoNetChangeIsUnmodified(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{name: "no directives", lines: []string{".Species=1"}},
		{name: "same value", lines: []string{"=Level=50"}},
		{name: "reverted", lines: []string{"=Level=70", "=Level=50"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecord(t, 1, 50)
			out, err := newEngine().Apply(r, parse(t, tt.lines...))
			require.NoError(t, err)
			assert.Equal(t, engine.Unmodified, out)
		})
	}
}

func TestApply_NotEqualsFilter(t *testing.T) {
	e := newEngine()
	set := parse(t, "!Level=100", "=Level=100")

	r := newRecord(t, 1, 10)
	out, _ := e.Apply(r, set)
	assert.Equal(t, engine.Modified, out)
	r.RefreshChecksum()

	out, _ = e.Apply(r, set)
	assert.Equal(t, engine.Unmodified, out, "second pass is filtered out")
}

func TestApply_FilterFailuresFilterOut(t *testing.T) {
	e := newEngine()
	for _, line := range []string{".Unknown=1", ".Level=abc", ".Country=1x"} {
		r := newRecord(t, 1, 50)
		out, err := e.Apply(r, parse(t, line, "=Level=99"))
		require.NoError(t, err)
		assert.Equalf(t, engine.Unmodified, out, "filter %q", line)
		assert.Equal(t, uint64(50), level(t, r))
	}
}

func TestApply_DirectiveErrorsRollBack(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		wantErr error
	}{
		{name: "unknown attribute", lines: []string{"=Level=99", "=ShinyLeaf=1"}, wantErr: record.ErrAttributeNotFound},
		{name: "coercion", lines: []string{"=Level=99", "=Level=abc"}},
		{name: "domain", lines: []string{"=Level=99", "=Level=250"}, wantErr: record.ErrOutOfRange},
		{name: "read-only", lines: []string{"=Level=99", "=Checksum=1"}, wantErr: record.ErrReadOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecord(t, 1, 50)
			before := r.Bytes()

			out, err := newEngine().Apply(r, parse(t, tt.lines...))
			assert.Equal(t, engine.Error, out)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line 2")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, before, r.Bytes())
		})
	}
}

func TestApply_CoercionErrorType(t *testing.T) {
	_, err := newEngine().Apply(newRecord(t, 1, 50), parse(t, "=IsEgg=perhaps"))

	var ce *value.CoercionError
	assert.True(t, errors.As(err, &ce))
}

func TestApply_DirectivesSeeEarlierEffects(t *testing.T) {
	e := newEngine()
	for i := 0; i < 20; i++ {
		r := newRecord(t, 1, 50)
		out, err := e.Apply(r, parse(t, "=TID=1234", "=SID=999", "=PID=$shiny"))
		require.NoError(t, err)
		assert.Equal(t, engine.Modified, out)
		assert.True(t, r.IsShiny())
	}
}

func TestApply_RandRerolledPerRecord(t *testing.T) {
	e := newEngine()
	set := parse(t, "=EncryptionConstant=$rand")

	seen := map[uint64]struct{}{}
	for i := 0; i < 10; i++ {
		r := newRecord(t, 1, 50)
		_, err := e.Apply(r, set)
		require.NoError(t, err)
		v, _ := r.Get("EncryptionConstant")
		seen[v.Int] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

// mapRecord has no snapshot support, so the engine compares touched attributes.
type mapRecord struct {
	vals map[string]uint64
	fail string
}

func (m *mapRecord) Field(name string) (record.Field, error) {
	key := strings.ToLower(name)
	if _, ok := m.vals[key]; !ok {
		return record.Field{}, fmt.Errorf("%w: %s", record.ErrAttributeNotFound, name)
	}
	return record.Field{Name: key, Kind: record.KindInteger, Max: 1000}, nil
}

func (m *mapRecord) Get(name string) (record.Value, error) {
	return record.IntValue(m.vals[name]), nil
}

func (m *mapRecord) Set(name string, v record.Value) error {
	if name == m.fail {
		return errors.New("rejected")
	}
	m.vals[name] = v.Int
	return nil
}

func TestApply_WithoutSnapshot(t *testing.T) {
	e := engine.New(engine.WithRand(rand.New(rand.NewPCG(9, 9))))

	m := &mapRecord{vals: map[string]uint64{"a": 1, "b": 2}}
	out, err := e.Apply(m, parse(t, ".a=1", "=b=2"))
	require.NoError(t, err)
	assert.Equal(t, engine.Unmodified, out)

	out, err = e.Apply(m, parse(t, "=B=7", "=a=1"))
	require.NoError(t, err)
	assert.Equal(t, engine.Modified, out)
	assert.Equal(t, uint64(7), m.vals["b"])

	m.fail = "a"
	out, err = e.Apply(m, parse(t, "=a=3"))
	assert.Equal(t, engine.Error, out)
	assert.Error(t, err)

	out, _ = e.Apply(m, parse(t, ".a=$shiny", "=b=1"))
	assert.Equal(t, engine.Unmodified, out, "no shiny source filters out")
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "modified", engine.Modified.String())
	assert.Equal(t, "Outcome(9)", engine.Outcome(9).String())
}
