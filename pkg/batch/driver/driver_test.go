package driver_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/batch-record-editor/pkg/batch/core"
	"github.com/palantir/batch-record-editor/pkg/batch/driver"
	"github.com/palantir/batch-record-editor/pkg/batch/instruction"
	"github.com/palantir/batch-record-editor/pkg/record"
)

func mon(t *testing.T, l *record.Layout, species, level uint64) *record.Record {
	t.Helper()
	r := record.New(l)
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

type progress struct {
	mu   sync.Mutex
	seen []int
}

func (p *progress) fn(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, n)
}

func (p *progress) assertSequence(t *testing.T, n int) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.seen, n)
	for i, v := range p.seen {
		assert.Equal(t, i+1, v)
	}
}

func opts(p *progress) driver.Options {
	return driver.Options{Rand: rand.New(rand.NewPCG(3, 4)), Progress: p.fn}
}

func TestRunBulk_NoInstructions(t *testing.T) {
	recs := []*record.Record{
		mon(t, record.PK6, 1, 5),
		record.New(record.PK6),
		mon(t, record.PK6, 2, 5),
		mon(t, record.PK6, 3, 5),
	}
	p := &progress{}

	st, err := driver.RunBulk(context.Background(), recs, instruction.Set{}, opts(p))
	require.NoError(t, err)
	assert.Equal(t, core.Stats{Total: 4, Considered: 3}, st)
	p.assertSequence(t, 4)
}

func TestRunBulk_FilterAndSet(t *testing.T) {
	recs := []*record.Record{mon(t, record.PK5, 1, 50), mon(t, record.PK5, 2, 50)}

	st, err := driver.RunBulk(context.Background(), recs, parse(t, ".species=1", "=level=100"), opts(&progress{}))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Considered)
	assert.Equal(t, 1, st.Modified)
	assert.Zero(t, st.Errors)

	lvl, _ := recs[0].Get("Level")
	assert.Equal(t, uint64(100), lvl.Int)
	assert.True(t, recs[0].Valid(), "checksum refreshed")

	lvl, _ = recs[1].Get("Level")
	assert.Equal(t, uint64(50), lvl.Int)
	assert.Equal(t, "Modified 1/2 records.", st.Summary())
}

func TestRunBulk_ErrorsAreTallied(t *testing.T) {
	recs := []*record.Record{mon(t, record.PK3, 1, 50), mon(t, record.PK3, 2, 50)}
	before := recs[0].Bytes()

	st, err := driver.RunBulk(context.Background(), recs, parse(t, "=Level=abc"), opts(&progress{}))
	require.NoError(t, err)
	assert.Equal(t, core.Stats{Total: 2, Considered: 2, Errors: 2}, st)
	assert.Equal(t, before, recs[0].Bytes())
}

func TestRunBulk_ClearingKey(t *testing.T) {
	recs := []*record.Record{mon(t, record.PK7, 25, 5)}

	st, err := driver.RunBulk(context.Background(), recs, parse(t, "=Species=0"), opts(&progress{}))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Modified)
	assert.Equal(t, make([]byte, record.PK7.Size), recs[0].Bytes())
}

func writeRecord(t *testing.T, dir, name string, r *record.Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, r.Bytes(), 0o644))
	return path
}

func TestRunTree(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out")

	paths := []string{
		writeRecord(t, src, "match.pk7", mon(t, record.PK7, 1, 50)),
		writeRecord(t, src, "other.pk4", mon(t, record.PK4, 2, 50)),
		writeRecord(t, src, "broken.pk6", func() *record.Record {
			r := mon(t, record.PK6, 1, 50)
			require.NoError(t, r.Set("Level", record.IntValue(9)))
			return r
		}()),
		filepath.Join(src, "missing.pk5"),
	}
	odd := filepath.Join(src, "notes.txt")
	require.NoError(t, os.WriteFile(odd, []byte("not a record"), 0o644))
	paths = append(paths, odd)

	p := &progress{}
	st, err := driver.RunTree(context.Background(), paths, parse(t, ".Species=1", "=Level=100"), dest, opts(p))
	require.NoError(t, err)
	p.assertSequence(t, len(paths))

	assert.Equal(t, core.Stats{Total: 5, Considered: 3, Modified: 1, Errors: 1}, st)
	assert.Equal(t, "Modified 1/3 records.\n1 records ignored due to an internal error.", st.Summary())

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "match.pk7", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dest, "match.pk7"))
	require.NoError(t, err)
	out, err := record.Decode(data)
	require.NoError(t, err)
	assert.True(t, out.Valid())
	lvl, _ := out.Get("Level")
	assert.Equal(t, uint64(100), lvl.Int)

	orig, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.NotEqual(t, data, orig, "source left untouched")
}

func TestRunTree_WrongSizeProducesNoOutput(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	path := filepath.Join(src, "short.pk7")
	require.NoError(t, os.WriteFile(path, make([]byte, record.PK7.Size-1), 0o644))

	st, err := driver.RunTree(context.Background(), []string{path}, parse(t, "=Level=1"), dest, opts(&progress{}))
	require.NoError(t, err)
	assert.Zero(t, st.Considered)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunTree_ClearedRecordIsNotWritten(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	path := writeRecord(t, src, "a.pk6", mon(t, record.PK6, 7, 5))

	st, err := driver.RunTree(context.Background(), []string{path}, parse(t, "=Species=0"), dest, opts(&progress{}))
	require.NoError(t, err)
	assert.Equal(t, core.Stats{Total: 1, Considered: 1}, st)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunTree_ManyWorkers(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	var paths []string
	for i := 0; i < 40; i++ {
		paths = append(paths, writeRecord(t, src, fmt.Sprintf("%02d.pk6", i), mon(t, record.PK6, uint64(i%3+1), 5)))
	}

	p := &progress{}
	o := opts(p)
	o.Workers = 4
	st, err := driver.RunTree(context.Background(), paths, parse(t, "!Species=3", "=PID=$shiny"), dest, o)
	require.NoError(t, err)
	p.assertSequence(t, 40)
	assert.Equal(t, 40, st.Considered)
	assert.Zero(t, st.Errors)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, st.Modified)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dest, e.Name()))
		require.NoError(t, err)
		r, err := record.Decode(data)
		require.NoError(t, err)
		assert.True(t, r.IsShiny(), e.Name())
		assert.True(t, r.Valid(), e.Name())
	}
}

func TestRunTree_WriteFailureDoesNotStopRun(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	blocked := writeRecord(t, src, "blocked.pk6", mon(t, record.PK6, 1, 5))
	ok := writeRecord(t, src, "ok.pk6", mon(t, record.PK6, 1, 5))
	// a non-empty directory where the output file should go
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "blocked.pk6", "keep"), 0o755))

	p := &progress{}
	st, err := driver.RunTree(context.Background(), []string{blocked, ok}, parse(t, "=Level=6"), dest, opts(p))
	require.NoError(t, err)
	p.assertSequence(t, 2)
	assert.Equal(t, core.Stats{Total: 2, Considered: 2, Modified: 1, Errors: 1}, st)

	data, err := os.ReadFile(filepath.Join(dest, "ok.pk6"))
	require.NoError(t, err)
	out, err := record.Decode(data)
	require.NoError(t, err)
	lvl, _ := out.Get("Level")
	assert.Equal(t, uint64(6), lvl.Int)
}

func TestRunBulk_RandomKeyNeverClears(t *testing.T) {
	recs := make([]*record.Record, 2000)
	for i := range recs {
		recs[i] = mon(t, record.PK3, 1, 5)
	}

	o := opts(&progress{})
	o.Rand = rand.New(rand.NewPCG(1, 2))
	_, err := driver.RunBulk(context.Background(), recs, parse(t, "=Species=$rand"), o)
	require.NoError(t, err)
	for i, r := range recs {
		require.NotZerof(t, r.Key(), "record %d was cleared", i)
		require.Truef(t, r.Valid(), "record %d", i)
	}
}
