package record_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/batch-record-editor/pkg/record"
)

func newValid(t *testing.T, l *record.Layout, species uint64) *record.Record {
	t.Helper()

	r := record.New(l)
	require.NoError(t, r.Set("Species", record.IntValue(species)))
	require.NoError(t, r.Set("Level", record.IntValue(50)))
	r.RefreshChecksum()
	return r
}

func TestLayouts_DistinctSizes(t *testing.T) {
	seen := map[int]string{}
	for _, l := range record.Layouts() {
		prev, dup := seen[l.Size]
		assert.Falsef(t, dup, "%s and %s share size %d", l.Name, prev, l.Size)
		seen[l.Size] = l.Name

		got, ok := record.LayoutBySize(int64(l.Size))
		require.True(t, ok)
		assert.Same(t, l, got)
	}
	_, ok := record.LayoutBySize(81)
	assert.False(t, ok)
}

func TestLayout_WritableExcludesChecksum(t *testing.T) {
	names := record.PK3.Writable()
	assert.NotContains(t, names, record.ChecksumAttribute)
	assert.Equal(t, "PID", names[0])

	f, ok := record.PK6.Field("encryptionconstant")
	require.True(t, ok)
	assert.Equal(t, "EncryptionConstant", f.Name)
	assert.Equal(t, record.KindInteger, f.Kind)
}

func TestRecord_GetSetRoundTrip(t *testing.T) {
	r := record.New(record.PK7)

	require.NoError(t, r.Set("Species", record.IntValue(25)))
	require.NoError(t, r.Set("PID", record.IntValue(0xdeadbeef)))
	require.NoError(t, r.Set("IsEgg", record.BoolValue(true)))
	require.NoError(t, r.Set("Nature", record.EnumValue(3)))
	require.NoError(t, r.Set("Nickname", record.StringValue("SPARKY")))

	tests := []struct {
		name string
		want record.Value
	}{
		{name: "Species", want: record.IntValue(25)},
		{name: "pid", want: record.IntValue(0xdeadbeef)},
		{name: "IsEgg", want: record.BoolValue(true)},
		{name: "Nature", want: record.EnumValue(3)},
		{name: "Nickname", want: record.StringValue("SPARKY")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Get(tt.name)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %#v want %#v", got, tt.want)
		})
	}
}

func TestRecord_SetRejects(t *testing.T) {
	r := record.New(record.PK3)

	err := r.Set("Level", record.IntValue(101))
	assert.ErrorIs(t, err, record.ErrOutOfRange)

	err = r.Set("Level", record.BoolValue(true))
	assert.ErrorIs(t, err, record.ErrKindMismatch)

	err = r.Set("Nature", record.EnumValue(1))
	assert.ErrorIs(t, err, record.ErrAttributeNotFound)

	err = r.Set("Checksum", record.IntValue(1))
	assert.ErrorIs(t, err, record.ErrReadOnly)

	err = r.Set("Nickname", record.StringValue("ABCDEFGHIJK"))
	assert.ErrorIs(t, err, record.ErrOutOfRange)
}

func TestRecord_ZeroKeyClears(t *testing.T) {
	r := newValid(t, record.PK5, 10)
	require.NoError(t, r.Set("Species", record.IntValue(0)))

	assert.Equal(t, make([]byte, record.PK5.Size), r.Bytes())
	assert.False(t, r.Valid())
}

func TestRecord_ChecksumAndValidity(t *testing.T) {
	r := newValid(t, record.PK4, 1)
	assert.True(t, r.Valid())

	require.NoError(t, r.Set("Level", record.IntValue(99)))
	assert.False(t, r.Valid(), "checksum must be stale after a write")

	r.RefreshChecksum()
	assert.True(t, r.Valid())

	assert.False(t, record.New(record.PK4).Valid(), "empty slot is not valid")
}

func TestDecode(t *testing.T) {
	src := newValid(t, record.PK6, 700)

	got, err := record.Decode(src.Bytes())
	require.NoError(t, err)
	assert.Same(t, record.PK6, got.Layout())
	assert.Equal(t, uint64(700), got.Key())

	_, err = record.Decode(make([]byte, 12))
	assert.ErrorIs(t, err, record.ErrUnknownSize)
}

func TestRecord_ShinyValue(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, l := range record.Layouts() {
		r := newValid(t, l, 1)
		require.NoError(t, r.Set("TID", record.IntValue(12345)))
		require.NoError(t, r.Set("SID", record.IntValue(54321)))

		for i := 0; i < 50; i++ {
			v, err := r.ShinyValue("pid", rng)
			require.NoError(t, err)
			require.NoError(t, r.Set("PID", v))
			assert.Truef(t, r.IsShiny(), "%s pid=%#x not shiny", l.Name, v.Int)
		}
	}

	_, err := record.New(record.PK7).ShinyValue("Level", rng)
	assert.ErrorIs(t, err, record.ErrNoShinyValue)
}

func TestRecord_SnapshotRestore(t *testing.T) {
	r := newValid(t, record.PK7, 3)
	snap := r.Snapshot()

	require.NoError(t, r.Set("Level", record.IntValue(1)))
	r.Restore(snap)

	assert.Equal(t, snap, r.Bytes())
}
