// Package record implements the fixed-size creature record formats edited by the
// batch tools: per-format field tables, a 16-bit checksum, and name-indexed access
// to attributes.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

var (
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrReadOnly          = errors.New("attribute is read-only")
	ErrOutOfRange        = errors.New("value out of range")
	ErrKindMismatch      = errors.New("value kind mismatch")
	ErrUnknownSize       = errors.New("no record format matches size")
	ErrNoShinyValue      = errors.New("attribute has no shiny value")
)

// Record is one decoded record. The zero value is not usable; use New or Decode.
type Record struct {
	layout *Layout
	data   []byte
}

// New returns an empty (all zero) record of the given layout.
func New(l *Layout) *Record {
	return &Record{layout: l, data: make([]byte, l.Size)}
}

// Decode picks the layout by length and copies b into a new record.
func Decode(b []byte) (*Record, error) {
	l, ok := LayoutBySize(int64(len(b)))
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnknownSize, len(b))
	}
	return DecodeAs(l, b)
}

// DecodeAs copies b into a new record of layout l.
func DecodeAs(l *Layout, b []byte) (*Record, error) {
	if len(b) != l.Size {
		return nil, fmt.Errorf("decode %s: got %d bytes, want %d", l.Name, len(b), l.Size)
	}
	data := make([]byte, len(b))
	copy(data, b)
	return &Record{layout: l, data: data}, nil
}

func (r *Record) Layout() *Layout { return r.layout }

// Bytes returns a copy of the encoded record.
func (r *Record) Bytes() []byte {
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// Snapshot returns the encoded record; it is paired with Restore.
func (r *Record) Snapshot() []byte { return r.Bytes() }

// Restore replaces the record contents with a previous snapshot.
func (r *Record) Restore(b []byte) {
	if len(b) == len(r.data) {
		copy(r.data, b)
	}
}

// Field returns the field descriptor for name.
func (r *Record) Field(name string) (Field, error) {
	f, ok := r.layout.Field(name)
	if !ok {
		return Field{}, fmt.Errorf("%w: %s has no attribute %q", ErrAttributeNotFound, r.layout.Name, name)
	}
	return f, nil
}

// Get reads the current value of an attribute.
func (r *Record) Get(name string) (Value, error) {
	f, err := r.Field(name)
	if err != nil {
		return Value{}, err
	}
	return r.read(f), nil
}

// Set writes an attribute after checking it against the field domain. Setting the
// key attribute to zero clears the whole record.
func (r *Record) Set(name string, v Value) error {
	f, err := r.Field(name)
	if err != nil {
		return err
	}
	if f.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, f.Name)
	}
	if f.Name == KeyAttribute && v.Kind == f.Kind && v.Int == 0 {
		r.Clear()
		return nil
	}
	if err := f.Check(v); err != nil {
		return err
	}
	r.write(f, v)
	return nil
}

func (r *Record) read(f Field) Value {
	b := r.data[f.Offset : f.Offset+f.Width]
	switch f.Kind {
	case KindBool:
		return BoolValue(b[0] != 0)
	case KindString:
		return StringValue(strings.TrimRight(string(b), "\x00"))
	case KindEnum:
		return EnumValue(readUint(b))
	default:
		return IntValue(readUint(b))
	}
}

func (r *Record) write(f Field, v Value) {
	b := r.data[f.Offset : f.Offset+f.Width]
	switch f.Kind {
	case KindBool:
		b[0] = 0
		if v.Bool {
			b[0] = 1
		}
	case KindString:
		clear(b)
		copy(b, v.Str)
	default:
		writeUint(b, v.Int)
	}
}

func readUint(b []byte) uint64 {
	var n uint64
	for i := len(b) - 1; i >= 0; i-- {
		n = n<<8 | uint64(b[i])
	}
	return n
}

func writeUint(b []byte, n uint64) {
	for i := range b {
		b[i] = byte(n)
		n >>= 8
	}
}

// Clear zeroes the record, turning it into an empty slot.
func (r *Record) Clear() { clear(r.data) }

// Key returns the identifying attribute; zero marks an empty slot.
func (r *Record) Key() uint64 {
	v, _ := r.Get(KeyAttribute)
	return v.Int
}

// Checksum returns the stored integrity code.
func (r *Record) Checksum() uint16 {
	return binary.LittleEndian.Uint16(r.data[checksumOffset:])
}

// ComputeChecksum sums the little-endian words after the header.
func (r *Record) ComputeChecksum() uint16 {
	var sum uint16
	body := r.data[headerSize:]
	for i := 0; i+1 < len(body); i += 2 {
		sum += binary.LittleEndian.Uint16(body[i:])
	}
	if len(body)%2 == 1 {
		sum += uint16(body[len(body)-1])
	}
	return sum
}

// RefreshChecksum stores the computed checksum.
func (r *Record) RefreshChecksum() {
	binary.LittleEndian.PutUint16(r.data[checksumOffset:], r.ComputeChecksum())
}

// Valid reports whether the record holds data and its checksum matches.
func (r *Record) Valid() bool {
	return r.Key() != 0 && r.Checksum() == r.ComputeChecksum()
}

func (r *Record) shinyXor(pid uint64) uint32 {
	tid, _ := r.Get("TID")
	sid, _ := r.Get("SID")
	return uint32(tid.Int^sid.Int^(pid>>16)^(pid&0xffff)) & 0xffff
}

// IsShiny reports whether the current PID is shiny for the current TID/SID.
func (r *Record) IsShiny() bool {
	pid, _ := r.Get(ShinyAttribute)
	return r.shinyXor(pid.Int) < r.layout.ShinyThreshold
}

// ShinyValue returns a random value for attribute name that makes the record shiny
// given its current trainer IDs. Only ShinyAttribute supports it.
func (r *Record) ShinyValue(name string, rng *rand.Rand) (Value, error) {
	f, err := r.Field(name)
	if err != nil {
		return Value{}, err
	}
	if f.Name != ShinyAttribute {
		return Value{}, fmt.Errorf("%w: %s", ErrNoShinyValue, f.Name)
	}
	tid, _ := r.Get("TID")
	sid, _ := r.Get("SID")
	low := uint64(rng.Uint32() & 0xffff)
	x := uint64(rng.Uint32N(r.layout.ShinyThreshold))
	high := (tid.Int ^ sid.Int ^ low ^ x) & 0xffff
	return IntValue(high<<16 | low), nil
}
