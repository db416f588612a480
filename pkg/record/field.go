package record

import (
	"fmt"
	"strconv"
)

// Kind is the primitive type of a record attribute.
type Kind int

const (
	_ Kind = iota // zero value is an invalid kind

	KindInteger
	KindEnum
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindEnum:
		return "enum"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field describes one named attribute stored at a fixed position in a record.
type Field struct {
	Name   string
	Kind   Kind
	Offset int
	// Width is the number of bytes the attribute occupies.
	Width int
	// Min and Max bound integer attributes (inclusive).
	Min, Max uint64
	// Enum lists the names of enum values; the stored value is the index.
	Enum     []string
	ReadOnly bool
}

// TypeName returns a short human-readable description of the field type.
func (f Field) TypeName() string {
	switch f.Kind {
	case KindInteger:
		return fmt.Sprintf("integer[%d..%d]", f.Min, f.Max)
	case KindEnum:
		return fmt.Sprintf("enum(%d values)", len(f.Enum))
	case KindString:
		return fmt.Sprintf("string(max %d)", f.Width)
	default:
		return f.Kind.String()
	}
}

// Check reports whether v is a legal value for the field.
func (f Field) Check(v Value) error {
	if v.Kind != f.Kind {
		return fmt.Errorf("%w: %s is %s, got %s", ErrKindMismatch, f.Name, f.Kind, v.Kind)
	}
	switch f.Kind {
	case KindInteger:
		if v.Int < f.Min || v.Int > f.Max {
			return fmt.Errorf("%w: %s=%d not in [%d, %d]", ErrOutOfRange, f.Name, v.Int, f.Min, f.Max)
		}
	case KindEnum:
		if v.Int >= uint64(len(f.Enum)) {
			return fmt.Errorf("%w: %s=%d has %d values", ErrOutOfRange, f.Name, v.Int, len(f.Enum))
		}
	case KindString:
		if len(v.Str) > f.Width {
			return fmt.Errorf("%w: %s longer than %d characters", ErrOutOfRange, f.Name, f.Width)
		}
		for i := 0; i < len(v.Str); i++ {
			if c := v.Str[i]; c < 0x20 || c > 0x7e {
				return fmt.Errorf("%w: %s contains non-printable byte 0x%02x", ErrOutOfRange, f.Name, c)
			}
		}
	}
	return nil
}

// Value is a typed attribute value. Integer and enum values use Int.
type Value struct {
	Kind Kind
	Int  uint64
	Bool bool
	Str  string
}

func IntValue(n uint64) Value    { return Value{Kind: KindInteger, Int: n} }
func EnumValue(n uint64) Value   { return Value{Kind: KindEnum, Int: n} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInteger, KindEnum:
		return v.Int == o.Int
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInteger, KindEnum:
		return strconv.FormatUint(v.Int, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	default:
		return ""
	}
}
