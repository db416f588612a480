// Package value turns instruction operands into typed record values.
package value

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/palantir/batch-record-editor/pkg/record"
)

const (
	// TokenRand resolves to a random legal value of the attribute.
	TokenRand = "$rand"
	// TokenShiny resolves to a value that makes the record shiny.
	TokenShiny = "$shiny"
)

var ErrNoShinySource = errors.New("record has no shiny source")

// CoercionError reports an operand that cannot become a value of the attribute type.
type CoercionError struct {
	Attribute string
	Operand   string
	Err       error
}

func (e *CoercionError) Error() string {
	if e == nil || e.Err == nil {
		return "coercion error"
	}
	return fmt.Sprintf("coerce %q for %s: %v", e.Operand, e.Attribute, e.Err)
}

func (e *CoercionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ShinySource produces a shiny value for an attribute given a record's current state.
type ShinySource interface {
	ShinyValue(attribute string, rng *rand.Rand) (record.Value, error)
}

// IsDynamic reports whether operand is re-resolved on every application.
func IsDynamic(operand string) bool {
	return operand == TokenRand || operand == TokenShiny
}

// Resolve converts operand to a value for f. Dynamic tokens draw from rng; shiny may
// be nil when the caller has no shiny source.
func Resolve(f record.Field, operand string, rng *rand.Rand, shiny ShinySource) (record.Value, error) {
	switch operand {
	case TokenRand:
		return Random(f, rng), nil
	case TokenShiny:
		if shiny == nil {
			return record.Value{}, &CoercionError{Attribute: f.Name, Operand: operand, Err: ErrNoShinySource}
		}
		v, err := shiny.ShinyValue(f.Name, rng)
		if err != nil {
			return record.Value{}, &CoercionError{Attribute: f.Name, Operand: operand, Err: err}
		}
		return v, nil
	}

	v, err := Parse(f, operand)
	if err != nil {
		return record.Value{}, &CoercionError{Attribute: f.Name, Operand: operand, Err: err}
	}
	return v, nil
}

// Parse converts a literal operand according to the field kind and checks the domain.
func Parse(f record.Field, operand string) (record.Value, error) {
	var v record.Value
	switch f.Kind {
	case record.KindInteger:
		n, err := parseUint(strings.TrimSpace(operand))
		if err != nil {
			return record.Value{}, err
		}
		v = record.IntValue(n)
	case record.KindEnum:
		n, err := parseEnum(f, strings.TrimSpace(operand))
		if err != nil {
			return record.Value{}, err
		}
		v = record.EnumValue(n)
	case record.KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(operand))
		if err != nil {
			return record.Value{}, err
		}
		v = record.BoolValue(b)
	case record.KindString:
		v = record.StringValue(operand)
	default:
		return record.Value{}, fmt.Errorf("unsupported kind %s", f.Kind)
	}
	if err := f.Check(v); err != nil {
		return record.Value{}, err
	}
	return v, nil
}

// parseUint reads a decimal integer, or hexadecimal with an explicit 0x prefix.
// Leading zeros stay decimal.
func parseUint(s string) (uint64, error) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseEnum(f record.Field, s string) (uint64, error) {
	for i, name := range f.Enum {
		if strings.EqualFold(name, s) {
			return uint64(i), nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a %s value", s, f.Name)
	}
	return n, nil
}

const randAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Random draws a uniformly distributed legal value for f.
func Random(f record.Field, rng *rand.Rand) record.Value {
	switch f.Kind {
	case record.KindEnum:
		if len(f.Enum) == 0 {
			return record.EnumValue(0)
		}
		return record.EnumValue(rng.Uint64N(uint64(len(f.Enum))))
	case record.KindBool:
		return record.BoolValue(rng.IntN(2) == 1)
	case record.KindString:
		if f.Width == 0 {
			return record.StringValue("")
		}
		b := make([]byte, 1+rng.IntN(f.Width))
		for i := range b {
			b[i] = randAlphabet[rng.IntN(len(randAlphabet))]
		}
		return record.StringValue(string(b))
	default:
		lo := f.Min
		// a zero key clears the record
		if f.Name == record.KeyAttribute && lo == 0 {
			lo = 1
		}
		if lo > f.Max {
			return record.IntValue(f.Max)
		}
		span := f.Max - lo
		if span == ^uint64(0) {
			return record.IntValue(rng.Uint64())
		}
		return record.IntValue(lo + rng.Uint64N(span+1))
	}
}
