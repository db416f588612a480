package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/palantir/batch-record-editor/pkg/batch/instruction"
)

var (
	ErrEmptyFilterOperand    = errors.New("empty filter value")
	ErrEmptyDirectiveOperand = errors.New("empty property value")
)

// Prepare turns instruction text into a Set, applying the checks that must pass
// before any record is touched. Blank text is an empty program that modifies nothing.
func Prepare(text string, allowEmpty bool) (instruction.Set, error) {
	if strings.TrimSpace(text) == "" {
		return instruction.Set{}, nil
	}
	set, err := instruction.ParseText(text)
	if err != nil {
		return instruction.Set{}, err
	}

	if empty := set.EmptyFilterOperands(); len(empty) > 0 {
		return instruction.Set{}, fmt.Errorf("%w: line %d (%s)", ErrEmptyFilterOperand, empty[0].Line, empty[0].Attribute)
	}
	if empty := set.EmptyDirectiveOperands(); len(empty) > 0 && !allowEmpty {
		names := make([]string, 0, len(empty))
		for _, d := range empty {
			names = append(names, d.Attribute)
		}
		return instruction.Set{}, fmt.Errorf("%w: %s", ErrEmptyDirectiveOperand, strings.Join(names, ", "))
	}
	return set, nil
}
