// Package instruction parses batch edit programs: one instruction per line, either a
// filter (".Attr=value", "!Attr=value") or a mutation directive ("=Attr=value").
package instruction

import (
	"errors"
	"fmt"
	"strings"
)

// Op is the leading character of an instruction line.
type Op byte

const (
	OpEquals    Op = '.'
	OpNotEquals Op = '!'
	OpSet       Op = '='
)

// Comparison is the test a filter applies.
type Comparison int

const (
	Equals Comparison = iota
	NotEquals
)

func (c Comparison) String() string {
	if c == NotEquals {
		return "!="
	}
	return "=="
}

// Filter gates a record on one attribute's current value.
type Filter struct {
	Attribute  string
	Comparison Comparison
	Operand    string
	// Line is the 1-based source line.
	Line int
}

// Directive sets one attribute.
type Directive struct {
	Attribute string
	Operand   string
	Line      int
}

// Set is a parsed program. Both lists keep source order.
type Set struct {
	Filters    []Filter
	Directives []Directive
}

// Len returns the number of instructions.
func (s Set) Len() int { return len(s.Filters) + len(s.Directives) }

// EmptyFilterOperands returns filters whose operand is blank.
func (s Set) EmptyFilterOperands() []Filter {
	var out []Filter
	for _, f := range s.Filters {
		if strings.TrimSpace(f.Operand) == "" {
			out = append(out, f)
		}
	}
	return out
}

// EmptyDirectiveOperands returns directives whose operand is blank.
func (s Set) EmptyDirectiveOperands() []Directive {
	var out []Directive
	for _, d := range s.Directives {
		if strings.TrimSpace(d.Operand) == "" {
			out = append(out, d)
		}
	}
	return out
}

// ParseError reports a malformed instruction line.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d %q: %s", e.Line, e.Text, e.Reason)
}

var ErrEmptyLine = errors.New("empty line in instruction list")

// SplitLines splits instruction text into lines, dropping a single trailing newline
// and carriage returns.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// CheckLines rejects empty lines. It runs before Parse.
func CheckLines(lines []string) error {
	for i, l := range lines {
		if len(l) == 0 {
			return fmt.Errorf("%w (line %d)", ErrEmptyLine, i+1)
		}
	}
	return nil
}

// Parse classifies each line by its leading character.
func Parse(lines []string) (Set, error) {
	var set Set
	for i, line := range lines {
		n := i + 1
		if line == "" {
			return Set{}, &ParseError{Line: n, Text: line, Reason: "empty line"}
		}

		op := Op(line[0])
		switch op {
		case OpEquals, OpNotEquals, OpSet:
		default:
			return Set{}, &ParseError{Line: n, Text: line, Reason: fmt.Sprintf("unknown prefix %q", line[0])}
		}

		attr, operand, ok := strings.Cut(line[1:], "=")
		if !ok {
			return Set{}, &ParseError{Line: n, Text: line, Reason: "missing '=' separator"}
		}
		attr = strings.TrimSpace(attr)
		if attr == "" {
			return Set{}, &ParseError{Line: n, Text: line, Reason: "empty attribute name"}
		}

		switch op {
		case OpEquals:
			set.Filters = append(set.Filters, Filter{Attribute: attr, Comparison: Equals, Operand: operand, Line: n})
		case OpNotEquals:
			set.Filters = append(set.Filters, Filter{Attribute: attr, Comparison: NotEquals, Operand: operand, Line: n})
		case OpSet:
			set.Directives = append(set.Directives, Directive{Attribute: attr, Operand: operand, Line: n})
		}
	}
	return set, nil
}

// ParseText is SplitLines, CheckLines and Parse in one call.
func ParseText(text string) (Set, error) {
	lines := SplitLines(text)
	if err := CheckLines(lines); err != nil {
		return Set{}, err
	}
	return Parse(lines)
}

// Line builds an instruction stub "<op><attribute>=" for authoring.
func Line(op Op, attribute string) string {
	return string(op) + attribute + "="
}

// Append adds line to an instruction text, starting a new line when the text does
// not already end with one.
func Append(text, line string) string {
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + line
}
