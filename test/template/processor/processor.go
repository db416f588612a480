// Package processor shows a custom record type edited by the batch engine. It keeps
// attributes in a map and has no snapshot support.
package processor

import (
	"fmt"
	"strings"

	"github.com/palantir/batch-record-editor/pkg/record"
)

// Card is a minimal record with a rank and a suit.
type Card struct {
	vals map[string]uint64
}

var fields = map[string]record.Field{
	"rank": {Name: "rank", Kind: record.KindInteger, Width: 1, Min: 1, Max: 13},
	"suit": {Name: "suit", Kind: record.KindEnum, Width: 1, Enum: []string{"clubs", "diamonds", "hearts", "spades"}},
}

func NewCard(rank uint64, suit uint64) *Card {
	return &Card{vals: map[string]uint64{"rank": rank, "suit": suit}}
}

func (c *Card) Field(name string) (record.Field, error) {
	f, ok := fields[strings.ToLower(name)]
	if !ok {
		return record.Field{}, fmt.Errorf("%w: %s", record.ErrAttributeNotFound, name)
	}
	return f, nil
}

func (c *Card) Get(name string) (record.Value, error) {
	f, err := c.Field(name)
	if err != nil {
		return record.Value{}, err
	}
	return record.Value{Kind: f.Kind, Int: c.vals[f.Name]}, nil
}

func (c *Card) Set(name string, v record.Value) error {
	f, err := c.Field(name)
	if err != nil {
		return err
	}
	if err := f.Check(v); err != nil {
		return err
	}
	c.vals[f.Name] = v.Int
	return nil
}
