// Package schema enumerates the record formats the batch editor knows about and the
// attributes each one exposes for writing.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/palantir/batch-record-editor/pkg/record"
)

var ErrNotFound = errors.New("not found")

// GroupKind distinguishes the selector views.
type GroupKind int

const (
	// GroupAll holds attributes present in every schema.
	GroupAll GroupKind = iota
	// GroupSchema holds the attributes of one schema.
	GroupSchema
	// GroupAny holds attributes present in at least one schema.
	GroupAny
)

// Descriptor identifies one record schema and its writable attributes.
type Descriptor struct {
	Name   string
	Layout *record.Layout
	attrs  []string
}

// Attributes returns the writable attribute names in declaration order.
func (d Descriptor) Attributes() []string {
	out := make([]string, len(d.attrs))
	copy(out, d.attrs)
	return out
}

// Group is a named selector view over one or more schemas.
type Group struct {
	Name       string
	Kind       GroupKind
	Attributes []string
}

// Has reports whether the group exposes name, ignoring case.
func (g Group) Has(name string) bool {
	name = strings.TrimSpace(name)
	for _, a := range g.Attributes {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// Registry is built once and read concurrently afterwards.
type Registry struct {
	schemas []Descriptor
	groups  []Group
}

// NewRegistry builds a registry over layouts in the given order. Group index 0 is the
// "all" view, 1..N follow layouts, N+1 is the "any" view.
func NewRegistry(layouts ...*record.Layout) *Registry {
	r := &Registry{schemas: make([]Descriptor, 0, len(layouts))}
	for _, l := range layouts {
		r.schemas = append(r.schemas, Descriptor{Name: l.Name, Layout: l, attrs: l.Writable()})
	}

	r.groups = make([]Group, 0, len(layouts)+2)
	r.groups = append(r.groups, Group{Name: "all", Kind: GroupAll, Attributes: r.intersection()})
	for _, d := range r.schemas {
		r.groups = append(r.groups, Group{Name: d.Name, Kind: GroupSchema, Attributes: d.Attributes()})
	}
	r.groups = append(r.groups, Group{Name: "any", Kind: GroupAny, Attributes: r.union()})
	return r
}

// Default returns a registry over every known record layout, newest first.
func Default() *Registry {
	return NewRegistry(record.Layouts()...)
}

func (r *Registry) intersection() []string {
	if len(r.schemas) == 0 {
		return nil
	}
	var out []string
	for _, name := range r.schemas[0].attrs {
		inAll := true
		for _, d := range r.schemas[1:] {
			if _, ok := d.Layout.Field(name); !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) union() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range r.schemas {
		for _, name := range d.attrs {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Schemas returns the descriptors in declared order.
func (r *Registry) Schemas() []Descriptor {
	out := make([]Descriptor, len(r.schemas))
	copy(out, r.schemas)
	return out
}

// Schema looks up a descriptor by name, ignoring case.
func (r *Registry) Schema(name string) (Descriptor, error) {
	for _, d := range r.schemas {
		if strings.EqualFold(d.Name, strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("schema %q: %w", name, ErrNotFound)
}

// AttributesOf returns the writable attributes of a schema.
func (r *Registry) AttributesOf(schema string) ([]string, error) {
	d, err := r.Schema(schema)
	if err != nil {
		return nil, err
	}
	return d.Attributes(), nil
}

// AttributeType returns the field descriptor of a writable attribute.
func (r *Registry) AttributeType(schema, name string) (record.Field, error) {
	d, err := r.Schema(schema)
	if err != nil {
		return record.Field{}, err
	}
	f, ok := d.Layout.Field(name)
	if !ok || f.ReadOnly {
		return record.Field{}, fmt.Errorf("attribute %q of %s: %w", name, d.Name, ErrNotFound)
	}
	return f, nil
}

// Groups returns every selector view in index order.
func (r *Registry) Groups() []Group {
	out := make([]Group, len(r.groups))
	copy(out, r.groups)
	return out
}

// Group returns the selector view at index i.
func (r *Registry) Group(i int) (Group, error) {
	if i < 0 || i >= len(r.groups) {
		return Group{}, fmt.Errorf("group index %d: %w", i, ErrNotFound)
	}
	return r.groups[i], nil
}

// GroupByName returns the selector view with the given name, ignoring case.
func (r *Registry) GroupByName(name string) (int, Group, error) {
	for i, g := range r.groups {
		if strings.EqualFold(g.Name, strings.TrimSpace(name)) {
			return i, g, nil
		}
	}
	return 0, Group{}, fmt.Errorf("group %q: %w", name, ErrNotFound)
}

// GroupAttributeType returns the type of an attribute as seen from group i: the
// first schema in declared order that has the attribute decides.
func (r *Registry) GroupAttributeType(i int, name string) (record.Field, error) {
	g, err := r.Group(i)
	if err != nil {
		return record.Field{}, err
	}
	if !g.Has(name) {
		return record.Field{}, fmt.Errorf("attribute %q in group %s: %w", name, g.Name, ErrNotFound)
	}
	if g.Kind == GroupSchema {
		return r.AttributeType(g.Name, name)
	}
	for _, d := range r.schemas {
		if f, err := r.AttributeType(d.Name, name); err == nil {
			return f, nil
		}
	}
	return record.Field{}, fmt.Errorf("attribute %q: %w", name, ErrNotFound)
}

// RecordSize reports whether n matches the encoded size of any registered schema.
func (r *Registry) RecordSize(n int64) (Descriptor, bool) {
	for _, d := range r.schemas {
		if int64(d.Layout.Size) == n {
			return d, true
		}
	}
	return Descriptor{}, false
}
