package record

import (
	"fmt"
	"math"
	"strings"
)

const (
	headerSize     = 8
	checksumOffset = 6

	// KeyAttribute identifies a record; zero means an empty slot.
	KeyAttribute = "Species"
	// ShinyAttribute is the attribute that $shiny resolves against.
	ShinyAttribute = "PID"
	// ChecksumAttribute is the read-only integrity code.
	ChecksumAttribute = "Checksum"
)

// Layout is the static description of one record format. Layouts are built once
// at package init and never modified.
type Layout struct {
	Name string
	Size int
	// ShinyThreshold bounds TID^SID^PIDhi^PIDlo for a shiny record.
	ShinyThreshold uint32

	fields []Field
	byName map[string]int
}

type fieldSpec struct {
	name     string
	kind     Kind
	width    int
	min, max uint64
	enum     []string
}

func newLayout(name string, size int, shinyThreshold uint32, specs ...fieldSpec) *Layout {
	l := &Layout{
		Name:           name,
		Size:           size,
		ShinyThreshold: shinyThreshold,
		byName:         make(map[string]int, len(specs)+1),
	}
	l.add(Field{
		Name:     ChecksumAttribute,
		Kind:     KindInteger,
		Offset:   checksumOffset,
		Width:    2,
		Max:      math.MaxUint16,
		ReadOnly: true,
	})

	offset := headerSize
	for _, s := range specs {
		l.add(Field{
			Name:   s.name,
			Kind:   s.kind,
			Offset: offset,
			Width:  s.width,
			Min:    s.min,
			Max:    s.max,
			Enum:   s.enum,
		})
		offset += s.width
	}
	if offset > size {
		panic(fmt.Sprintf("record: layout %s needs %d bytes, size is %d", name, offset, size))
	}
	return l
}

func (l *Layout) add(f Field) {
	key := strings.ToLower(f.Name)
	if _, dup := l.byName[key]; dup {
		panic("record: duplicate field " + f.Name + " in layout " + l.Name)
	}
	l.byName[key] = len(l.fields)
	l.fields = append(l.fields, f)
}

// Fields returns all fields in declaration order, including read-only ones.
func (l *Layout) Fields() []Field {
	out := make([]Field, len(l.fields))
	copy(out, l.fields)
	return out
}

// Writable returns the names of externally settable fields in declaration order.
func (l *Layout) Writable() []string {
	out := make([]string, 0, len(l.fields))
	for _, f := range l.fields {
		if !f.ReadOnly {
			out = append(out, f.Name)
		}
	}
	return out
}

// Field looks up a field by name, ignoring case.
func (l *Layout) Field(name string) (Field, bool) {
	i, ok := l.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Field{}, false
	}
	return l.fields[i], true
}

func (l *Layout) String() string { return l.Name }

var (
	natures = []string{
		"Hardy", "Lonely", "Brave", "Adamant", "Naughty",
		"Bold", "Docile", "Relaxed", "Impish", "Lax",
		"Timid", "Hasty", "Serious", "Jolly", "Naive",
		"Modest", "Mild", "Quiet", "Bashful", "Rash",
		"Calm", "Gentle", "Sassy", "Careful", "Quirky",
	}
	balls = []string{
		"None", "Master", "Ultra", "Great", "Poke", "Safari", "Net",
		"Dive", "Nest", "Repeat", "Timer", "Luxury", "Premier",
	}
	languages = []string{
		"None", "Japanese", "English", "French", "Italian",
		"German", "Unused", "Spanish", "Korean",
	}
)

func common(maxSpecies, maxItem uint64, nicknameWidth int) []fieldSpec {
	return []fieldSpec{
		{name: "PID", kind: KindInteger, width: 4, max: math.MaxUint32},
		{name: "Species", kind: KindInteger, width: 2, max: maxSpecies},
		{name: "HeldItem", kind: KindInteger, width: 2, max: maxItem},
		{name: "TID", kind: KindInteger, width: 2, max: math.MaxUint16},
		{name: "SID", kind: KindInteger, width: 2, max: math.MaxUint16},
		{name: "Level", kind: KindInteger, width: 1, min: 1, max: 100},
		{name: "IsEgg", kind: KindBool, width: 1},
		{name: "Ball", kind: KindEnum, width: 1, enum: balls},
		{name: "Language", kind: KindEnum, width: 1, enum: languages},
		{name: "Nickname", kind: KindString, width: nicknameWidth},
	}
}

func with(base []fieldSpec, extra ...fieldSpec) []fieldSpec {
	out := make([]fieldSpec, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

var (
	nature             = fieldSpec{name: "Nature", kind: KindEnum, width: 1, enum: natures}
	hiddenAbility      = fieldSpec{name: "HiddenAbility", kind: KindBool, width: 1}
	encryptionConstant = fieldSpec{name: "EncryptionConstant", kind: KindInteger, width: 4, max: math.MaxUint32}

	PK3 = newLayout("pk3", 80, 8, common(386, 376, 10)...)
	PK4 = newLayout("pk4", 100, 8, with(common(493, 536, 12),
		nature,
		fieldSpec{name: "ShinyLeaf", kind: KindInteger, width: 1, max: 63},
	)...)
	PK5 = newLayout("pk5", 136, 8, with(common(649, 638, 12),
		nature,
		hiddenAbility,
	)...)
	PK6 = newLayout("pk6", 232, 16, with(common(721, 775, 12),
		nature,
		hiddenAbility,
		encryptionConstant,
		fieldSpec{name: "Country", kind: KindInteger, width: 1, max: math.MaxUint8},
	)...)
	PK7 = newLayout("pk7", 260, 16, with(common(807, 920, 12),
		nature,
		hiddenAbility,
		encryptionConstant,
		fieldSpec{name: "HyperTrainHP", kind: KindBool, width: 1},
	)...)

	layouts = []*Layout{PK7, PK6, PK5, PK4, PK3}
)

// Layouts returns the known formats, newest first.
func Layouts() []*Layout {
	out := make([]*Layout, len(layouts))
	copy(out, layouts)
	return out
}

// LayoutByName returns the layout with the given name, ignoring case.
func LayoutByName(name string) (*Layout, bool) {
	for _, l := range layouts {
		if strings.EqualFold(l.Name, strings.TrimSpace(name)) {
			return l, true
		}
	}
	return nil, false
}

// LayoutBySize returns the layout whose encoded size is n.
func LayoutBySize(n int64) (*Layout, bool) {
	for _, l := range layouts {
		if int64(l.Size) == n {
			return l, true
		}
	}
	return nil, false
}
