// Package cpool implements the deduplicating constant pool of a class file.
package cpool

import (
	"errors"
	"fmt"
	"math"
)

// Tag identifies the kind of a constant pool entry.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

var tagNames = map[Tag]string{
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldref:           "Fieldref",
	TagMethodref:          "Methodref",
	TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagDynamic:            "Dynamic",
	TagInvokeDynamic:      "InvokeDynamic",
	TagModule:             "Module",
	TagPackage:            "Package",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Wide reports whether entries of this kind occupy two pool slots.
func (t Tag) Wide() bool { return t == TagLong || t == TagDouble }

// MaxEntries is the largest constant_pool_count a class file can carry.
const MaxEntries = math.MaxUint16

var (
	ErrPoolOverflow = errors.New("cpool: constant pool index space exhausted")
	ErrBadIndex     = errors.New("cpool: invalid constant pool index")
	ErrWrongKind    = errors.New("cpool: unexpected constant pool entry kind")
)

// Entry is one constant pool slot. The struct is comparable and doubles as
// the interning key.
//
// Field use by tag:
//
//	Utf8                              Text (modified UTF-8, as stored)
//	Integer, Float, Long, Double      Bits
//	Class, String, MethodType,
//	Module, Package                   A = Utf8 index
//	Fieldref, Methodref,
//	InterfaceMethodref                A = Class index, B = NameAndType index
//	NameAndType                       A = name Utf8, B = descriptor Utf8
//	MethodHandle                      Kind = reference kind, B = member ref
//	Dynamic, InvokeDynamic            A = bootstrap method, B = NameAndType
type Entry struct {
	Tag  Tag
	Text string
	Bits uint64
	A, B uint16
	Kind uint8
}

// Pool is a class's constant pool. Index 0 is never issued; the second slot
// of a long or double is a zero Entry.
type Pool struct {
	entries []Entry
	lookup  map[Entry]uint16
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{entries: make([]Entry, 1), lookup: make(map[Entry]uint16)}
}

// Len returns the constant_pool_count value: one more than the highest index.
func (p *Pool) Len() int { return len(p.entries) }

// Entry returns the entry at index i.
func (p *Pool) Entry(i uint16) (Entry, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == 0 {
		return Entry{}, fmt.Errorf("%w: %d", ErrBadIndex, i)
	}
	return p.entries[i], nil
}

// add interns e. An already-present key returns its existing index.
func (p *Pool) add(e Entry) (uint16, error) {
	if i, ok := p.lookup[e]; ok {
		return i, nil
	}
	width := 1
	if e.Tag.Wide() {
		width = 2
	}
	if len(p.entries)+width > MaxEntries {
		return 0, ErrPoolOverflow
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, e)
	if width == 2 {
		p.entries = append(p.entries, Entry{})
	}
	p.lookup[e] = i
	return i, nil
}

// Utf8 interns a CONSTANT_Utf8 holding s.
func (p *Pool) Utf8(s string) (uint16, error) {
	enc := encodeMUTF8(s)
	if len(enc) > math.MaxUint16 {
		return 0, fmt.Errorf("cpool: utf8 constant of %d bytes exceeds 65535", len(enc))
	}
	return p.add(Entry{Tag: TagUtf8, Text: enc})
}

func (p *Pool) named(tag Tag, s string) (uint16, error) {
	u, err := p.Utf8(s)
	if err != nil {
		return 0, err
	}
	return p.add(Entry{Tag: tag, A: u})
}

// Class interns a CONSTANT_Class for an internal name ("java/lang/String")
// or an array descriptor ("[I").
func (p *Pool) Class(name string) (uint16, error) { return p.named(TagClass, name) }

// String interns a CONSTANT_String.
func (p *Pool) String(s string) (uint16, error) { return p.named(TagString, s) }


// NameAndType interns a CONSTANT_NameAndType.
func (p *Pool) NameAndType(name, desc string) (uint16, error) {
	n, err := p.Utf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.Utf8(desc)
	if err != nil {
		return 0, err
	}
	return p.add(Entry{Tag: TagNameAndType, A: n, B: d})
}

func (p *Pool) member(tag Tag, owner, name, desc string) (uint16, error) {
	c, err := p.Class(owner)
	if err != nil {
		return 0, err
	}
	nat, err := p.NameAndType(name, desc)
	if err != nil {
		return 0, err
	}
	return p.add(Entry{Tag: tag, A: c, B: nat})
}

func (p *Pool) Int(v int32) (uint16, error) {
	return p.add(Entry{Tag: TagInteger, Bits: uint64(uint32(v))})
}

func (p *Pool) Float(v float32) (uint16, error) {
	return p.add(Entry{Tag: TagFloat, Bits: uint64(math.Float32bits(v))})
}

func (p *Pool) Long(v int64) (uint16, error) {
	return p.add(Entry{Tag: TagLong, Bits: uint64(v)})
}

func (p *Pool) Double(v float64) (uint16, error) {
	return p.add(Entry{Tag: TagDouble, Bits: math.Float64bits(v)})
}

// InternLiteral interns a loadable literal: string, int32, int64, float32
// or float64. Plain int values are interned as Integer when they fit.
func (p *Pool) InternLiteral(v any) (uint16, error) {
	switch v := v.(type) {
	case string:
		return p.String(v)
	case int32:
		return p.Int(v)
	case int:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return p.Long(int64(v))
		}
		return p.Int(int32(v))
	case int64:
		return p.Long(v)
	case float32:
		return p.Float(v)
	case float64:
		return p.Double(v)
	default:
		return 0, fmt.Errorf("cpool: unsupported literal type %T", v)
	}
}

// InternFieldRef interns a CONSTANT_Fieldref.
func (p *Pool) InternFieldRef(owner, name, desc string) (uint16, error) {
	return p.member(TagFieldref, owner, name, desc)
}

// InternMethodRef interns a CONSTANT_Methodref, or a
// CONSTANT_InterfaceMethodref when the owner is an interface.
func (p *Pool) InternMethodRef(owner, name, desc string, isInterface bool) (uint16, error) {
	if isInterface {
		return p.member(TagInterfaceMethodref, owner, name, desc)
	}
	return p.member(TagMethodref, owner, name, desc)
}
