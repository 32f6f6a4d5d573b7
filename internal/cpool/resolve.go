package cpool

import (
	"fmt"
	"math"
)

// MemberRef is a resolved field, method or interface method reference.
type MemberRef struct {
	Tag   Tag
	Owner string
	Name  string
	Desc  string
}

func (m MemberRef) String() string { return m.Owner + "." + m.Name + m.Desc }

func (p *Pool) expect(i uint16, tags ...Tag) (Entry, error) {
	e, err := p.Entry(i)
	if err != nil {
		return Entry{}, err
	}
	for _, t := range tags {
		if e.Tag == t {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: #%d is %s, want %v", ErrWrongKind, i, e.Tag, tags)
}

// Utf8At returns the decoded text of a CONSTANT_Utf8 entry.
func (p *Pool) Utf8At(i uint16) (string, error) {
	e, err := p.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return decodeMUTF8(e.Text), nil
}

// ClassName returns the internal name referenced by a CONSTANT_Class entry.
func (p *Pool) ClassName(i uint16) (string, error) {
	e, err := p.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8At(e.A)
}

// NameAndTypeAt resolves a CONSTANT_NameAndType entry.
func (p *Pool) NameAndTypeAt(i uint16) (name, desc string, err error) {
	e, err := p.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8At(e.A); err != nil {
		return "", "", err
	}
	if desc, err = p.Utf8At(e.B); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// Ref resolves a field or method reference. InvokeDynamic and Dynamic
// entries resolve with an empty Owner.
func (p *Pool) Ref(i uint16) (MemberRef, error) {
	e, err := p.expect(i, TagFieldref, TagMethodref, TagInterfaceMethodref, TagInvokeDynamic, TagDynamic)
	if err != nil {
		return MemberRef{}, err
	}
	ref := MemberRef{Tag: e.Tag}
	if e.Tag != TagInvokeDynamic && e.Tag != TagDynamic {
		if ref.Owner, err = p.ClassName(e.A); err != nil {
			return MemberRef{}, err
		}
	}
	if ref.Name, ref.Desc, err = p.NameAndTypeAt(e.B); err != nil {
		return MemberRef{}, err
	}
	return ref, nil
}

// Literal returns the Go value of a loadable constant: string, int32,
// int64, float32, float64. Class, MethodType, MethodHandle and Dynamic
// entries return their Entry unchanged.
func (p *Pool) Literal(i uint16) (any, error) {
	e, err := p.Entry(i)
	if err != nil {
		return nil, err
	}
	switch e.Tag {
	case TagString:
		return p.Utf8At(e.A)
	case TagInteger:
		return int32(uint32(e.Bits)), nil
	case TagFloat:
		return math.Float32frombits(uint32(e.Bits)), nil
	case TagLong:
		return int64(e.Bits), nil
	case TagDouble:
		return math.Float64frombits(e.Bits), nil
	case TagClass, TagMethodType, TagMethodHandle, TagDynamic:
		return e, nil
	default:
		return nil, fmt.Errorf("%w: #%d (%s) is not loadable", ErrWrongKind, i, e.Tag)
	}
}
