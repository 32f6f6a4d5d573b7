package cpool

import (
	"fmt"

	"jvminstr/internal/byteio"
)

// Read parses constant_pool_count and the entries that follow it.
// Every cross reference is checked for range and kind.
func Read(r *byteio.Reader) (*Pool, error) {
	count, err := r.U16()
	if err != nil {
		return nil, fmt.Errorf("cpool: count: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("cpool: constant_pool_count is 0")
	}

	p := &Pool{entries: make([]Entry, 1, int(count)), lookup: make(map[Entry]uint16, int(count))}
	for len(p.entries) < int(count) {
		off := r.Position()
		e, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("cpool: entry #%d at 0x%x: %w", len(p.entries), off, err)
		}
		i := uint16(len(p.entries))
		p.entries = append(p.entries, e)
		if e.Tag.Wide() {
			if len(p.entries) >= int(count) {
				return nil, fmt.Errorf("cpool: entry #%d: %s overruns constant_pool_count", i, e.Tag)
			}
			p.entries = append(p.entries, Entry{})
		}
		// Duplicate keys in the input keep their first index.
		if _, dup := p.lookup[e]; !dup {
			p.lookup[e] = i
		}
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func readEntry(r *byteio.Reader) (Entry, error) {
	b, err := r.U8()
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Tag: Tag(b)}
	switch e.Tag {
	case TagUtf8:
		n, err := r.U16()
		if err != nil {
			return Entry{}, err
		}
		raw, err := r.Bytes(int(n))
		if err != nil {
			return Entry{}, err
		}
		e.Text = string(raw)
	case TagInteger, TagFloat:
		v, err := r.U32()
		if err != nil {
			return Entry{}, err
		}
		e.Bits = uint64(v)
	case TagLong, TagDouble:
		if e.Bits, err = r.U64(); err != nil {
			return Entry{}, err
		}
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		if e.A, err = r.U16(); err != nil {
			return Entry{}, err
		}
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
		if e.A, err = r.U16(); err != nil {
			return Entry{}, err
		}
		if e.B, err = r.U16(); err != nil {
			return Entry{}, err
		}
	case TagMethodHandle:
		if e.Kind, err = r.U8(); err != nil {
			return Entry{}, err
		}
		if e.B, err = r.U16(); err != nil {
			return Entry{}, err
		}
	default:
		return Entry{}, fmt.Errorf("unknown tag %d", b)
	}
	return e, nil
}

func (p *Pool) validate() error {
	for i := 1; i < len(p.entries); i++ {
		e := p.entries[i]
		var err error
		switch e.Tag {
		case 0, TagUtf8, TagInteger, TagFloat, TagLong, TagDouble:
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			_, err = p.expect(e.A, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if _, err = p.expect(e.A, TagClass); err == nil {
				_, err = p.expect(e.B, TagNameAndType)
			}
		case TagNameAndType:
			if _, err = p.expect(e.A, TagUtf8); err == nil {
				_, err = p.expect(e.B, TagUtf8)
			}
		case TagDynamic, TagInvokeDynamic:
			_, err = p.expect(e.B, TagNameAndType)
		case TagMethodHandle:
			if e.Kind < 1 || e.Kind > 9 {
				err = fmt.Errorf("reference kind %d out of range", e.Kind)
			} else {
				_, err = p.expect(e.B, TagFieldref, TagMethodref, TagInterfaceMethodref)
			}
		}
		if err != nil {
			return fmt.Errorf("cpool: entry #%d (%s): %w", i, e.Tag, err)
		}
	}
	return nil
}

// Write emits constant_pool_count and every entry.
func (p *Pool) Write(w *byteio.Writer) {
	w.U16(uint16(len(p.entries)))
	for _, e := range p.entries[1:] {
		if e.Tag == 0 {
			continue
		}
		w.U8(uint8(e.Tag))
		switch e.Tag {
		case TagUtf8:
			w.U16(uint16(len(e.Text)))
			w.Write([]byte(e.Text))
		case TagInteger, TagFloat:
			w.U32(uint32(e.Bits))
		case TagLong, TagDouble:
			w.U64(e.Bits)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.U16(e.A)
		case TagMethodHandle:
			w.U8(e.Kind)
			w.U16(e.B)
		default:
			w.U16(e.A)
			w.U16(e.B)
		}
	}
}
