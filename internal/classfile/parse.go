package classfile

import (
	"fmt"

	"jvminstr/internal/byteio"
	"jvminstr/internal/cpool"
)

type parser struct {
	r    *byteio.Reader
	pool *cpool.Pool
}

func (p *parser) fail(err error) error {
	return fmt.Errorf("%w: offset 0x%x: %w", ErrMalformedClass, p.r.Position(), err)
}

func (p *parser) failf(format string, args ...any) error {
	return fmt.Errorf("%w: offset 0x%x: %s", ErrMalformedClass, p.r.Position(), fmt.Sprintf(format, args...))
}

// Parse decodes a complete class file. Every failure wraps
// ErrMalformedClass and names the byte offset where decoding stopped.
func Parse(data []byte) (*Class, error) {
	p := &parser{r: byteio.NewReader(data)}

	magic, err := p.r.U32()
	if err != nil {
		return nil, p.fail(err)
	}
	if magic != Magic {
		return nil, p.failf("bad magic 0x%08x", magic)
	}

	c := &Class{}
	if c.Minor, err = p.r.U16(); err != nil {
		return nil, p.fail(err)
	}
	if c.Major, err = p.r.U16(); err != nil {
		return nil, p.fail(err)
	}
	if p.pool, err = cpool.Read(p.r); err != nil {
		return nil, p.fail(err)
	}
	c.Pool = p.pool

	if c.Access, err = p.r.U16(); err != nil {
		return nil, p.fail(err)
	}
	if c.This, err = p.class(false); err != nil {
		return nil, err
	}
	if c.Super, err = p.class(true); err != nil {
		return nil, err
	}

	n, err := p.r.U16()
	if err != nil {
		return nil, p.fail(err)
	}
	for range n {
		iface, err := p.class(false)
		if err != nil {
			return nil, err
		}
		c.Interfaces = append(c.Interfaces, iface)
	}

	if n, err = p.r.U16(); err != nil {
		return nil, p.fail(err)
	}
	for range n {
		f := &Field{}
		if f.Access, f.Name, f.Desc, err = p.member(); err != nil {
			return nil, err
		}
		if f.Attrs, err = p.attributes(); err != nil {
			return nil, err
		}
		c.Fields = append(c.Fields, f)
	}

	if n, err = p.r.U16(); err != nil {
		return nil, p.fail(err)
	}
	for range n {
		m, err := p.method()
		if err != nil {
			return nil, err
		}
		c.Methods = append(c.Methods, m)
	}

	if c.Attrs, err = p.attributes(); err != nil {
		return nil, err
	}
	if rem := p.r.Remaining(); rem != 0 {
		return nil, p.failf("%d trailing bytes", rem)
	}
	return c, nil
}

func (p *parser) class(optional bool) (string, error) {
	idx, err := p.r.U16()
	if err != nil {
		return "", p.fail(err)
	}
	if idx == 0 && optional {
		return "", nil
	}
	name, err := p.pool.ClassName(idx)
	if err != nil {
		return "", p.fail(err)
	}
	return name, nil
}

func (p *parser) utf8() (string, error) {
	idx, err := p.r.U16()
	if err != nil {
		return "", p.fail(err)
	}
	s, err := p.pool.Utf8At(idx)
	if err != nil {
		return "", p.fail(err)
	}
	return s, nil
}

func (p *parser) member() (access uint16, name, desc string, err error) {
	if access, err = p.r.U16(); err != nil {
		return 0, "", "", p.fail(err)
	}
	if name, err = p.utf8(); err != nil {
		return 0, "", "", err
	}
	if desc, err = p.utf8(); err != nil {
		return 0, "", "", err
	}
	return access, name, desc, nil
}

func (p *parser) attributes() ([]Attribute, error) {
	n, err := p.r.U16()
	if err != nil {
		return nil, p.fail(err)
	}
	var attrs []Attribute
	for range n {
		name, err := p.utf8()
		if err != nil {
			return nil, err
		}
		size, err := p.r.U32()
		if err != nil {
			return nil, p.fail(err)
		}
		data, err := p.r.Bytes(int(size))
		if err != nil {
			return nil, p.fail(fmt.Errorf("attribute %s: %w", name, err))
		}
		attrs = append(attrs, Attribute{Name: name, Data: data})
	}
	return attrs, nil
}

func (p *parser) method() (*Method, error) {
	m := &Method{}
	var err error
	if m.Access, m.Name, m.Desc, err = p.member(); err != nil {
		return nil, err
	}
	attrs, err := p.attributes()
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Name != "Code" || m.Code != nil {
			m.Attrs = append(m.Attrs, a)
			continue
		}
		if m.Code, err = p.code(a.Data); err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Desc, err)
		}
	}
	return m, nil
}

// code decodes a Code attribute body. The body is parsed with its own
// reader so that its length is checked exactly.
func (p *parser) code(data []byte) (*Code, error) {
	sub := &parser{r: byteio.NewReader(data), pool: p.pool}
	r := sub.r
	c := &Code{}
	var err error
	if c.MaxStack, err = r.U16(); err != nil {
		return nil, sub.fail(err)
	}
	if c.MaxLocals, err = r.U16(); err != nil {
		return nil, sub.fail(err)
	}
	size, err := r.U32()
	if err != nil {
		return nil, sub.fail(err)
	}
	if size == 0 || size > 65535 {
		return nil, sub.failf("code_length %d out of range", size)
	}
	if c.Bytecode, err = r.Bytes(int(size)); err != nil {
		return nil, sub.fail(err)
	}

	n, err := r.U16()
	if err != nil {
		return nil, sub.fail(err)
	}
	for range n {
		var e ExceptionEntry
		for _, dst := range []*uint16{&e.Start, &e.End, &e.Handler, &e.CatchType} {
			if *dst, err = r.U16(); err != nil {
				return nil, sub.fail(err)
			}
		}
		if e.Start >= e.End || uint32(e.End) > size || uint32(e.Handler) >= size {
			return nil, sub.failf("exception range [%d,%d)->%d outside code", e.Start, e.End, e.Handler)
		}
		if e.CatchType != 0 {
			if _, err := p.pool.ClassName(e.CatchType); err != nil {
				return nil, sub.fail(err)
			}
		}
		c.Exceptions = append(c.Exceptions, e)
	}

	if c.Attrs, err = sub.attributes(); err != nil {
		return nil, err
	}
	if rem := r.Remaining(); rem != 0 {
		return nil, sub.failf("Code attribute has %d bytes past its contents", rem)
	}
	return c, nil
}
