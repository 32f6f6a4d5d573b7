package classfile

import (
	"fmt"
	"math"

	"jvminstr/internal/byteio"
	"jvminstr/internal/cpool"
)

// Bytes serializes the class. Names are interned into the class pool first
// and every length prefix is derived from the model. On error no output
// is returned.
func (c *Class) Bytes() ([]byte, error) {
	if c.Pool == nil {
		c.Pool = cpool.New()
	}
	body := byteio.NewWriter()
	if err := c.writeBody(body); err != nil {
		return nil, err
	}

	out := byteio.NewWriter()
	out.U32(Magic)
	out.U16(c.Minor)
	out.U16(c.Major)
	c.Pool.Write(out)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (c *Class) writeBody(w *byteio.Writer) error {
	pool := c.Pool
	w.U16(c.Access)

	this, err := pool.Class(c.This)
	if err != nil {
		return fmt.Errorf("classfile: this_class: %w", err)
	}
	w.U16(this)
	var super uint16
	if c.Super != "" {
		if super, err = pool.Class(c.Super); err != nil {
			return fmt.Errorf("classfile: super_class: %w", err)
		}
	}
	w.U16(super)

	if err := count(w, len(c.Interfaces), "interfaces"); err != nil {
		return err
	}
	for _, iface := range c.Interfaces {
		idx, err := pool.Class(iface)
		if err != nil {
			return fmt.Errorf("classfile: interface %s: %w", iface, err)
		}
		w.U16(idx)
	}

	if err := count(w, len(c.Fields), "fields"); err != nil {
		return err
	}
	for _, f := range c.Fields {
		if err := writeMember(w, pool, f.Access, f.Name, f.Desc); err != nil {
			return err
		}
		if err := writeAttrs(w, pool, f.Attrs, nil); err != nil {
			return fmt.Errorf("classfile: field %s: %w", f.Name, err)
		}
	}

	if err := count(w, len(c.Methods), "methods"); err != nil {
		return err
	}
	for _, m := range c.Methods {
		if err := writeMember(w, pool, m.Access, m.Name, m.Desc); err != nil {
			return err
		}
		var code *Attribute
		if m.Code != nil {
			data, err := m.Code.encode(pool)
			if err != nil {
				return fmt.Errorf("classfile: method %s%s: %w", m.Name, m.Desc, err)
			}
			code = &Attribute{Name: "Code", Data: data}
		}
		if err := writeAttrs(w, pool, m.Attrs, code); err != nil {
			return fmt.Errorf("classfile: method %s%s: %w", m.Name, m.Desc, err)
		}
	}

	if err := writeAttrs(w, pool, c.Attrs, nil); err != nil {
		return fmt.Errorf("classfile: class attributes: %w", err)
	}
	return nil
}

func count(w *byteio.Writer, n int, what string) error {
	if n > math.MaxUint16 {
		return fmt.Errorf("classfile: %d %s exceed 65535", n, what)
	}
	w.U16(uint16(n))
	return nil
}

func writeMember(w *byteio.Writer, pool *cpool.Pool, access uint16, name, desc string) error {
	n, err := pool.Utf8(name)
	if err != nil {
		return fmt.Errorf("classfile: member %s: %w", name, err)
	}
	d, err := pool.Utf8(desc)
	if err != nil {
		return fmt.Errorf("classfile: member %s: %w", name, err)
	}
	w.U16(access)
	w.U16(n)
	w.U16(d)
	return nil
}

// writeAttrs writes an attribute table; first, when non-nil, leads it.
func writeAttrs(w *byteio.Writer, pool *cpool.Pool, attrs []Attribute, first *Attribute) error {
	all := attrs
	if first != nil {
		all = append([]Attribute{*first}, attrs...)
	}
	if err := count(w, len(all), "attributes"); err != nil {
		return err
	}
	for _, a := range all {
		idx, err := pool.Utf8(a.Name)
		if err != nil {
			return err
		}
		if uint64(len(a.Data)) > math.MaxUint32 {
			return fmt.Errorf("attribute %s too large", a.Name)
		}
		w.U16(idx)
		w.U32(uint32(len(a.Data)))
		w.Write(a.Data)
	}
	return nil
}

func (c *Code) encode(pool *cpool.Pool) ([]byte, error) {
	if len(c.Bytecode) == 0 || len(c.Bytecode) > math.MaxUint16 {
		return nil, fmt.Errorf("code length %d out of range", len(c.Bytecode))
	}
	w := byteio.NewWriter()
	w.U16(c.MaxStack)
	w.U16(c.MaxLocals)
	w.U32(uint32(len(c.Bytecode)))
	w.Write(c.Bytecode)
	if err := count(w, len(c.Exceptions), "exception entries"); err != nil {
		return nil, err
	}
	for _, e := range c.Exceptions {
		w.U16(e.Start)
		w.U16(e.End)
		w.U16(e.Handler)
		w.U16(e.CatchType)
	}
	if err := writeAttrs(w, pool, c.Attrs, nil); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
