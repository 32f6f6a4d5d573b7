package bytecode

import (
	"fmt"

	"github.com/apex/log"

	"jvminstr/internal/byteio"
	"jvminstr/internal/classfile"
)

type decoder struct {
	r     *byteio.Reader
	byOff map[int]*Node
	// pending branch targets, resolved once every offset has a node
	targets map[*Node][]int
}

func (d *decoder) fail(off int, format string, args ...any) error {
	return fmt.Errorf("%w: code offset %d: %s", classfile.ErrMalformedClass, off, fmt.Sprintf(format, args...))
}

// Decode builds the instruction stream of a method's Code attribute.
// Exception handlers, line numbers, local variable ranges and stack map
// frames are bound to the nodes at their offsets.
func Decode(c *classfile.Class, m *classfile.Method) (*Stream, error) {
	if m.Code == nil {
		return nil, fmt.Errorf("bytecode: %s%s has no code", m.Name, m.Desc)
	}
	code := m.Code
	s := NewStream(c.This, m)
	s.MaxStack, s.MaxLocals = code.MaxStack, code.MaxLocals

	d := &decoder{
		r:       byteio.NewReader(code.Bytecode),
		byOff:   make(map[int]*Node),
		targets: make(map[*Node][]int),
	}
	for d.r.Remaining() > 0 {
		n, err := d.next()
		if err != nil {
			return nil, err
		}
		s.Append(n)
	}
	if err := d.resolve(); err != nil {
		return nil, err
	}

	// An offset equal to the code length denotes the end of the code.
	end := len(code.Bytecode)
	at := func(off int, allowEnd bool) (*Node, error) {
		if allowEnd && off == end {
			return nil, nil
		}
		if n := d.byOff[off]; n != nil {
			return n, nil
		}
		return nil, d.fail(off, "not an instruction boundary")
	}

	for _, e := range code.Exceptions {
		h := &Handler{CatchType: e.CatchType}
		var err error
		if h.Start, err = at(int(e.Start), false); err != nil {
			return nil, err
		}
		if h.End, err = at(int(e.End), true); err != nil {
			return nil, err
		}
		if h.Handler, err = at(int(e.Handler), false); err != nil {
			return nil, err
		}
		s.Handlers = append(s.Handlers, h)
	}

	var stackMap []byte
	hasStackMap := false
	for _, a := range code.Attrs {
		var err error
		switch a.Name {
		case "LineNumberTable":
			err = s.decodeLines(a.Data, at)
		case "LocalVariableTable":
			s.Locals, err = decodeLocals(c, a.Data, at)
		case "LocalVariableTypeTable":
			s.LocalTypes, err = decodeLocals(c, a.Data, at)
		case "StackMapTable":
			stackMap, hasStackMap = a.Data, true
		default:
			s.Other = append(s.Other, a)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", classfile.ErrMalformedClass, a.Name, err)
		}
	}

	s.StackMaps = c.Major > classfile.VersionStackMaps || (c.Major == classfile.VersionStackMaps && hasStackMap)
	if hasStackMap {
		init, err := InitialFrame(c.This, m)
		if err != nil {
			return nil, err
		}
		frames, err := decodeStackMap(stackMap, c.Pool, init, d.byOff)
		if err != nil {
			return nil, fmt.Errorf("%w: StackMapTable: %w", classfile.ErrMalformedClass, err)
		}
		s.Frames = frames
	}

	log.WithFields(log.Fields{
		"method":   m.Name + m.Desc,
		"insts":    s.Len(),
		"handlers": len(s.Handlers),
		"frames":   len(s.Frames),
	}).Debug("decoded")
	return s, nil
}

func (s *Stream) decodeLines(data []byte, at func(int, bool) (*Node, error)) error {
	r := byteio.NewReader(data)
	n, err := r.U16()
	if err != nil {
		return err
	}
	for range n {
		pc, err := r.U16()
		if err != nil {
			return err
		}
		line, err := r.U16()
		if err != nil {
			return err
		}
		node, err := at(int(pc), false)
		if err != nil {
			return err
		}
		s.Lines = append(s.Lines, Line{Node: node, Line: line})
	}
	return nil
}

func decodeLocals(c *classfile.Class, data []byte, at func(int, bool) (*Node, error)) ([]LocalVar, error) {
	r := byteio.NewReader(data)
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	var out []LocalVar
	for range n {
		var f [5]uint16
		for i := range f {
			if f[i], err = r.U16(); err != nil {
				return nil, err
			}
		}
		v := LocalVar{Slot: f[4]}
		if v.Start, err = at(int(f[0]), false); err != nil {
			return nil, err
		}
		if v.End, err = at(int(f[0])+int(f[1]), true); err != nil {
			return nil, err
		}
		if v.Name, err = c.Pool.Utf8At(f[2]); err != nil {
			return nil, err
		}
		if v.Desc, err = c.Pool.Utf8At(f[3]); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *decoder) next() (*Node, error) {
	off := d.r.Position()
	b, _ := d.r.U8()
	op := Op(b)
	n := &Node{Op: op, Offset: off}
	d.byOff[off] = n

	var err error
	switch info := op.Info(); info.Format {
	case FmtNone:
		switch {
		case op >= ILOAD_0 && op <= ALOAD_3:
			k := op - ILOAD_0
			n.Op, n.Local = ILOAD+k/4, uint16(k%4)
		case op >= ISTORE_0 && op <= ASTORE_3:
			k := op - ISTORE_0
			n.Op, n.Local = ISTORE+k/4, uint16(k%4)
		}
	case FmtLocal:
		var v uint8
		v, err = d.r.U8()
		n.Local = uint16(v)
	case FmtIinc:
		var v uint8
		var c int8
		if v, err = d.r.U8(); err == nil {
			c, err = d.r.S8()
		}
		n.Local, n.Int = uint16(v), int32(c)
	case FmtByte:
		if op == NEWARRAY {
			var v uint8
			v, err = d.r.U8()
			n.Int = int32(v)
		} else {
			var v int8
			v, err = d.r.S8()
			n.Int = int32(v)
		}
	case FmtShort:
		var v int16
		v, err = d.r.S16()
		n.Int = int32(v)
	case FmtCP1:
		var v uint8
		v, err = d.r.U8()
		n.Index = uint16(v)
	case FmtCP2:
		n.Index, err = d.r.U16()
		if op == LDC_W {
			n.Op = LDC
		}
	case FmtInterface, FmtDynamic, FmtMulti:
		if n.Index, err = d.r.U16(); err != nil {
			break
		}
		var v uint8
		if v, err = d.r.U8(); err != nil {
			break
		}
		n.Int = int32(v)
		if info.Format != FmtMulti {
			_, err = d.r.U8()
		}
		if info.Format == FmtDynamic {
			n.Int = 0
		}
	case FmtBranch:
		var v int16
		v, err = d.r.S16()
		d.targets[n] = []int{off + int(v)}
	case FmtBranchW:
		var v int32
		v, err = d.r.S32()
		d.targets[n] = []int{off + int(v)}
		if op == GOTO_W {
			n.Op = GOTO
		} else {
			n.Op = JSR
		}
	case FmtTable, FmtLookup:
		err = d.decodeSwitch(n, off)
	case FmtWide:
		err = d.decodeWide(n)
	default:
		return nil, d.fail(off, "invalid opcode 0x%02x", b)
	}
	if err != nil {
		return nil, d.fail(off, "%s: %v", op, err)
	}
	return n, nil
}

func (d *decoder) decodeWide(n *Node) error {
	b, err := d.r.U8()
	if err != nil {
		return err
	}
	n.Op = Op(b)
	if n.Local, err = d.r.U16(); err != nil {
		return err
	}
	switch {
	case n.Op == IINC:
		v, err := d.r.S16()
		if err != nil {
			return err
		}
		n.Int = int32(v)
	case n.Op.IsLoad(), n.Op.IsStore(), n.Op == RET:
	default:
		return fmt.Errorf("wide %s", n.Op)
	}
	return nil
}

func (d *decoder) decodeSwitch(n *Node, off int) error {
	pad := 3 - off%4
	if err := d.r.Skip(pad); err != nil {
		return err
	}
	def, err := d.r.S32()
	if err != nil {
		return err
	}
	offs := []int{off + int(def)}

	if n.Op == TABLESWITCH {
		low, err := d.r.S32()
		if err != nil {
			return err
		}
		high, err := d.r.S32()
		if err != nil {
			return err
		}
		if low > high || int64(high)-int64(low) >= int64(d.r.Remaining()/4+1) {
			return fmt.Errorf("bad range [%d, %d]", low, high)
		}
		for k := int64(low); k <= int64(high); k++ {
			t, err := d.r.S32()
			if err != nil {
				return err
			}
			n.Cases = append(n.Cases, Case{Key: int32(k)})
			offs = append(offs, off+int(t))
		}
	} else {
		count, err := d.r.S32()
		if err != nil {
			return err
		}
		if count < 0 || int(count) > d.r.Remaining()/8 {
			return fmt.Errorf("bad pair count %d", count)
		}
		for range count {
			key, err := d.r.S32()
			if err != nil {
				return err
			}
			t, err := d.r.S32()
			if err != nil {
				return err
			}
			n.Cases = append(n.Cases, Case{Key: key})
			offs = append(offs, off+int(t))
		}
	}
	d.targets[n] = offs
	return nil
}

func (d *decoder) resolve() error {
	for n, offs := range d.targets {
		node := func(off int) (*Node, error) {
			if t := d.byOff[off]; t != nil {
				return t, nil
			}
			return nil, d.fail(n.Offset, "%s target %d is not an instruction", n.Op, off)
		}
		var err error
		if n.Op.IsSwitch() {
			if n.Default, err = node(offs[0]); err != nil {
				return err
			}
			for i := range n.Cases {
				if n.Cases[i].Target, err = node(offs[i+1]); err != nil {
					return err
				}
			}
			continue
		}
		if n.Target, err = node(offs[0]); err != nil {
			return err
		}
	}
	return nil
}
