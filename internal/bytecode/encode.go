package bytecode

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/apex/log"

	"jvminstr/internal/byteio"
	"jvminstr/internal/classfile"
	"jvminstr/internal/cpool"
)

var (
	ErrCodeTooLarge = errors.New("bytecode: method code exceeds 65535 bytes")
	ErrMissingFrame = errors.New("bytecode: branch target without stack map frame")
)

func fitsS16(v int) bool { return v == int(int16(v)) }

// size returns the encoded length of n at pos. wide reports branches that
// need the long form.
func size(n *Node, pos int, wide bool) int {
	switch info := n.Op.Info(); info.Format {
	case FmtLocal:
		switch {
		case n.Local < 4 && n.Op != RET:
			return 1
		case n.Local <= 0xff:
			return 2
		default:
			return 4
		}
	case FmtIinc:
		if n.Local <= 0xff && n.Int >= math.MinInt8 && n.Int <= math.MaxInt8 {
			return 3
		}
		return 6
	case FmtByte, FmtCP1:
		if n.Op == LDC && n.Index > 0xff {
			return 3
		}
		return 2
	case FmtShort, FmtCP2:
		return 3
	case FmtMulti:
		return 4
	case FmtInterface, FmtDynamic:
		return 5
	case FmtBranch, FmtBranchW:
		switch {
		case !wide:
			return 3
		case n.Op.IsConditional():
			return 8
		default:
			return 5
		}
	case FmtTable:
		return 1 + 3 - pos%4 + 12 + 4*len(n.Cases)
	case FmtLookup:
		return 1 + 3 - pos%4 + 8 + 8*len(n.Cases)
	}
	return 1
}

// layout assigns offsets, widening branches until every offset fits.
// Widening only grows code, so the loop converges.
func (s *Stream) layout() (map[*Node]bool, int) {
	wide := make(map[*Node]bool)
	for {
		pos := 0
		for n := s.head; n != nil; n = n.next {
			n.Offset = pos
			pos += size(n, pos, wide[n])
		}
		changed := false
		for n := s.head; n != nil; n = n.next {
			if n.Target == nil || !n.Op.IsBranch() || wide[n] {
				continue
			}
			if !fitsS16(n.Target.Offset - n.Offset) {
				wide[n] = true
				changed = true
			}
		}
		if !changed {
			return wide, pos
		}
	}
}

// Widened returns the conditional branches that do not reach their target
// with a 16-bit offset. Each is encoded as the inverted condition jumping
// over a goto_w, so the instruction after it becomes a jump target that
// needs a frame of its own. Node offsets are left as they were.
func (s *Stream) Widened() map[*Node]bool {
	saved := make(map[*Node]int, s.n)
	for n := s.head; n != nil; n = n.next {
		saved[n] = n.Offset
	}
	wide, _ := s.layout()
	for n, off := range saved {
		n.Offset = off
	}

	out := make(map[*Node]bool)
	for n := range wide {
		if n.Op.IsConditional() {
			out[n] = true
		}
	}
	return out
}

// Encode lays out the stream and produces a Code attribute. Handler
// ranges, line numbers, local variable ranges and frames are re-derived
// from node offsets. The pool receives the names the attributes use.
func (s *Stream) Encode(pool *cpool.Pool) (*classfile.Code, error) {
	if s.head == nil {
		return nil, fmt.Errorf("bytecode: empty code")
	}
	wide, end := s.layout()
	if end > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCodeTooLarge, end)
	}

	if s.StackMaps {
		for n := range wide {
			if !n.Op.IsConditional() || n.next == nil {
				continue
			}
			if _, ok := s.Frames[n.next]; !ok {
				return nil, fmt.Errorf("%w: %s after widened %s at %d", ErrMissingFrame, n.next.Mnemonic(), n.Mnemonic(), n.Offset)
			}
		}
	}

	w := byteio.NewWriter()
	for n := s.head; n != nil; n = n.next {
		if err := emit(w, n, wide[n]); err != nil {
			return nil, err
		}
	}
	if w.Len() != end {
		return nil, fmt.Errorf("bytecode: layout predicted %d bytes, wrote %d", end, w.Len())
	}

	code := &classfile.Code{MaxStack: s.MaxStack, MaxLocals: s.MaxLocals, Bytecode: w.Bytes()}
	offset := func(n *Node) int {
		if n == nil {
			return end
		}
		return n.Offset
	}

	for _, h := range s.Handlers {
		start, stop := offset(h.Start), offset(h.End)
		if start >= stop {
			log.WithField("handler", h.Handler.Offset).Debug("dropping empty exception range")
			continue
		}
		code.Exceptions = append(code.Exceptions, classfile.ExceptionEntry{
			Start: uint16(start), End: uint16(stop), Handler: uint16(h.Handler.Offset), CatchType: h.CatchType,
		})
	}

	if len(s.Lines) > 0 {
		lw := byteio.NewWriter()
		lw.U16(uint16(len(s.Lines)))
		for _, l := range s.Lines {
			lw.U16(uint16(l.Node.Offset))
			lw.U16(l.Line)
		}
		code.Attrs = append(code.Attrs, classfile.Attribute{Name: "LineNumberTable", Data: lw.Bytes()})
	}
	for _, t := range []struct {
		name string
		vars []LocalVar
	}{{"LocalVariableTable", s.Locals}, {"LocalVariableTypeTable", s.LocalTypes}} {
		if len(t.vars) == 0 {
			continue
		}
		vw := byteio.NewWriter()
		vw.U16(uint16(len(t.vars)))
		for _, v := range t.vars {
			name, err := pool.Utf8(v.Name)
			if err != nil {
				return nil, err
			}
			desc, err := pool.Utf8(v.Desc)
			if err != nil {
				return nil, err
			}
			start := offset(v.Start)
			vw.U16(uint16(start))
			vw.U16(uint16(offset(v.End) - start))
			vw.U16(name)
			vw.U16(desc)
			vw.U16(v.Slot)
		}
		code.Attrs = append(code.Attrs, classfile.Attribute{Name: t.name, Data: vw.Bytes()})
	}

	if s.StackMaps && len(s.Frames) > 0 {
		data, err := s.encodeFrames(pool)
		if err != nil {
			return nil, fmt.Errorf("bytecode: StackMapTable: %w", err)
		}
		code.Attrs = append(code.Attrs, classfile.Attribute{Name: "StackMapTable", Data: data})
	}

	for _, a := range s.Other {
		log.WithField("attribute", a.Name).Debug("dropping code attribute with unbound offsets")
	}
	return code, nil
}

func (s *Stream) encodeFrames(pool *cpool.Pool) ([]byte, error) {
	var nodes []*Node
	for n := range s.Frames {
		if n.stream == s {
			nodes = append(nodes, n)
		}
	}
	slices.SortFunc(nodes, func(a, b *Node) int { return a.Offset - b.Offset })
	init, err := InitialFrame(s.Owner, s.Method)
	if err != nil {
		return nil, err
	}
	return encodeStackMap(pool, init, nodes, s.Frames)
}

func emit(w *byteio.Writer, n *Node, wide bool) error {
	op := n.Op
	switch info := op.Info(); info.Format {
	case FmtNone:
		w.U8(uint8(op))
	case FmtLocal:
		switch {
		case n.Local < 4 && op != RET:
			base := ILOAD_0 + 4*(op-ILOAD)
			if op.IsStore() {
				base = ISTORE_0 + 4*(op-ISTORE)
			}
			w.U8(uint8(base + Op(n.Local)))
		case n.Local <= 0xff:
			w.U8(uint8(op))
			w.U8(uint8(n.Local))
		default:
			w.U8(uint8(WIDE))
			w.U8(uint8(op))
			w.U16(n.Local)
		}
	case FmtIinc:
		if n.Local <= 0xff && n.Int >= math.MinInt8 && n.Int <= math.MaxInt8 {
			w.U8(uint8(IINC))
			w.U8(uint8(n.Local))
			w.S8(int8(n.Int))
		} else {
			if n.Int < math.MinInt16 || n.Int > math.MaxInt16 {
				return fmt.Errorf("bytecode: iinc delta %d out of range", n.Int)
			}
			w.U8(uint8(WIDE))
			w.U8(uint8(IINC))
			w.U16(n.Local)
			w.S16(int16(n.Int))
		}
	case FmtByte:
		w.U8(uint8(op))
		w.U8(uint8(n.Int))
	case FmtShort:
		w.U8(uint8(op))
		w.S16(int16(n.Int))
	case FmtCP1:
		if n.Index > 0xff {
			w.U8(uint8(LDC_W))
			w.U16(n.Index)
		} else {
			w.U8(uint8(op))
			w.U8(uint8(n.Index))
		}
	case FmtCP2:
		w.U8(uint8(op))
		w.U16(n.Index)
	case FmtInterface:
		w.U8(uint8(op))
		w.U16(n.Index)
		w.U8(uint8(n.Int))
		w.U8(0)
	case FmtDynamic:
		w.U8(uint8(op))
		w.U16(n.Index)
		w.U16(0)
	case FmtMulti:
		w.U8(uint8(op))
		w.U16(n.Index)
		w.U8(uint8(n.Int))
	case FmtBranch, FmtBranchW:
		if n.Target == nil || !n.Target.Linked() {
			return fmt.Errorf("bytecode: %s at %d has no live target", op, n.Offset)
		}
		delta := n.Target.Offset - n.Offset
		switch {
		case !wide:
			w.U8(uint8(op))
			w.S16(int16(delta))
		case op.IsConditional():
			// if !cond skip the goto_w that follows
			w.U8(uint8(invert(op)))
			w.S16(8)
			w.U8(uint8(GOTO_W))
			w.S32(int32(delta - 3))
		case op == JSR:
			w.U8(uint8(JSR_W))
			w.S32(int32(delta))
		default:
			w.U8(uint8(GOTO_W))
			w.S32(int32(delta))
		}
	case FmtTable, FmtLookup:
		return emitSwitch(w, n)
	default:
		return fmt.Errorf("bytecode: cannot encode %s", op)
	}
	return nil
}

func emitSwitch(w *byteio.Writer, n *Node) error {
	if n.Default == nil || !n.Default.Linked() {
		return fmt.Errorf("bytecode: %s at %d has no live default", n.Op, n.Offset)
	}
	w.U8(uint8(n.Op))
	for range 3 - n.Offset%4 {
		w.U8(0)
	}
	w.S32(int32(n.Default.Offset - n.Offset))
	if n.Op == TABLESWITCH {
		if len(n.Cases) == 0 {
			return fmt.Errorf("bytecode: tableswitch at %d without cases", n.Offset)
		}
		w.S32(n.Cases[0].Key)
		w.S32(n.Cases[len(n.Cases)-1].Key)
	} else {
		w.S32(int32(len(n.Cases)))
	}
	cases := n.Cases
	if n.Op == LOOKUPSWITCH {
		cases = slices.Clone(cases)
		slices.SortFunc(cases, func(a, b Case) int { return cmp.Compare(a.Key, b.Key) })
	}
	for _, c := range cases {
		if c.Target == nil || !c.Target.Linked() {
			return fmt.Errorf("bytecode: %s at %d has a dead case", n.Op, n.Offset)
		}
		if n.Op == LOOKUPSWITCH {
			w.S32(c.Key)
		}
		w.S32(int32(c.Target.Offset - n.Offset))
	}
	return nil
}
