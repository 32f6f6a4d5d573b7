package bytecode

import (
	"fmt"
	"strconv"
	"strings"

	"jvminstr/internal/cpool"
)

// Annotator returns an optional comment for an instruction.
type Annotator func(n *Node) string

// Operand renders the constant pool operand of n, or "" if it has none.
func Operand(n *Node, pool *cpool.Pool) string {
	switch n.Op.Info().Format {
	case FmtCP1, FmtCP2, FmtInterface, FmtDynamic, FmtMulti:
	default:
		return ""
	}
	switch {
	case n.Op.IsInvoke() || n.Op.IsFieldAccess():
		ref, err := pool.Ref(n.Index)
		if err != nil {
			return fmt.Sprintf("#%d ?", n.Index)
		}
		return ref.String()
	case n.Op == LDC || n.Op == LDC2_W:
		v, err := pool.Literal(n.Index)
		if err != nil {
			return fmt.Sprintf("#%d ?", n.Index)
		}
		switch v := v.(type) {
		case string:
			return strconv.Quote(v)
		case cpool.Entry:
			if v.Tag == cpool.TagClass {
				name, _ := pool.ClassName(n.Index)
				return name + ".class"
			}
			return v.Tag.String()
		default:
			return fmt.Sprint(v)
		}
	default:
		name, err := pool.ClassName(n.Index)
		if err != nil {
			return fmt.Sprintf("#%d ?", n.Index)
		}
		return name
	}
}

// Format renders a listing of the stream at its current offsets, one
// instruction per line. Synthetic instructions are marked with '+'.
func Format(s *Stream, pool *cpool.Pool, annotators ...Annotator) string {
	targets := s.Targets()
	var b strings.Builder
	for n := s.head; n != nil; n = n.next {
		mark := ' '
		if n.Synthetic {
			mark = '+'
		}
		label := "  "
		if targets[n] {
			label = "L:"
		}
		fmt.Fprintf(&b, "%s%c%5d  ", label, mark, n.Offset)

		b.WriteString(n.Mnemonic())
		switch info := n.Op.Info(); info.Format {
		case FmtLocal:
			if n.Local >= 4 || n.Op == RET {
				fmt.Fprintf(&b, " %d", n.Local)
			}
		case FmtIinc:
			fmt.Fprintf(&b, " %d, %d", n.Local, n.Int)
		case FmtByte, FmtShort:
			fmt.Fprintf(&b, " %d", n.Int)
		case FmtBranch, FmtBranchW:
			if n.Target != nil {
				fmt.Fprintf(&b, " %d", n.Target.Offset)
			}
		case FmtTable, FmtLookup:
			fmt.Fprintf(&b, " default=%d", n.Default.Offset)
			for _, c := range n.Cases {
				fmt.Fprintf(&b, " %d:%d", c.Key, c.Target.Offset)
			}
		default:
			if op := Operand(n, pool); op != "" {
				fmt.Fprintf(&b, " %s", op)
			}
			if n.Op == MULTIANEWARRAY {
				fmt.Fprintf(&b, " dim %d", n.Int)
			}
		}

		for _, ann := range annotators {
			if c := ann(n); c != "" {
				fmt.Fprintf(&b, "  ; %s", c)
				break
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FrameAnnotator renders the stack map frame bound to a node.
func FrameAnnotator(s *Stream) Annotator {
	return func(n *Node) string {
		f, ok := s.Frames[n]
		if !ok {
			return ""
		}
		return fmt.Sprintf("frame locals=%v stack=%v", compact(f.Locals), compact(f.Stack))
	}
}
