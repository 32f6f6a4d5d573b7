package bytecode

import "fmt"

// Node is one instruction in a Stream. Nodes have stable identity: every
// reference to an instruction (branch target, handler bound, line number,
// local variable range, stack map frame) is a *Node, so inserting code
// never disturbs them. Offset is only meaningful after Encode or Decode.
type Node struct {
	Op Op

	// Int holds the immediate of bipush/sipush, the delta of iinc, the
	// array type of newarray, the dimensions of multianewarray and the
	// argument count of invokeinterface.
	Int int32
	// Local is the slot of a load, store, iinc or ret.
	Local uint16
	// Index is the constant pool operand.
	Index uint16

	Target  *Node
	Default *Node
	Cases   []Case // tableswitch keys are contiguous

	Offset int

	// Synthetic marks nodes inserted by a pass.
	Synthetic bool

	prev, next *Node
	stream     *Stream
}

// Case is one switch arm.
type Case struct {
	Key    int32
	Target *Node
}

func (n *Node) Next() *Node { return n.next }
func (n *Node) Prev() *Node { return n.prev }

// Linked reports whether the node is part of a stream.
func (n *Node) Linked() bool { return n.stream != nil }

// Mnemonic returns the instruction name as it will be encoded for loads,
// stores and ldc. Other opcodes return their table name.
func (n *Node) Mnemonic() string {
	switch {
	case n.Op.IsLoad() && n.Local < 4:
		return (ILOAD_0 + 4*(n.Op-ILOAD) + Op(n.Local)).String()
	case n.Op.IsStore() && n.Local < 4:
		return (ISTORE_0 + 4*(n.Op-ISTORE) + Op(n.Local)).String()
	case n.Op == LDC && n.Index > 0xff:
		return LDC_W.String()
	}
	return n.Op.String()
}

// Clone returns an unlinked copy of n with the same operands.
func (n *Node) Clone() *Node {
	c := &Node{
		Op: n.Op, Int: n.Int, Local: n.Local, Index: n.Index,
		Target: n.Target, Default: n.Default,
		Synthetic: n.Synthetic,
	}
	if n.Cases != nil {
		c.Cases = append([]Case(nil), n.Cases...)
	}
	return c
}

func (n *Node) String() string {
	info := n.Op.Info()
	switch info.Format {
	case FmtLocal:
		return fmt.Sprintf("%s %d", n.Mnemonic(), n.Local)
	case FmtIinc:
		return fmt.Sprintf("iinc %d %d", n.Local, n.Int)
	case FmtByte, FmtShort:
		return fmt.Sprintf("%s %d", n.Op, n.Int)
	case FmtCP1, FmtCP2, FmtDynamic:
		return fmt.Sprintf("%s #%d", n.Mnemonic(), n.Index)
	case FmtInterface:
		return fmt.Sprintf("%s #%d %d", n.Op, n.Index, n.Int)
	case FmtMulti:
		return fmt.Sprintf("%s #%d %d", n.Op, n.Index, n.Int)
	case FmtBranch, FmtBranchW:
		if n.Target != nil {
			return fmt.Sprintf("%s @%d", n.Op, n.Target.Offset)
		}
		return n.Op.String()
	}
	if n.Op.IsLoad() || n.Op.IsStore() {
		return n.Mnemonic()
	}
	return n.Op.String()
}

// Constructors for fragment building.

func Simple(op Op) *Node { return &Node{Op: op} }

// Push returns bipush/sipush for an int immediate.
func Push(op Op, v int32) *Node { return &Node{Op: op, Int: v} }

func Load(op Op, slot uint16) *Node  { return &Node{Op: op, Local: slot} }
func Store(op Op, slot uint16) *Node { return &Node{Op: op, Local: slot} }

func Iinc(slot uint16, delta int32) *Node { return &Node{Op: IINC, Local: slot, Int: delta} }

// Ref returns an instruction with a constant pool operand: ldc, ldc2_w,
// field access, invoke, new, anewarray, checkcast, instanceof.
func Ref(op Op, index uint16) *Node { return &Node{Op: op, Index: index} }

// InvokeInterface computes the count operand from the argument slots.
func InvokeInterface(index uint16, argSlots int) *Node {
	return &Node{Op: INVOKEINTERFACE, Index: index, Int: int32(argSlots + 1)}
}

func NewArray(atype int32) *Node { return &Node{Op: NEWARRAY, Int: atype} }

func MultiANewArray(index uint16, dims int32) *Node {
	return &Node{Op: MULTIANEWARRAY, Index: index, Int: dims}
}

func Branch(op Op, target *Node) *Node { return &Node{Op: op, Target: target} }

func TableSwitch(def *Node, low int32, targets ...*Node) *Node {
	n := &Node{Op: TABLESWITCH, Default: def}
	for i, t := range targets {
		n.Cases = append(n.Cases, Case{Key: low + int32(i), Target: t})
	}
	return n
}

func LookupSwitch(def *Node, cases ...Case) *Node {
	return &Node{Op: LOOKUPSWITCH, Default: def, Cases: cases}
}
