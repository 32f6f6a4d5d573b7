package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jvminstr/internal/classfile"
	"jvminstr/internal/cpool"
)

func newClass(major uint16) *classfile.Class {
	return &classfile.Class{Major: major, Pool: cpool.New(), This: "T", Super: "java/lang/Object"}
}

// reparse encodes s into m and decodes it again.
func reparse(t *testing.T, c *classfile.Class, m *classfile.Method, s *Stream) *Stream {
	t.Helper()
	code, err := s.Encode(c.Pool)
	require.NoError(t, err)
	m.Code = code
	out, err := Decode(c, m)
	require.NoError(t, err)
	return out
}

// switchStream builds
//
//	static int f(int x) { switch (x) { case 0: return 1; case 1: return 2; } return -1; }
func switchStream(m *classfile.Method) (*Stream, []*Node) {
	s := NewStream("T", m)
	one, r1 := Simple(ICONST_1), Simple(IRETURN)
	two, r2 := Simple(ICONST_2), Simple(IRETURN)
	def, r3 := Simple(ICONST_M1), Simple(IRETURN)
	sw := TableSwitch(def, 0, one, two)
	s.Append(Load(ILOAD, 0), sw, one, r1, two, r2, def, r3)
	s.MaxStack, s.MaxLocals = 1, 1
	return s, []*Node{sw, one, two, def}
}

func TestDecode_ShortForms(t *testing.T) {
	c := newClass(49)
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "(IJ)J"}
	m.Code = &classfile.Code{MaxStack: 2, MaxLocals: 3, Bytecode: []byte{
		0x1b,       // iload_1
		0x85,       // i2l
		0x1f,       // lload_1
		0x61,       // ladd
		0x84, 1, 5, // iinc 1 5
		0xc4, 0x15, 0x01, 0x00, // wide iload 256
		0x57, // pop
		0xad, // lreturn
	}}
	s, err := Decode(c, m)
	require.NoError(t, err)

	nodes := s.Nodes()
	require.Len(t, nodes, 8)
	assert.Equal(t, ILOAD, nodes[0].Op)
	assert.Equal(t, uint16(1), nodes[0].Local)
	assert.Equal(t, "iload_1", nodes[0].Mnemonic())
	assert.Equal(t, "lload_1", nodes[2].Mnemonic())
	assert.Equal(t, IINC, nodes[4].Op)
	assert.Equal(t, int32(5), nodes[4].Int)
	assert.Equal(t, ILOAD, nodes[5].Op)
	assert.Equal(t, uint16(256), nodes[5].Local)
	assert.Equal(t, "iload", nodes[5].Mnemonic())

	code, err := s.Encode(c.Pool)
	require.NoError(t, err)
	assert.Equal(t, m.Code.Bytecode, code.Bytecode)
}

func TestRoundTrip_Switch(t *testing.T) {
	c := newClass(49)
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "(I)I"}
	s, _ := switchStream(m)

	first, err := s.Encode(c.Pool)
	require.NoError(t, err)
	// iload_0, tableswitch at 1 padded to 4, 3 jump words + default + bounds
	assert.Equal(t, 1+1+2+12+8+6, len(first.Bytecode))

	again := reparse(t, c, m, s)
	sw := again.Nodes()[1]
	require.Equal(t, TABLESWITCH, sw.Op)
	require.Len(t, sw.Cases, 2)
	assert.Equal(t, ICONST_1, sw.Cases[0].Target.Op)
	assert.Equal(t, ICONST_M1, sw.Default.Op)

	second, err := again.Encode(c.Pool)
	require.NoError(t, err)
	assert.Equal(t, first.Bytecode, second.Bytecode)
}

func TestSwitchPadding_FollowsPosition(t *testing.T) {
	c := newClass(49)
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "(I)I"}
	s, nodes := switchStream(m)
	sw := nodes[0]

	for i := 0; i < 4; i++ {
		code, err := s.Encode(c.Pool)
		require.NoError(t, err)
		pad := 3 - sw.Offset%4
		for k := 1; k <= pad; k++ {
			assert.Zero(t, code.Bytecode[sw.Offset+k])
		}
		assert.Zero(t, (sw.Offset+1+pad)%4, "default must be 4-byte aligned")
		s.InsertBefore(s.First(), []*Node{Simple(NOP)})
	}
}

func TestInsertBefore_KeepsReferences(t *testing.T) {
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "(I)I"}
	s, nodes := switchStream(m)
	sw, one := nodes[0], nodes[1]
	s.Lines = []Line{{Node: one, Line: 10}}
	s.Frames[one] = Frame{Locals: []VType{VInt}}

	frag := []*Node{Ref(LDC, 1), Simple(POP)}
	s.InsertBefore(one, frag)

	assert.Same(t, one, sw.Cases[0].Target)
	assert.Same(t, one, s.Lines[0].Node)
	assert.Contains(t, s.Frames, one)
	assert.Same(t, frag[1], one.Prev())
	assert.Same(t, frag[0], sw.Next())
	assert.Equal(t, 10, s.Len())
}

func TestReplace_MovesReferences(t *testing.T) {
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "(I)I"}
	s, nodes := switchStream(m)
	sw, two := nodes[0], nodes[2]
	s.Handlers = []*Handler{{Start: two, End: two.Next().Next(), Handler: nodes[3]}}

	repl := []*Node{Simple(ICONST_3), Simple(NOP)}
	require.NoError(t, s.Replace(two, repl))
	assert.Same(t, repl[0], sw.Cases[1].Target)
	assert.Same(t, repl[0], s.Handlers[0].Start)
	assert.False(t, two.Linked())

	err := s.Replace(repl[0], nil)
	assert.ErrorIs(t, err, ErrDanglingReference)

	// An unreferenced node can be removed outright.
	require.NoError(t, s.Replace(repl[1], nil))
	assert.Equal(t, 8, s.Len())
}

func TestAll_VisitsInsertedAfterOnly(t *testing.T) {
	s := NewStream("T", &classfile.Method{Name: "f", Desc: "()V", Access: classfile.AccStatic})
	a, b := Simple(NOP), Simple(RETURN)
	s.Append(a, b)

	var seen []*Node
	for _, n := range s.All() {
		seen = append(seen, n)
		if n == a {
			s.InsertBefore(a, []*Node{Simple(ICONST_0)})
			s.InsertAfter(a, []*Node{Simple(POP)})
		}
	}
	require.Len(t, seen, 3)
	assert.Same(t, a, seen[0])
	assert.Equal(t, POP, seen[1].Op)
	assert.Same(t, b, seen[2])
	assert.Equal(t, 4, s.Len())
}

func TestAll_ContinuesAfterReplace(t *testing.T) {
	s := NewStream("T", &classfile.Method{Name: "f", Desc: "()V", Access: classfile.AccStatic})
	a, b := Simple(NOP), Simple(RETURN)
	s.Append(a, b)

	var ops []Op
	for _, n := range s.All() {
		ops = append(ops, n.Op)
		if n == a {
			require.NoError(t, s.Replace(a, []*Node{Simple(ICONST_0), Simple(POP)}))
		}
	}
	assert.Equal(t, []Op{NOP, RETURN}, ops)
	assert.Equal(t, ICONST_0, s.First().Op)
}

func TestEncode_WidensLongJumps(t *testing.T) {
	c := newClass(49)
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "(I)V"}
	s := NewStream("T", m)
	ret := Simple(RETURN)
	s.Append(Load(ILOAD, 0), Branch(IFEQ, ret))
	for range 40000 {
		s.Append(Simple(NOP))
	}
	back := Branch(GOTO, s.First())
	s.Append(back, ret)

	code, err := s.Encode(c.Pool)
	require.NoError(t, err)
	bc := code.Bytecode
	// iload_0; ifne +8; goto_w ret
	assert.Equal(t, byte(IFNE), bc[1])
	assert.Equal(t, []byte{0, 8}, bc[2:4])
	assert.Equal(t, byte(GOTO_W), bc[4])
	assert.Equal(t, byte(GOTO_W), bc[back.Offset])
	assert.Equal(t, 1+8+40000+5+1, len(bc))

	// The widened form decodes back to ordinary branches.
	again := reparse(t, c, m, s)
	nodes := again.Nodes()
	assert.Equal(t, IFNE, nodes[1].Op)
	assert.Equal(t, GOTO, nodes[2].Op)
	assert.Equal(t, RETURN, nodes[2].Target.Op)
}

func TestEncode_WidenedBranchNeedsFrame(t *testing.T) {
	c := newClass(52)
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "(I)V"}
	s := NewStream("T", m)
	s.StackMaps = true
	ret, after := Simple(RETURN), Simple(NOP)
	cond := Branch(IFEQ, ret)
	s.Append(Load(ILOAD, 0), cond, after)
	for range 40000 {
		s.Append(Simple(NOP))
	}
	s.Append(ret)
	s.MaxStack, s.MaxLocals = 1, 1
	s.Frames[ret] = Frame{Locals: []VType{VInt}}

	assert.Equal(t, map[*Node]bool{cond: true}, s.Widened())
	assert.Zero(t, after.Offset, "Widened leaves offsets alone")

	_, err := s.Encode(c.Pool)
	assert.ErrorIs(t, err, ErrMissingFrame)

	s.Frames[after] = Frame{Locals: []VType{VInt}}
	again := reparse(t, c, m, s)
	nodes := again.Nodes()
	// iload_0; ifne 9; goto_w; nop@9
	assert.Equal(t, IFNE, nodes[1].Op)
	assert.Same(t, nodes[3], nodes[1].Target)
	assert.Equal(t, 9, nodes[3].Offset)
	assert.Contains(t, again.Frames, nodes[3])
	assert.Contains(t, again.Frames, nodes[len(nodes)-1])
}

func TestEncode_CodeTooLarge(t *testing.T) {
	c := newClass(49)
	s := NewStream("T", &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "()V"})
	for range 70000 {
		s.Append(Simple(NOP))
	}
	s.Append(Simple(RETURN))
	_, err := s.Encode(c.Pool)
	assert.ErrorIs(t, err, ErrCodeTooLarge)
}

func TestEncode_LdcSelection(t *testing.T) {
	c := newClass(49)
	s := NewStream("T", &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "()V"})
	near, far := Ref(LDC, 7), Ref(LDC, 300)
	s.Append(near, Simple(POP), far, Simple(POP), Simple(RETURN))
	code, err := s.Encode(c.Pool)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(LDC), 7, byte(POP), byte(LDC_W), 1, 44, byte(POP), byte(RETURN)}, code.Bytecode)
	assert.Equal(t, "ldc_w", far.Mnemonic())
	assert.Equal(t, "ldc", near.Mnemonic())
}

func TestStackMap_RoundTrip(t *testing.T) {
	c := newClass(52)
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "(I)I"}
	s, nodes := switchStream(m)
	s.StackMaps = true
	for _, n := range nodes[1:] {
		s.Frames[n] = Frame{Locals: []VType{VInt}}
	}
	// A frame with a wide local and a reference on the stack.
	s.Frames[nodes[3]] = Frame{Locals: []VType{VInt, VLong, VTop}, Stack: []VType{VObject("java/lang/String")}}

	again := reparse(t, c, m, s)
	require.True(t, again.StackMaps)
	require.Len(t, again.Frames, 3)
	got := again.Nodes()
	assert.Equal(t, Frame{Locals: []VType{VInt}, Stack: []VType{}}, normalize(again.Frames[got[2]]))
	assert.Equal(t,
		Frame{Locals: []VType{VInt, VLong, VTop}, Stack: []VType{VObject("java/lang/String")}},
		normalize(again.Frames[got[6]]))
}

func TestStackMap_Version50WithoutTable(t *testing.T) {
	c := newClass(50)
	m := &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "(I)I"}
	s, _ := switchStream(m)
	again := reparse(t, c, m, s)
	assert.False(t, again.StackMaps)

	c51 := newClass(51)
	again = reparse(t, c51, m, s)
	assert.True(t, again.StackMaps)
}

func TestInitialFrame(t *testing.T) {
	f, err := InitialFrame("a/B", &classfile.Method{Name: "<init>", Desc: "(JLjava/lang/String;[I)V"})
	require.NoError(t, err)
	assert.Equal(t, []VType{VUninitT, VLong, VTop, VObject("java/lang/String"), VObject("[I")}, f.Locals)

	f, err = InitialFrame("a/B", &classfile.Method{Name: "m", Desc: "(D)V", Access: classfile.AccStatic})
	require.NoError(t, err)
	assert.Equal(t, []VType{VDouble, VTop}, f.Locals)
}

func TestFormat(t *testing.T) {
	c := newClass(49)
	idx, err := c.Pool.InternMethodRef("java/io/PrintStream", "println", "(Ljava/lang/String;)V", false)
	require.NoError(t, err)
	str, err := c.Pool.InternLiteral("hi")
	require.NoError(t, err)

	s := NewStream("T", &classfile.Method{Access: classfile.AccStatic, Name: "f", Desc: "()V"})
	ins := Ref(LDC, str)
	ins.Synthetic = true
	s.Append(Simple(ACONST_NULL), ins, Ref(INVOKEVIRTUAL, idx), Simple(RETURN))
	_, err = s.Encode(c.Pool)
	require.NoError(t, err)

	out := Format(s, c.Pool)
	assert.Contains(t, out, `ldc "hi"`)
	assert.Contains(t, out, "invokevirtual java/io/PrintStream.println(Ljava/lang/String;)V")
	assert.Contains(t, out, "+    1")

	assert.Equal(t, FmtCP1, LDC.Info().Format)
}

func normalize(f Frame) Frame {
	if f.Stack == nil {
		f.Stack = []VType{}
	}
	return f
}
