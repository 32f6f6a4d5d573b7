package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bc "jvminstr/internal/bytecode"
	"jvminstr/internal/classfile"
	"jvminstr/internal/cpool"
)

func static(desc string) *classfile.Method {
	return &classfile.Method{Access: classfile.AccStatic | classfile.AccPublic, Name: "f", Desc: desc}
}

// branchy builds
//
//	static int f(int x) { if (x <= 0) return 0; return x; }
func branchy() (*bc.Stream, *bc.Node, *bc.Node) {
	s := bc.NewStream("T", static("(I)I"))
	zero := bc.Simple(bc.ICONST_0)
	load := bc.Load(bc.ILOAD, 0)
	s.Append(bc.Load(bc.ILOAD, 0), bc.Branch(bc.IFLE, zero), load, bc.Simple(bc.IRETURN), zero, bc.Simple(bc.IRETURN))
	return s, load, zero
}

func TestBuildCFG_Conditional(t *testing.T) {
	s, _, zero := branchy()
	g := BuildCFG("f", s)
	require.Len(t, g.Blocks, 3)

	b0 := g.Blocks[0]
	assert.True(t, b0.IsEntry)
	assert.ElementsMatch(t, []Succ{{BlockID: 2, Cond: "T"}, {BlockID: 1, Cond: "F"}}, b0.Succs)
	assert.True(t, g.Blocks[1].IsTerm)
	assert.Equal(t, 2, g.BlockOf(zero))
	assert.Len(t, g.Reachable(), 3)
}

func TestBuildCFG_HandlerEdges(t *testing.T) {
	s := bc.NewStream("T", static("()V"))
	body, ret := bc.Simple(bc.NOP), bc.Simple(bc.RETURN)
	handler := bc.Simple(bc.POP)
	s.Append(body, ret, handler, bc.Simple(bc.RETURN))
	s.Handlers = []*bc.Handler{{Start: body, End: ret, Handler: handler}}

	g := BuildCFG("f", s)
	require.Len(t, g.Blocks, 3)
	assert.Contains(t, g.Blocks[0].Succs, Succ{BlockID: 2, Cond: "E"})
	assert.NotContains(t, g.Blocks[1].Succs, Succ{BlockID: 2, Cond: "E"})
}

func TestMaxStack_Linear(t *testing.T) {
	pool := cpool.New()
	out, err := pool.InternFieldRef("java/lang/System", "out", "Ljava/io/PrintStream;")
	require.NoError(t, err)
	printJ, err := pool.InternMethodRef("java/io/PrintStream", "println", "(J)V", false)
	require.NoError(t, err)

	s := bc.NewStream("T", static("(J)V"))
	s.Append(bc.Ref(bc.GETSTATIC, out), bc.Load(bc.LLOAD, 0), bc.Simple(bc.DUP2), bc.Simple(bc.POP2),
		bc.Ref(bc.INVOKEVIRTUAL, printJ), bc.Simple(bc.RETURN))

	ms, err := MaxStack(s, pool, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, ms)

	ml, err := MaxLocals(s)
	require.NoError(t, err)
	assert.Equal(t, 2, ml)
}

func TestMaxStack_HandlerDepth(t *testing.T) {
	s := bc.NewStream("T", static("()V"))
	body, ret := bc.Simple(bc.NOP), bc.Simple(bc.RETURN)
	handler := bc.Simple(bc.DUP)
	s.Append(body, ret, handler, bc.Simple(bc.POP2), bc.Simple(bc.RETURN))
	s.Handlers = []*bc.Handler{{Start: body, End: ret, Handler: handler}}

	ms, err := MaxStack(s, cpool.New(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, ms)
}

func TestMaxStack_Mismatch(t *testing.T) {
	// One arm pushes an extra value before the join.
	s := bc.NewStream("T", static("(I)V"))
	join := bc.Simple(bc.RETURN)
	s.Append(bc.Load(bc.ILOAD, 0), bc.Branch(bc.IFEQ, join), bc.Simple(bc.ICONST_1), join)

	_, err := MaxStack(s, cpool.New(), nil, Options{})
	assert.ErrorIs(t, err, ErrStackMismatch)
}

func TestMaxStack_Underflow(t *testing.T) {
	s := bc.NewStream("T", static("()V"))
	s.Append(bc.Simple(bc.POP), bc.Simple(bc.RETURN))
	_, err := MaxStack(s, cpool.New(), nil, Options{})
	assert.ErrorIs(t, err, ErrStackMismatch)
}

func TestMaxStack_Unreachable(t *testing.T) {
	s := bc.NewStream("T", static("()V"))
	dead := bc.Simple(bc.ICONST_0)
	s.Append(bc.Simple(bc.RETURN), dead, bc.Simple(bc.ICONST_0), bc.Simple(bc.POP2), bc.Simple(bc.RETURN))

	ms, err := MaxStack(s, cpool.New(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, ms, "unreachable code is skipped")

	_, err = MaxStack(s, cpool.New(), nil, Options{StrictReachability: true})
	assert.ErrorIs(t, err, ErrUnreachableCode)

	ms, err = MaxStack(s, cpool.New(), map[*bc.Node]int{dead: 1}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, ms, "a seeded block is walked from its frame depth")
}

func TestMaxLocals_Receiver(t *testing.T) {
	s := bc.NewStream("T", &classfile.Method{Name: "g", Desc: "(DI)V"})
	s.Append(bc.Simple(bc.RETURN))
	ml, err := MaxLocals(s)
	require.NoError(t, err)
	assert.Equal(t, 4, ml)

	s.Append(bc.Store(bc.DSTORE, 6))
	ml, err = MaxLocals(s)
	require.NoError(t, err)
	assert.Equal(t, 8, ml)
}

func TestInferFrames_SyntheticLabel(t *testing.T) {
	pool := cpool.New()
	s, load, zero := branchy()
	s.StackMaps = true
	s.Frames[zero] = bc.Frame{Locals: []bc.VType{bc.VInt}}

	// if (x <= 30) skip; nop;  label: nop  -- inserted before the load.
	label := bc.Simple(bc.NOP)
	frag := []*bc.Node{
		bc.Load(bc.ILOAD, 0), bc.Push(bc.BIPUSH, 30), bc.Simple(bc.ISUB),
		bc.Branch(bc.IFLE, label), bc.Simple(bc.NOP), label,
	}
	for _, n := range frag {
		n.Synthetic = true
	}
	s.InsertBefore(load, frag)

	require.NoError(t, Recompute(s, pool, Options{}))
	require.Contains(t, s.Frames, label)
	assert.Equal(t, []bc.VType{bc.VInt}, s.Frames[label].Locals)
	assert.Empty(t, s.Frames[label].Stack)
	assert.Equal(t, uint16(2), s.MaxStack)
	assert.Equal(t, uint16(1), s.MaxLocals)

	code, err := s.Encode(pool)
	require.NoError(t, err)
	_, ok := code.Attr("StackMapTable")
	assert.True(t, ok)
}

func TestInferFrames_BorrowsAfterTerminator(t *testing.T) {
	pool := cpool.New()
	s, _, zero := branchy()
	s.StackMaps = true
	s.Frames[zero] = bc.Frame{Locals: []bc.VType{bc.VInt}}

	// Code inserted before a jump target that follows a return is only
	// reachable through the frame of the target.
	str, err := pool.InternLiteral("x")
	require.NoError(t, err)
	frag := []*bc.Node{bc.Ref(bc.LDC, str), bc.Simple(bc.POP)}
	for _, n := range frag {
		n.Synthetic = true
	}
	s.InsertBefore(zero, frag)

	require.NoError(t, Recompute(s, pool, Options{}))
	require.Contains(t, s.Frames, frag[0])
	assert.True(t, s.Frames[frag[0]].Equal(s.Frames[zero]))
	assert.Equal(t, uint16(1), s.MaxStack)
}

func TestInferFrames_ObjectTypes(t *testing.T) {
	pool := cpool.New()
	ctor, err := pool.InternMethodRef("java/lang/StringBuilder", "<init>", "()V", false)
	require.NoError(t, err)
	cls, err := pool.Class("java/lang/StringBuilder")
	require.NoError(t, err)

	s := bc.NewStream("T", static("()V"))
	s.StackMaps = true
	label := bc.Simple(bc.NOP)
	label.Synthetic = true
	newSB := bc.Ref(bc.NEW, cls)
	s.Append(newSB, bc.Simple(bc.DUP), bc.Ref(bc.INVOKESPECIAL, ctor), bc.Store(bc.ASTORE, 0),
		bc.Simple(bc.ICONST_0), bc.Branch(bc.IFEQ, label), label, bc.Simple(bc.RETURN))

	require.NoError(t, InferFrames(s, pool))
	require.Contains(t, s.Frames, label)
	assert.Equal(t, []bc.VType{bc.VObject("java/lang/StringBuilder")}, s.Frames[label].Locals)
}

func TestRecompute_FrameAfterWidenedBranch(t *testing.T) {
	pool := cpool.New()
	s := bc.NewStream("T", static("(I)V"))
	s.StackMaps = true
	ret := bc.Simple(bc.RETURN)
	s.Append(bc.Load(bc.ILOAD, 0), bc.Branch(bc.IFEQ, ret))
	for range 40000 {
		s.Append(bc.Simple(bc.NOP))
	}
	s.Append(ret)

	require.NoError(t, Recompute(s, pool, Options{}))
	code, err := s.Encode(pool)
	require.NoError(t, err)

	c := &classfile.Class{Major: 52, Pool: pool, This: "T", Super: "java/lang/Object"}
	m := static("(I)V")
	m.Code = code
	again, err := bc.Decode(c, m)
	require.NoError(t, err)

	var offsets []int
	for _, n := range again.Nodes() {
		if _, ok := again.Frames[n]; ok {
			offsets = append(offsets, n.Offset)
		}
	}
	// ifne@1 jumps over goto_w@4 to the nop at 9.
	assert.Equal(t, []int{9, 40009}, offsets)
	assert.Equal(t, []bc.VType{bc.VInt}, again.Frames[again.Nodes()[3]].Locals)
}
