package flow

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/cpool"
	"jvminstr/internal/descriptor"
)

var ErrFrameInference = errors.New("flow: cannot infer stack map frame")

// InferFrames adds the StackMapTable frames the stream is missing. It
// scans the code in order as the type-checking verifier does: existing
// frames are authoritative, verification types are propagated through
// every instruction in between, and the state is undefined after an
// unconditional transfer.
//
// A frame is added at every jump target, handler entry, instruction
// following an unconditional transfer, and instruction following a
// conditional branch that Encode must widen, that lacks one. If the state at such
// a point is defined, the frame records it. Otherwise the point starts
// inserted code that leads, through inserted instructions only, to an
// instruction with a frame; inserted code leaves stack and locals as it
// found them, so that frame is copied.
func InferFrames(s *bytecode.Stream, pool *cpool.Pool) error {
	init, err := bytecode.InitialFrame(s.Owner, s.Method)
	if err != nil {
		return err
	}
	targets := s.Targets()
	widened := s.Widened()

	st := &state{pool: pool, owner: s.Owner}
	cur := init.Clone()
	defined := true
	var prev *bytecode.Node

	for _, n := range s.All() {
		needed := targets[n] || (prev != nil && (prev.Op.IsTerminator() || widened[prev]))
		if f, ok := s.Frames[n]; ok {
			cur, defined = f.Clone(), true
		} else if needed {
			if !defined {
				f, err := borrowFrame(s, n)
				if err != nil {
					return err
				}
				cur = f
			}
			s.Frames[n] = cur.Clone()
			defined = true
		}
		if !defined {
			return fmt.Errorf("%w: no state at %s", ErrFrameInference, n)
		}

		if err := st.step(&cur, n); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFrameInference, n.Mnemonic(), err)
		}
		if n.Op.IsTerminator() {
			defined = false
		}
		prev = n
	}
	return nil
}

// borrowFrame finds the frame of the first framed node reachable from n
// through synthetic instructions.
func borrowFrame(s *bytecode.Stream, n *bytecode.Node) (bytecode.Frame, error) {
	for m := n; m != nil; m = m.Next() {
		if f, ok := s.Frames[m]; ok {
			return f.Clone(), nil
		}
		if !m.Synthetic {
			break
		}
	}
	return bytecode.Frame{}, fmt.Errorf("%w: unreachable %s has no frame to inherit", ErrFrameInference, n.Mnemonic())
}

type state struct {
	pool  *cpool.Pool
	owner string
}

func pop(f *bytecode.Frame, n int) ([]bytecode.VType, error) {
	if len(f.Stack) < n {
		return nil, fmt.Errorf("stack underflow: need %d, have %d", n, len(f.Stack))
	}
	out := slices.Clone(f.Stack[len(f.Stack)-n:])
	f.Stack = f.Stack[:len(f.Stack)-n]
	return out, nil
}

func setLocal(f *bytecode.Frame, slot int, v bytecode.VType) {
	need := slot + 1
	if v.Wide() {
		need++
	}
	for len(f.Locals) < need {
		f.Locals = append(f.Locals, bytecode.VTop)
	}
	// Overwriting the second half of a wide value invalidates it.
	if slot > 0 && f.Locals[slot-1].Wide() {
		f.Locals[slot-1] = bytecode.VTop
	}
	f.Locals[slot] = v
	if v.Wide() {
		f.Locals[slot+1] = bytecode.VTop
	}
}

// result is the pushed type of fixed-effect instructions.
func result(op bytecode.Op) (bytecode.VType, bool) {
	switch {
	case op == bytecode.ACONST_NULL:
		return bytecode.VNull, true
	case op >= bytecode.ICONST_M1 && op <= bytecode.ICONST_5, op == bytecode.BIPUSH, op == bytecode.SIPUSH:
		return bytecode.VInt, true
	case op == bytecode.LCONST_0 || op == bytecode.LCONST_1:
		return bytecode.VLong, true
	case op >= bytecode.FCONST_0 && op <= bytecode.FCONST_2:
		return bytecode.VFloat, true
	case op == bytecode.DCONST_0 || op == bytecode.DCONST_1:
		return bytecode.VDouble, true
	case op >= bytecode.IADD && op <= bytecode.DNEG:
		return [...]bytecode.VType{bytecode.VInt, bytecode.VLong, bytecode.VFloat, bytecode.VDouble}[(op-bytecode.IADD)%4], true
	case op >= bytecode.ISHL && op <= bytecode.LXOR:
		if (op-bytecode.ISHL)%2 == 0 {
			return bytecode.VInt, true
		}
		return bytecode.VLong, true
	case op >= bytecode.LCMP && op <= bytecode.DCMPG, op == bytecode.ARRAYLENGTH, op == bytecode.INSTANCEOF:
		return bytecode.VInt, true
	case op == bytecode.IALOAD || op == bytecode.BALOAD || op == bytecode.CALOAD || op == bytecode.SALOAD:
		return bytecode.VInt, true
	case op == bytecode.LALOAD:
		return bytecode.VLong, true
	case op == bytecode.FALOAD:
		return bytecode.VFloat, true
	case op == bytecode.DALOAD:
		return bytecode.VDouble, true
	}
	switch op {
	case bytecode.I2L, bytecode.F2L, bytecode.D2L:
		return bytecode.VLong, true
	case bytecode.I2F, bytecode.L2F, bytecode.D2F:
		return bytecode.VFloat, true
	case bytecode.I2D, bytecode.L2D, bytecode.F2D:
		return bytecode.VDouble, true
	case bytecode.L2I, bytecode.F2I, bytecode.D2I, bytecode.I2B, bytecode.I2C, bytecode.I2S:
		return bytecode.VInt, true
	}
	return bytecode.VType{}, false
}

func loadType(op bytecode.Op) bytecode.VType {
	return [...]bytecode.VType{bytecode.VInt, bytecode.VLong, bytecode.VFloat, bytecode.VDouble}[op-bytecode.ILOAD]
}

var newarrayTypes = map[int32]string{4: "[Z", 5: "[C", 6: "[F", 7: "[D", 8: "[B", 9: "[S", 10: "[I", 11: "[J"}

// arrayOf returns the array class whose component is the given class name.
func arrayOf(class string) string {
	if strings.HasPrefix(class, "[") {
		return "[" + class
	}
	return "[L" + class + ";"
}

func (st *state) classAt(idx uint16) (string, error) { return st.pool.ClassName(idx) }

func (st *state) ldcType(idx uint16) (bytecode.VType, error) {
	v, err := st.pool.Literal(idx)
	if err != nil {
		return bytecode.VType{}, err
	}
	switch v := v.(type) {
	case string:
		return bytecode.VObject("java/lang/String"), nil
	case int32:
		return bytecode.VInt, nil
	case float32:
		return bytecode.VFloat, nil
	case int64:
		return bytecode.VLong, nil
	case float64:
		return bytecode.VDouble, nil
	case cpool.Entry:
		switch v.Tag {
		case cpool.TagClass:
			return bytecode.VObject("java/lang/Class"), nil
		case cpool.TagMethodType:
			return bytecode.VObject("java/lang/invoke/MethodType"), nil
		case cpool.TagMethodHandle:
			return bytecode.VObject("java/lang/invoke/MethodHandle"), nil
		case cpool.TagDynamic:
			ref, err := st.pool.Ref(idx)
			if err != nil {
				return bytecode.VType{}, err
			}
			t, err := descriptor.ParseField(ref.Desc)
			if err != nil {
				return bytecode.VType{}, err
			}
			return bytecode.VTypeOf(t), nil
		}
	}
	return bytecode.VType{}, fmt.Errorf("unloadable constant #%d", idx)
}

// step applies the type transfer of n to f.
func (st *state) step(f *bytecode.Frame, n *bytecode.Node) error {
	op := n.Op
	info := op.Info()

	switch {
	case op.IsLoad():
		if int(n.Local) >= len(f.Locals) {
			return fmt.Errorf("local %d is undefined", n.Local)
		}
		if op == bytecode.ALOAD {
			f.Push(f.Locals[n.Local])
		} else {
			f.Push(loadType(op))
		}
		return nil
	case op.IsStore():
		vals, err := pop(f, op.LocalWidth())
		if err != nil {
			return err
		}
		setLocal(f, int(n.Local), vals[0])
		return nil
	case op == bytecode.AALOAD:
		vals, err := pop(f, 2)
		if err != nil {
			return err
		}
		arr := vals[0]
		if arr.Tag == bytecode.Null || !strings.HasPrefix(arr.Class, "[") {
			f.Push(bytecode.VNull)
			return nil
		}
		elem, err := descriptor.ParseField(arr.Class[1:])
		if err != nil {
			return err
		}
		f.Push(bytecode.VTypeOf(elem))
		return nil
	}

	switch op {
	case bytecode.NOP, bytecode.IINC, bytecode.GOTO, bytecode.RETURN:
		return nil
	case bytecode.POP, bytecode.POP2:
		_, err := pop(f, info.Pop)
		return err
	case bytecode.DUP, bytecode.DUP_X1, bytecode.DUP_X2, bytecode.DUP2, bytecode.DUP2_X1, bytecode.DUP2_X2, bytecode.SWAP:
		return shuffle(f, op)
	case bytecode.LDC, bytecode.LDC2_W:
		t, err := st.ldcType(n.Index)
		if err != nil {
			return err
		}
		f.Push(t)
		return nil
	case bytecode.GETSTATIC, bytecode.GETFIELD, bytecode.PUTSTATIC, bytecode.PUTFIELD:
		pops, _, err := Effect(n, st.pool)
		if err != nil {
			return err
		}
		if _, err := pop(f, pops); err != nil {
			return err
		}
		if op == bytecode.GETSTATIC || op == bytecode.GETFIELD {
			ref, err := st.pool.Ref(n.Index)
			if err != nil {
				return err
			}
			t, err := descriptor.ParseField(ref.Desc)
			if err != nil {
				return err
			}
			f.Push(bytecode.VTypeOf(t))
		}
		return nil
	case bytecode.INVOKEVIRTUAL, bytecode.INVOKESPECIAL, bytecode.INVOKESTATIC, bytecode.INVOKEINTERFACE, bytecode.INVOKEDYNAMIC:
		return st.invoke(f, n)
	case bytecode.NEW:
		f.Push(bytecode.VType{Tag: bytecode.Uninitialized, New: n})
		return nil
	case bytecode.NEWARRAY:
		if _, err := pop(f, 1); err != nil {
			return err
		}
		cls, ok := newarrayTypes[n.Int]
		if !ok {
			return fmt.Errorf("newarray type %d", n.Int)
		}
		f.Push(bytecode.VObject(cls))
		return nil
	case bytecode.ANEWARRAY, bytecode.CHECKCAST, bytecode.MULTIANEWARRAY:
		cls, err := st.classAt(n.Index)
		if err != nil {
			return err
		}
		count := 1
		if op == bytecode.MULTIANEWARRAY {
			count = int(n.Int)
		}
		if _, err := pop(f, count); err != nil {
			return err
		}
		if op == bytecode.ANEWARRAY {
			cls = arrayOf(cls)
		}
		f.Push(bytecode.VObject(cls))
		return nil
	case bytecode.JSR, bytecode.RET:
		return fmt.Errorf("%s is not allowed with stack map frames", op)
	}

	if info.Pop == bytecode.Variable {
		return fmt.Errorf("unhandled %s", op)
	}
	if _, err := pop(f, info.Pop); err != nil {
		return err
	}
	if info.Push == 0 {
		return nil
	}
	t, ok := result(op)
	if !ok {
		return fmt.Errorf("no result type for %s", op)
	}
	f.Push(t)
	return nil
}

func (st *state) invoke(f *bytecode.Frame, n *bytecode.Node) error {
	ref, err := st.pool.Ref(n.Index)
	if err != nil {
		return err
	}
	md, err := descriptor.ParseMethod(ref.Desc)
	if err != nil {
		return err
	}
	if _, err := pop(f, md.ArgSlots()); err != nil {
		return err
	}
	if n.Op != bytecode.INVOKESTATIC && n.Op != bytecode.INVOKEDYNAMIC {
		recv, err := pop(f, 1)
		if err != nil {
			return err
		}
		if n.Op == bytecode.INVOKESPECIAL && ref.Name == "<init>" {
			var init bytecode.VType
			switch r := recv[0]; r.Tag {
			case bytecode.UninitializedThis:
				init = bytecode.VObject(st.owner)
			case bytecode.Uninitialized:
				cls, err := st.classAt(r.New.Index)
				if err != nil {
					return err
				}
				init = bytecode.VObject(cls)
			default:
				return fmt.Errorf("<init> on initialized %s", r)
			}
			replace(f.Locals, recv[0], init)
			replace(f.Stack, recv[0], init)
		}
	}
	if md.Return.Kind != descriptor.Void {
		f.Push(bytecode.VTypeOf(md.Return))
	}
	return nil
}

func replace(vs []bytecode.VType, from, to bytecode.VType) {
	for i := range vs {
		if vs[i] == from {
			vs[i] = to
		}
	}
}

// shuffle implements the dup and swap family on slots.
func shuffle(f *bytecode.Frame, op bytecode.Op) error {
	info := op.Info()
	vals, err := pop(f, info.Pop)
	if err != nil {
		return err
	}
	var out []bytecode.VType
	switch op {
	case bytecode.DUP:
		out = []bytecode.VType{vals[0], vals[0]}
	case bytecode.DUP_X1:
		out = []bytecode.VType{vals[1], vals[0], vals[1]}
	case bytecode.DUP_X2:
		out = []bytecode.VType{vals[2], vals[0], vals[1], vals[2]}
	case bytecode.DUP2:
		out = []bytecode.VType{vals[0], vals[1], vals[0], vals[1]}
	case bytecode.DUP2_X1:
		out = []bytecode.VType{vals[1], vals[2], vals[0], vals[1], vals[2]}
	case bytecode.DUP2_X2:
		out = []bytecode.VType{vals[2], vals[3], vals[0], vals[1], vals[2], vals[3]}
	case bytecode.SWAP:
		out = []bytecode.VType{vals[1], vals[0]}
	}
	f.Stack = append(f.Stack, out...)
	return nil
}
