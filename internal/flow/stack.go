package flow

import (
	"errors"
	"fmt"

	"github.com/apex/log"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/cpool"
	"jvminstr/internal/descriptor"
)

var (
	ErrUnreachableCode = errors.New("flow: unreachable code")
	ErrStackMismatch   = errors.New("flow: inconsistent operand stack depth")
)

// Options controls recomputation.
type Options struct {
	// StrictReachability turns unreachable blocks into ErrUnreachableCode.
	// By default they are skipped unless a stack map frame gives their
	// entry depth.
	StrictReachability bool
}

// Effect returns the number of stack slots n pops and pushes.
func Effect(n *bytecode.Node, pool *cpool.Pool) (pop, push int, err error) {
	info := n.Op.Info()
	if info.Pop != bytecode.Variable && info.Push != bytecode.Variable && n.Op != bytecode.LDC && n.Op != bytecode.MULTIANEWARRAY {
		return info.Pop, info.Push, nil
	}

	switch op := n.Op; {
	case op == bytecode.LDC:
		e, err := pool.Entry(n.Index)
		if err != nil {
			return 0, 0, err
		}
		if e.Tag == cpool.TagDynamic {
			ref, err := pool.Ref(n.Index)
			if err != nil {
				return 0, 0, err
			}
			t, err := descriptor.ParseField(ref.Desc)
			if err != nil {
				return 0, 0, err
			}
			return 0, t.Slots(), nil
		}
		return 0, 1, nil
	case op == bytecode.MULTIANEWARRAY:
		return int(n.Int), 1, nil
	case op.IsFieldAccess():
		ref, err := pool.Ref(n.Index)
		if err != nil {
			return 0, 0, err
		}
		t, err := descriptor.ParseField(ref.Desc)
		if err != nil {
			return 0, 0, err
		}
		switch op {
		case bytecode.GETSTATIC:
			return 0, t.Slots(), nil
		case bytecode.PUTSTATIC:
			return t.Slots(), 0, nil
		case bytecode.GETFIELD:
			return 1, t.Slots(), nil
		default:
			return 1 + t.Slots(), 0, nil
		}
	case op.IsInvoke():
		ref, err := pool.Ref(n.Index)
		if err != nil {
			return 0, 0, err
		}
		md, err := descriptor.ParseMethod(ref.Desc)
		if err != nil {
			return 0, 0, err
		}
		pop = md.ArgSlots()
		if op != bytecode.INVOKESTATIC && op != bytecode.INVOKEDYNAMIC {
			pop++
		}
		return pop, md.Return.Slots(), nil
	}
	return 0, 0, fmt.Errorf("flow: no stack effect for %s", n.Op)
}

// MaxStack computes the largest operand stack depth over all reachable
// paths. Handler entries start at depth 1. seeds gives entry depths for
// blocks not reachable from the method entry (their first node's frame);
// other unreachable blocks are skipped, or rejected under
// StrictReachability.
func MaxStack(s *bytecode.Stream, pool *cpool.Pool, seeds map[*bytecode.Node]int, opts Options) (int, error) {
	g := BuildCFG("", s)
	if len(g.Blocks) == 0 {
		return 0, nil
	}

	depth := make([]int, len(g.Blocks))
	for i := range depth {
		depth[i] = -1
	}
	peak := 0
	var work []int

	enter := func(id, d int) error {
		if id < 0 {
			return fmt.Errorf("%w: edge into the middle of a block", ErrStackMismatch)
		}
		switch depth[id] {
		case -1:
			depth[id] = d
			work = append(work, id)
		case d:
		default:
			n := g.Nodes[g.Blocks[id].Start]
			return fmt.Errorf("%w: %s at block %d entered with %d and %d", ErrStackMismatch, n.Mnemonic(), id, depth[id], d)
		}
		return nil
	}

	run := func() error {
		for len(work) > 0 {
			id := work[len(work)-1]
			work = work[:len(work)-1]
			blk := g.Blocks[id]
			d := depth[id]
			before := d
			for _, n := range g.Insts(blk) {
				pop, push, err := Effect(n, pool)
				if err != nil {
					return err
				}
				if d < pop {
					return fmt.Errorf("%w: %s pops %d with %d on the stack", ErrStackMismatch, n.Mnemonic(), pop, d)
				}
				before = d
				d = d - pop + push
				if d > peak {
					peak = d
				}
			}
			last := g.Nodes[blk.End-1]
			for _, succ := range blk.Succs {
				out := d
				switch {
				case succ.Cond == "E":
					out = 1
				case last.Op == bytecode.JSR && succ.Cond == "":
					out = before
				}
				if err := enter(succ.BlockID, out); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := enter(0, 0); err != nil {
		return 0, err
	}
	if err := run(); err != nil {
		return 0, err
	}

	for id, blk := range g.Blocks {
		if depth[id] >= 0 {
			continue
		}
		if opts.StrictReachability {
			n := g.Nodes[blk.Start]
			return 0, fmt.Errorf("%w: block %d (%s)", ErrUnreachableCode, id, n.Mnemonic())
		}
		if d, ok := seeds[g.Nodes[blk.Start]]; ok {
			if err := enter(id, d); err != nil {
				return 0, err
			}
			if err := run(); err != nil {
				return 0, err
			}
			continue
		}
		log.WithFields(log.Fields{"block": id, "insts": blk.End - blk.Start}).Debug("skipping unreachable block")
	}
	return peak, nil
}

// MaxLocals is the larger of the parameter slots (with the receiver) and
// the highest local slot referenced plus its width.
func MaxLocals(s *bytecode.Stream) (int, error) {
	peak := 0
	if m := s.Method; m != nil {
		md, err := descriptor.ParseMethod(m.Desc)
		if err != nil {
			return 0, err
		}
		peak = md.ArgSlots()
		if !m.IsStatic() {
			peak++
		}
	}
	for _, n := range s.All() {
		var top int
		switch {
		case n.Op.IsLoad() || n.Op.IsStore():
			top = int(n.Local) + n.Op.LocalWidth()
		case n.Op == bytecode.IINC || n.Op == bytecode.RET:
			top = int(n.Local) + 1
		default:
			continue
		}
		if top > peak {
			peak = top
		}
	}
	for _, v := range s.Locals {
		w := 1
		if len(v.Desc) > 0 && (v.Desc[0] == 'J' || v.Desc[0] == 'D') {
			w = 2
		}
		if top := int(v.Slot) + w; top > peak {
			peak = top
		}
	}
	return peak, nil
}

// Recompute refreshes max_stack and max_locals and, when the stream
// carries a StackMapTable, the frames that inserted code requires.
func Recompute(s *bytecode.Stream, pool *cpool.Pool, opts Options) error {
	var seeds map[*bytecode.Node]int
	if s.StackMaps {
		if err := InferFrames(s, pool); err != nil {
			return err
		}
		seeds = make(map[*bytecode.Node]int, len(s.Frames))
		for n, f := range s.Frames {
			seeds[n] = len(f.Stack)
		}
	}

	ms, err := MaxStack(s, pool, seeds, opts)
	if err != nil {
		return err
	}
	ml, err := MaxLocals(s)
	if err != nil {
		return err
	}
	if ms > 0xffff || ml > 0xffff {
		return fmt.Errorf("flow: max_stack %d / max_locals %d exceed 65535", ms, ml)
	}
	s.MaxStack, s.MaxLocals = uint16(ms), uint16(ml)
	return nil
}
