// Package flow builds control flow graphs over instruction streams and
// recomputes the stack, locals and stack map data a method needs after it
// has been rewritten.
package flow

import (
	"fmt"
	"sort"

	"jvminstr/internal/bytecode"
)

// BasicBlock is a run of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into CFG.Nodes (inclusive)
	End     int    // index into CFG.Nodes (exclusive)
	Succs   []Succ // successor edges
	IsEntry bool
	IsTerm  bool // ends with a return, athrow or ret
}

// Succ is a control-flow edge.
type Succ struct {
	BlockID int
	// Cond is "" for unconditional and fallthrough-only edges, "T"/"F"
	// for the two arms of a conditional, "E" for an exception edge,
	// "J" for a jsr call and "case N"/"default" for switch arms.
	Cond string
}

// CFG is the control flow graph of one method.
type CFG struct {
	Name   string
	Blocks []BasicBlock
	Nodes  []*bytecode.Node
	index  map[*bytecode.Node]int
	block  map[int]int // leader index -> block ID
}

// BlockOf returns the ID of the block that starts at n, or -1.
func (g *CFG) BlockOf(n *bytecode.Node) int {
	i, ok := g.index[n]
	if !ok {
		return -1
	}
	if id, ok := g.block[i]; ok {
		return id
	}
	return -1
}

// Insts returns the nodes of a block.
func (g *CFG) Insts(b BasicBlock) []*bytecode.Node { return g.Nodes[b.Start:b.End] }

// BuildCFG constructs the control flow graph of a stream.
//  1. Find block leaders: the entry, branch and switch targets, handler
//     entries, protected range bounds, and instructions after any branch.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges from each block's last instruction, plus an
//     exception edge to every handler whose range covers the block.
func BuildCFG(name string, s *bytecode.Stream) *CFG {
	g := &CFG{Name: name, Nodes: s.Nodes(), index: make(map[*bytecode.Node]int), block: make(map[int]int)}
	if len(g.Nodes) == 0 {
		return g
	}
	for i, n := range g.Nodes {
		g.index[n] = i
	}

	// Pass 1: leaders.
	leaders := map[int]bool{0: true}
	mark := func(n *bytecode.Node) {
		if n == nil {
			return
		}
		if i, ok := g.index[n]; ok {
			leaders[i] = true
		}
	}
	for i, n := range g.Nodes {
		if n.Op.IsBranch() || n.Op.IsSwitch() || n.Op.IsTerminator() {
			if i+1 < len(g.Nodes) {
				leaders[i+1] = true
			}
		}
		mark(n.Target)
		mark(n.Default)
		for _, c := range n.Cases {
			mark(c.Target)
		}
	}
	for _, h := range s.Handlers {
		mark(h.Start)
		mark(h.End)
		mark(h.Handler)
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: partition.
	g.Blocks = make([]BasicBlock, len(sorted))
	for i, start := range sorted {
		end := len(g.Nodes)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		g.Blocks[i] = BasicBlock{ID: i, Start: start, End: end, IsEntry: start == 0}
		g.block[start] = i
	}

	// Pass 3: successors.
	for i := range g.Blocks {
		blk := &g.Blocks[i]
		last := g.Nodes[blk.End-1]
		next, hasNext := g.block[blk.End]
		op := last.Op

		switch {
		case op.IsSwitch():
			blk.Succs = append(blk.Succs, Succ{BlockID: g.BlockOf(last.Default), Cond: "default"})
			for _, c := range last.Cases {
				blk.Succs = append(blk.Succs, Succ{BlockID: g.BlockOf(c.Target), Cond: fmt.Sprintf("case %d", c.Key)})
			}
		case op.IsConditional():
			blk.Succs = append(blk.Succs, Succ{BlockID: g.BlockOf(last.Target), Cond: "T"})
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next, Cond: "F"})
			}
		case op == bytecode.GOTO:
			blk.Succs = append(blk.Succs, Succ{BlockID: g.BlockOf(last.Target)})
		case op == bytecode.JSR:
			blk.Succs = append(blk.Succs, Succ{BlockID: g.BlockOf(last.Target), Cond: "J"})
			if hasNext {
				blk.Succs = append(blk.Succs, Succ{BlockID: next})
			}
		case op.IsTerminator():
			blk.IsTerm = true
		case hasNext:
			blk.Succs = append(blk.Succs, Succ{BlockID: next})
		}

		for _, h := range s.Handlers {
			if g.covers(h, blk.Start) {
				blk.Succs = append(blk.Succs, Succ{BlockID: g.BlockOf(h.Handler), Cond: "E"})
			}
		}
	}
	return g
}

// covers reports whether the handler's protected range contains node i.
// Range bounds are leaders, so a block is either wholly inside or outside.
func (g *CFG) covers(h *bytecode.Handler, i int) bool {
	start, ok := g.index[h.Start]
	if !ok {
		return false
	}
	end := len(g.Nodes)
	if h.End != nil {
		if end, ok = g.index[h.End]; !ok {
			return false
		}
	}
	return i >= start && i < end
}

// Reachable returns the IDs of blocks reachable from the entry.
func (g *CFG) Reachable() map[int]bool {
	seen := make(map[int]bool)
	if len(g.Blocks) == 0 {
		return seen
	}
	work := []int{0}
	seen[0] = true
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range g.Blocks[id].Succs {
			if s.BlockID >= 0 && !seen[s.BlockID] {
				seen[s.BlockID] = true
				work = append(work, s.BlockID)
			}
		}
	}
	return seen
}
