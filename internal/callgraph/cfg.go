package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/flow"
)

// BuildCFG constructs a lattice.CFGGraph from decoded methods.
// Each method is split into blocks by flow.BuildCFG, then mapped to
// lattice types.
func BuildCFG(methods []MethodInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, m := range methods {
		lcfg, _ := BuildFuncCFG(m)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG builds a single-method lattice.FuncCFG.
// Returns the FuncCFG and the number of basic blocks (for filtering trivial methods).
func BuildFuncCFG(m MethodInfo) (*lattice.FuncCFG, int) {
	g := flow.BuildCFG(m.Name, m.Stream)
	return convertFuncCFG(g, m), len(g.Blocks)
}

// convertFuncCFG maps a flow.CFG to a lattice.FuncCFG. Invokes and string
// constants become the call sites of their block.
func convertFuncCFG(g *flow.CFG, m MethodInfo) *lattice.FuncCFG {
	lcfg := &lattice.FuncCFG{Name: g.Name}
	for _, b := range g.Blocks {
		lb := &lattice.BasicBlock{
			ID:    b.ID,
			Start: b.Start,
			End:   b.End,
			Term:  b.IsTerm,
		}
		for _, s := range b.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: s.BlockID,
				Cond:    s.Cond,
			})
		}

		for idx := b.Start; idx < b.End; idx++ {
			n := g.Nodes[idx]
			switch {
			case n.Op.IsInvoke():
				lb.Calls = append(lb.Calls, lattice.CallSite{Offset: idx, Callee: callee(n, m.Pool)})
			case n.Op == bytecode.LDC:
				v, err := m.Pool.Literal(n.Index)
				s, ok := v.(string)
				if err != nil || !ok {
					continue
				}
				if len(s) > 50 {
					s = s[:47] + "..."
				}
				lb.Calls = append(lb.Calls, lattice.CallSite{Offset: idx, Callee: fmt.Sprintf("%q", s)})
			}
		}

		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
