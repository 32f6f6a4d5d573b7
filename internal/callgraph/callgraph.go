package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/classfile"
	"jvminstr/internal/cpool"
)

// MethodInfo holds the data needed to build the call graph and CFG for one
// method.
type MethodInfo struct {
	Name   string // owner.name(desc)
	Stream *bytecode.Stream
	Pool   *cpool.Pool
}

// Methods decodes every method of c that has code.
func Methods(c *classfile.Class) ([]MethodInfo, error) {
	var out []MethodInfo
	for _, m := range c.Methods {
		if m.Code == nil {
			continue
		}
		s, err := bytecode.Decode(c, m)
		if err != nil {
			return nil, fmt.Errorf("callgraph: %s.%s: %w", c.This, m.Key(), err)
		}
		out = append(out, MethodInfo{Name: c.This + "." + m.Key().String(), Stream: s, Pool: c.Pool})
	}
	return out, nil
}

// callee names the target of an invoke. invokedynamic sites have no owner
// and are named after the bootstrap's name and type.
func callee(n *bytecode.Node, pool *cpool.Pool) string {
	ref, err := pool.Ref(n.Index)
	if err != nil {
		return fmt.Sprintf("#%d", n.Index)
	}
	if ref.Owner == "" {
		return "indy:" + ref.Name + ref.Desc
	}
	return ref.String()
}

// BuildCallGraph constructs a lattice.Graph from decoded methods.
// Each method becomes a node. Each invoke becomes an edge.
func BuildCallGraph(methods []MethodInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, m := range methods {
		g.Nodes = append(g.Nodes, m.Name)
		for _, n := range m.Stream.All() {
			if !n.Op.IsInvoke() {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: m.Name,
				Callee: callee(n, m.Pool),
			})
		}
	}
	g.Dedup()
	return g
}
