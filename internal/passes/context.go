// Package passes matches instructions in method streams and splices
// instrumentation fragments around them.
package passes

import (
	"fmt"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/classfile"
	"jvminstr/internal/cpool"
)

// DiagKind classifies a diagnostic message.
type DiagKind string

const (
	DiagFailed      DiagKind = "failed"       // method left unchanged after an error
	DiagDroppedAttr DiagKind = "dropped_attr" // code attribute lost on re-encode
)

// Diag records a non-fatal issue met while instrumenting a class.
type Diag struct {
	Method string   `json:"method"`
	Kind   DiagKind `json:"kind"`
	Msg    string   `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] %s: %s", d.Kind, d.Method, d.Msg)
}

// Diags accumulates diagnostics.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(method string, kind DiagKind, msg string) {
	d.items = append(d.items, Diag{Method: method, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(method string, kind DiagKind, format string, args ...any) {
	d.items = append(d.items, Diag{Method: method, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Context is what a pass sees of the method being rewritten.
type Context struct {
	Class  *classfile.Class
	Pool   *cpool.Pool
	Method *classfile.Method
	Stream *bytecode.Stream

	// Self holds the (name, descriptor) pairs the class declares.
	Self map[classfile.MethodKey]bool
	// Once is shared by every method of the class.
	Once map[string]bool

	touched bool
}


// Declared reports whether ref names a method of the class itself.
func (ctx *Context) Declared(ref cpool.MemberRef) bool {
	return ref.Owner == ctx.Class.This && ctx.Self[classfile.MethodKey{Name: ref.Name, Desc: ref.Desc}]
}

// Ref resolves the member reference of a field or invoke instruction.
func (ctx *Context) Ref(n *bytecode.Node) (cpool.MemberRef, error) {
	ref, err := ctx.Pool.Ref(n.Index)
	if err != nil {
		return cpool.MemberRef{}, fmt.Errorf("%s at %d: %w", n.Mnemonic(), n.Offset, err)
	}
	return ref, nil
}

// InsertBefore splices the fragment in front of n.
func (ctx *Context) InsertBefore(n *bytecode.Node, f *Fragment) error {
	nodes, err := f.Nodes()
	if err != nil {
		return err
	}
	ctx.Stream.InsertBefore(n, nodes)
	ctx.touched = ctx.touched || len(nodes) > 0
	return nil
}

// InsertAfter splices the fragment behind n.
func (ctx *Context) InsertAfter(n *bytecode.Node, f *Fragment) error {
	nodes, err := f.Nodes()
	if err != nil {
		return err
	}
	ctx.Stream.InsertAfter(n, nodes)
	ctx.touched = ctx.touched || len(nodes) > 0
	return nil
}
