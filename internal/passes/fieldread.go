package passes

import (
	"fmt"
	"strings"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/descriptor"
)

// DefaultThreshold is the value above which FieldRead warns.
const DefaultThreshold = 30

// FieldRead describes every read of a primitive field, prints the value
// read and warns when a numeric value exceeds Threshold.
type FieldRead struct {
	Threshold int32
	// Static extends the pass to getstatic.
	Static bool
}

func NewFieldRead() *FieldRead { return &FieldRead{Threshold: DefaultThreshold} }

func (*FieldRead) Name() string { return "fieldread" }

func (p *FieldRead) Match(ctx *Context, n *bytecode.Node) bool {
	if n.Op != bytecode.GETFIELD && !(p.Static && n.Op == bytecode.GETSTATIC) {
		return false
	}
	t, err := fieldType(ctx, n)
	return err != nil || t.IsPrimitive()
}

// Apply inserts, in front of the read:
//
//	print "Before getfield:\n    <owner>\n    <type>\n    <name>\n"
//	print "    "
//	println String.valueOf(<re-read value>)
//	if <re-read value as int> - Threshold > 0: print the warning
//
// getfield re-reads through a dup of the receiver.
func (p *FieldRead) Apply(ctx *Context, n *bytecode.Node) error {
	ref, err := ctx.Ref(n)
	if err != nil {
		return err
	}
	t, err := fieldType(ctx, n)
	if err != nil {
		return err
	}

	f := NewFragment(ctx.Pool).
		Print(fmt.Sprintf("Before getfield:\n    %s\n    %s\n    %s\n", strings.ReplaceAll(ref.Owner, "/", "."), t, ref.Name)).
		Print("    ")
	p.reread(f, n).PrintValue(t)

	if t.IsNumeric() {
		p.reread(f, n)
		switch t.Kind {
		case descriptor.Long:
			f.Op(bytecode.L2I)
		case descriptor.Float:
			f.Op(bytecode.F2I)
		case descriptor.Double:
			f.Op(bytecode.D2I)
		}
		skip := f.Label()
		f.Int(p.Threshold).
			Op(bytecode.ISUB).
			Branch(bytecode.IFLE, skip).
			Print(fmt.Sprintf("    !the value is greater than %d!\n", p.Threshold)).
			Place(skip)
	}
	return ctx.InsertBefore(n, f)
}

func (p *FieldRead) reread(f *Fragment, n *bytecode.Node) *Fragment {
	if n.Op == bytecode.GETFIELD {
		f.Op(bytecode.DUP)
	}
	return f.Add(n.Clone())
}

func fieldType(ctx *Context, n *bytecode.Node) (descriptor.Type, error) {
	ref, err := ctx.Ref(n)
	if err != nil {
		return descriptor.Type{}, err
	}
	return descriptor.ParseField(ref.Desc)
}
