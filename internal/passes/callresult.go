package passes

import (
	"jvminstr/internal/bytecode"
	"jvminstr/internal/descriptor"
)

const (
	preInvokeMessage  = "Method to be called: "
	postInvokeMessage = "Got result: "
)

// CallResult announces every call that returns a value and prints the
// value it returned.
type CallResult struct{}

func (CallResult) Name() string { return "callresult" }

// Match accepts invokes whose descriptor does not return void. An invoke
// whose reference does not resolve is accepted so that Apply reports it.
func (CallResult) Match(ctx *Context, n *bytecode.Node) bool {
	if !n.Op.IsInvoke() {
		return false
	}
	ret, err := returnType(ctx, n)
	return err != nil || ret.Kind != descriptor.Void
}

func (CallResult) Apply(ctx *Context, n *bytecode.Node) error {
	ref, err := ctx.Ref(n)
	if err != nil {
		return err
	}
	ret, err := returnType(ctx, n)
	if err != nil {
		return err
	}

	pre := NewFragment(ctx.Pool).Println(preInvokeMessage + ref.Name + ref.Desc)
	if err := ctx.InsertBefore(n, pre); err != nil {
		return err
	}

	post := NewFragment(ctx.Pool).
		Print(postInvokeMessage).
		Dup(ret).
		PrintValue(ret)
	return ctx.InsertAfter(n, post)
}

func returnType(ctx *Context, n *bytecode.Node) (descriptor.Type, error) {
	ref, err := ctx.Ref(n)
	if err != nil {
		return descriptor.Type{}, err
	}
	md, err := descriptor.ParseMethod(ref.Desc)
	if err != nil {
		return descriptor.Type{}, err
	}
	return md.Return, nil
}
