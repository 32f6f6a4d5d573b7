package passes

import (
	"strings"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/classfile"
)

// The runtime side of UsageCounter: a class with a static counting table.
const (
	DefaultSidecar  = "InstructionsUsageStatistics"
	RegisterUse     = "registerUse"
	RegisterUseDesc = "(Ljava/lang/String;)V"
	ShutdownHook    = "createShutdownHook"
	ShutdownDesc    = "()V"
)

const hookKey = "usage.shutdown-hook"

// UsageCounter reports every executed instruction to the sidecar class by
// mnemonic. Calls to methods the class does not declare are not counted.
// Methods whose name starts with ReservedPrefix, constructors and static
// initializers are left alone; main registers the sidecar's report at
// exit.
type UsageCounter struct {
	Sidecar        string
	ReservedPrefix string
}

func NewUsageCounter() *UsageCounter {
	return &UsageCounter{Sidecar: DefaultSidecar, ReservedPrefix: "m"}
}

func (*UsageCounter) Name() string { return "usage" }

func isMain(m *classfile.Method) bool {
	return m.Name == "main" && m.Desc == "([Ljava/lang/String;)V" &&
		m.IsStatic() && m.Access&classfile.AccPublic != 0
}

func excluded(m *classfile.Method) bool {
	return m.Name == "<init>" || m.Name == "<clinit>"
}

// Enter registers the shutdown hook at the start of main, once per class.
func (p *UsageCounter) Enter(ctx *Context) error {
	if !isMain(ctx.Method) || ctx.Once[hookKey] {
		return nil
	}
	head := ctx.Stream.First()
	if head == nil {
		return nil
	}
	f := NewFragment(ctx.Pool).Invoke(bytecode.INVOKESTATIC, p.sidecar(), ShutdownHook, ShutdownDesc)
	if err := ctx.InsertBefore(head, f); err != nil {
		return err
	}
	ctx.Once[hookKey] = true
	return nil
}

func (p *UsageCounter) Accept(ctx *Context) bool {
	if excluded(ctx.Method) {
		return false
	}
	return p.ReservedPrefix == "" || !strings.HasPrefix(ctx.Method.Name, p.ReservedPrefix)
}

// Match accepts everything but calls leaving the class. invokedynamic
// call sites have no declaring class and count as leaving it.
func (p *UsageCounter) Match(ctx *Context, n *bytecode.Node) bool {
	if !n.Op.IsInvoke() {
		return true
	}
	ref, err := ctx.Ref(n)
	return err == nil && ctx.Declared(ref)
}

func (p *UsageCounter) Apply(ctx *Context, n *bytecode.Node) error {
	f := NewFragment(ctx.Pool).
		Ldc(n.Mnemonic()).
		Invoke(bytecode.INVOKESTATIC, p.sidecar(), RegisterUse, RegisterUseDesc)
	return ctx.InsertBefore(n, f)
}

func (p *UsageCounter) sidecar() string {
	if p.Sidecar == "" {
		return DefaultSidecar
	}
	return p.Sidecar
}
