package passes

import (
	"fmt"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/cpool"
	"jvminstr/internal/descriptor"
)

const (
	systemClass = "java/lang/System"
	printStream = "java/io/PrintStream"
	stringClass = "java/lang/String"
)

// Fragment builds a run of instructions to splice into a stream. Pool
// entries are interned as instructions are added; the first error sticks
// and is returned by Nodes.
type Fragment struct {
	pool  *cpool.Pool
	nodes []*bytecode.Node
	err   error
}

func NewFragment(pool *cpool.Pool) *Fragment { return &Fragment{pool: pool} }

// Add appends prepared nodes.
func (f *Fragment) Add(nodes ...*bytecode.Node) *Fragment {
	f.nodes = append(f.nodes, nodes...)
	return f
}

func (f *Fragment) Op(op bytecode.Op) *Fragment { return f.Add(bytecode.Simple(op)) }

func (f *Fragment) fail(err error) *Fragment {
	if f.err == nil {
		f.err = err
	}
	return f
}

// Int pushes an int constant with the shortest instruction.
func (f *Fragment) Int(v int32) *Fragment {
	switch {
	case v >= -1 && v <= 5:
		return f.Op(bytecode.ICONST_M1 + bytecode.Op(v+1))
	case v >= -128 && v <= 127:
		return f.Add(bytecode.Push(bytecode.BIPUSH, v))
	case v >= -32768 && v <= 32767:
		return f.Add(bytecode.Push(bytecode.SIPUSH, v))
	}
	return f.Ldc(v)
}

// Ldc loads a string, int, int32, int64, float32 or float64 constant. An
// int outside the int32 range is loaded as a long.
func (f *Fragment) Ldc(v any) *Fragment {
	i, err := f.pool.InternLiteral(v)
	if err != nil {
		return f.fail(err)
	}
	e, err := f.pool.Entry(i)
	if err != nil {
		return f.fail(err)
	}
	op := bytecode.LDC
	if e.Tag == cpool.TagLong || e.Tag == cpool.TagDouble {
		op = bytecode.LDC2_W
	}
	return f.Add(bytecode.Ref(op, i))
}

// Field adds a field access.
func (f *Fragment) Field(op bytecode.Op, owner, name, desc string) *Fragment {
	i, err := f.pool.InternFieldRef(owner, name, desc)
	if err != nil {
		return f.fail(err)
	}
	return f.Add(bytecode.Ref(op, i))
}

// Class adds new, anewarray, checkcast or instanceof of a class.
func (f *Fragment) Class(op bytecode.Op, name string) *Fragment {
	i, err := f.pool.Class(name)
	if err != nil {
		return f.fail(err)
	}
	return f.Add(bytecode.Ref(op, i))
}

// Invoke adds a method call; invokeinterface refers to an interface method.
func (f *Fragment) Invoke(op bytecode.Op, owner, name, desc string) *Fragment {
	md, err := descriptor.ParseMethod(desc)
	if err != nil {
		return f.fail(err)
	}
	i, err := f.pool.InternMethodRef(owner, name, desc, op == bytecode.INVOKEINTERFACE)
	if err != nil {
		return f.fail(err)
	}
	if op == bytecode.INVOKEINTERFACE {
		return f.Add(bytecode.InvokeInterface(i, md.ArgSlots()))
	}
	return f.Add(bytecode.Ref(op, i))
}

func (f *Fragment) out() *Fragment {
	return f.Field(bytecode.GETSTATIC, systemClass, "out", "L"+printStream+";")
}

// Print writes s to System.out.
func (f *Fragment) Print(s string) *Fragment {
	return f.out().Ldc(s).Invoke(bytecode.INVOKEVIRTUAL, printStream, "print", "(Ljava/lang/String;)V")
}

// Println writes s and a line break to System.out.
func (f *Fragment) Println(s string) *Fragment {
	return f.out().Ldc(s).Invoke(bytecode.INVOKEVIRTUAL, printStream, "println", "(Ljava/lang/String;)V")
}

// Dup duplicates a value of type t on top of the stack.
func (f *Fragment) Dup(t descriptor.Type) *Fragment {
	if t.Slots() == 2 {
		return f.Op(bytecode.DUP2)
	}
	return f.Op(bytecode.DUP)
}

// PrintValue consumes the value of type t on top of the stack and prints
// it on its own line through String.valueOf.
func (f *Fragment) PrintValue(t descriptor.Type) *Fragment {
	if t.Kind == descriptor.Void {
		return f.fail(fmt.Errorf("passes: cannot print a void value"))
	}
	f.out()
	if t.Slots() == 2 {
		f.Op(bytecode.DUP_X2).Op(bytecode.POP)
	} else {
		f.Op(bytecode.SWAP)
	}
	valueOf := descriptor.Method{Params: []descriptor.Type{t.Widened()}, Return: descriptor.TypeString}
	f.Invoke(bytecode.INVOKESTATIC, stringClass, "valueOf", valueOf.Descriptor())
	return f.Invoke(bytecode.INVOKEVIRTUAL, printStream, "println", "(Ljava/lang/String;)V")
}

// Branch adds a jump to target, which may be a label placed later.
func (f *Fragment) Branch(op bytecode.Op, target *bytecode.Node) *Fragment {
	return f.Add(bytecode.Branch(op, target))
}

// Label returns a nop to be placed with Place.
func (f *Fragment) Label() *bytecode.Node { return bytecode.Simple(bytecode.NOP) }

func (f *Fragment) Place(label *bytecode.Node) *Fragment { return f.Add(label) }

// Nodes marks the instructions synthetic and returns them.
func (f *Fragment) Nodes() ([]*bytecode.Node, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, n := range f.nodes {
		n.Synthetic = true
	}
	return f.nodes, nil
}
