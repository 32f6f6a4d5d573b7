package callgraph

import (
	"testing"

	"github.com/zboralski/lattice/render"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/classfile"
	"jvminstr/internal/cpool"
)

func methodRef(t *testing.T, pool *cpool.Pool, owner, name, desc string) uint16 {
	t.Helper()
	i, err := pool.InternMethodRef(owner, name, desc, false)
	if err != nil {
		t.Fatal(err)
	}
	return i
}

func TestBuildCFG_DOTOutput(t *testing.T) {
	// A small method with a branch and calls:
	//
	// entry (B0):
	//   iload_0
	//   invokestatic Foo.bar(I)I
	//   ifeq B2
	//
	// true path (B1):
	//   ldc "hi"
	//   invokestatic Baz.qux(Ljava/lang/String;)V
	//   goto B3
	//
	// false path (B2):
	//   invokestatic Quux.run()V
	//   return
	//
	// join (B3):
	//   return
	pool := cpool.New()
	hi, err := pool.InternLiteral("hi")
	if err != nil {
		t.Fatal(err)
	}
	join := bytecode.Simple(bytecode.RETURN)
	falsePath := bytecode.Ref(bytecode.INVOKESTATIC, methodRef(t, pool, "Quux", "run", "()V"))

	m := &classfile.Method{Access: classfile.AccStatic, Name: "myMethod", Desc: "(I)V"}
	s := bytecode.NewStream("MyClass", m)
	s.Append(
		bytecode.Load(bytecode.ILOAD, 0),
		bytecode.Ref(bytecode.INVOKESTATIC, methodRef(t, pool, "Foo", "bar", "(I)I")),
		bytecode.Branch(bytecode.IFEQ, falsePath),
		bytecode.Ref(bytecode.LDC, hi),
		bytecode.Ref(bytecode.INVOKESTATIC, methodRef(t, pool, "Baz", "qux", "(Ljava/lang/String;)V")),
		bytecode.Branch(bytecode.GOTO, join),
		falsePath,
		bytecode.Simple(bytecode.RETURN),
		join,
	)

	cfg := BuildCFG([]MethodInfo{{Name: "MyClass.myMethod(I)V", Stream: s, Pool: pool}})

	// Verify structure.
	if len(cfg.Funcs) != 1 {
		t.Fatalf("expected 1 function, got %d", len(cfg.Funcs))
	}
	f := cfg.Funcs[0]
	if f.Name != "MyClass.myMethod(I)V" {
		t.Errorf("func name = %q", f.Name)
	}
	// Expect 4 blocks: entry, true-path, false-path, join
	if len(f.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(f.Blocks))
	}

	// B0: entry, has 1 call (Foo.bar), 2 successors (T→B2, F→B1)
	b0 := f.Blocks[0]
	if len(b0.Calls) != 1 || b0.Calls[0].Callee != "Foo.bar(I)I" {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if len(b0.Succs) != 2 {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}

	// B1: true path, has the string and 1 call (Baz.qux)
	b1 := f.Blocks[1]
	if len(b1.Calls) != 2 || b1.Calls[0].Callee != `"hi"` || b1.Calls[1].Callee != "Baz.qux(Ljava/lang/String;)V" {
		t.Errorf("B1 calls = %+v", b1.Calls)
	}

	// B2: false path, has 1 call (Quux.run), terminal
	b2 := f.Blocks[2]
	if len(b2.Calls) != 1 || b2.Calls[0].Callee != "Quux.run()V" {
		t.Errorf("B2 calls = %+v", b2.Calls)
	}
	if !b2.Term {
		t.Error("B2 should be terminal")
	}

	// B3: join, terminal
	b3 := f.Blocks[3]
	if !b3.Term {
		t.Error("B3 should be terminal")
	}

	// Render DOT; verify it does not panic.
	dot := render.DOTCFG(cfg, "jvminstr CFG example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildCallGraph_DOTOutput(t *testing.T) {
	c := &classfile.Class{Major: 49, Pool: cpool.New(), This: "App", Super: "java/lang/Object"}
	body := func(calls ...[3]string) *classfile.Code {
		m := &classfile.Method{Access: classfile.AccStatic, Name: "x", Desc: "()V"}
		s := bytecode.NewStream(c.This, m)
		for _, call := range calls {
			s.Append(bytecode.Ref(bytecode.INVOKESTATIC, methodRef(t, c.Pool, call[0], call[1], call[2])))
		}
		s.Append(bytecode.Simple(bytecode.RETURN))
		code, err := s.Encode(c.Pool)
		if err != nil {
			t.Fatal(err)
		}
		return code
	}
	c.Methods = []*classfile.Method{
		{Access: classfile.AccStatic, Name: "main", Desc: "()V", Code: body(
			[3]string{"App", "init", "()V"},
			[3]string{"App", "run", "()V"},
			[3]string{"App", "run", "()V"},
		)},
		{Access: classfile.AccStatic, Name: "init", Desc: "()V", Code: body([3]string{"Logger", "log", "()V"})},
		{Access: classfile.AccStatic, Name: "run", Desc: "()V", Code: body([3]string{"Logger", "log", "()V"})},
		{Access: classfile.AccAbstract, Name: "later", Desc: "()V"},
	}

	methods, err := Methods(c)
	if err != nil {
		t.Fatal(err)
	}
	if len(methods) != 3 {
		t.Fatalf("expected 3 methods with code, got %d", len(methods))
	}

	cg := BuildCallGraph(methods)
	if len(cg.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(cg.Nodes))
	}
	if len(cg.Edges) != 4 {
		t.Errorf("expected 4 deduplicated edges, got %+v", cg.Edges)
	}

	dot := render.DOT(cg, "jvminstr call graph example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}
