package sidecar

import (
	"fmt"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/classfile"
	"jvminstr/internal/cpool"
	"jvminstr/internal/flow"
	"jvminstr/internal/passes"
)

const (
	mapClass      = "java/util/Map"
	entryClass    = "java/util/Map$Entry"
	longClass     = "java/lang/Long"
	objectDesc    = "Ljava/lang/Object;"
	countsField   = "counts"
	countsDesc    = "Ljava/util/Map;"
	reportFormat  = "%s    %d%n"
	classVersion  = 49
	threadClass   = "java/lang/Thread"
	runtimeClass  = "java/lang/Runtime"
	treeMapClass  = "java/util/TreeMap"
	iteratorClass = "java/util/Iterator"
)

// Class synthesizes the JVM class instrumented programs call into:
//
//	public class <name> extends Thread {
//	    private static final Map counts = new TreeMap();
//	    public static synchronized void registerUse(String mnemonic);
//	    public static void createShutdownHook();  // runs report() at exit
//	    public void run();
//	    static synchronized void report();        // counts >= threshold, upper-cased
//	}
func Class(name string, threshold uint64) (*classfile.Class, error) {
	c := &classfile.Class{
		Major:  classVersion,
		Pool:   cpool.New(),
		Access: classfile.AccPublic | classfile.AccSuper,
		This:   name,
		Super:  threadClass,
		Fields: []*classfile.Field{{
			Access: classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal,
			Name:   countsField,
			Desc:   countsDesc,
		}},
	}
	counts := func(f *passes.Fragment, op bytecode.Op) *passes.Fragment {
		return f.Field(op, name, countsField, countsDesc)
	}

	methods := []struct {
		access     uint16
		name, desc string
		body       func(f *passes.Fragment)
	}{
		{classfile.AccStatic, "<clinit>", "()V", func(f *passes.Fragment) {
			f.Class(bytecode.NEW, treeMapClass).
				Op(bytecode.DUP).
				Invoke(bytecode.INVOKESPECIAL, treeMapClass, "<init>", "()V")
			counts(f, bytecode.PUTSTATIC).Op(bytecode.RETURN)
		}},
		{classfile.AccPublic, "<init>", "()V", func(f *passes.Fragment) {
			f.Add(bytecode.Load(bytecode.ALOAD, 0)).
				Invoke(bytecode.INVOKESPECIAL, threadClass, "<init>", "()V").
				Op(bytecode.RETURN)
		}},
		{classfile.AccPublic | classfile.AccStatic | classfile.AccSynchronized, passes.RegisterUse, passes.RegisterUseDesc, func(f *passes.Fragment) {
			seen := bytecode.Load(bytecode.ALOAD, 1)
			add := bytecode.Simple(bytecode.LCONST_1)
			counts(f, bytecode.GETSTATIC).Add(bytecode.Load(bytecode.ALOAD, 0))
			counts(f, bytecode.GETSTATIC).Add(bytecode.Load(bytecode.ALOAD, 0)).
				Invoke(bytecode.INVOKEINTERFACE, mapClass, "get", "("+objectDesc+")"+objectDesc).
				Class(bytecode.CHECKCAST, longClass).
				Add(bytecode.Store(bytecode.ASTORE, 1), bytecode.Load(bytecode.ALOAD, 1)).
				Branch(bytecode.IFNONNULL, seen).
				Op(bytecode.LCONST_0).
				Branch(bytecode.GOTO, add).
				Add(seen).
				Invoke(bytecode.INVOKEVIRTUAL, longClass, "longValue", "()J").
				Add(add).
				Op(bytecode.LADD).
				Invoke(bytecode.INVOKESTATIC, longClass, "valueOf", "(J)Ljava/lang/Long;").
				Invoke(bytecode.INVOKEINTERFACE, mapClass, "put", "("+objectDesc+objectDesc+")"+objectDesc).
				Op(bytecode.POP).
				Op(bytecode.RETURN)
		}},
		{classfile.AccPublic | classfile.AccStatic, passes.ShutdownHook, passes.ShutdownDesc, func(f *passes.Fragment) {
			f.Invoke(bytecode.INVOKESTATIC, runtimeClass, "getRuntime", "()Ljava/lang/Runtime;").
				Class(bytecode.NEW, name).
				Op(bytecode.DUP).
				Invoke(bytecode.INVOKESPECIAL, name, "<init>", "()V").
				Invoke(bytecode.INVOKEVIRTUAL, runtimeClass, "addShutdownHook", "(Ljava/lang/Thread;)V").
				Op(bytecode.RETURN)
		}},
		{classfile.AccPublic, "run", "()V", func(f *passes.Fragment) {
			f.Invoke(bytecode.INVOKESTATIC, name, "report", "()V").Op(bytecode.RETURN)
		}},
		{classfile.AccStatic | classfile.AccSynchronized, "report", "()V", func(f *passes.Fragment) {
			loop := bytecode.Load(bytecode.ALOAD, 0)
			end := bytecode.Simple(bytecode.RETURN)
			counts(f, bytecode.GETSTATIC).
				Invoke(bytecode.INVOKEINTERFACE, mapClass, "entrySet", "()Ljava/util/Set;").
				Invoke(bytecode.INVOKEINTERFACE, "java/util/Set", "iterator", "()Ljava/util/Iterator;").
				Add(bytecode.Store(bytecode.ASTORE, 0), loop).
				Invoke(bytecode.INVOKEINTERFACE, iteratorClass, "hasNext", "()Z").
				Branch(bytecode.IFEQ, end).
				Add(bytecode.Load(bytecode.ALOAD, 0)).
				Invoke(bytecode.INVOKEINTERFACE, iteratorClass, "next", "()"+objectDesc).
				Class(bytecode.CHECKCAST, entryClass).
				Add(bytecode.Store(bytecode.ASTORE, 1), bytecode.Load(bytecode.ALOAD, 1)).
				Invoke(bytecode.INVOKEINTERFACE, entryClass, "getValue", "()"+objectDesc).
				Class(bytecode.CHECKCAST, longClass).
				Invoke(bytecode.INVOKEVIRTUAL, longClass, "longValue", "()J").
				Add(bytecode.Store(bytecode.LSTORE, 2), bytecode.Load(bytecode.LLOAD, 2)).
				Ldc(int64(threshold)).
				Op(bytecode.LCMP).
				Branch(bytecode.IFLT, loop).
				Field(bytecode.GETSTATIC, "java/lang/System", "out", "Ljava/io/PrintStream;").
				Ldc(reportFormat).
				Int(2).
				Class(bytecode.ANEWARRAY, "java/lang/Object").
				Op(bytecode.DUP).
				Int(0).
				Add(bytecode.Load(bytecode.ALOAD, 1)).
				Invoke(bytecode.INVOKEINTERFACE, entryClass, "getKey", "()"+objectDesc).
				Class(bytecode.CHECKCAST, "java/lang/String").
				Invoke(bytecode.INVOKEVIRTUAL, "java/lang/String", "toUpperCase", "()Ljava/lang/String;").
				Op(bytecode.AASTORE).
				Op(bytecode.DUP).
				Int(1).
				Add(bytecode.Load(bytecode.LLOAD, 2)).
				Invoke(bytecode.INVOKESTATIC, longClass, "valueOf", "(J)Ljava/lang/Long;").
				Op(bytecode.AASTORE).
				Invoke(bytecode.INVOKEVIRTUAL, "java/io/PrintStream", "printf", "(Ljava/lang/String;[Ljava/lang/Object;)Ljava/io/PrintStream;").
				Op(bytecode.POP).
				Branch(bytecode.GOTO, loop).
				Add(end)
		}},
	}

	for _, def := range methods {
		m := &classfile.Method{Access: def.access, Name: def.name, Desc: def.desc}
		f := passes.NewFragment(c.Pool)
		def.body(f)
		nodes, err := f.Nodes()
		if err != nil {
			return nil, fmt.Errorf("sidecar: %s: %w", m.Key(), err)
		}
		s := bytecode.NewStream(name, m)
		s.Append(nodes...)
		if err := flow.Recompute(s, c.Pool, flow.Options{StrictReachability: true}); err != nil {
			return nil, fmt.Errorf("sidecar: %s: %w", m.Key(), err)
		}
		if m.Code, err = s.Encode(c.Pool); err != nil {
			return nil, fmt.Errorf("sidecar: %s: %w", m.Key(), err)
		}
		c.Methods = append(c.Methods, m)
	}
	return c, nil
}
