package bytecode

import "fmt"

// Op is a JVM opcode. Short local forms (iload_0 ...), ldc_w, goto_w,
// jsr_w and the wide prefix never appear in a Stream: they are folded into
// their generic opcode on decode and chosen again on encode.
type Op uint8

const (
	NOP Op = iota
	ACONST_NULL
	ICONST_M1
	ICONST_0
	ICONST_1
	ICONST_2
	ICONST_3
	ICONST_4
	ICONST_5
	LCONST_0
	LCONST_1
	FCONST_0
	FCONST_1
	FCONST_2
	DCONST_0
	DCONST_1
	BIPUSH
	SIPUSH
	LDC
	LDC_W
	LDC2_W
	ILOAD
	LLOAD
	FLOAD
	DLOAD
	ALOAD
	ILOAD_0
	ILOAD_1
	ILOAD_2
	ILOAD_3
	LLOAD_0
	LLOAD_1
	LLOAD_2
	LLOAD_3
	FLOAD_0
	FLOAD_1
	FLOAD_2
	FLOAD_3
	DLOAD_0
	DLOAD_1
	DLOAD_2
	DLOAD_3
	ALOAD_0
	ALOAD_1
	ALOAD_2
	ALOAD_3
	IALOAD
	LALOAD
	FALOAD
	DALOAD
	AALOAD
	BALOAD
	CALOAD
	SALOAD
	ISTORE
	LSTORE
	FSTORE
	DSTORE
	ASTORE
	ISTORE_0
	ISTORE_1
	ISTORE_2
	ISTORE_3
	LSTORE_0
	LSTORE_1
	LSTORE_2
	LSTORE_3
	FSTORE_0
	FSTORE_1
	FSTORE_2
	FSTORE_3
	DSTORE_0
	DSTORE_1
	DSTORE_2
	DSTORE_3
	ASTORE_0
	ASTORE_1
	ASTORE_2
	ASTORE_3
	IASTORE
	LASTORE
	FASTORE
	DASTORE
	AASTORE
	BASTORE
	CASTORE
	SASTORE
	POP
	POP2
	DUP
	DUP_X1
	DUP_X2
	DUP2
	DUP2_X1
	DUP2_X2
	SWAP
	IADD
	LADD
	FADD
	DADD
	ISUB
	LSUB
	FSUB
	DSUB
	IMUL
	LMUL
	FMUL
	DMUL
	IDIV
	LDIV
	FDIV
	DDIV
	IREM
	LREM
	FREM
	DREM
	INEG
	LNEG
	FNEG
	DNEG
	ISHL
	LSHL
	ISHR
	LSHR
	IUSHR
	LUSHR
	IAND
	LAND
	IOR
	LOR
	IXOR
	LXOR
	IINC
	I2L
	I2F
	I2D
	L2I
	L2F
	L2D
	F2I
	F2L
	F2D
	D2I
	D2L
	D2F
	I2B
	I2C
	I2S
	LCMP
	FCMPL
	FCMPG
	DCMPL
	DCMPG
	IFEQ
	IFNE
	IFLT
	IFGE
	IFGT
	IFLE
	IF_ICMPEQ
	IF_ICMPNE
	IF_ICMPLT
	IF_ICMPGE
	IF_ICMPGT
	IF_ICMPLE
	IF_ACMPEQ
	IF_ACMPNE
	GOTO
	JSR
	RET
	TABLESWITCH
	LOOKUPSWITCH
	IRETURN
	LRETURN
	FRETURN
	DRETURN
	ARETURN
	RETURN
	GETSTATIC
	PUTSTATIC
	GETFIELD
	PUTFIELD
	INVOKEVIRTUAL
	INVOKESPECIAL
	INVOKESTATIC
	INVOKEINTERFACE
	INVOKEDYNAMIC
	NEW
	NEWARRAY
	ANEWARRAY
	ARRAYLENGTH
	ATHROW
	CHECKCAST
	INSTANCEOF
	MONITORENTER
	MONITOREXIT
	WIDE
	MULTIANEWARRAY
	IFNULL
	IFNONNULL
	GOTO_W
	JSR_W
)

// OpFormat is the operand layout of an opcode.
type OpFormat uint8

const (
	FmtNone      OpFormat = iota
	FmtLocal            // u1 local slot (u2 under wide)
	FmtIinc             // u1 slot, s1 delta (u2, s2 under wide)
	FmtByte             // s1 immediate (bipush) or u1 array type (newarray)
	FmtShort            // s2 immediate
	FmtCP1              // u1 pool index
	FmtCP2              // u2 pool index
	FmtInterface        // u2 pool index, u1 count, 0
	FmtDynamic          // u2 pool index, 0, 0
	FmtMulti            // u2 pool index, u1 dimensions
	FmtBranch           // s2 offset
	FmtBranchW          // s4 offset
	FmtTable
	FmtLookup
	FmtWide
	FmtInvalid
)

// Variable marks a stack effect that depends on the operand.
const Variable = -1

// Info describes one opcode. Pop and Push count stack slots; Variable
// means the effect depends on the referenced constant.
type Info struct {
	Name   string
	Format OpFormat
	Pop    int
	Push   int
}

var opTable [256]Info

func def(op Op, name string, f OpFormat, pop, push int) {
	opTable[op] = Info{Name: name, Format: f, Pop: pop, Push: push}
}

func init() {
	for i := range opTable {
		opTable[i] = Info{Name: fmt.Sprintf("op_%02x", i), Format: FmtInvalid}
	}

	def(NOP, "nop", FmtNone, 0, 0)
	def(ACONST_NULL, "aconst_null", FmtNone, 0, 1)
	for op := ICONST_M1; op <= ICONST_5; op++ {
		def(op, [...]string{"iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4", "iconst_5"}[op-ICONST_M1], FmtNone, 0, 1)
	}
	def(LCONST_0, "lconst_0", FmtNone, 0, 2)
	def(LCONST_1, "lconst_1", FmtNone, 0, 2)
	def(FCONST_0, "fconst_0", FmtNone, 0, 1)
	def(FCONST_1, "fconst_1", FmtNone, 0, 1)
	def(FCONST_2, "fconst_2", FmtNone, 0, 1)
	def(DCONST_0, "dconst_0", FmtNone, 0, 2)
	def(DCONST_1, "dconst_1", FmtNone, 0, 2)
	def(BIPUSH, "bipush", FmtByte, 0, 1)
	def(SIPUSH, "sipush", FmtShort, 0, 1)
	def(LDC, "ldc", FmtCP1, 0, 1)
	def(LDC_W, "ldc_w", FmtCP2, 0, 1)
	def(LDC2_W, "ldc2_w", FmtCP2, 0, 2)

	prefixes := [...]string{"i", "l", "f", "d", "a"}
	widths := [...]int{1, 2, 1, 2, 1}
	for k, p := range prefixes {
		def(ILOAD+Op(k), p+"load", FmtLocal, 0, widths[k])
		def(ISTORE+Op(k), p+"store", FmtLocal, widths[k], 0)
		for n := 0; n < 4; n++ {
			def(ILOAD_0+Op(4*k+n), fmt.Sprintf("%sload_%d", p, n), FmtNone, 0, widths[k])
			def(ISTORE_0+Op(4*k+n), fmt.Sprintf("%sstore_%d", p, n), FmtNone, widths[k], 0)
		}
	}
	for k, p := range [...]string{"i", "l", "f", "d", "a", "b", "c", "s"} {
		w := 1
		if k == 1 || k == 3 {
			w = 2
		}
		def(IALOAD+Op(k), p+"aload", FmtNone, 2, w)
		def(IASTORE+Op(k), p+"astore", FmtNone, 2+w, 0)
	}

	def(POP, "pop", FmtNone, 1, 0)
	def(POP2, "pop2", FmtNone, 2, 0)
	def(DUP, "dup", FmtNone, 1, 2)
	def(DUP_X1, "dup_x1", FmtNone, 2, 3)
	def(DUP_X2, "dup_x2", FmtNone, 3, 4)
	def(DUP2, "dup2", FmtNone, 2, 4)
	def(DUP2_X1, "dup2_x1", FmtNone, 3, 5)
	def(DUP2_X2, "dup2_x2", FmtNone, 4, 6)
	def(SWAP, "swap", FmtNone, 2, 2)

	for k, name := range [...]string{"add", "sub", "mul", "div", "rem"} {
		base := IADD + Op(4*k)
		def(base, "i"+name, FmtNone, 2, 1)
		def(base+1, "l"+name, FmtNone, 4, 2)
		def(base+2, "f"+name, FmtNone, 2, 1)
		def(base+3, "d"+name, FmtNone, 4, 2)
	}
	def(INEG, "ineg", FmtNone, 1, 1)
	def(LNEG, "lneg", FmtNone, 2, 2)
	def(FNEG, "fneg", FmtNone, 1, 1)
	def(DNEG, "dneg", FmtNone, 2, 2)
	for k, name := range [...]string{"shl", "shr", "ushr"} {
		def(ISHL+Op(2*k), "i"+name, FmtNone, 2, 1)
		def(LSHL+Op(2*k), "l"+name, FmtNone, 3, 2)
	}
	for k, name := range [...]string{"and", "or", "xor"} {
		def(IAND+Op(2*k), "i"+name, FmtNone, 2, 1)
		def(LAND+Op(2*k), "l"+name, FmtNone, 4, 2)
	}
	def(IINC, "iinc", FmtIinc, 0, 0)

	def(I2L, "i2l", FmtNone, 1, 2)
	def(I2F, "i2f", FmtNone, 1, 1)
	def(I2D, "i2d", FmtNone, 1, 2)
	def(L2I, "l2i", FmtNone, 2, 1)
	def(L2F, "l2f", FmtNone, 2, 1)
	def(L2D, "l2d", FmtNone, 2, 2)
	def(F2I, "f2i", FmtNone, 1, 1)
	def(F2L, "f2l", FmtNone, 1, 2)
	def(F2D, "f2d", FmtNone, 1, 2)
	def(D2I, "d2i", FmtNone, 2, 1)
	def(D2L, "d2l", FmtNone, 2, 2)
	def(D2F, "d2f", FmtNone, 2, 1)
	def(I2B, "i2b", FmtNone, 1, 1)
	def(I2C, "i2c", FmtNone, 1, 1)
	def(I2S, "i2s", FmtNone, 1, 1)

	def(LCMP, "lcmp", FmtNone, 4, 1)
	def(FCMPL, "fcmpl", FmtNone, 2, 1)
	def(FCMPG, "fcmpg", FmtNone, 2, 1)
	def(DCMPL, "dcmpl", FmtNone, 4, 1)
	def(DCMPG, "dcmpg", FmtNone, 4, 1)

	for k, name := range [...]string{"ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle"} {
		def(IFEQ+Op(k), name, FmtBranch, 1, 0)
	}
	for k, name := range [...]string{"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne"} {
		def(IF_ICMPEQ+Op(k), name, FmtBranch, 2, 0)
	}
	def(GOTO, "goto", FmtBranch, 0, 0)
	def(JSR, "jsr", FmtBranch, 0, 1)
	def(RET, "ret", FmtLocal, 0, 0)
	def(TABLESWITCH, "tableswitch", FmtTable, 1, 0)
	def(LOOKUPSWITCH, "lookupswitch", FmtLookup, 1, 0)

	def(IRETURN, "ireturn", FmtNone, 1, 0)
	def(LRETURN, "lreturn", FmtNone, 2, 0)
	def(FRETURN, "freturn", FmtNone, 1, 0)
	def(DRETURN, "dreturn", FmtNone, 2, 0)
	def(ARETURN, "areturn", FmtNone, 1, 0)
	def(RETURN, "return", FmtNone, 0, 0)

	def(GETSTATIC, "getstatic", FmtCP2, Variable, Variable)
	def(PUTSTATIC, "putstatic", FmtCP2, Variable, Variable)
	def(GETFIELD, "getfield", FmtCP2, Variable, Variable)
	def(PUTFIELD, "putfield", FmtCP2, Variable, Variable)
	def(INVOKEVIRTUAL, "invokevirtual", FmtCP2, Variable, Variable)
	def(INVOKESPECIAL, "invokespecial", FmtCP2, Variable, Variable)
	def(INVOKESTATIC, "invokestatic", FmtCP2, Variable, Variable)
	def(INVOKEINTERFACE, "invokeinterface", FmtInterface, Variable, Variable)
	def(INVOKEDYNAMIC, "invokedynamic", FmtDynamic, Variable, Variable)

	def(NEW, "new", FmtCP2, 0, 1)
	def(NEWARRAY, "newarray", FmtByte, 1, 1)
	def(ANEWARRAY, "anewarray", FmtCP2, 1, 1)
	def(ARRAYLENGTH, "arraylength", FmtNone, 1, 1)
	def(ATHROW, "athrow", FmtNone, 1, 0)
	def(CHECKCAST, "checkcast", FmtCP2, 1, 1)
	def(INSTANCEOF, "instanceof", FmtCP2, 1, 1)
	def(MONITORENTER, "monitorenter", FmtNone, 1, 0)
	def(MONITOREXIT, "monitorexit", FmtNone, 1, 0)
	def(WIDE, "wide", FmtWide, 0, 0)
	def(MULTIANEWARRAY, "multianewarray", FmtMulti, Variable, 1)
	def(IFNULL, "ifnull", FmtBranch, 1, 0)
	def(IFNONNULL, "ifnonnull", FmtBranch, 1, 0)
	def(GOTO_W, "goto_w", FmtBranchW, 0, 0)
	def(JSR_W, "jsr_w", FmtBranchW, 0, 1)
}

// Info returns the opcode's table entry.
func (op Op) Info() Info { return opTable[op] }

func (op Op) String() string { return opTable[op].Name }

// IsBranch reports whether op transfers control to a single Target.
func (op Op) IsBranch() bool {
	return (op >= IFEQ && op <= JSR) || op == IFNULL || op == IFNONNULL || op == GOTO_W || op == JSR_W
}

// IsConditional reports whether op is a two-way branch.
func (op Op) IsConditional() bool {
	return (op >= IFEQ && op <= IF_ACMPNE) || op == IFNULL || op == IFNONNULL
}

func (op Op) IsSwitch() bool { return op == TABLESWITCH || op == LOOKUPSWITCH }

func (op Op) IsReturn() bool { return op >= IRETURN && op <= RETURN }

// IsTerminator reports whether control never falls through to the next
// instruction.
func (op Op) IsTerminator() bool {
	switch op {
	case GOTO, GOTO_W, RET, ATHROW, TABLESWITCH, LOOKUPSWITCH:
		return true
	}
	return op.IsReturn()
}

func (op Op) IsInvoke() bool { return op >= INVOKEVIRTUAL && op <= INVOKEDYNAMIC }

func (op Op) IsFieldAccess() bool { return op >= GETSTATIC && op <= PUTFIELD }

// IsLoad reports whether op is one of iload, lload, fload, dload, aload.
func (op Op) IsLoad() bool { return op >= ILOAD && op <= ALOAD }

// IsStore reports whether op is one of istore, lstore, fstore, dstore, astore.
func (op Op) IsStore() bool { return op >= ISTORE && op <= ASTORE }

// LocalWidth is the number of local slots touched by a load or store.
func (op Op) LocalWidth() int {
	switch op {
	case LLOAD, DLOAD, LSTORE, DSTORE:
		return 2
	}
	return 1
}

// invert returns the conditional branch with the opposite sense.
func invert(op Op) Op {
	if op >= IFNULL {
		return op ^ 1
	}
	return ((op + 1) ^ 1) - 1
}
