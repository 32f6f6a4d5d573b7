package bytecode

import (
	"fmt"
	"slices"

	"jvminstr/internal/byteio"
	"jvminstr/internal/classfile"
	"jvminstr/internal/cpool"
	"jvminstr/internal/descriptor"
)

// VTag is a verification type tag as stored in a StackMapTable.
type VTag uint8

const (
	Top VTag = iota
	Integer
	Float
	Double
	Long
	Null
	UninitializedThis
	Object
	Uninitialized
)

var vtagNames = [...]string{"top", "int", "float", "double", "long", "null", "uninitializedThis", "object", "uninitialized"}

// VType is a verification type. Class is the internal name (or array
// descriptor) of an Object; New is the allocating instruction of an
// Uninitialized value.
type VType struct {
	Tag   VTag
	Class string
	New   *Node
}

var (
	VTop     = VType{Tag: Top}
	VInt     = VType{Tag: Integer}
	VFloat   = VType{Tag: Float}
	VLong    = VType{Tag: Long}
	VDouble  = VType{Tag: Double}
	VNull    = VType{Tag: Null}
	VUninitT = VType{Tag: UninitializedThis}
)

func VObject(class string) VType { return VType{Tag: Object, Class: class} }

// Wide reports whether the type occupies two slots.
func (v VType) Wide() bool { return v.Tag == Long || v.Tag == Double }

func (v VType) String() string {
	switch v.Tag {
	case Object:
		return v.Class
	case Uninitialized:
		if v.New != nil {
			return fmt.Sprintf("uninitialized(@%d)", v.New.Offset)
		}
	}
	if int(v.Tag) < len(vtagNames) {
		return vtagNames[v.Tag]
	}
	return fmt.Sprintf("vtag(%d)", v.Tag)
}

// VTypeOf returns the verification type of a field descriptor type.
func VTypeOf(t descriptor.Type) VType {
	switch t.Kind {
	case descriptor.Boolean, descriptor.Byte, descriptor.Char, descriptor.Short, descriptor.Int:
		return VInt
	case descriptor.Float:
		return VFloat
	case descriptor.Long:
		return VLong
	case descriptor.Double:
		return VDouble
	case descriptor.Reference, descriptor.Array:
		return VObject(t.ClassName())
	}
	return VTop
}

// Frame is a stack map frame in slot form: a long or double occupies its
// slot followed by a Top, in locals and on the stack alike.
type Frame struct {
	Locals []VType
	Stack  []VType
}

func (f Frame) Clone() Frame {
	return Frame{Locals: slices.Clone(f.Locals), Stack: slices.Clone(f.Stack)}
}

func (f Frame) Equal(g Frame) bool {
	return slices.Equal(f.Locals, g.Locals) && slices.Equal(f.Stack, g.Stack)
}

// Push appends t to the stack, with its Top half when wide.
func (f *Frame) Push(t VType) {
	f.Stack = append(f.Stack, t)
	if t.Wide() {
		f.Stack = append(f.Stack, VTop)
	}
}

// expand converts the compact form of a StackMapTable entry into slot
// form.
func expand(compact []VType) []VType {
	out := make([]VType, 0, len(compact))
	for _, v := range compact {
		out = append(out, v)
		if v.Wide() {
			out = append(out, VTop)
		}
	}
	return out
}

// compact is the inverse of expand.
func compact(slots []VType) []VType {
	out := make([]VType, 0, len(slots))
	for i := 0; i < len(slots); i++ {
		out = append(out, slots[i])
		if slots[i].Wide() {
			i++
		}
	}
	return out
}

// InitialFrame is the implicit frame at method entry.
func InitialFrame(owner string, m *classfile.Method) (Frame, error) {
	md, err := descriptor.ParseMethod(m.Desc)
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if !m.IsStatic() {
		if m.Name == "<init>" && owner != "java/lang/Object" {
			f.Locals = append(f.Locals, VUninitT)
		} else {
			f.Locals = append(f.Locals, VObject(owner))
		}
	}
	for _, p := range md.Params {
		v := VTypeOf(p)
		f.Locals = append(f.Locals, v)
		if v.Wide() {
			f.Locals = append(f.Locals, VTop)
		}
	}
	return f, nil
}

type frameReader struct {
	r      *byteio.Reader
	pool   *cpool.Pool
	byOff  map[int]*Node
	errOff func(int) error
}

func (fr *frameReader) vtypes(n int) ([]VType, error) {
	out := make([]VType, 0, n)
	for range n {
		tag, err := fr.r.U8()
		if err != nil {
			return nil, err
		}
		v := VType{Tag: VTag(tag)}
		switch v.Tag {
		case Top, Integer, Float, Double, Long, Null, UninitializedThis:
		case Object:
			idx, err := fr.r.U16()
			if err != nil {
				return nil, err
			}
			if v.Class, err = fr.pool.ClassName(idx); err != nil {
				return nil, err
			}
		case Uninitialized:
			off, err := fr.r.U16()
			if err != nil {
				return nil, err
			}
			if v.New = fr.byOff[int(off)]; v.New == nil {
				return nil, fr.errOff(int(off))
			}
		default:
			return nil, fmt.Errorf("verification type tag %d", tag)
		}
		out = append(out, v)
	}
	return out, nil
}

// decodeStackMap binds the entries of a StackMapTable to nodes.
func decodeStackMap(data []byte, pool *cpool.Pool, init Frame, byOff map[int]*Node) (map[*Node]Frame, error) {
	fr := &frameReader{
		r: byteio.NewReader(data), pool: pool, byOff: byOff,
		errOff: func(off int) error { return fmt.Errorf("stack map offset %d is not an instruction", off) },
	}
	r := fr.r
	count, err := r.U16()
	if err != nil {
		return nil, err
	}

	frames := make(map[*Node]Frame, count)
	locals := compact(init.Locals)
	off := -1
	for range count {
		ft, err := r.U8()
		if err != nil {
			return nil, err
		}
		var delta uint16
		var stack []VType
		switch {
		case ft < 64:
			delta = uint16(ft)
		case ft < 128:
			delta = uint16(ft - 64)
			if stack, err = fr.vtypes(1); err != nil {
				return nil, err
			}
		case ft < 247:
			return nil, fmt.Errorf("reserved frame type %d", ft)
		case ft == 247:
			if delta, err = r.U16(); err != nil {
				return nil, err
			}
			if stack, err = fr.vtypes(1); err != nil {
				return nil, err
			}
		case ft < 251:
			if delta, err = r.U16(); err != nil {
				return nil, err
			}
			k := int(251 - ft)
			if k > len(locals) {
				return nil, fmt.Errorf("chop %d of %d locals", k, len(locals))
			}
			locals = locals[:len(locals)-k]
		case ft == 251:
			if delta, err = r.U16(); err != nil {
				return nil, err
			}
		case ft < 255:
			if delta, err = r.U16(); err != nil {
				return nil, err
			}
			extra, err := fr.vtypes(int(ft - 251))
			if err != nil {
				return nil, err
			}
			locals = append(slices.Clone(locals), extra...)
		default:
			if delta, err = r.U16(); err != nil {
				return nil, err
			}
			n, err := r.U16()
			if err != nil {
				return nil, err
			}
			if locals, err = fr.vtypes(int(n)); err != nil {
				return nil, err
			}
			if n, err = r.U16(); err != nil {
				return nil, err
			}
			if stack, err = fr.vtypes(int(n)); err != nil {
				return nil, err
			}
		}

		off += int(delta) + 1
		node := byOff[off]
		if node == nil {
			return nil, fr.errOff(off)
		}
		frames[node] = Frame{Locals: expand(locals), Stack: expand(stack)}
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d bytes after last frame", r.Remaining())
	}
	return frames, nil
}

func writeVTypes(w *byteio.Writer, pool *cpool.Pool, vs []VType) error {
	for _, v := range vs {
		w.U8(uint8(v.Tag))
		switch v.Tag {
		case Object:
			idx, err := pool.Class(v.Class)
			if err != nil {
				return err
			}
			w.U16(idx)
		case Uninitialized:
			if v.New == nil || !v.New.Linked() {
				return fmt.Errorf("uninitialized type without a live new instruction")
			}
			w.U16(uint16(v.New.Offset))
		}
	}
	return nil
}

// trimLocals drops trailing Top entries from a compact locals list.
func trimLocals(locals []VType) []VType {
	for len(locals) > 0 && locals[len(locals)-1].Tag == Top {
		locals = locals[:len(locals)-1]
	}
	return locals
}

// encodeStackMap emits frames for the given nodes in offset order, each in
// the smallest form relative to its predecessor.
func encodeStackMap(pool *cpool.Pool, init Frame, nodes []*Node, frames map[*Node]Frame) ([]byte, error) {
	w := byteio.NewWriter()
	w.U16(uint16(len(nodes)))

	prev := trimLocals(compact(init.Locals))
	last := -1
	for _, n := range nodes {
		f := frames[n]
		locals := trimLocals(compact(f.Locals))
		stack := compact(f.Stack)
		delta := n.Offset - last - 1
		if delta < 0 {
			return nil, fmt.Errorf("frame at offset %d is out of order", n.Offset)
		}
		last = n.Offset

		same := slices.Equal(locals, prev)
		k := len(locals) - len(prev)
		switch {
		case same && len(stack) == 0 && delta < 64:
			w.U8(uint8(delta))
		case same && len(stack) == 0:
			w.U8(251)
			w.U16(uint16(delta))
		case same && len(stack) == 1 && delta < 64:
			w.U8(uint8(64 + delta))
			if err := writeVTypes(w, pool, stack); err != nil {
				return nil, err
			}
		case same && len(stack) == 1:
			w.U8(247)
			w.U16(uint16(delta))
			if err := writeVTypes(w, pool, stack); err != nil {
				return nil, err
			}
		case len(stack) == 0 && k > 0 && k <= 3 && slices.Equal(locals[:len(prev)], prev):
			w.U8(uint8(251 + k))
			w.U16(uint16(delta))
			if err := writeVTypes(w, pool, locals[len(prev):]); err != nil {
				return nil, err
			}
		case len(stack) == 0 && k < 0 && k >= -3 && slices.Equal(prev[:len(locals)], locals):
			w.U8(uint8(251 + k))
			w.U16(uint16(delta))
		default:
			w.U8(255)
			w.U16(uint16(delta))
			w.U16(uint16(len(locals)))
			if err := writeVTypes(w, pool, locals); err != nil {
				return nil, err
			}
			w.U16(uint16(len(stack)))
			if err := writeVTypes(w, pool, stack); err != nil {
				return nil, err
			}
		}
		prev = locals
	}
	return w.Bytes(), nil
}
