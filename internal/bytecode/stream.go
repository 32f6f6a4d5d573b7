package bytecode

import (
	"errors"
	"fmt"
	"iter"

	"jvminstr/internal/classfile"
)

var ErrDanglingReference = errors.New("bytecode: replaced instruction is still referenced")

// Handler is an exception table entry bound to nodes. The protected range
// is [Start, End); a nil End means the end of the code.
type Handler struct {
	Start, End *Node
	Handler    *Node
	CatchType  uint16
}

// Line maps an instruction to a source line.
type Line struct {
	Node *Node
	Line uint16
}

// LocalVar is a LocalVariableTable or LocalVariableTypeTable row. Desc
// holds the signature for the latter. A nil End means the end of the code.
type LocalVar struct {
	Start, End *Node
	Name, Desc string
	Slot       uint16
}

// Stream is the editable instruction sequence of one method.
type Stream struct {
	head, tail *Node
	n          int

	Handlers   []*Handler
	Lines      []Line
	Locals     []LocalVar
	LocalTypes []LocalVar
	// Frames holds StackMapTable frames in slot form, keyed by the first
	// instruction they describe.
	Frames map[*Node]Frame

	MaxStack, MaxLocals uint16

	// StackMaps reports whether a StackMapTable is emitted on Encode.
	StackMaps bool

	// Owner and Method identify the method the stream belongs to.
	Owner  string
	Method *classfile.Method

	// Other holds Code sub-attributes whose offsets cannot be rebound.
	Other []classfile.Attribute
}

// NewStream returns an empty stream for the given method.
func NewStream(owner string, m *classfile.Method) *Stream {
	return &Stream{Owner: owner, Method: m, Frames: make(map[*Node]Frame)}
}

func (s *Stream) First() *Node { return s.head }
func (s *Stream) Last() *Node  { return s.tail }
func (s *Stream) Len() int     { return s.n }

// All yields the live instructions in order. The successor is read after
// the loop body runs, so nodes inserted after the current one are visited
// and nodes inserted before it are not. A node removed by Replace keeps
// its successor link, so iteration continues past the replacement.
func (s *Stream) All() iter.Seq2[int, *Node] {
	return func(yield func(int, *Node) bool) {
		i := 0
		for n := s.head; n != nil; n = n.next {
			if !yield(i, n) {
				return
			}
			i++
		}
	}
}

// Nodes returns a snapshot of the instruction list.
func (s *Stream) Nodes() []*Node {
	out := make([]*Node, 0, s.n)
	for n := s.head; n != nil; n = n.next {
		out = append(out, n)
	}
	return out
}

func (s *Stream) adopt(frag []*Node) {
	for i, n := range frag {
		if n.stream != nil {
			panic(fmt.Sprintf("bytecode: %s is already linked", n))
		}
		n.stream = s
		n.prev, n.next = nil, nil
		if i > 0 {
			frag[i-1].next = n
			n.prev = frag[i-1]
		}
	}
	s.n += len(frag)
}

// Append adds nodes at the end of the stream.
func (s *Stream) Append(frag ...*Node) {
	if len(frag) == 0 {
		return
	}
	s.adopt(frag)
	first, last := frag[0], frag[len(frag)-1]
	if s.tail == nil {
		s.head = first
	} else {
		s.tail.next = first
		first.prev = s.tail
	}
	s.tail = last
}

// InsertBefore links frag immediately before h. References to h keep
// pointing at h.
func (s *Stream) InsertBefore(h *Node, frag []*Node) {
	if len(frag) == 0 {
		return
	}
	s.adopt(frag)
	first, last := frag[0], frag[len(frag)-1]
	first.prev = h.prev
	last.next = h
	if h.prev != nil {
		h.prev.next = first
	} else {
		s.head = first
	}
	h.prev = last
}

// InsertAfter links frag immediately after h.
func (s *Stream) InsertAfter(h *Node, frag []*Node) {
	if len(frag) == 0 {
		return
	}
	s.adopt(frag)
	first, last := frag[0], frag[len(frag)-1]
	first.prev = h
	last.next = h.next
	if h.next != nil {
		h.next.prev = last
	} else {
		s.tail = last
	}
	h.next = first
}

// Replace substitutes frag for h. Every reference to h moves to frag[0].
// An empty frag is only allowed when nothing references h.
func (s *Stream) Replace(h *Node, frag []*Node) error {
	if len(frag) == 0 && s.referenced(h) {
		return fmt.Errorf("%w: %s", ErrDanglingReference, h)
	}
	if len(frag) > 0 {
		s.retarget(h, frag[0])
		s.InsertBefore(h, frag)
	}
	if h.prev != nil {
		h.prev.next = h.next
	} else {
		s.head = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	} else {
		s.tail = h.prev
	}
	// h.next is kept so an in-flight All loop continues after it.
	h.prev = nil
	h.stream = nil
	s.n--
	return nil
}

func (s *Stream) referenced(h *Node) bool {
	found := false
	s.visitRefs(func(p **Node) {
		if *p == h {
			found = true
		}
	})
	if _, ok := s.Frames[h]; ok {
		found = true
	}
	return found
}

func (s *Stream) retarget(from, to *Node) {
	s.visitRefs(func(p **Node) {
		if *p == from {
			*p = to
		}
	})
	if f, ok := s.Frames[from]; ok {
		delete(s.Frames, from)
		s.Frames[to] = f
	}
	for _, f := range s.Frames {
		for i := range f.Locals {
			if f.Locals[i].New == from {
				f.Locals[i].New = to
			}
		}
		for i := range f.Stack {
			if f.Stack[i].New == from {
				f.Stack[i].New = to
			}
		}
	}
}

// visitRefs calls fn with the address of every node reference held by the
// stream or its instructions.
func (s *Stream) visitRefs(fn func(**Node)) {
	for n := s.head; n != nil; n = n.next {
		if n.Target != nil {
			fn(&n.Target)
		}
		if n.Default != nil {
			fn(&n.Default)
		}
		for i := range n.Cases {
			fn(&n.Cases[i].Target)
		}
	}
	for _, h := range s.Handlers {
		fn(&h.Start)
		if h.End != nil {
			fn(&h.End)
		}
		fn(&h.Handler)
	}
	for i := range s.Lines {
		fn(&s.Lines[i].Node)
	}
	for _, vars := range [][]LocalVar{s.Locals, s.LocalTypes} {
		for i := range vars {
			fn(&vars[i].Start)
			if vars[i].End != nil {
				fn(&vars[i].End)
			}
		}
	}
}

// Targets returns the nodes that are jumped to, including handler entries.
func (s *Stream) Targets() map[*Node]bool {
	t := make(map[*Node]bool)
	for n := s.head; n != nil; n = n.next {
		if n.Target != nil {
			t[n.Target] = true
		}
		if n.Default != nil {
			t[n.Default] = true
		}
		for _, c := range n.Cases {
			t[c.Target] = true
		}
	}
	for _, h := range s.Handlers {
		t[h.Handler] = true
	}
	return t
}
