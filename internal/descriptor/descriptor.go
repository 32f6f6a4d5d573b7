// Package descriptor parses JVM field and method descriptors.
package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadDescriptor = errors.New("descriptor: malformed descriptor")

// Kind is the closed set of descriptor types.
type Kind uint8

const (
	Void Kind = iota
	Boolean
	Byte
	Char
	Short
	Int
	Float
	Long
	Double
	Reference
	Array
)

var kindNames = [...]string{
	Void: "void", Boolean: "boolean", Byte: "byte", Char: "char", Short: "short",
	Int: "int", Float: "float", Long: "long", Double: "double",
	Reference: "reference", Array: "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Type is a parsed field type. Class is the internal name for Reference;
// Elem is the component type for Array.
type Type struct {
	Kind  Kind
	Class string
	Elem  *Type
}

var (
	TypeVoid    = Type{Kind: Void}
	TypeBoolean = Type{Kind: Boolean}
	TypeByte    = Type{Kind: Byte}
	TypeChar    = Type{Kind: Char}
	TypeShort   = Type{Kind: Short}
	TypeInt     = Type{Kind: Int}
	TypeFloat   = Type{Kind: Float}
	TypeLong    = Type{Kind: Long}
	TypeDouble  = Type{Kind: Double}
	TypeObject  = Object("java/lang/Object")
	TypeString  = Object("java/lang/String")
)

// Object returns the reference type for an internal class name.
func Object(class string) Type { return Type{Kind: Reference, Class: class} }

// ArrayOf returns the array type with the given component.
func ArrayOf(elem Type) Type { return Type{Kind: Array, Elem: &elem} }

// Slots is the number of local variable / operand stack slots a value of
// this type occupies.
func (t Type) Slots() int {
	switch t.Kind {
	case Void:
		return 0
	case Long, Double:
		return 2
	default:
		return 1
	}
}

func (t Type) IsPrimitive() bool { return t.Kind != Reference && t.Kind != Array && t.Kind != Void }

func (t Type) IsReference() bool { return t.Kind == Reference || t.Kind == Array }

// IsNumeric reports whether values of the type can be compared against an
// int threshold: byte, short, int, long, float, double.
func (t Type) IsNumeric() bool {
	switch t.Kind {
	case Byte, Short, Int, Long, Float, Double:
		return true
	}
	return false
}

// Widened maps byte and short to int and every reference or array to
// java/lang/Object. Other types are returned unchanged.
func (t Type) Widened() Type {
	switch t.Kind {
	case Byte, Short:
		return TypeInt
	case Reference, Array:
		return TypeObject
	}
	return t
}

// Descriptor returns the descriptor form ("I", "Ljava/lang/String;", "[J").
func (t Type) Descriptor() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t Type) write(b *strings.Builder) {
	switch t.Kind {
	case Void:
		b.WriteByte('V')
	case Boolean:
		b.WriteByte('Z')
	case Byte:
		b.WriteByte('B')
	case Char:
		b.WriteByte('C')
	case Short:
		b.WriteByte('S')
	case Int:
		b.WriteByte('I')
	case Float:
		b.WriteByte('F')
	case Long:
		b.WriteByte('J')
	case Double:
		b.WriteByte('D')
	case Reference:
		b.WriteByte('L')
		b.WriteString(t.Class)
		b.WriteByte(';')
	case Array:
		b.WriteByte('[')
		t.Elem.write(b)
	}
}

// String returns the Java source spelling: "int", "java.lang.String", "int[]".
func (t Type) String() string {
	switch t.Kind {
	case Reference:
		return strings.ReplaceAll(t.Class, "/", ".")
	case Array:
		return t.Elem.String() + "[]"
	default:
		return t.Kind.String()
	}
}

// Method is a parsed method descriptor.
type Method struct {
	Params []Type
	Return Type
}

// ArgSlots is the number of slots the parameters occupy, excluding the
// receiver.
func (m Method) ArgSlots() int {
	n := 0
	for _, p := range m.Params {
		n += p.Slots()
	}
	return n
}

func (m Method) Descriptor() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range m.Params {
		p.write(&b)
	}
	b.WriteByte(')')
	m.Return.write(&b)
	return b.String()
}

// ParseField parses a field descriptor.
func ParseField(desc string) (Type, error) {
	t, n, err := parseType(desc, 0)
	if err != nil {
		return Type{}, err
	}
	if t.Kind == Void || n != len(desc) {
		return Type{}, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	return t, nil
}

// ParseMethod parses a method descriptor.
func ParseMethod(desc string) (Method, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return Method{}, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	var m Method
	i := 1
	for i < len(desc) && desc[i] != ')' {
		t, n, err := parseType(desc, i)
		if err != nil {
			return Method{}, err
		}
		if t.Kind == Void {
			return Method{}, fmt.Errorf("%w: void parameter in %q", ErrBadDescriptor, desc)
		}
		m.Params = append(m.Params, t)
		i = n
	}
	if i >= len(desc) {
		return Method{}, fmt.Errorf("%w: unterminated parameters in %q", ErrBadDescriptor, desc)
	}
	ret, n, err := parseType(desc, i+1)
	if err != nil {
		return Method{}, err
	}
	if n != len(desc) {
		return Method{}, fmt.Errorf("%w: trailing data in %q", ErrBadDescriptor, desc)
	}
	m.Return = ret
	return m, nil
}

// parseType parses one type starting at desc[i] and returns the index just
// past it.
func parseType(desc string, i int) (Type, int, error) {
	if i >= len(desc) {
		return Type{}, i, fmt.Errorf("%w: %q truncated", ErrBadDescriptor, desc)
	}
	switch desc[i] {
	case 'V':
		return TypeVoid, i + 1, nil
	case 'Z':
		return TypeBoolean, i + 1, nil
	case 'B':
		return TypeByte, i + 1, nil
	case 'C':
		return TypeChar, i + 1, nil
	case 'S':
		return TypeShort, i + 1, nil
	case 'I':
		return TypeInt, i + 1, nil
	case 'F':
		return TypeFloat, i + 1, nil
	case 'J':
		return TypeLong, i + 1, nil
	case 'D':
		return TypeDouble, i + 1, nil
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end <= 1 {
			return Type{}, i, fmt.Errorf("%w: bad class name in %q", ErrBadDescriptor, desc)
		}
		return Object(desc[i+1 : i+end]), i + end + 1, nil
	case '[':
		elem, n, err := parseType(desc, i+1)
		if err != nil {
			return Type{}, i, err
		}
		if elem.Kind == Void {
			return Type{}, i, fmt.Errorf("%w: void array in %q", ErrBadDescriptor, desc)
		}
		return ArrayOf(elem), n, nil
	default:
		return Type{}, i, fmt.Errorf("%w: unexpected %q at %d in %q", ErrBadDescriptor, desc[i], i, desc)
	}
}

// FromClassName converts a CONSTANT_Class name to a type: array classes
// are stored as descriptors, everything else as an internal name.
func FromClassName(name string) (Type, error) {
	if strings.HasPrefix(name, "[") {
		return ParseField(name)
	}
	return Object(name), nil
}

// ClassName is the inverse of FromClassName for reference and array types.
func (t Type) ClassName() string {
	if t.Kind == Reference {
		return t.Class
	}
	return t.Descriptor()
}
