// Package classfile parses and writes JVM class files.
//
// The model keeps constant pool references resolved to names and
// descriptors. Indices are re-derived by interning into the class pool
// when the class is written, so passes never juggle raw indices for
// structural data. Attributes the engine does not understand are kept as
// raw bytes.
package classfile

import (
	"errors"

	"jvminstr/internal/cpool"
)

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// VersionStackMaps is the first major version whose verifier consults
// StackMapTable frames.
const VersionStackMaps = 50

var ErrMalformedClass = errors.New("classfile: malformed class file")

// Access flags shared by classes, fields and methods.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
)

// Attribute is an attribute kept byte-for-byte.
type Attribute struct {
	Name string
	Data []byte
}

// ExceptionEntry is one row of a Code attribute's exception table.
// Offsets are bytecode offsets; CatchType is a Class index or 0.
type ExceptionEntry struct {
	Start, End, Handler uint16
	CatchType           uint16
}

// Code is a parsed Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Bytecode   []byte
	Exceptions []ExceptionEntry
	Attrs      []Attribute
}

// Attr returns the first sub-attribute with the given name.
func (c *Code) Attr(name string) (Attribute, bool) {
	return findAttr(c.Attrs, name)
}

type Field struct {
	Access uint16
	Name   string
	Desc   string
	Attrs  []Attribute
}

// Method is a method_info. Its Code attribute, when present, is parsed
// into Code and not repeated in Attrs.
type Method struct {
	Access uint16
	Name   string
	Desc   string
	Attrs  []Attribute
	Code   *Code
}

func (m *Method) IsStatic() bool   { return m.Access&AccStatic != 0 }
func (m *Method) IsAbstract() bool { return m.Access&AccAbstract != 0 }

// Key identifies a method within its class.
func (m *Method) Key() MethodKey { return MethodKey{Name: m.Name, Desc: m.Desc} }

// MethodKey is a (name, descriptor) pair.
type MethodKey struct {
	Name string
	Desc string
}

func (k MethodKey) String() string { return k.Name + k.Desc }

// Class is a parsed class file.
type Class struct {
	Minor, Major uint16
	Pool         *cpool.Pool
	Access       uint16
	This         string
	Super        string // empty only for java/lang/Object
	Interfaces   []string
	Fields       []*Field
	Methods      []*Method
	Attrs        []Attribute
}

func (c *Class) IsInterface() bool { return c.Access&AccInterface != 0 }

// Method returns the method with the given name and descriptor.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// MethodSet returns the (name, descriptor) pairs declared by the class.
func (c *Class) MethodSet() map[MethodKey]bool {
	set := make(map[MethodKey]bool, len(c.Methods))
	for _, m := range c.Methods {
		set[m.Key()] = true
	}
	return set
}

// Attr returns the first class attribute with the given name.
func (c *Class) Attr(name string) (Attribute, bool) {
	return findAttr(c.Attrs, name)
}

func findAttr(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}
