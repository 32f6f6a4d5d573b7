package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jvminstr/internal/cpool"
)

// sample builds a small class with one field and two methods:
//
//	static int twice(int x) { return x + x; }
//	int get() { return this.v; }
func sample(t *testing.T) *Class {
	t.Helper()
	pool := cpool.New()
	fref, err := pool.InternFieldRef("Sample", "v", "I")
	require.NoError(t, err)

	return &Class{
		Minor:  0,
		Major:  49,
		Pool:   pool,
		Access: AccPublic | AccSuper,
		This:   "Sample",
		Super:  "java/lang/Object",
		Fields: []*Field{{Access: AccPrivate, Name: "v", Desc: "I"}},
		Methods: []*Method{
			{
				Access: AccStatic, Name: "twice", Desc: "(I)I",
				Code: &Code{MaxStack: 2, MaxLocals: 1, Bytecode: []byte{0x1a, 0x1a, 0x60, 0xac}},
			},
			{
				Access: AccPublic, Name: "get", Desc: "()I",
				Code: &Code{
					MaxStack: 1, MaxLocals: 1,
					Bytecode: []byte{0x2a, 0xb4, byte(fref >> 8), byte(fref), 0xac},
					Attrs:    []Attribute{{Name: "LineNumberTable", Data: []byte{0, 1, 0, 0, 0, 7}}},
				},
			},
		},
		Attrs: []Attribute{{Name: "SourceFile", Data: []byte{0, 1}}},
	}
}

func TestRoundTrip(t *testing.T) {
	c := sample(t)
	data, err := c.Bytes()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Sample", parsed.This)
	assert.Equal(t, "java/lang/Object", parsed.Super)
	assert.Equal(t, uint16(49), parsed.Major)
	require.Len(t, parsed.Methods, 2)
	assert.Equal(t, c.Methods[0].Code.Bytecode, parsed.Methods[0].Code.Bytecode)
	assert.Equal(t, c.Methods[1].Code.Attrs, parsed.Methods[1].Code.Attrs)
	assert.Equal(t, c.Attrs, parsed.Attrs)

	again, err := parsed.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestMethodLookup(t *testing.T) {
	c := sample(t)
	m := c.Method("twice", "(I)I")
	require.NotNil(t, m)
	assert.True(t, m.IsStatic())
	assert.Nil(t, c.Method("twice", "(J)J"))

	set := c.MethodSet()
	assert.True(t, set[MethodKey{Name: "get", Desc: "()I"}])
	assert.Len(t, set, 2)
}

func TestParse_Malformed(t *testing.T) {
	data, err := sample(t).Bytes()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte{0xca, 0xfe, 0xba, 0xbf}, data[4:]...)},
		{"truncated header", data[:9]},
		{"truncated body", data[:len(data)-3]},
		{"trailing bytes", append(append([]byte{}, data...), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.ErrorIs(t, err, ErrMalformedClass)
		})
	}
}

func TestParse_CodeLengthMismatch(t *testing.T) {
	c := sample(t)
	// A Code attribute kept raw with a code_length larger than its body.
	c.Methods[0].Code = nil
	c.Methods[0].Attrs = []Attribute{{
		Name: "Code",
		Data: []byte{0, 1, 0, 1, 0, 0, 0, 9, 0xb1, 0, 0, 0, 0},
	}}
	data, err := c.Bytes()
	require.NoError(t, err)

	_, err = Parse(data)
	assert.ErrorIs(t, err, ErrMalformedClass)
}

func TestParse_BadPoolIndex(t *testing.T) {
	c := sample(t)
	c.Methods[0].Code.Exceptions = []ExceptionEntry{{Start: 0, End: 3, Handler: 3, CatchType: 0xfff0}}
	data, err := c.Bytes()
	require.NoError(t, err)

	_, err = Parse(data)
	assert.ErrorIs(t, err, ErrMalformedClass)
	assert.ErrorIs(t, err, cpool.ErrBadIndex)
}

func TestBytes_NoPartialOutput(t *testing.T) {
	c := sample(t)
	c.Methods[0].Code.Bytecode = nil
	data, err := c.Bytes()
	assert.Error(t, err)
	assert.Nil(t, data)
}
