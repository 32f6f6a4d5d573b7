package cpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jvminstr/internal/byteio"
)

func TestIntern_Idempotent(t *testing.T) {
	p := New()

	s1, err := p.InternLiteral("Got result: ")
	require.NoError(t, err)
	n := p.Len()
	s2, err := p.InternLiteral("Got result: ")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Equal(t, n, p.Len(), "second intern must not grow the pool")

	f1, err := p.InternFieldRef("java/lang/System", "out", "Ljava/io/PrintStream;")
	require.NoError(t, err)
	n = p.Len()
	f2, err := p.InternFieldRef("java/lang/System", "out", "Ljava/io/PrintStream;")
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
	assert.Equal(t, n, p.Len())

	m1, err := p.InternMethodRef("java/io/PrintStream", "println", "(Ljava/lang/String;)V", false)
	require.NoError(t, err)
	m2, err := p.InternMethodRef("java/io/PrintStream", "println", "(Ljava/lang/String;)V", false)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)

	// The interface flavour is a distinct key.
	i1, err := p.InternMethodRef("java/io/PrintStream", "println", "(Ljava/lang/String;)V", true)
	require.NoError(t, err)
	assert.NotEqual(t, m1, i1)
}

func TestIntern_GrowsByAtMostOne(t *testing.T) {
	p := New()
	_, err := p.Utf8("abc")
	require.NoError(t, err)
	before := p.Len()
	_, err = p.String("abc") // Utf8 already present
	require.NoError(t, err)
	assert.Equal(t, before+1, p.Len())
}

func TestIntern_WideEntries(t *testing.T) {
	p := New()
	l, err := p.Long(42)
	require.NoError(t, err)
	next, err := p.Int(7)
	require.NoError(t, err)
	assert.Equal(t, l+2, next, "long takes two slots")

	_, err = p.Entry(l + 1)
	assert.ErrorIs(t, err, ErrBadIndex)

	v, err := p.Literal(l)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestIntern_Overflow(t *testing.T) {
	p := New()
	for i := 0; p.Len() < MaxEntries; i++ {
		_, err := p.Int(int32(i))
		require.NoError(t, err)
	}
	_, err := p.Int(-1)
	assert.ErrorIs(t, err, ErrPoolOverflow)

	// Existing keys still resolve after the pool is full.
	idx, err := p.Int(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), idx)
}

func TestRef_Resolve(t *testing.T) {
	p := New()
	idx, err := p.InternMethodRef("Test", "printMe", "(I)V", false)
	require.NoError(t, err)

	ref, err := p.Ref(idx)
	require.NoError(t, err)
	assert.Equal(t, MemberRef{Tag: TagMethodref, Owner: "Test", Name: "printMe", Desc: "(I)V"}, ref)
	assert.Equal(t, "Test.printMe(I)V", ref.String())

	_, err = p.ClassName(idx)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestReadWrite_RoundTrip(t *testing.T) {
	p := New()
	_, err := p.InternMethodRef("java/lang/String", "valueOf", "(J)Ljava/lang/String;", false)
	require.NoError(t, err)
	_, err = p.Double(2.5)
	require.NoError(t, err)
	_, err = p.String("nul\x00 and \U0001F600")
	require.NoError(t, err)

	w := byteio.NewWriter()
	p.Write(w)

	q, err := Read(byteio.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, p.Len(), q.Len())

	idx, err := p.Utf8("nul\x00 and \U0001F600")
	require.NoError(t, err)
	assert.Equal(t, p.Len(), q.Len(), "already interned")
	s, err := q.Utf8At(idx)
	require.NoError(t, err)
	assert.Equal(t, "nul\x00 and \U0001F600", s)
}

func TestRead_RejectsBadReference(t *testing.T) {
	w := byteio.NewWriter()
	w.U16(3)
	w.U8(uint8(TagClass))
	w.U16(2)
	w.U8(uint8(TagInteger)) // Class must point at Utf8
	w.U32(1)

	_, err := Read(byteio.NewReader(w.Bytes()))
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestRead_Truncated(t *testing.T) {
	w := byteio.NewWriter()
	w.U16(2)
	w.U8(uint8(TagUtf8))
	w.U16(10)
	w.Write([]byte("abc"))

	_, err := Read(byteio.NewReader(w.Bytes()))
	assert.ErrorIs(t, err, byteio.ErrEOF)
}

func TestRead_WideOverrun(t *testing.T) {
	w := byteio.NewWriter()
	w.U16(2)
	w.U8(uint8(TagLong))
	w.U64(1)

	_, err := Read(byteio.NewReader(w.Bytes()))
	assert.Error(t, err)
}
