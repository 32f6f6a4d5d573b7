package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		desc  string
		kind  Kind
		slots int
		java  string
	}{
		{"I", Int, 1, "int"},
		{"J", Long, 2, "long"},
		{"D", Double, 2, "double"},
		{"Z", Boolean, 1, "boolean"},
		{"Ljava/lang/String;", Reference, 1, "java.lang.String"},
		{"[I", Array, 1, "int[]"},
		{"[[Ljava/lang/Object;", Array, 1, "java.lang.Object[][]"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			typ, err := ParseField(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, typ.Kind)
			assert.Equal(t, tt.slots, typ.Slots())
			assert.Equal(t, tt.java, typ.String())
			assert.Equal(t, tt.desc, typ.Descriptor())
		})
	}
}

func TestParseField_Errors(t *testing.T) {
	for _, desc := range []string{"", "V", "Q", "L;", "Ljava/lang/String", "[V", "II"} {
		_, err := ParseField(desc)
		assert.ErrorIs(t, err, ErrBadDescriptor, desc)
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("(IJLjava/lang/String;[D)V")
	require.NoError(t, err)
	require.Len(t, m.Params, 4)
	assert.Equal(t, 5, m.ArgSlots())
	assert.Equal(t, Void, m.Return.Kind)
	assert.Equal(t, 0, m.Return.Slots())
	assert.Equal(t, "(IJLjava/lang/String;[D)V", m.Descriptor())

	m, err = ParseMethod("()Ljava/lang/Object;")
	require.NoError(t, err)
	assert.Empty(t, m.Params)
	assert.Equal(t, "java/lang/Object", m.Return.Class)

	for _, bad := range []string{"", "()", "(V)V", "(I", "I)V", "()VV"} {
		_, err := ParseMethod(bad)
		assert.ErrorIs(t, err, ErrBadDescriptor, bad)
	}
}

func TestWidened(t *testing.T) {
	assert.Equal(t, TypeInt, TypeByte.Widened())
	assert.Equal(t, TypeInt, TypeShort.Widened())
	assert.Equal(t, TypeChar, TypeChar.Widened())
	assert.Equal(t, TypeObject, TypeString.Widened())
	assert.Equal(t, TypeObject, ArrayOf(TypeInt).Widened())
	assert.Equal(t, TypeLong, TypeLong.Widened())
}

func TestNumeric(t *testing.T) {
	assert.True(t, TypeByte.IsNumeric())
	assert.True(t, TypeDouble.IsNumeric())
	assert.False(t, TypeBoolean.IsNumeric())
	assert.False(t, TypeChar.IsNumeric())
	assert.False(t, TypeString.IsNumeric())
}

func TestClassName(t *testing.T) {
	typ, err := FromClassName("[Ljava/lang/String;")
	require.NoError(t, err)
	assert.Equal(t, Array, typ.Kind)
	assert.Equal(t, "[Ljava/lang/String;", typ.ClassName())

	typ, err = FromClassName("java/util/Map")
	require.NoError(t, err)
	assert.Equal(t, "java/util/Map", typ.ClassName())
}
