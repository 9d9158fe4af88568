package share

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_Invoke(t *testing.T) {
	l := NewList()
	_, err := l.Invoke("append", []any{"a"})
	require.NoError(t, err)
	_, err = l.Invoke("append", []any{"b"})
	require.NoError(t, err)

	n, err := l.Invoke("len", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, err := l.Invoke("pop", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	ok, err := l.Invoke("contains", []any{"a"})
	require.NoError(t, err)
	assert.Equal(t, true, ok)
}

func TestList_Invoke_UnsupportedMethod(t *testing.T) {
	l := NewList()
	_, err := l.Invoke("frobnicate", nil)
	require.Error(t, err)
}

func TestSet_Invoke(t *testing.T) {
	s := NewSet()
	_, err := s.Invoke("add", []any{1})
	require.NoError(t, err)
	_, err = s.Invoke("add", []any{1})
	require.NoError(t, err)

	n, err := s.Invoke("len", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "adding a duplicate must not grow the set")

	_, err = s.Invoke("delete", []any{1})
	require.NoError(t, err)
	ok, err := s.Invoke("contains", []any{1})
	require.NoError(t, err)
	assert.Equal(t, false, ok)
}

func TestMapping_Invoke(t *testing.T) {
	m := NewMapping()
	_, err := m.Invoke("item-set", []any{"a", 1})
	require.NoError(t, err)

	v, err := m.Invoke("get", []any{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = m.Invoke("item-del", []any{"a"})
	require.NoError(t, err)
	ok, err := m.Invoke("contains", []any{"a"})
	require.NoError(t, err)
	assert.Equal(t, false, ok)
}

func TestIsBuiltinWrite(t *testing.T) {
	assert.True(t, IsBuiltinWrite("append"))
	assert.True(t, IsBuiltinWrite("item-set"))
	assert.False(t, IsBuiltinWrite("len"))
	assert.False(t, IsBuiltinWrite("get"))
}
