package shm_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceetaro/suitkaise/internal/shm"
)

func TestName_Deterministic(t *testing.T) {
	a := shm.Name("coord-1", "counters", "hits")
	b := shm.Name("coord-1", "counters", "hits")
	assert.Equal(t, a, b)

	c := shm.Name("coord-1", "counters", "misses")
	assert.NotEqual(t, a, c)
}

func TestCounter_FetchAdd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")
	c, err := shm.Open(path)
	require.NoError(t, err)
	defer c.Free()

	assert.Equal(t, int64(5), c.FetchAdd(5))
	assert.Equal(t, int64(8), c.FetchAdd(3))
	assert.Equal(t, int64(8), c.Load())
}

func TestCounter_RediscoverSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")
	a, err := shm.Open(path)
	require.NoError(t, err)
	a.FetchAdd(10)

	b, err := shm.Open(path)
	require.NoError(t, err)
	defer b.Free()

	assert.Equal(t, int64(10), b.Load(), "reopening the same path must see the same value")
}

func TestCounter_Generation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")
	c, err := shm.Open(path)
	require.NoError(t, err)
	defer c.Free()

	assert.Equal(t, int64(0), c.Generation())
	assert.Equal(t, int64(1), c.BumpGeneration())
}

func TestCounter_Free_ReopenStartsFromZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")
	c, err := shm.Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Free())

	c2, err := shm.Open(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c2.Load(), "freeing then reopening must start from zero")
	require.NoError(t, c2.Free())
}
