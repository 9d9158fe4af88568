package wire_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceetaro/suitkaise/errs"
	"github.com/ceetaro/suitkaise/wire"
)

func roundTrip(t *testing.T, value any) any {
	t.Helper()
	data, err := wire.Encode(value)
	require.NoError(t, err)
	got, err := wire.Decode(data)
	require.NoError(t, err)
	return got
}

func TestEncodeDecode_Primitives(t *testing.T) {
	for _, v := range []any{42, "hello", true, 3.5, int64(-7)} {
		got := roundTrip(t, v)
		assert.Equal(t, v, got)
	}
}

func TestEncodeDecode_Nil(t *testing.T) {
	got := roundTrip(t, nil)
	assert.Nil(t, got)
}

func TestEncodeDecode_Bytes(t *testing.T) {
	got := roundTrip(t, []byte("raw bytes"))
	assert.Equal(t, []byte("raw bytes"), got)
}

func TestEncodeDecode_Sequence(t *testing.T) {
	got := roundTrip(t, []any{1, "two", 3.0})
	seq, ok := got.([]any)
	require.True(t, ok)
	require.Len(t, seq, 3)
	assert.Equal(t, 1, seq[0])
	assert.Equal(t, "two", seq[1])
	assert.Equal(t, 3.0, seq[2])
}

func TestEncodeDecode_Set(t *testing.T) {
	got := roundTrip(t, wire.Set{1, 2, 3})
	set, ok := got.(wire.Set)
	require.True(t, ok)
	require.Len(t, set, 3)
}

func TestEncodeDecode_Mapping(t *testing.T) {
	got := roundTrip(t, map[string]any{"a": 1, "b": 2})
	m, ok := got.(map[any]any)
	require.True(t, ok)
	assert.Equal(t, 1, m["a"])
	assert.Equal(t, 2, m["b"])
}

type person struct {
	Name string
	Age  int
}

func TestEncodeDecode_Struct(t *testing.T) {
	got := roundTrip(t, person{Name: "Ada", Age: 30})
	inst, ok := got.(*wire.Instance)
	require.True(t, ok)
	assert.Contains(t, inst.Class, "person")
	assert.Equal(t, "Ada", inst.Attrs["Name"])
	assert.Equal(t, 30, inst.Attrs["Age"])
}

type node struct {
	Value int
	Next  *node
}

func TestEncodeDecode_CyclicPointer(t *testing.T) {
	a := &node{Value: 1}
	b := &node{Value: 2}
	a.Next = b
	b.Next = a

	got := roundTrip(t, a)

	inst, ok := got.(*wire.Instance)
	require.True(t, ok)
	assert.Equal(t, 1, inst.Attrs["Value"])

	next, ok := inst.Attrs["Next"].(*wire.Instance)
	require.True(t, ok)
	assert.Equal(t, 2, next.Attrs["Value"])

	back, ok := next.Attrs["Next"].(*wire.Instance)
	require.True(t, ok)
	assert.Same(t, inst, back, "cycle must decode back to the same instance, not a copy")
}

func TestEncodeDecode_SelfReferentialSlice(t *testing.T) {
	s := make([]any, 2)
	s[0] = 1
	s[1] = s

	got := roundTrip(t, s)
	seq, ok := got.([]any)
	require.True(t, ok)
	assert.Equal(t, 1, seq[0])

	inner, ok := seq[1].([]any)
	require.True(t, ok)
	assert.Equal(t, seq[0], inner[0])
}

func TestEncodeDecode_SharedSubgraph(t *testing.T) {
	shared := &node{Value: 99}
	root := []any{shared, shared}

	got := roundTrip(t, root)
	seq, ok := got.([]any)
	require.True(t, ok)
	first, ok := seq[0].(*wire.Instance)
	require.True(t, ok)
	second, ok := seq[1].(*wire.Instance)
	require.True(t, ok)
	assert.Same(t, first, second, "both slots must decode to the same shared instance")
}

func TestEncode_ChannelFails(t *testing.T) {
	ch := make(chan int)
	_, err := wire.Encode(ch)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.EncodingFailed))
}

func TestEncode_FuncFails(t *testing.T) {
	_, err := wire.Encode(func() {})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.EncodingFailed))
}

type fakeSocket struct {
	host string
	port int
}

func (f fakeSocket) WireDescriptor() (string, map[string]any) {
	return "tcp_socket", map[string]any{"host": f.host, "port": f.port}
}

func TestEncodeDecode_Resource(t *testing.T) {
	got := roundTrip(t, fakeSocket{host: "db.internal", port: 5432})
	rc, ok := got.(*wire.Reconnector)
	require.True(t, ok)
	assert.Equal(t, "tcp_socket", rc.Descriptor.Kind)
	assert.Equal(t, "db.internal", rc.Descriptor.Metadata["host"])
	assert.Equal(t, 5432, rc.Descriptor.Metadata["port"])
}

type fakeRegistry struct {
	calls int
}

func (r *fakeRegistry) Reconnect(kind string, metadata map[string]any, credentials map[string]any) (any, error) {
	r.calls++
	return map[string]any{"kind": kind, "host": metadata["host"], "password": credentials["password"]}, nil
}

func TestReconnectAll_ResolvesWithCredentials(t *testing.T) {
	decoded := roundTrip(t, fakeSocket{host: "db.internal", port: 5432})

	registry := &fakeRegistry{}
	creds := wire.Credentials{"tcp_socket": {"password": "s3cret"}}

	resolved, err := wire.ReconnectAll(decoded, registry, creds)
	require.NoError(t, err)
	m, ok := resolved.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tcp_socket", m["kind"])
	assert.Equal(t, "db.internal", m["host"])
	assert.Equal(t, "s3cret", m["password"])
	assert.Equal(t, 1, registry.calls)
}

func TestReconnectAll_LeavesPlaceholderWithoutCredentials(t *testing.T) {
	decoded := roundTrip(t, fakeSocket{host: "db.internal", port: 5432})

	registry := &fakeRegistry{}
	resolved, err := wire.ReconnectAll(decoded, registry, nil)
	require.NoError(t, err)
	_, ok := resolved.(*wire.Reconnector)
	assert.True(t, ok, "reconnector without matching credentials must be left in place")
	assert.Equal(t, 0, registry.calls)
}

func TestReconnectAll_IdempotentOnAlreadyResolvedGraph(t *testing.T) {
	decoded := roundTrip(t, fakeSocket{host: "db.internal", port: 5432})

	registry := &fakeRegistry{}
	creds := wire.Credentials{"*": {"password": "s3cret"}}

	once, err := wire.ReconnectAll(decoded, registry, creds)
	require.NoError(t, err)

	twice, err := wire.ReconnectAll(once, registry, creds)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, registry.calls, "second pass must not call the registry again")
}

func TestReconnectAll_NestedInSequence(t *testing.T) {
	decoded := roundTrip(t, []any{fakeSocket{host: "a", port: 1}, fakeSocket{host: "b", port: 2}})

	registry := &fakeRegistry{}
	creds := wire.Credentials{"*": {"password": "x"}}

	resolved, err := wire.ReconnectAll(decoded, registry, creds)
	require.NoError(t, err)
	seq, ok := resolved.([]any)
	require.True(t, ok)
	require.Len(t, seq, 2)
	for _, el := range seq {
		_, isReconnector := el.(*wire.Reconnector)
		assert.False(t, isReconnector)
	}
	assert.Equal(t, 2, registry.calls)
}

func TestEncodeDecode_NestedCollections(t *testing.T) {
	got := roundTrip(t, map[string]any{
		"numbers": []any{1, 2, 3},
		"tags":    wire.Set{"x", "y"},
	})
	m, ok := got.(map[any]any)
	require.True(t, ok)
	nums, ok := m["numbers"].([]any)
	require.True(t, ok)
	sort.Slice(nums, func(i, j int) bool { return nums[i].(int) < nums[j].(int) })
	assert.Equal(t, []any{1, 2, 3}, nums)
	_, ok = m["tags"].(wire.Set)
	assert.True(t, ok)
}
