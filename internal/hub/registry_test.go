package hub

import (
	"testing"

	"github.com/danmuck/nodehub/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func registeredConn(r *Registry, t *testing.T) *Conn {
	t.Helper()
	id, err := r.AllocateID()
	require.NoError(t, err)
	c := &Conn{id: id, registered: true, session: "s"}
	require.NoError(t, r.Add(c))
	return c
}

func TestRegistryAllocatesLowestFreeID(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()

	a := registeredConn(r, t)
	b := registeredConn(r, t)
	c := registeredConn(r, t)
	require.Equal(t, []uint32{1, 2, 3}, []uint32{a.id, b.id, c.id})

	require.True(t, r.Remove(b))
	id, err := r.AllocateID()
	require.NoError(t, err)
	require.Equal(t, uint32(2), id)

	d := registeredConn(r, t)
	require.Equal(t, uint32(2), d.id)
	e := registeredConn(r, t)
	require.Equal(t, uint32(4), e.id)
}

func TestRegistryLookupAndRemove(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	a := registeredConn(r, t)

	got, err := r.Lookup(a.id)
	require.NoError(t, err)
	require.Same(t, a, got)

	_, err = r.Lookup(99)
	require.ErrorIs(t, err, ErrNodeNotFound)

	stale := &Conn{id: a.id, registered: true}
	require.False(t, r.Remove(stale), "remove must not evict another connection's id")
	require.Equal(t, 1, r.Len())

	require.True(t, r.Remove(a))
	require.False(t, r.Remove(a))
	require.Equal(t, 0, r.Len())
}

func TestRegistryAddRejectsConflicts(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	a := registeredConn(r, t)

	require.Error(t, r.Add(&Conn{}))
	require.Error(t, r.Add(&Conn{id: a.id, session: "other"}))
	require.NoError(t, r.Add(a), "re-adding the holder is a no-op")
}

func TestRegistryNodesSortedByID(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	for _, id := range []uint32{5, 2, 9, 1} {
		require.NoError(t, r.Add(&Conn{id: id, registered: true}))
	}
	var ids []uint32
	for _, c := range r.Nodes() {
		ids = append(ids, c.id)
	}
	require.Equal(t, []uint32{1, 2, 5, 9}, ids)

	id, err := r.AllocateID()
	require.NoError(t, err)
	require.Equal(t, uint32(3), id)
}
