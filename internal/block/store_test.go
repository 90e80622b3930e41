package block

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramcore/tangram/internal/id"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	leaf := EncodeEnvelope(nil, []byte("hello world"))
	leafID, err := s.Put(leaf)
	require.NoError(t, err)

	got, err := s.Get(leafID)
	require.NoError(t, err)
	require.Equal(t, leaf, got)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(id.Hash([]byte("nope")))
	require.Error(t, err)
}

func TestTryAddEnforcesClosure(t *testing.T) {
	s := newTestStore(t)

	missingChild := id.Hash(EncodeEnvelope(nil, []byte("unseen")))
	parent := EncodeEnvelope([]id.ID{missingChild}, []byte("parent body"))
	parentID := id.Hash(parent)

	outcome, err := s.TryAdd(parentID, parent)
	require.NoError(t, err)
	require.False(t, outcome.Added)
	require.Equal(t, []id.ID{missingChild}, outcome.MissingChildren)

	has, err := s.Has(parentID)
	require.NoError(t, err)
	require.False(t, has, "a block with missing children must not be persisted")

	// Add the child first, then retry.
	child := EncodeEnvelope(nil, []byte("unseen"))
	require.NoError(t, s.PutWithID(missingChild, child))

	outcome, err = s.TryAdd(parentID, parent)
	require.NoError(t, err)
	require.True(t, outcome.Added)
}

func TestReachableFromAndGC(t *testing.T) {
	s := newTestStore(t)

	leaf := EncodeEnvelope(nil, []byte("leaf"))
	leafID, err := s.Put(leaf)
	require.NoError(t, err)

	parent := EncodeEnvelope([]id.ID{leafID}, []byte("parent"))
	parentID, err := s.Put(parent)
	require.NoError(t, err)

	orphan := EncodeEnvelope(nil, []byte("orphan"))
	orphanID, err := s.Put(orphan)
	require.NoError(t, err)

	reachable, err := s.ReachableFrom([]id.ID{parentID})
	require.NoError(t, err)
	require.True(t, reachable.Has(parentID))
	require.True(t, reachable.Has(leafID))
	require.False(t, reachable.Has(orphanID))

	removed, err := s.GC([]id.ID{parentID})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	has, err := s.Has(orphanID)
	require.NoError(t, err)
	require.False(t, has)

	has, err = s.Has(leafID)
	require.NoError(t, err)
	require.True(t, has)
}

func TestSetOutputIdempotent(t *testing.T) {
	s := newTestStore(t)

	opID := id.Hash([]byte("op"))
	valueID := id.Hash([]byte("value"))

	require.NoError(t, s.SetOutput(opID, valueID))
	require.NoError(t, s.SetOutput(opID, valueID)) // same value: no-op

	other := id.Hash([]byte("different value"))
	err := s.SetOutput(opID, other)
	require.Error(t, err, "conflicting output write must fail")

	got, found, err := s.GetOutput(opID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, valueID, got)
}
