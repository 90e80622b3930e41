package object

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawTryAddRoundTripsBlockObject(t *testing.T) {
	src := newTestStore(t)
	dst := newTestStore(t)

	dirVal, err := src.PutDirectory(&Directory{Entries: map[string]Value{}})
	require.NoError(t, err)

	payload, err := src.RawGet(dirVal.ID)
	require.NoError(t, err)

	outcome, err := dst.RawTryAdd(payload)
	require.NoError(t, err)
	require.True(t, outcome.Added)

	got, err := dst.LoadDirectory(dirVal.ID)
	require.NoError(t, err)
	require.Empty(t, got.Entries)
}

func TestRawTryAddRoundTripsBlob(t *testing.T) {
	src := newTestStore(t)
	dst := newTestStore(t)

	v, err := src.PutBlob(bytes.NewReader([]byte("hello world, this is well over eleven bytes long")))
	require.NoError(t, err)

	payload, err := src.RawGet(v.ID)
	require.NoError(t, err)

	outcome, err := dst.RawTryAdd(payload)
	require.NoError(t, err)
	require.True(t, outcome.Added)

	r, err := dst.Blobs.Reader(v.ID)
	require.NoError(t, err)
	defer r.Close()
}

func TestRawTryAddReportsMissingChildren(t *testing.T) {
	src := newTestStore(t)
	dst := newTestStore(t)

	contents, err := src.PutBlob(bytes.NewReader([]byte("file body well over eleven bytes")))
	require.NoError(t, err)
	fileVal, err := src.PutFile(&File{Contents: contents.ID})
	require.NoError(t, err)

	payload, err := src.RawGet(fileVal.ID)
	require.NoError(t, err)

	outcome, err := dst.RawTryAdd(payload)
	require.NoError(t, err)
	require.False(t, outcome.Added)
	require.Len(t, outcome.MissingChildren, 1)
	require.Equal(t, contents.ID, outcome.MissingChildren[0])
}

func TestHasAndChildrenOfAny(t *testing.T) {
	s := newTestStore(t)
	v, err := s.PutBlob(bytes.NewReader([]byte("some content over eleven bytes long")))
	require.NoError(t, err)

	ok, err := s.Has(v.ID)
	require.NoError(t, err)
	require.True(t, ok)

	children, err := s.ChildrenOfAny(v.ID)
	require.NoError(t, err)
	require.Empty(t, children)
}
