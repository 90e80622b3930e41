package blob

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutReaderRoundTripSmall(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	content := []byte("hello, content-addressed world\n")
	blobID, n, err := s.Put(bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), n)

	r, err := s.Reader(blobID)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, content, got)

	isBranch, err := s.IsBranch(blobID)
	require.NoError(t, err)
	require.False(t, isBranch)
}

func TestPutIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	content := []byte("repeat me")
	id1, _, err := s.Put(bytes.NewReader(content))
	require.NoError(t, err)
	id2, _, err := s.Put(bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestPutMultiChunkBranch(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	content := bytes.Repeat([]byte("x"), ChunkSize+1234)
	blobID, n, err := s.Put(bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), n)

	isBranch, err := s.IsBranch(blobID)
	require.NoError(t, err)
	require.True(t, isBranch)

	chunks, err := s.Branch(blobID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, int64(ChunkSize), chunks[0].Length)
	require.Equal(t, int64(1234), chunks[1].Length)

	r, err := s.Reader(blobID)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestEmptyBlob(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	blobID, n, err := s.Put(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	r, err := s.Reader(blobID)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Empty(t, got)
}
