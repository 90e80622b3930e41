package mirror

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramcore/tangram/internal/blob"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/object"
)

func newStore(t *testing.T) *object.Store {
	t.Helper()
	dir := t.TempDir()
	blocks, err := block.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })
	blobs, err := blob.Open(dir)
	require.NoError(t, err)
	return object.New(blocks, blobs)
}

// TestPushPullRoundTrip exercises the push/pull-inverse property: a
// directory tree pushed from one store to a mirror-backed server, then
// pulled into a fresh third store, arrives byte-identical.
func TestPushPullRoundTrip(t *testing.T) {
	src := newStore(t)
	remoteStore := newStore(t)
	dst := newStore(t)

	contents, err := src.PutBlob(bytes.NewReader([]byte("file body well over eleven bytes long")))
	require.NoError(t, err)
	file, err := src.PutFile(&object.File{Contents: contents.ID, Executable: false})
	require.NoError(t, err)
	dir, err := src.PutDirectory(&object.Directory{Entries: map[string]object.Value{
		"greeting.txt": file,
	}})
	require.NoError(t, err)

	server := NewServer(remoteStore)
	httpServer := httptest.NewServer(server.Handler())
	defer httpServer.Close()

	client := NewClient(httpServer.URL)

	require.NoError(t, Push(context.Background(), src, client, dir.ID))

	gotDirectly, err := remoteStore.LoadDirectory(dir.ID)
	require.NoError(t, err)
	require.Contains(t, gotDirectly.Entries, "greeting.txt")

	require.NoError(t, Pull(context.Background(), dst, client, dir.ID))

	gotDir, err := dst.LoadDirectory(dir.ID)
	require.NoError(t, err)
	require.Contains(t, gotDir.Entries, "greeting.txt")

	gotFile, err := dst.LoadFile(gotDir.Entries["greeting.txt"].ID)
	require.NoError(t, err)
	require.Equal(t, contents.ID, gotFile.Contents)

	r, err := dst.Blobs.Reader(gotFile.Contents)
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "file body well over eleven bytes long", string(body))
}

// TestPushSkipsAlreadyPresentBlocks confirms a push the server already has
// (e.g. a re-push after a partial failure) succeeds without erroring, per
// the idempotence spec §6.3 requires of every operation.
func TestPushSkipsAlreadyPresentBlocks(t *testing.T) {
	src := newStore(t)
	remoteStore := newStore(t)

	v, err := src.PutBlob(bytes.NewReader([]byte("idempotent push content over eleven bytes")))
	require.NoError(t, err)

	server := NewServer(remoteStore)
	httpServer := httptest.NewServer(server.Handler())
	defer httpServer.Close()
	client := NewClient(httpServer.URL)

	require.NoError(t, Push(context.Background(), src, client, v.ID))
	require.NoError(t, Push(context.Background(), src, client, v.ID))
}
