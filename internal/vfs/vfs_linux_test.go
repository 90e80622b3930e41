//go:build linux

package vfs

import (
	"bytes"
	"context"
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

// TestObjectNodeServesDirectoryFileSymlinkTree exercises the node-level
// Lookup/Readdir/Read/Readlink logic directly, without requiring an
// actual FUSE mount (which needs /dev/fuse and CAP_SYS_ADMIN, unavailable
// in most CI sandboxes).
func TestObjectNodeServesDirectoryFileSymlinkTree(t *testing.T) {
	store := newStore(t)

	contents, err := store.PutBlob(bytes.NewReader([]byte("hello from a checked-in file")))
	require.NoError(t, err)
	file, err := store.PutFile(&object.File{Contents: contents.ID})
	require.NoError(t, err)
	link, err := store.PutSymlink(&object.Symlink{Target: "greeting.txt"})
	require.NoError(t, err)
	dir, err := store.PutDirectory(&object.Directory{Entries: map[string]object.Value{
		"greeting.txt": file,
		"shortcut":     link,
	}})
	require.NoError(t, err)

	root := &objectNode{base: base{store: store}, value: dir}

	stream, errno := root.Readdir(context.Background())
	require.Zero(t, errno)
	names := map[string]bool{}
	for stream.HasNext() {
		entry, errno := stream.Next()
		require.Zero(t, errno)
		names[entry.Name] = true
	}
	require.True(t, names["greeting.txt"])
	require.True(t, names["shortcut"])

	fileValue, errno := root.resolveChild("greeting.txt")
	require.Zero(t, errno)
	require.Equal(t, object.KindFile, fileValue.Kind)

	linkValue, errno := root.resolveChild("shortcut")
	require.Zero(t, errno)
	linkNode := &objectNode{base: root.base, value: linkValue}
	target, errno := linkNode.Readlink(context.Background())
	require.Zero(t, errno)
	require.Equal(t, "greeting.txt", string(target))

	_, errno = root.resolveChild("missing")
	require.NotZero(t, errno)
}
