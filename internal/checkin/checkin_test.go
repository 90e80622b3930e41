package checkin

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramcore/tangram/internal/blob"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
)

func newTestEnv(t *testing.T) (*object.Store, *Tracker) {
	t.Helper()
	dir := t.TempDir()
	blocks, err := block.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })
	blobs, err := blob.Open(dir)
	require.NoError(t, err)
	tracker, err := OpenTracker(dir)
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	return object.New(blocks, blobs), tracker
}

func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "run.sh"), []byte("#!/bin/sh\necho hi\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("hello\n"), 0644))
	require.NoError(t, os.Symlink("bin/run.sh", filepath.Join(root, "link")))
}

func TestCheckinProducesDirectoryTree(t *testing.T) {
	store, tracker := newTestEnv(t)
	src := t.TempDir()
	writeTree(t, src)

	in := New(store, tracker)
	rootVal, err := in.Path(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, object.KindDirectory, rootVal.Kind)

	dir, err := store.LoadDirectory(rootVal.ID)
	require.NoError(t, err)
	require.Contains(t, dir.Entries, "bin")
	require.Contains(t, dir.Entries, "readme.txt")
	require.Contains(t, dir.Entries, "link")

	binDir, err := store.LoadDirectory(dir.Entries["bin"].ID)
	require.NoError(t, err)
	require.Contains(t, binDir.Entries, "run.sh")

	runFile, err := store.LoadFile(binDir.Entries["run.sh"].ID)
	require.NoError(t, err)
	require.True(t, runFile.Executable)

	link, err := store.LoadSymlink(dir.Entries["link"].ID)
	require.NoError(t, err)
	require.Equal(t, "bin/run.sh", link.Target)
}

func TestCheckinCheckoutRoundTrip(t *testing.T) {
	store, tracker := newTestEnv(t)
	src := t.TempDir()
	writeTree(t, src)

	in := New(store, tracker)
	rootVal, err := in.Path(context.Background(), src)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out")
	out := NewCheckout(store, tracker)
	require.NoError(t, out.Path(context.Background(), rootVal, dst))

	data, err := os.ReadFile(filepath.Join(dst, "readme.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))

	info, err := os.Stat(filepath.Join(dst, "bin", "run.sh"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&0111)

	target, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	require.Equal(t, "bin/run.sh", target)
}

func TestCheckinShortCircuitsOnUnchangedMtime(t *testing.T) {
	store, tracker := newTestEnv(t)
	src := t.TempDir()
	writeTree(t, src)

	in := New(store, tracker)
	first, err := in.Path(context.Background(), src)
	require.NoError(t, err)

	second, err := in.Path(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestCheckoutWritesReferencesSidecarAndCheckinReadsIt(t *testing.T) {
	store, tracker := newTestEnv(t)

	depContents, err := store.PutBlob(bytes.NewReader([]byte("dep")))
	require.NoError(t, err)
	depFile, err := store.PutFile(&object.File{Contents: depContents.ID})
	require.NoError(t, err)

	mainContents, err := store.PutBlob(bytes.NewReader([]byte("main")))
	require.NoError(t, err)
	mainFileVal, err := store.PutFile(&object.File{
		Contents:   mainContents.ID,
		References: []id.ID{depFile.ID},
	})
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))

	out := NewCheckout(store, tracker)
	require.NoError(t, out.Path(context.Background(), mainFileVal, dst))

	sidecar, err := os.ReadFile(sidecarPath(dst))
	require.NoError(t, err)
	require.Equal(t, []id.ID{depFile.ID}, decodeReferences(sidecar))

	// Checking the file back in recovers the references from the sidecar.
	in := New(store, tracker)
	roundTrip, err := in.Path(context.Background(), dst)
	require.NoError(t, err)
	reloaded, err := store.LoadFile(roundTrip.ID)
	require.NoError(t, err)
	require.Equal(t, []id.ID{depFile.ID}, reloaded.References)
}
