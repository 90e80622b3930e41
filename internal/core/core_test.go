package core

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramcore/tangram/internal/id"
)

func newInstance(t *testing.T) *Instance {
	t.Helper()
	inst, err := Open(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close() })
	return inst
}

func TestPutGetRoundTrip(t *testing.T) {
	inst := newInstance(t)

	blockID, err := inst.Put(bytes.NewReader([]byte("hello, core")))
	require.NoError(t, err)

	v, err := inst.Get(blockID)
	require.NoError(t, err)
	require.Equal(t, blockID, v.ID)
}

func TestCheckinCheckoutRoundTrip(t *testing.T) {
	inst := newInstance(t)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "greeting.txt"), []byte("hi"), 0o644))

	artifact, err := inst.Checkin(context.Background(), src)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, inst.Checkout(context.Background(), artifact, dst))

	data, err := os.ReadFile(filepath.Join(dst, "greeting.txt"))
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}

func TestCleanRemovesUnreachableBlocks(t *testing.T) {
	inst := newInstance(t)

	kept, err := inst.Put(bytes.NewReader([]byte("kept content over eleven bytes long")))
	require.NoError(t, err)
	_, err = inst.Put(bytes.NewReader([]byte("unreachable content over eleven bytes")))
	require.NoError(t, err)

	removed, err := inst.Clean([]id.ID{kept})
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, 1)

	_, err = inst.Get(kept)
	require.NoError(t, err)
}

func TestPushPullThroughMirrorHandler(t *testing.T) {
	src := newInstance(t)
	remote := newInstance(t)

	blockID, err := src.Put(bytes.NewReader([]byte("pushed through the daemon's own mirror handler")))
	require.NoError(t, err)

	httpServer := httptest.NewServer(remote.MirrorHandler())
	t.Cleanup(httpServer.Close)
	require.NoError(t, src.Push(context.Background(), blockID, httpServer.URL))

	v, err := remote.Get(blockID)
	require.NoError(t, err)
	require.Equal(t, blockID, v.ID)
}
