package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramcore/tangram/internal/blob"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/object"
)

func newTestStore(t *testing.T) *object.Store {
	t.Helper()
	dir := t.TempDir()
	blocks, err := block.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })
	blobs, err := blob.Open(dir)
	require.NoError(t, err)
	return object.New(blocks, blobs)
}

func TestRunDownloadRequiresChecksumOrUnsafe(t *testing.T) {
	store := newTestStore(t)
	f := New()

	_, err := f.RunDownload(context.Background(), store, &object.Download{URL: "http://example.invalid/x"})
	require.Error(t, err)
}

func TestRunDownloadVerifiesChecksum(t *testing.T) {
	content := []byte("hello world")
	sum := sha256.Sum256(content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	store := newTestStore(t)
	f := New()

	v, err := f.RunDownload(context.Background(), store, &object.Download{
		URL:      srv.URL,
		Checksum: "sha256:" + hex.EncodeToString(sum[:]),
	})
	require.NoError(t, err)

	r, err := store.Blobs.Reader(v)
	require.NoError(t, err)
	defer r.Close()
	var out [11]byte
	n, err := r.Read(out[:])
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out[:n]))
}

func TestRunDownloadRejectsBadChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	store := newTestStore(t)
	f := New()

	_, err := f.RunDownload(context.Background(), store, &object.Download{
		URL:      srv.URL,
		Checksum: "sha256:" + hex.EncodeToString(make([]byte, 32)),
	})
	require.Error(t, err)
}

func TestRunDownloadUnsafeSkipsChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no checksum needed"))
	}))
	defer srv.Close()

	store := newTestStore(t)
	f := New()

	_, err := f.RunDownload(context.Background(), store, &object.Download{URL: srv.URL, Unsafe: true})
	require.NoError(t, err)
}
