package lockfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramcore/tangram/internal/blob"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
)

func newTestStore(t *testing.T) *object.Store {
	t.Helper()
	dataDir := t.TempDir()
	blocks, err := block.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })
	blobs, err := blob.Open(dataDir)
	require.NoError(t, err)
	return object.New(blocks, blobs)
}

func TestEncodeDecodeRoundTrips(t *testing.T) {
	depPkg := id.Hash([]byte("dependency-package"))
	lockID := id.Hash([]byte("root-lock"))

	l := &Lockfile{
		Root: Entry{Package: id.Hash([]byte("root-package")), Lock: lockID},
		Entries: map[id.ID]map[string]Entry{
			lockID: {
				"some-dependency": {Package: depPkg},
			},
		},
	}

	body, err := Encode(l)
	require.NoError(t, err)

	decoded, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, l.Root, decoded.Root)

	entry, ok := decoded.Resolve(lockID, "some-dependency")
	require.True(t, ok)
	require.Equal(t, depPkg, entry.Package)
}

func TestLoadEmptyForNilLock(t *testing.T) {
	l, err := Load(nil, id.Nil)
	require.NoError(t, err)
	require.Empty(t, l.Entries)
}

func TestLoadFromStore(t *testing.T) {
	store := newTestStore(t)

	lockID := id.Hash([]byte("lock-a"))
	l := &Lockfile{
		Root: Entry{Package: id.Hash([]byte("pkg-a")), Lock: lockID},
		Entries: map[id.ID]map[string]Entry{
			lockID: {"dep": {Package: id.Hash([]byte("pkg-dep"))}},
		},
	}
	body, err := Encode(l)
	require.NoError(t, err)

	blobVal, err := store.PutBlob(strings.NewReader(string(body)))
	require.NoError(t, err)

	loaded, err := Load(store, blobVal.ID)
	require.NoError(t, err)
	entry, ok := loaded.Resolve(lockID, "dep")
	require.True(t, ok)
	require.Equal(t, l.Entries[lockID]["dep"].Package, entry.Package)
}
