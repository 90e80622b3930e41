package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
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

func buildTarGz(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "bin/run.sh", Mode: 0755, Size: 14, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("echo hi\nexit 0"))
	require.NoError(t, err)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "readme.txt", Mode: 0644, Size: 6, Typeflag: tar.TypeReg}))
	_, err = tw.Write([]byte("hello\n"))
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestUnpackTarGz(t *testing.T) {
	store := newTestStore(t)
	data := buildTarGz(t)

	root, err := Unpack(store, Gz, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, object.KindDirectory, root.Kind)

	dir, err := store.LoadDirectory(root.ID)
	require.NoError(t, err)
	require.Contains(t, dir.Entries, "bin")
	require.Contains(t, dir.Entries, "readme.txt")

	binDir, err := store.LoadDirectory(dir.Entries["bin"].ID)
	require.NoError(t, err)
	require.Contains(t, binDir.Entries, "run.sh")

	runFile, err := store.LoadFile(binDir.Entries["run.sh"].ID)
	require.NoError(t, err)
	require.True(t, runFile.Executable)
}

func TestUnpackZip(t *testing.T) {
	store := newTestStore(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("nested/file.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("zipped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	root, err := Unpack(store, Zip, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	dir, err := store.LoadDirectory(root.ID)
	require.NoError(t, err)
	require.Contains(t, dir.Entries, "nested")

	nested, err := store.LoadDirectory(dir.Entries["nested"].ID)
	require.NoError(t, err)
	require.Contains(t, nested.Entries, "file.txt")

	file, err := store.LoadFile(nested.Entries["file.txt"].ID)
	require.NoError(t, err)
	r, err := store.Blobs.Reader(file.Contents)
	require.NoError(t, err)
	defer r.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, "zipped", out.String())
}

func TestParseUnpack(t *testing.T) {
	k, err := ParseUnpack("tar.gz")
	require.NoError(t, err)
	require.Equal(t, Gz, k)

	_, err = ParseUnpack("rar")
	require.Error(t, err)
}
