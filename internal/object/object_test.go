package object

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramcore/tangram/internal/blob"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	blocks, err := block.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })
	blobs, err := blob.Open(dir)
	require.NoError(t, err)
	return New(blocks, blobs)
}

func TestPutGetBlob(t *testing.T) {
	s := newTestStore(t)

	v, err := s.PutBlob(bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	require.Equal(t, KindBlob, v.Kind)

	got, err := s.Get(v.ID)
	require.NoError(t, err)
	require.Equal(t, KindBlob, got.Kind)

	r, err := s.Blobs.Reader(v.ID)
	require.NoError(t, err)
	defer r.Close()
}

func TestPutGetDirectoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	fileContents, err := s.PutBlob(bytes.NewReader([]byte("package contents")))
	require.NoError(t, err)

	fileVal, err := s.PutFile(&File{Contents: fileContents.ID, Executable: true})
	require.NoError(t, err)
	require.Equal(t, KindFile, fileVal.Kind)

	dirVal, err := s.PutDirectory(&Directory{Entries: map[string]Value{
		"run.sh": fileVal,
	}})
	require.NoError(t, err)

	got, err := s.Get(dirVal.ID)
	require.NoError(t, err)
	require.Equal(t, KindDirectory, got.Kind)

	dir, err := s.LoadDirectory(dirVal.ID)
	require.NoError(t, err)
	require.Len(t, dir.Entries, 1)
	require.Equal(t, fileVal.ID, dir.Entries["run.sh"].ID)

	file, err := s.LoadFile(fileVal.ID)
	require.NoError(t, err)
	require.True(t, file.Executable)
	require.Equal(t, fileContents.ID, file.Contents)
}

func TestPutGetTemplateAndTarget(t *testing.T) {
	s := newTestStore(t)

	dirVal, err := s.PutDirectory(&Directory{Entries: map[string]Value{}})
	require.NoError(t, err)

	tmplVal, err := s.PutTemplate(&Template{Components: []Value{
		String("prefix-"),
		dirVal,
		String("-suffix"),
	}})
	require.NoError(t, err)

	tmpl, err := s.LoadTemplate(tmplVal.ID)
	require.NoError(t, err)
	require.Len(t, tmpl.Components, 3)
	require.Equal(t, KindString, tmpl.Components[0].Kind)
	require.Equal(t, "prefix-", tmpl.Components[0].Str)
	require.Equal(t, dirVal.ID, tmpl.Components[1].ID)

	pkgVal, err := s.PutPackage(&Package{Root: dirVal.ID})
	require.NoError(t, err)

	argID, err := s.PutValue(String("release"))
	require.NoError(t, err)
	envID, err := s.PutValue(String("gcc"))
	require.NoError(t, err)

	targetVal, err := s.PutTarget(&Target{
		Package: pkgVal.ID,
		Path:    "tangram.ts",
		Name:    "build",
		Args:    []id.ID{argID},
		Env:     map[string]id.ID{"CC": envID},
	})
	require.NoError(t, err)
	require.True(t, targetVal.Kind.IsOperation())

	target, err := s.LoadTarget(targetVal.ID)
	require.NoError(t, err)
	require.Equal(t, "build", target.Name)

	ccVal, err := s.Get(target.Env["CC"])
	require.NoError(t, err)
	require.Equal(t, "gcc", ccVal.Str)

	// Putting the same scalar twice yields the same id (content-addressed).
	argID2, err := s.PutValue(String("release"))
	require.NoError(t, err)
	require.Equal(t, argID, argID2)
}

func TestArrayElementsAreAddressableIds(t *testing.T) {
	s := newTestStore(t)

	e1, err := s.PutValue(Number(1))
	require.NoError(t, err)
	e2, err := s.PutValue(Number(2))
	require.NoError(t, err)

	arrVal, err := s.PutArray(&Array{Elements: []id.ID{e1, e2, e1}})
	require.NoError(t, err)

	arr, err := s.LoadArray(arrVal.ID)
	require.NoError(t, err)
	require.Equal(t, []id.ID{e1, e2, e1}, arr.Elements)
	require.Equal(t, arr.Elements[0], arr.Elements[2])
}

func TestResolvePathTraversesSubdirectories(t *testing.T) {
	s := newTestStore(t)

	contents, err := s.PutBlob(bytes.NewReader([]byte("echo hi")))
	require.NoError(t, err)
	fileVal, err := s.PutFile(&File{Contents: contents.ID, Executable: true})
	require.NoError(t, err)

	innerDir, err := s.PutDirectory(&Directory{Entries: map[string]Value{"run.sh": fileVal}})
	require.NoError(t, err)
	rootDir, err := s.PutDirectory(&Directory{Entries: map[string]Value{"bin": innerDir}})
	require.NoError(t, err)

	got, err := s.ResolvePath(rootDir.ID, "bin/run.sh")
	require.NoError(t, err)
	require.Equal(t, fileVal.ID, got.ID)

	_, err = s.ResolvePath(rootDir.ID, "../escape")
	require.Error(t, err)

	_, err = s.ResolvePath(rootDir.ID, "bin/missing")
	require.Error(t, err)
}

func TestTemplateRender(t *testing.T) {
	s := newTestStore(t)

	dirVal, err := s.PutDirectory(&Directory{Entries: map[string]Value{}})
	require.NoError(t, err)

	tmplVal, err := s.PutTemplate(&Template{Components: []Value{
		String("prefix-"),
		dirVal,
		String("-suffix"),
	}})
	require.NoError(t, err)

	tmpl, err := s.LoadTemplate(tmplVal.ID)
	require.NoError(t, err)

	out, err := tmpl.Render(func(v Value) (string, error) {
		return "/artifacts/" + v.ID.String(), nil
	})
	require.NoError(t, err)
	require.Equal(t, "prefix-/artifacts/"+dirVal.ID.String()+"-suffix", out)

	wantErr := fmt.Errorf("boom")
	_, err = tmpl.Render(func(v Value) (string, error) { return "", wantErr })
	require.Error(t, err)
}

func TestLoadWrongVariantFails(t *testing.T) {
	s := newTestStore(t)

	dirVal, err := s.PutDirectory(&Directory{Entries: map[string]Value{}})
	require.NoError(t, err)

	_, err = s.LoadFile(dirVal.ID)
	require.Error(t, err)
}

func TestValueEncodeDecodeScalars(t *testing.T) {
	cases := []Value{
		Null(),
		Bool(true),
		Number(3.5),
		String("hi"),
		Bytes([]byte{1, 2, 3}),
		Path("/usr/bin"),
	}
	for _, v := range cases {
		enc := codec.NewEncoder()
		var children []id.ID
		EncodeValue(enc, v, &children)
		got, err := DecodeValue(enc.Bytes())
		require.NoError(t, err)
		require.Equal(t, v.Kind, got.Kind)
		require.Empty(t, children)
	}
}
