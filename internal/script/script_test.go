package script

import (
	"context"
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

// putPackage builds a one-file package whose root module (tangram.ts) is
// src, with no dependencies, returning the package's content id.
func putPackage(t *testing.T, store *object.Store, src string) id.ID {
	t.Helper()
	srcBlob, err := store.PutBlob(strings.NewReader(src))
	require.NoError(t, err)
	fileVal, err := store.PutFile(&object.File{Contents: srcBlob.ID})
	require.NoError(t, err)
	dirVal, err := store.PutDirectory(&object.Directory{Entries: map[string]object.Value{
		"tangram.ts": fileVal,
	}})
	require.NoError(t, err)
	pkgVal, err := store.PutPackage(&object.Package{Root: dirVal.ID})
	require.NoError(t, err)
	return pkgVal.ID
}

func TestRunTargetReturnsConstructedTask(t *testing.T) {
	store := newTestStore(t)
	src := `
		exports.build = function(env) {
			return task({
				host: "x86_64-linux",
				executable: blob("#!/bin/sh\necho hi\n"),
				args: ["hi"],
			});
		};
	`
	pkg := putPackage(t, store, src)

	rt := New(store)
	outID, err := rt.RunTarget(context.Background(), store, &object.Target{
		Package: pkg,
		Name:    "build",
	})
	require.NoError(t, err)

	v, err := store.Get(outID)
	require.NoError(t, err)
	require.Equal(t, object.KindTask, v.Kind)

	task, err := store.LoadTask(outID)
	require.NoError(t, err)
	require.Equal(t, "x86_64-linux", task.Host)
	require.Len(t, task.Args, 1)
}

func TestRunTargetSupportsRelativeImport(t *testing.T) {
	store := newTestStore(t)
	helperBlob, err := store.PutBlob(strings.NewReader(`exports.greeting = function() { return "hi"; };`))
	require.NoError(t, err)
	helperFile, err := store.PutFile(&object.File{Contents: helperBlob.ID})
	require.NoError(t, err)

	rootSrc := `
		var helper = require("./helper.ts");
		exports.build = function(env) {
			return blob(helper.greeting());
		};
	`
	rootBlob, err := store.PutBlob(strings.NewReader(rootSrc))
	require.NoError(t, err)
	rootFile, err := store.PutFile(&object.File{Contents: rootBlob.ID})
	require.NoError(t, err)

	dirVal, err := store.PutDirectory(&object.Directory{Entries: map[string]object.Value{
		"tangram.ts": rootFile,
		"helper.ts":  helperFile,
	}})
	require.NoError(t, err)
	pkgVal, err := store.PutPackage(&object.Package{Root: dirVal.ID})
	require.NoError(t, err)

	rt := New(store)
	outID, err := rt.RunTarget(context.Background(), store, &object.Target{
		Package: pkgVal.ID,
		Name:    "build",
	})
	require.NoError(t, err)

	v, err := store.Get(outID)
	require.NoError(t, err)
	require.Equal(t, object.KindBlob, v.Kind)
}

func TestRunTargetSurfacesUncaughtException(t *testing.T) {
	store := newTestStore(t)
	src := `
		exports.build = function(env) {
			throw new Error("boom");
		};
	`
	pkg := putPackage(t, store, src)

	rt := New(store)
	_, err := rt.RunTarget(context.Background(), store, &object.Target{
		Package: pkg,
		Name:    "build",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}
