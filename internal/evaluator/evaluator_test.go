package evaluator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramcore/tangram/internal/blob"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/id"
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

// countingScript counts how many times each target name is run, so tests
// can assert single-flight/memoisation behaviour.
type countingScript struct {
	runs    map[string]*int32
	produce func(store *object.Store, t *object.Target) (id.ID, error)
}

func (c *countingScript) RunTarget(ctx context.Context, store *object.Store, t *object.Target) (id.ID, error) {
	if c.runs == nil {
		c.runs = map[string]*int32{}
	}
	counter, ok := c.runs[t.Name]
	if !ok {
		counter = new(int32)
		c.runs[t.Name] = counter
	}
	atomic.AddInt32(counter, 1)
	return c.produce(store, t)
}

type noSandbox struct{}

func (noSandbox) RunTask(ctx context.Context, store *object.Store, task *object.Task) (id.ID, error) {
	return task.Executable, nil
}

type noDownloader struct{}

func (noDownloader) RunDownload(ctx context.Context, store *object.Store, dl *object.Download) (id.ID, error) {
	return id.Nil, nil
}

func TestEvaluatePrimitiveReturnsOwnID(t *testing.T) {
	store := newTestStore(t)
	e := New(store, &countingScript{}, noSandbox{}, noDownloader{})

	v, err := store.PutValue(object.String("hello"))
	require.NoError(t, err)

	got, err := e.Evaluate(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestEvaluateIsIdempotentAndMemoised(t *testing.T) {
	store := newTestStore(t)
	e := New(store, &countingScript{}, noSandbox{}, noDownloader{})

	v, err := store.PutValue(object.Number(42))
	require.NoError(t, err)

	first, err := e.Evaluate(context.Background(), v)
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, found, err := store.Blocks.GetOutput(v)
	require.NoError(t, err)
	require.True(t, found)
}

func TestEvaluateMemoisedArray(t *testing.T) {
	store := newTestStore(t)
	script := &countingScript{}
	e := New(store, script, noSandbox{}, noDownloader{})

	e1, err := store.PutValue(object.String("a"))
	require.NoError(t, err)
	e2, err := store.PutValue(object.String("b"))
	require.NoError(t, err)

	arrVal, err := store.PutArray(&object.Array{Elements: []id.ID{e1, e2, e1}})
	require.NoError(t, err)

	resultID, err := e.Evaluate(context.Background(), arrVal.ID)
	require.NoError(t, err)

	result, err := store.LoadArray(resultID)
	require.NoError(t, err)
	require.Len(t, result.Elements, 3)
	require.Equal(t, result.Elements[0], result.Elements[2])
}

func TestEvaluateTargetRecursesIntoSynthesizedExpression(t *testing.T) {
	store := newTestStore(t)

	leaf, err := store.PutValue(object.String("synthesized-value"))
	require.NoError(t, err)

	pkgDir, err := store.PutDirectory(&object.Directory{Entries: map[string]object.Value{}})
	require.NoError(t, err)
	pkgVal, err := store.PutPackage(&object.Package{Root: pkgDir.ID})
	require.NoError(t, err)

	script := &countingScript{produce: func(store *object.Store, tgt *object.Target) (id.ID, error) {
		return leaf, nil
	}}
	e := New(store, script, noSandbox{}, noDownloader{})

	targetVal, err := store.PutTarget(&object.Target{
		Package: pkgVal.ID,
		Path:    "tangram.ts",
		Name:    "build",
	})
	require.NoError(t, err)

	got, err := e.Evaluate(context.Background(), targetVal.ID)
	require.NoError(t, err)
	require.Equal(t, leaf, got)
	require.EqualValues(t, 1, *script.runs["build"])

	// Second evaluation hits the outputs cache, not the script runtime again.
	got2, err := e.Evaluate(context.Background(), targetVal.ID)
	require.NoError(t, err)
	require.Equal(t, leaf, got2)
	require.EqualValues(t, 1, *script.runs["build"])
}

func TestEvaluateTaskDelegatesToSandbox(t *testing.T) {
	store := newTestStore(t)

	tmplVal, err := store.PutTemplate(&object.Template{Components: []object.Value{object.String("/bin/true")}})
	require.NoError(t, err)

	taskVal, err := store.PutTask(&object.Task{Host: "x86_64-linux", Executable: tmplVal.ID})
	require.NoError(t, err)

	e := New(store, &countingScript{}, noSandbox{}, noDownloader{})
	got, err := e.Evaluate(context.Background(), taskVal.ID)
	require.NoError(t, err)
	require.Equal(t, tmplVal.ID, got)
}

func TestEvaluateFailureIsNotCached(t *testing.T) {
	store := newTestStore(t)

	pkgDir, err := store.PutDirectory(&object.Directory{Entries: map[string]object.Value{}})
	require.NoError(t, err)
	pkgVal, err := store.PutPackage(&object.Package{Root: pkgDir.ID})
	require.NoError(t, err)

	attempts := int32(0)
	script := &countingScript{produce: func(store *object.Store, tgt *object.Target) (id.ID, error) {
		atomic.AddInt32(&attempts, 1)
		return id.Nil, context.DeadlineExceeded
	}}
	e := New(store, script, noSandbox{}, noDownloader{})

	targetVal, err := store.PutTarget(&object.Target{Package: pkgVal.ID, Path: "tangram.ts", Name: "fails"})
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), targetVal.ID)
	require.Error(t, err)

	_, found, ferr := store.Blocks.GetOutput(targetVal.ID)
	require.NoError(t, ferr)
	require.False(t, found, "a failed operation must not be memoised as success")
}
