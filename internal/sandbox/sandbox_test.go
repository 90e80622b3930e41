package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramcore/tangram/internal/blob"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/checkin"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgerror"
)

func newTestEnv(t *testing.T) (*object.Store, *checkin.Tracker, Config) {
	t.Helper()
	dataDir := t.TempDir()
	blocks, err := block.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })
	blobs, err := blob.Open(dataDir)
	require.NoError(t, err)
	tracker, err := checkin.OpenTracker(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })

	scratch := filepath.Join(dataDir, "temps")
	require.NoError(t, os.MkdirAll(scratch, 0755))

	return object.New(blocks, blobs), tracker, Config{ScratchDir: scratch}
}

// fakeBackend is a Backend stand-in that writes a fixed file into the
// output directory instead of actually isolating and executing a process,
// letting these tests exercise Runner.RunTask's rendering/checkout/checkin
// plumbing without any OS-specific sandboxing machinery.
type fakeBackend struct {
	result Result
	err    error
	onRun  func(spec *Spec)
}

func (f *fakeBackend) Run(ctx context.Context, spec *Spec) (Result, error) {
	if f.onRun != nil {
		f.onRun(spec)
	}
	if f.err != nil {
		return Result{}, f.err
	}
	if f.result.ExitCode == 0 && !f.result.HasSignal {
		if err := os.WriteFile(filepath.Join(spec.OutputDir, "result.txt"), []byte("ok"), 0644); err != nil {
			return Result{}, err
		}
	}
	return f.result, nil
}

func putString(t *testing.T, store *object.Store, s string) id.ID {
	t.Helper()
	valID, err := store.PutValue(object.String(s))
	require.NoError(t, err)
	return valID
}

func TestRunTaskChecksInOutputOnSuccess(t *testing.T) {
	store, tracker, cfg := newTestEnv(t)
	backend := &fakeBackend{result: Result{ExitCode: 0}}
	runner := NewRunner(store, tracker, cfg, backend)

	exe := putString(t, store, "/bin/true")

	outID, err := runner.RunTask(context.Background(), store, &object.Task{
		Executable: exe,
	})
	require.NoError(t, err)

	dir, err := store.LoadDirectory(outID)
	require.NoError(t, err)
	require.Contains(t, dir.Entries, "result.txt")
}

func TestRunTaskMapsNonzeroExit(t *testing.T) {
	store, tracker, cfg := newTestEnv(t)
	backend := &fakeBackend{result: Result{ExitCode: 7}}
	runner := NewRunner(store, tracker, cfg, backend)

	exe := putString(t, store, "/bin/false")
	_, err := runner.RunTask(context.Background(), store, &object.Task{Executable: exe})
	require.Error(t, err)
	require.True(t, tgerror.Is(err, tgerror.KindTaskFailed))
}

func TestRunTaskMapsSignal(t *testing.T) {
	store, tracker, cfg := newTestEnv(t)
	backend := &fakeBackend{result: Result{HasSignal: true, Signal: 9}}
	runner := NewRunner(store, tracker, cfg, backend)

	exe := putString(t, store, "/bin/false")
	_, err := runner.RunTask(context.Background(), store, &object.Task{Executable: exe})
	require.Error(t, err)
	require.True(t, tgerror.Is(err, tgerror.KindTaskFailed))
}

func TestRunTaskRendersArtifactTemplateComponents(t *testing.T) {
	store, tracker, cfg := newTestEnv(t)

	contents, err := store.PutBlob(strings.NewReader("#!/bin/sh\necho hi\n"))
	require.NoError(t, err)
	fileVal, err := store.PutFile(&object.File{Contents: contents.ID, Executable: true})
	require.NoError(t, err)

	tmplID, err := store.PutTemplate(&object.Template{Components: []object.Value{fileVal}})
	require.NoError(t, err)

	var seenArg string
	var statErr error
	backend := &fakeBackend{
		result: Result{ExitCode: 0},
		onRun: func(spec *Spec) {
			// spec.Args[0] is the rendered executable; the artifact
			// template is task.Args[0], rendered at spec.Args[1].
			if len(spec.Args) > 1 {
				seenArg = spec.Args[1]
				// RunTask removes the invocation directory when it
				// returns, so the checkout is checked while the backend runs.
				_, statErr = os.Stat(seenArg)
			}
		},
	}
	runner := NewRunner(store, tracker, cfg, backend)

	exe := putString(t, store, "/bin/sh")
	_, err = runner.RunTask(context.Background(), store, &object.Task{
		Executable: exe,
		Args:       []id.ID{tmplID.ID},
	})
	require.NoError(t, err)
	require.NotEmpty(t, seenArg)

	require.NoError(t, statErr)
}

func TestRunTaskVerifiesChecksum(t *testing.T) {
	store, tracker, cfg := newTestEnv(t)
	backend := &fakeBackend{result: Result{ExitCode: 0}}
	runner := NewRunner(store, tracker, cfg, backend)

	exe := putString(t, store, "/bin/true")
	_, err := runner.RunTask(context.Background(), store, &object.Task{
		Executable: exe,
		Checksum:   "blake3:" + strings.Repeat("00", 32),
	})
	require.Error(t, err)
	require.True(t, tgerror.Is(err, tgerror.KindChecksum))
}
