package checkin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgerror"
	"github.com/tangramcore/tangram/internal/tglog"
)

// metaDir is the reserved directory name, inside a checked-out file's parent
// directory, used to stash the per-file references side-car written by
// Checkout (spec §4.5's "write references side-car for future checkin").
// Checkin skips it when walking so it never becomes a Directory entry in its
// own right.
const metaDir = ".tangram"

// Checkin implements the recursive filesystem-walk-to-Directory algorithm of
// spec §4.5, consulting and updating tracker for the short-circuit.
type Checkin struct {
	store   *object.Store
	tracker *Tracker
	log     zerolog.Logger
}

func New(store *object.Store, tracker *Tracker) *Checkin {
	return &Checkin{store: store, tracker: tracker, log: tglog.WithComponent("checkin")}
}

// Path walks root and returns the artifact Value for its top-level entry
// (a Directory, File, or Symlink Value depending on what root names).
func (c *Checkin) Path(ctx context.Context, root string) (object.Value, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return object.Value{}, fmt.Errorf("checkin: %w", err)
	}
	return c.walk(ctx, abs)
}

func (c *Checkin) walk(ctx context.Context, path string) (object.Value, error) {
	if err := ctx.Err(); err != nil {
		return object.Value{}, err
	}

	info, err := os.Lstat(path)
	if err != nil {
		return object.Value{}, tgerror.Wrap(tgerror.KindIO, err, fmt.Sprintf("checkin: failed to stat %s", path))
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return c.checkinSymlink(path)
	}
	if info.IsDir() {
		if tracked, ok, err := c.tryTracked(path, info); err != nil {
			return object.Value{}, err
		} else if ok {
			return tracked, nil
		}
		return c.checkinDirectory(ctx, path, info)
	}
	return c.checkinFile(path, info)
}

// tryTracked consults the artifact tracker table; a hit short-circuits the
// walk for path without touching the filesystem further.
func (c *Checkin) tryTracked(path string, info os.FileInfo) (object.Value, bool, error) {
	artifact, ok, err := c.tracker.Lookup(path, info.ModTime())
	if err != nil {
		return object.Value{}, false, err
	}
	if !ok {
		return object.Value{}, false, nil
	}
	v, err := c.store.Get(artifact)
	if err != nil {
		// A stale or GC'd tracker entry must not wedge checkin: fall through
		// to a fresh walk rather than failing the whole operation.
		c.log.Warn().Str("path", path).Err(err).Msg("tracked artifact missing from store, re-checking in")
		return object.Value{}, false, nil
	}
	return v, true, nil
}

func (c *Checkin) checkinDirectory(ctx context.Context, path string, info os.FileInfo) (object.Value, error) {
	names, err := readSortedDirNames(path)
	if err != nil {
		return object.Value{}, err
	}

	entries := make(map[string]object.Value, len(names))
	for _, name := range names {
		if name == metaDir {
			continue
		}
		child, err := c.walk(ctx, filepath.Join(path, name))
		if err != nil {
			return object.Value{}, tgerror.WithContext(err, fmt.Sprintf("checking in %s", filepath.Join(path, name)))
		}
		entries[name] = child
	}

	dirVal, err := c.store.PutDirectory(&object.Directory{Entries: entries})
	if err != nil {
		return object.Value{}, err
	}
	if err := c.tracker.Record(path, dirVal.ID, info.ModTime()); err != nil {
		return object.Value{}, err
	}
	return dirVal, nil
}

func (c *Checkin) checkinFile(path string, info os.FileInfo) (object.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return object.Value{}, tgerror.Wrap(tgerror.KindIO, err, fmt.Sprintf("checkin: failed to open %s", path))
	}
	defer f.Close()

	contents, err := c.store.PutBlob(f)
	if err != nil {
		return object.Value{}, err
	}

	references := readReferencesSidecar(path)

	fileVal, err := c.store.PutFile(&object.File{
		Contents:   contents.ID,
		Executable: info.Mode()&0111 != 0,
		References: references,
	})
	if err != nil {
		return object.Value{}, err
	}
	if err := c.tracker.Record(path, fileVal.ID, info.ModTime()); err != nil {
		return object.Value{}, err
	}
	return fileVal, nil
}

func (c *Checkin) checkinSymlink(path string) (object.Value, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return object.Value{}, tgerror.Wrap(tgerror.KindIO, err, fmt.Sprintf("checkin: failed to read symlink %s", path))
	}
	return c.store.PutSymlink(&object.Symlink{Target: target})
}

func readSortedDirNames(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.KindIO, err, fmt.Sprintf("checkin: failed to read directory %s", path))
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names, nil
}

// readReferencesSidecar reads back the side-car Checkout wrote for path, if
// any, returning the artifact ids a checked-out file was told it depends on.
func readReferencesSidecar(path string) []id.ID {
	data, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		return nil
	}
	return decodeReferences(data)
}
