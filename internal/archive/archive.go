// Package archive unpacks the compression + container formats named by
// Download.Unpack (spec §3.2, §4.6: "tar {none, gz, bz2, xz, zst, lz}, zip")
// directly into the object store, producing a Directory Value without ever
// materialising the archive on disk.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgerror"
)

// Kind names the tar compression layer, matching spec §4.6's exact list.
type Kind string

const (
	None Kind = ""
	Gz   Kind = "gz"
	Bz2  Kind = "bz2"
	Xz   Kind = "xz"
	Zst  Kind = "zst"
	Lz   Kind = "lz"
	Zip  Kind = "zip"
)

// ParseUnpack maps a Download.Unpack string (e.g. "tar.gz", "zip") to its
// tar compression Kind, or Zip. An empty string means no unpacking at all;
// callers should not reach this package in that case.
func ParseUnpack(unpack string) (Kind, error) {
	switch unpack {
	case "tar":
		return None, nil
	case "tar.gz":
		return Gz, nil
	case "tar.bz2":
		return Bz2, nil
	case "tar.xz":
		return Xz, nil
	case "tar.zst":
		return Zst, nil
	case "tar.lz":
		return Lz, nil
	case "zip":
		return Zip, nil
	default:
		return "", tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("archive: unsupported unpack format %q", unpack))
	}
}

// Unpack reads a full archive from r (decompressing tar streams as needed)
// and checks its entries into store, returning the root Directory Value.
// zip requires random access, so its bytes are buffered in full first; tar
// streams decode incrementally.
func Unpack(store *object.Store, kind Kind, r io.Reader) (object.Value, error) {
	if kind == Zip {
		return unpackZip(store, r)
	}
	tr, err := decompressTar(kind, r)
	if err != nil {
		return object.Value{}, err
	}
	return unpackTar(store, tr)
}

func decompressTar(kind Kind, r io.Reader) (*tar.Reader, error) {
	switch kind {
	case None:
		return tar.NewReader(r), nil
	case Gz:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.KindDecodeError, err, "archive: invalid gzip stream")
		}
		return tar.NewReader(gr), nil
	case Bz2:
		return tar.NewReader(bzip2.NewReader(r)), nil
	case Xz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.KindDecodeError, err, "archive: invalid xz stream")
		}
		return tar.NewReader(xr), nil
	case Zst:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.KindDecodeError, err, "archive: invalid zstd stream")
		}
		return tar.NewReader(zr.IOReadCloser()), nil
	case Lz:
		return tar.NewReader(lz4.NewReader(r)), nil
	default:
		return nil, tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("archive: unsupported compression %q", kind))
	}
}

// treeEntry accumulates directory contents before being flushed into nested
// object.Directory values, since tar/zip entries may list a child before its
// parent directory entry (or omit parent entries altogether).
type treeEntry struct {
	files map[string]object.Value
	dirs  map[string]*treeEntry
}

func newTreeEntry() *treeEntry {
	return &treeEntry{files: map[string]object.Value{}, dirs: map[string]*treeEntry{}}
}

func (t *treeEntry) at(path string) *treeEntry {
	cur := t
	if path == "" || path == "." {
		return cur
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		child, ok := cur.dirs[part]
		if !ok {
			child = newTreeEntry()
			cur.dirs[part] = child
		}
		cur = child
	}
	return cur
}

func (t *treeEntry) put(store *object.Store) (object.Value, error) {
	entries := make(map[string]object.Value, len(t.files)+len(t.dirs))
	for name, v := range t.files {
		entries[name] = v
	}
	for name, sub := range t.dirs {
		v, err := sub.put(store)
		if err != nil {
			return object.Value{}, err
		}
		entries[name] = v
	}
	return store.PutDirectory(&object.Directory{Entries: entries})
}

func unpackTar(store *object.Store, tr *tar.Reader) (object.Value, error) {
	root := newTreeEntry()
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return object.Value{}, tgerror.Wrap(tgerror.KindDecodeError, err, "archive: malformed tar stream")
		}

		name := strings.TrimSuffix(hdr.Name, "/")
		dir, base := splitPath(name)
		parent := root.at(dir)

		switch hdr.Typeflag {
		case tar.TypeDir:
			parent.at(base)
		case tar.TypeSymlink:
			v, err := store.PutSymlink(&object.Symlink{Target: hdr.Linkname})
			if err != nil {
				return object.Value{}, err
			}
			parent.files[base] = v
		case tar.TypeReg, tar.TypeRegA:
			v, err := store.PutBlob(tr)
			if err != nil {
				return object.Value{}, err
			}
			fileVal, err := store.PutFile(&object.File{Contents: v.ID, Executable: hdr.Mode&0111 != 0})
			if err != nil {
				return object.Value{}, err
			}
			parent.files[base] = fileVal
		default:
			// Device/fifo/other special entries have no representation in
			// the object model; skip rather than fail the whole unpack.
			continue
		}
	}
	return root.put(store)
}

func unpackZip(store *object.Store, r io.Reader) (object.Value, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return object.Value{}, tgerror.Wrap(tgerror.KindIO, err, "archive: failed to buffer zip stream")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return object.Value{}, tgerror.Wrap(tgerror.KindDecodeError, err, "archive: invalid zip stream")
	}

	// Directory entries are not guaranteed to be listed before their
	// children; sort names so intermediate directories are visited,
	// though `at` creates them lazily regardless.
	files := append([]*zip.File(nil), zr.File...)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	root := newTreeEntry()
	for _, f := range files {
		name := strings.TrimSuffix(f.Name, "/")
		if name == "" {
			continue
		}
		dir, base := splitPath(name)
		parent := root.at(dir)

		if f.FileInfo().IsDir() {
			parent.at(base)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return object.Value{}, tgerror.Wrap(tgerror.KindDecodeError, err, fmt.Sprintf("archive: failed to open zip entry %s", f.Name))
		}
		v, err := store.PutBlob(rc)
		rc.Close()
		if err != nil {
			return object.Value{}, err
		}
		fileVal, err := store.PutFile(&object.File{Contents: v.ID, Executable: f.Mode()&0111 != 0})
		if err != nil {
			return object.Value{}, err
		}
		parent.files[base] = fileVal
	}
	return root.put(store)
}

func splitPath(name string) (dir, base string) {
	idx := strings.LastIndexByte(name, '/')
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}
