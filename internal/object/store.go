package object

import (
	"fmt"
	"io"

	"golang.org/x/sync/singleflight"

	"github.com/tangramcore/tangram/internal/blob"
	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/tgerror"
)

// variant tag byte written as the first byte of every structured object's
// block.Store body, ahead of its type-specific field-tagged payload. Blob
// content carries no such tag: it is routed to the blob.Store instead,
// distinguished purely by which store answers Get (see Store.Get).
const (
	tagDirectory byte = 1
	tagFile      byte = 2
	tagSymlink   byte = 3
	tagTemplate  byte = 4
	tagArray     byte = 5
	tagMap       byte = 6
	tagTarget    byte = 7
	tagTask      byte = 8
	tagDownload  byte = 9
	tagPackage   byte = 10
	// tagValue boxes a scalar Value (null/bool/number/string/bytes/path) so
	// it has its own content id and can be referenced by id wherever the
	// evaluator needs an expression-id for a child — e.g. array elements,
	// map values, target args/env (spec §4.6's memoisation property
	// requires every array/map child to be independently addressable and
	// memoised by id, which a bare inline scalar cannot be).
	tagValue byte = 11
)

// Store is the typed read/write surface over a block.Store (structured
// objects) and a blob.Store (leaf/branch byte content), unified under one
// content-id address space (spec §4.3).
type Store struct {
	Blocks *block.Store
	Blobs  *blob.Store
	group  singleflight.Group
}

func New(blocks *block.Store, blobs *blob.Store) *Store {
	return &Store{Blocks: blocks, Blobs: blobs}
}

// PutBlob streams r into the blob store and returns a Blob-kind Value
// referencing it.
func (s *Store) PutBlob(r io.Reader) (Value, error) {
	blobID, _, err := s.Blobs.Put(r)
	if err != nil {
		return Value{}, err
	}
	return Ref(KindBlob, blobID), nil
}

// PutDirectory, PutFile, ... encode a typed object, persist it via the
// block store's Put (which does not check that its children are present:
// it trusts the caller the same way checkin/evaluator do), and return a
// Value referencing the new object's id.
func (s *Store) PutDirectory(d *Directory) (Value, error) { return s.putTagged(tagDirectory, KindDirectory, d.Encode) }
func (s *Store) PutFile(f *File) (Value, error)           { return s.putTagged(tagFile, KindFile, f.Encode) }
func (s *Store) PutSymlink(sy *Symlink) (Value, error)    { return s.putTagged(tagSymlink, KindSymlink, sy.Encode) }
func (s *Store) PutTemplate(t *Template) (Value, error)   { return s.putTagged(tagTemplate, KindTemplate, t.Encode) }
func (s *Store) PutArray(a *Array) (Value, error)         { return s.putTagged(tagArray, KindArray, a.Encode) }
func (s *Store) PutMap(m *Map) (Value, error)             { return s.putTagged(tagMap, KindMap, m.Encode) }
func (s *Store) PutTarget(t *Target) (Value, error)       { return s.putTagged(tagTarget, KindTarget, t.Encode) }
func (s *Store) PutTask(t *Task) (Value, error)           { return s.putTagged(tagTask, KindTask, t.Encode) }
func (s *Store) PutDownload(d *Download) (Value, error)   { return s.putTagged(tagDownload, KindDownload, d.Encode) }
func (s *Store) PutPackage(p *Package) (Value, error)     { return s.putTagged(tagPackage, KindPackage, p.Encode) }

// PutValue makes v independently addressable by id, as every expression
// the evaluator can recurse into must be (spec §4.6). Reference kinds
// (Blob, Directory, ..., Package) already carry their own content id in
// v.ID and are returned unchanged; scalar kinds are boxed into a small
// tagged block the first time they are put, and decoded back to a full
// Value (not just a thin reference) by Get.
func (s *Store) PutValue(v Value) (id.ID, error) {
	if !v.Kind.IsScalar() {
		return v.ID, nil
	}
	enc := codec.NewEncoder()
	var children []id.ID
	EncodeValue(enc, v, &children)
	body := make([]byte, 1+len(enc.Bytes()))
	body[0] = tagValue
	copy(body[1:], enc.Bytes())
	payload := block.EncodeEnvelope(children, body)
	return s.Blocks.Put(payload)
}

func (s *Store) putTagged(tag byte, kind Kind, encode func() ([]id.ID, []byte)) (Value, error) {
	children, fieldBody := encode()
	body := make([]byte, 1+len(fieldBody))
	body[0] = tag
	copy(body[1:], fieldBody)
	payload := block.EncodeEnvelope(children, body)
	objID, err := s.Blocks.Put(payload)
	if err != nil {
		return Value{}, err
	}
	return Ref(kind, objID), nil
}

// Get resolves i to a Value, trying the block store (structured objects,
// scalars re-encoded at creation) before falling back to the blob store
// (raw leaf/branch content, which carries no variant tag of its own).
func (s *Store) Get(i id.ID) (Value, error) {
	payload, err := s.Blocks.Get(i)
	if err == nil {
		_, _, body, derr := block.DecodeEnvelope(payload)
		if derr != nil {
			return Value{}, derr
		}
		if len(body) > 0 && body[0] == tagValue {
			return DecodeValue(body[1:])
		}
		return decodeTagged(i, body)
	}
	if !tgerror.Is(err, tgerror.KindNotFound) {
		return Value{}, err
	}

	if _, berr := s.Blobs.IsBranch(i); berr == nil {
		return Ref(KindBlob, i), nil
	}
	return Value{}, tgerror.NotFound("object: %s not found", i)
}

func decodeTagged(i id.ID, body []byte) (Value, error) {
	if len(body) == 0 {
		return Value{}, tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("object: %s has empty body", i))
	}
	kind, ok := kindForTag(body[0])
	if !ok {
		return Value{}, tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("object: %s has unknown tag %d", i, body[0]))
	}
	return Ref(kind, i), nil
}

func kindForTag(tag byte) (Kind, bool) {
	switch tag {
	case tagDirectory:
		return KindDirectory, true
	case tagFile:
		return KindFile, true
	case tagSymlink:
		return KindSymlink, true
	case tagTemplate:
		return KindTemplate, true
	case tagArray:
		return KindArray, true
	case tagMap:
		return KindMap, true
	case tagTarget:
		return KindTarget, true
	case tagTask:
		return KindTask, true
	case tagDownload:
		return KindDownload, true
	case tagPackage:
		return KindPackage, true
	default:
		return 0, false
	}
}

// LoadDirectory, LoadFile, ... fetch and decode i's full body. The fetch is
// single-flighted per id and variant, so concurrent loads of a popular
// object (a shared base image directory, say) read its block once; each
// caller then decodes its own copy (spec §4.3: "Handles are cheap to
// clone; concurrent load() calls for the same id are single-flighted").
func (s *Store) LoadDirectory(i id.ID) (*Directory, error) {
	v, err := s.loadTagged(i, tagDirectory)
	if err != nil {
		return nil, err
	}
	return DecodeDirectory(v)
}

func (s *Store) LoadFile(i id.ID) (*File, error) {
	v, err := s.loadTagged(i, tagFile)
	if err != nil {
		return nil, err
	}
	return DecodeFile(v)
}

func (s *Store) LoadSymlink(i id.ID) (*Symlink, error) {
	v, err := s.loadTagged(i, tagSymlink)
	if err != nil {
		return nil, err
	}
	return DecodeSymlink(v)
}

func (s *Store) LoadTemplate(i id.ID) (*Template, error) {
	v, err := s.loadTagged(i, tagTemplate)
	if err != nil {
		return nil, err
	}
	return DecodeTemplate(v)
}

func (s *Store) LoadArray(i id.ID) (*Array, error) {
	v, err := s.loadTagged(i, tagArray)
	if err != nil {
		return nil, err
	}
	return DecodeArray(v)
}

func (s *Store) LoadMap(i id.ID) (*Map, error) {
	v, err := s.loadTagged(i, tagMap)
	if err != nil {
		return nil, err
	}
	return DecodeMap(v)
}

func (s *Store) LoadTarget(i id.ID) (*Target, error) {
	v, err := s.loadTagged(i, tagTarget)
	if err != nil {
		return nil, err
	}
	return DecodeTarget(v)
}

func (s *Store) LoadTask(i id.ID) (*Task, error) {
	v, err := s.loadTagged(i, tagTask)
	if err != nil {
		return nil, err
	}
	return DecodeTask(v)
}

func (s *Store) LoadDownload(i id.ID) (*Download, error) {
	v, err := s.loadTagged(i, tagDownload)
	if err != nil {
		return nil, err
	}
	return DecodeDownload(v)
}

func (s *Store) LoadPackage(i id.ID) (*Package, error) {
	v, err := s.loadTagged(i, tagPackage)
	if err != nil {
		return nil, err
	}
	return DecodePackage(v)
}

// loadTagged fetches i's block payload, verifies its tag matches want, and
// returns the type-specific field body (stripped of the envelope header and
// the leading tag byte).
func (s *Store) loadTagged(i id.ID, want byte) ([]byte, error) {
	v, err, _ := s.group.Do(fmt.Sprintf("%d:%s", want, i), func() (interface{}, error) {
		payload, err := s.Blocks.Get(i)
		if err != nil {
			return nil, err
		}
		_, _, body, err := block.DecodeEnvelope(payload)
		if err != nil {
			return nil, err
		}
		if len(body) == 0 || body[0] != want {
			return nil, tgerror.New(tgerror.KindDecodeError, fmt.Sprintf("object: %s is not the expected variant", i))
		}
		return append([]byte(nil), body[1:]...), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
