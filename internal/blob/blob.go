// Package blob implements streaming content-addressed byte storage backed
// by an on-disk file per blob (spec §4.4), distinct from the block store's
// embedded KV engine (B) precisely so multi-gigabyte blob content never has
// to pass through bbolt. A blob's on-disk file holds its full envelope
// (block.EncodeEnvelope header + body), so ChildrenOf can still discover a
// branch's children without reading the (potentially huge) concatenated
// content — only a leaf's envelope header is ever that small for a leaf,
// since a leaf has zero children and its body *is* the raw bytes.
package blob

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tangramcore/tangram/internal/block"
	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/tgerror"
)

// ChunkSize is the size at which a blob is split into branch children.
const ChunkSize = 4 << 20 // 4 MiB

// DefaultConcurrentOpens bounds blob file descriptor use, matching spec
// §5's "~16" file-descriptor semaphore.
const DefaultConcurrentOpens = 16

// Store streams blob content to/from blobs/{id} files in a data directory,
// gating concurrent opens with a bounded semaphore.
type Store struct {
	dir  string
	tmp  string
	sema chan struct{}
}

func Open(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("blob: failed to create blobs dir: %w", err)
	}
	tmp := filepath.Join(dataDir, "temps")
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return nil, fmt.Errorf("blob: failed to create scratch dir: %w", err)
	}
	return &Store{dir: dir, tmp: tmp, sema: make(chan struct{}, DefaultConcurrentOpens)}, nil
}

func (s *Store) acquire() func() {
	s.sema <- struct{}{}
	return func() { <-s.sema }
}

func (s *Store) path(i id.ID) string { return filepath.Join(s.dir, i.String()) }

// Chunk is one entry of a branch blob's ordered child list.
type Chunk struct {
	ChildID id.ID
	Length  int64
}

// Put streams r into one or more leaf blobs, hashed with BLAKE3 as they are
// written, chunked at ChunkSize. If more than one chunk results, a branch
// blob ties them together in order. Returns the top-level blob id and the
// total content length.
func (s *Store) Put(r io.Reader) (id.ID, int64, error) {
	var chunks []Chunk
	buf := make([]byte, ChunkSize)
	var total int64

	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			leafID, err := s.putLeaf(buf[:n])
			if err != nil {
				return id.Nil, 0, err
			}
			chunks = append(chunks, Chunk{ChildID: leafID, Length: int64(n)})
			total += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return id.Nil, 0, fmt.Errorf("blob: read failed: %w", readErr)
		}
	}

	if len(chunks) == 0 {
		leafID, err := s.putLeaf(nil)
		return leafID, 0, err
	}
	if len(chunks) == 1 {
		return chunks[0].ChildID, total, nil
	}

	branchID, err := s.putBranch(chunks)
	return branchID, total, err
}

// PutBytes is a convenience wrapper around Put for in-memory content.
func (s *Store) PutBytes(data []byte) (id.ID, error) {
	i, _, err := s.Put(bytesReader(data))
	return i, err
}

func bytesReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b []byte
	i int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

func (s *Store) putLeaf(data []byte) (id.ID, error) {
	payload := block.EncodeEnvelope(nil, data)
	leafID := id.Hash(payload)
	if err := s.writeIfAbsent(leafID, payload); err != nil {
		return id.Nil, err
	}
	return leafID, nil
}

func (s *Store) putBranch(chunks []Chunk) (id.ID, error) {
	children := make([]id.ID, len(chunks))
	enc := codec.NewEncoder()
	for i, c := range chunks {
		children[i] = c.ChildID
		enc.PutUvarint(uint64(c.Length))
	}
	payload := block.EncodeEnvelope(children, enc.Bytes())
	branchID := id.Hash(payload)
	if err := s.writeIfAbsent(branchID, payload); err != nil {
		return id.Nil, err
	}
	return branchID, nil
}

func (s *Store) writeIfAbsent(i id.ID, payload []byte) error {
	release := s.acquire()
	defer release()

	path := s.path(i)
	if _, err := os.Stat(path); err == nil {
		return nil // content-addressed: already present
	}

	tmp, err := os.CreateTemp(s.tmp, "blob-*")
	if err != nil {
		return fmt.Errorf("blob: failed to create scratch file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("blob: failed to write scratch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blob: failed to close scratch file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0444); err != nil {
		return fmt.Errorf("blob: failed to make blob read-only: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("blob: failed to finalize blob: %w", err)
	}
	return nil
}

// IsBranch reports whether i names a branch blob (has declared children),
// without reading its (possibly huge) concatenated content.
func (s *Store) IsBranch(i id.ID) (bool, error) {
	children, err := s.childrenOf(i)
	if err != nil {
		return false, err
	}
	return len(children) > 0, nil
}

func (s *Store) childrenOf(i id.ID) ([]id.ID, error) {
	release := s.acquire()
	defer release()

	f, err := os.Open(s.path(i))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tgerror.NotFound("blob: %s not found", i)
		}
		return nil, err
	}
	defer f.Close()

	// The header is small even for huge leaves (version + 1-byte child
	// count for the common zero-children case); read a generous prefix
	// and decode just the header from it. A branch with enough chunks has a
	// child table longer than the prefix; branch files carry no content, so
	// the rest of such a file is read and the header decoded from the whole.
	head := make([]byte, 256)
	n, _ := io.ReadFull(f, head)
	_, children, _, err := block.DecodeEnvelope(head[:n])
	if err != nil && n == len(head) {
		rest, readErr := io.ReadAll(f)
		if readErr != nil {
			return nil, readErr
		}
		_, children, _, err = block.DecodeEnvelope(append(head, rest...))
	}
	if err != nil {
		return nil, fmt.Errorf("blob: failed to read header for %s: %w", i, err)
	}
	return children, nil
}

// Branch decodes a branch blob's chunk list, reading its small metadata
// body only (never the concatenated leaf content).
func (s *Store) Branch(i id.ID) ([]Chunk, error) {
	release := s.acquire()
	payload, err := os.ReadFile(s.path(i))
	release()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tgerror.NotFound("blob: %s not found", i)
		}
		return nil, err
	}
	_, children, body, err := block.DecodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	dec := codec.NewDecoder(body)
	chunks := make([]Chunk, len(children))
	for idx := range children {
		length, err := dec.ReadUvarint()
		if err != nil {
			return nil, fmt.Errorf("blob: malformed branch %s: %w", i, err)
		}
		chunks[idx] = Chunk{ChildID: children[idx], Length: int64(length)}
	}
	return chunks, nil
}

// Reader opens a blob id (leaf or branch) for streaming read of its full
// content, transparently concatenating branch chunks in order.
func (s *Store) Reader(i id.ID) (io.ReadCloser, error) {
	children, err := s.childrenOf(i)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return s.leafReader(i)
	}
	chunks, err := s.Branch(i)
	if err != nil {
		return nil, err
	}
	readers := make([]io.Reader, 0, len(chunks))
	closers := make([]io.Closer, 0, len(chunks))
	for _, c := range chunks {
		r, err := s.leafReader(c.ChildID)
		if err != nil {
			for _, cl := range closers {
				cl.Close()
			}
			return nil, err
		}
		readers = append(readers, r)
		closers = append(closers, r)
	}
	return &multiReadCloser{r: io.MultiReader(readers...), closers: closers}, nil
}

func (s *Store) leafReader(i id.ID) (io.ReadCloser, error) {
	release := s.acquire()
	f, err := os.Open(s.path(i))
	if err != nil {
		release()
		if os.IsNotExist(err) {
			return nil, tgerror.NotFound("blob: %s not found", i)
		}
		return nil, err
	}
	br := bufio.NewReader(f)
	// Skip the envelope header: version byte + uvarint(0) child count.
	if _, err := br.ReadByte(); err != nil {
		f.Close()
		release()
		return nil, err
	}
	if _, err := readUvarintFromReader(br); err != nil {
		f.Close()
		release()
		return nil, err
	}
	return &releasingFile{r: br, f: f, release: release}, nil
}

func readUvarintFromReader(br *bufio.Reader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < 10; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b < 0x80 {
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, fmt.Errorf("blob: varint overflow")
}

type releasingFile struct {
	r       io.Reader
	f       *os.File
	release func()
}

func (r *releasingFile) Read(p []byte) (int, error) { return r.r.Read(p) }
func (r *releasingFile) Close() error {
	defer r.release()
	return r.f.Close()
}

type multiReadCloser struct {
	r       io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Read(p []byte) (int, error) { return m.r.Read(p) }
func (m *multiReadCloser) Close() error {
	var firstErr error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
