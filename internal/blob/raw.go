package blob

import (
	"fmt"
	"os"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/tgerror"
)

// Has reports whether i is present locally, without distinguishing leaf
// from branch. Used by the mirror (K) to decide what still needs pulling.
func (s *Store) Has(i id.ID) (bool, error) {
	release := s.acquire()
	defer release()
	_, err := os.Stat(s.path(i))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// RawGet reads a blob's full on-disk representation — envelope header plus
// body, exactly as a leaf or branch file is stored — for the mirror's wire
// transfer, which moves envelopes verbatim rather than re-chunking content
// that is already content-addressed.
func (s *Store) RawGet(i id.ID) ([]byte, error) {
	release := s.acquire()
	data, err := os.ReadFile(s.path(i))
	release()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tgerror.NotFound("blob: %s not found", i)
		}
		return nil, err
	}
	return data, nil
}

// RawPut writes a previously-fetched envelope verbatim under the id it
// hashes to, returning that id; writeIfAbsent skips the write when a file
// for the id already exists.
func (s *Store) RawPut(payload []byte) (id.ID, error) {
	got := id.Hash(payload)
	if err := s.writeIfAbsent(got, payload); err != nil {
		return id.Nil, fmt.Errorf("blob: raw put failed: %w", err)
	}
	return got, nil
}
