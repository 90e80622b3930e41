// Package id implements the 32-byte BLAKE3 content identifiers used
// throughout the store (spec §3.1) and their canonical hex display/parse
// form (§6.2: "all IDs on the wire are lowercase hex of 32 bytes").
package id

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Size is the length in bytes of every content id.
const Size = 32

// ID is a 32-byte BLAKE3 content hash.
type ID [Size]byte

// Nil is the zero id, never a valid content address.
var Nil ID

// Hash computes the content id of payload.
func Hash(payload []byte) ID {
	sum := blake3.Sum256(payload)
	return ID(sum)
}

// NewHasher returns a streaming BLAKE3 hasher with the same output size as
// Hash, for hashing content incrementally.
func NewHasher() *blake3.Hasher {
	return blake3.New(Size, nil)
}

// String renders the id as lowercase hex.
func (i ID) String() string {
	return hex.EncodeToString(i[:])
}

// IsNil reports whether i is the zero id.
func (i ID) IsNil() bool {
	return i == Nil
}

// Parse decodes a lowercase hex string into an ID.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != Size*2 {
		return id, fmt.Errorf("id: invalid length %d, want %d", len(s), Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("id: invalid hex: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// MustParse panics if s does not parse; for use with literal constants in
// tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// MarshalText implements encoding.TextMarshaler so IDs serialize to plain
// hex strings in JSON contexts (e.g. HTTP mirror responses, §6.2).
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Set is a small unordered collection of ids used by closure/reachability
// walks (store.go, mirror.go).
type Set map[ID]struct{}

func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, i := range ids {
		s[i] = struct{}{}
	}
	return s
}

func (s Set) Add(i ID)          { s[i] = struct{}{} }
func (s Set) Has(i ID) bool     { _, ok := s[i]; return ok }
func (s Set) Remove(i ID)       { delete(s, i) }
func (s Set) Slice() []ID {
	out := make([]ID, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	return out
}
