// Package block implements the content-addressed append-only store (spec
// §4.1): an embedded ordered KV (bbolt) holding two logical tables, blocks
// (id -> payload) and outputs (operation-id -> value-id), plus the
// envelope format every block payload shares.
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/tangramcore/tangram/internal/id"
)

// Version is the single version byte every block payload begins with.
const Version byte = 0x00

// EncodeEnvelope writes the version byte, the child-id header, and the
// type-specific body into one payload. This wire shape is what makes the
// child set of any block discoverable without decoding the body (spec
// §3.1), which ChildrenOf below relies on.
func EncodeEnvelope(children []id.ID, body []byte) []byte {
	var header [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(header[:], uint64(len(children)))

	out := make([]byte, 0, 1+n+len(children)*id.Size+len(body))
	out = append(out, Version)
	out = append(out, header[:n]...)
	for _, c := range children {
		out = append(out, c[:]...)
	}
	out = append(out, body...)
	return out
}

// DecodeEnvelope splits a payload back into its version, children, and body.
func DecodeEnvelope(payload []byte) (version byte, children []id.ID, body []byte, err error) {
	if len(payload) < 1 {
		return 0, nil, nil, fmt.Errorf("block: empty payload")
	}
	version = payload[0]
	rest := payload[1:]

	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return 0, nil, nil, fmt.Errorf("block: truncated child count")
	}
	rest = rest[n:]

	need := int(count) * id.Size
	if need > len(rest) {
		return 0, nil, nil, fmt.Errorf("block: truncated child table (need %d have %d)", need, len(rest))
	}

	children = make([]id.ID, count)
	for i := range children {
		copy(children[i][:], rest[i*id.Size:(i+1)*id.Size])
	}
	body = rest[need:]
	return version, children, body, nil
}

// ChildrenOf reads only the envelope header, never the body, satisfying
// the store's children_of contract (§4.1) used for reachability walks,
// garbage collection, and push/pull transfer.
func ChildrenOf(payload []byte) ([]id.ID, error) {
	_, children, _, err := DecodeEnvelope(payload)
	return children, err
}
