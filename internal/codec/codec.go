// Package codec implements the versioned, tag-numbered structural encoding
// used for every object body (spec §4.2). Each field is written as
// (field-id byte, uvarint length, payload), which makes "unknown fields are
// skipped on read" a property of the wire format itself rather than of any
// particular decoder: a reader that does not recognise a field id can
// always skip its payload using the length prefix alone.
//
// This is deliberately not protobuf: protobuf's generated message types
// require a protoc run to produce reflective Go structs, and the field
// layout here (plain byte tags, no wire-type byte, enum variants as a
// single discriminant byte) matches the original Tangram "buffalo" codec
// this spec is distilled from more closely than protobuf's wire format
// would. See DESIGN.md for why this one component is stdlib-only.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tangramcore/tangram/internal/id"
)

// Version is the codec's version byte. Nothing in this package writes or
// checks it: object bodies begin with their variant tag byte, and the
// envelope's own version byte is block.Version.
const Version byte = 0x00

// Encoder builds a field-tagged body. The zero value is ready to use.
type Encoder struct {
	buf bytes.Buffer
}

func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the encoded payload built so far.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Field writes one tagged field: fn encodes the field's payload into a
// fresh sub-encoder, which is then length-prefixed and appended.
func (e *Encoder) Field(fieldID uint8, fn func(p *Encoder)) {
	var payload Encoder
	fn(&payload)
	e.buf.WriteByte(fieldID)
	putUvarint(&e.buf, uint64(payload.buf.Len()))
	e.buf.Write(payload.buf.Bytes())
}

func putUvarint(w *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.Write(tmp[:n])
}

// PutUvarint writes an unsigned varint directly into the current encoder
// (used inside a Field callback for scalar leaf values).
func (e *Encoder) PutUvarint(v uint64) { putUvarint(&e.buf, v) }

// PutVarint writes a signed varint.
func (e *Encoder) PutVarint(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

// PutBool writes a single-byte boolean.
func (e *Encoder) PutBool(b bool) {
	if b {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// PutVariant writes a single-byte enum discriminant.
func (e *Encoder) PutVariant(tag uint8) { e.buf.WriteByte(tag) }

// PutString writes a length-prefixed UTF-8 string.
func (e *Encoder) PutString(s string) { e.PutBytes([]byte(s)) }

// PutBytes writes a length-prefixed byte string.
func (e *Encoder) PutBytes(b []byte) {
	putUvarint(&e.buf, uint64(len(b)))
	e.buf.Write(b)
}

// PutID writes a fixed 32-byte content id, no length prefix needed.
func (e *Encoder) PutID(i id.ID) { e.buf.Write(i[:]) }

// Decoder reads a field-tagged body produced by Encoder.
type Decoder struct {
	data []byte
	pos  int
}

func NewDecoder(data []byte) *Decoder { return &Decoder{data: data} }

// ErrTruncated is returned when the body ends before an expected value.
var ErrTruncated = fmt.Errorf("codec: truncated payload")

// RawField is one (fieldID, payload) pair read by NextField.
type RawField struct {
	ID      uint8
	Payload []byte
}

// NextField reads the next field header and payload. Returns io.EOF when
// the body is exhausted. Callers dispatch on ID and decode Payload with a
// fresh Decoder; unrecognised IDs can simply be ignored (the payload was
// already consumed in full by this call, which is precisely how unknown
// fields are "skipped on read").
func (d *Decoder) NextField() (RawField, error) {
	if d.pos >= len(d.data) {
		return RawField{}, io.EOF
	}
	fieldID := d.data[d.pos]
	d.pos++
	length, err := d.readUvarintRaw()
	if err != nil {
		return RawField{}, err
	}
	if d.pos+int(length) > len(d.data) {
		return RawField{}, ErrTruncated
	}
	payload := d.data[d.pos : d.pos+int(length)]
	d.pos += int(length)
	return RawField{ID: fieldID, Payload: payload}, nil
}

func (d *Decoder) readUvarintRaw() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	d.pos += n
	return v, nil
}

// ReadUvarint reads an unsigned varint from the current position (used to
// decode a leaf field's Payload via a fresh Decoder).
func (d *Decoder) ReadUvarint() (uint64, error) { return d.readUvarintRaw() }

// ReadVarint reads a signed varint.
func (d *Decoder) ReadVarint() (int64, error) {
	v, n := binary.Varint(d.data[d.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	d.pos += n
	return v, nil
}

// ReadBool reads a single-byte boolean.
func (d *Decoder) ReadBool() (bool, error) {
	if d.pos >= len(d.data) {
		return false, ErrTruncated
	}
	b := d.data[d.pos]
	d.pos++
	return b != 0, nil
}

// ReadVariant reads a single-byte enum discriminant.
func (d *Decoder) ReadVariant() (uint8, error) {
	if d.pos >= len(d.data) {
		return 0, ErrTruncated
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadBytes()
	return string(b), err
}

// ReadBytes reads a length-prefixed byte string.
func (d *Decoder) ReadBytes() ([]byte, error) {
	length, err := d.readUvarintRaw()
	if err != nil {
		return nil, err
	}
	if d.pos+int(length) > len(d.data) {
		return nil, ErrTruncated
	}
	b := d.data[d.pos : d.pos+int(length)]
	d.pos += int(length)
	return b, nil
}

// ReadID reads a fixed 32-byte content id.
func (d *Decoder) ReadID() (id.ID, error) {
	var out id.ID
	if d.pos+id.Size > len(d.data) {
		return out, ErrTruncated
	}
	copy(out[:], d.data[d.pos:d.pos+id.Size])
	d.pos += id.Size
	return out, nil
}

// Remaining reports whether any unconsumed bytes remain.
func (d *Decoder) Remaining() bool { return d.pos < len(d.data) }

// UnknownVariant builds the DecodeError for an unrecognised enum tag.
func UnknownVariant(kind string, tag uint8) error {
	return fmt.Errorf("codec: unknown %s variant %d", kind, tag)
}
