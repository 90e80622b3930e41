// Package object supplies the typed read/write surface over the block
// store plus codec (spec §4.3): a Value tagged union over every object
// variant in §3.2, and a typed struct per composite variant
// (Directory/File/Symlink/Template/Target/Task/Download/Package).
//
// Dispatch follows the Design Notes guidance directly: these are a closed
// set of variants distinguished by a Kind byte, matched with exhaustive
// switch statements rather than interface virtual calls, so adding a
// variant is a deliberate, visible, breaking change to the codec.
package object

import (
	"fmt"

	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// Kind discriminates the variants of Value (spec §3.2).
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBytes
	KindPath
	KindBlob
	KindDirectory
	KindFile
	KindSymlink
	KindTemplate
	KindArray
	KindMap
	KindTarget
	KindTask
	KindDownload
	KindPackage
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindPath:
		return "path"
	case KindBlob:
		return "blob"
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	case KindTemplate:
		return "template"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindTarget:
		return "target"
	case KindTask:
		return "task"
	case KindDownload:
		return "download"
	case KindPackage:
		return "package"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsOperation reports whether a Value of this Kind carries side effects and
// has an output (spec §3.2: "An operation is any value whose variant is
// Target, Task, or Download").
func (k Kind) IsOperation() bool {
	return k == KindTarget || k == KindTask || k == KindDownload
}

// IsPrimitive reports whether the evaluator should return this Value's own
// id unchanged rather than recursing (§4.6 step 3).
func (k Kind) IsPrimitive() bool {
	switch k {
	case KindNull, KindBool, KindNumber, KindString, KindBytes, KindPath,
		KindBlob, KindDirectory, KindFile, KindSymlink, KindTemplate:
		return true
	default:
		return false
	}
}

// IsScalar reports whether a Value of this Kind carries its payload inline
// rather than via a reference id to a separately-stored object.
func (k Kind) IsScalar() bool {
	switch k {
	case KindNull, KindBool, KindNumber, KindString, KindBytes, KindPath:
		return true
	default:
		return false
	}
}

// Value is the tagged union described in spec §3.2. Scalars carry their
// payload inline; every other kind carries ID, the content id of the
// referenced object, resolved on demand via the Store's Load* methods.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Bytes  []byte
	Path   string
	ID     id.ID
}

func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value      { return Value{Kind: KindNumber, Number: n} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value        { return Value{Kind: KindBytes, Bytes: b} }
func Path(p string) Value         { return Value{Kind: KindPath, Path: p} }
func Ref(k Kind, ref id.ID) Value { return Value{Kind: k, ID: ref} }

// field ids within a Value's encoded body.
const (
	fieldKind   = 0
	fieldBool   = 1
	fieldNumber = 2
	fieldStr    = 3
	fieldBytes  = 4
	fieldPath   = 5
	fieldRef    = 6
)

// EncodeValue writes v's tag and inline/reference payload. If v references
// another object, its id is also appended to *children so the caller's
// envelope header declares it (closure, spec §3.1) even though the id is
// also written inline here for straightforward decoding.
func EncodeValue(enc *codec.Encoder, v Value, children *[]id.ID) {
	enc.Field(fieldKind, func(p *codec.Encoder) { p.PutVariant(uint8(v.Kind)) })
	switch v.Kind {
	case KindNull:
	case KindBool:
		enc.Field(fieldBool, func(p *codec.Encoder) { p.PutBool(v.Bool) })
	case KindNumber:
		enc.Field(fieldNumber, func(p *codec.Encoder) { p.PutVarint(int64(v.Number * 1e9)) })
	case KindString:
		enc.Field(fieldStr, func(p *codec.Encoder) { p.PutString(v.Str) })
	case KindBytes:
		enc.Field(fieldBytes, func(p *codec.Encoder) { p.PutBytes(v.Bytes) })
	case KindPath:
		enc.Field(fieldPath, func(p *codec.Encoder) { p.PutString(v.Path) })
	default:
		enc.Field(fieldRef, func(p *codec.Encoder) { p.PutID(v.ID) })
		if children != nil {
			*children = append(*children, v.ID)
		}
	}
}

// DecodeValue reads back a Value encoded by EncodeValue.
func DecodeValue(body []byte) (Value, error) {
	dec := codec.NewDecoder(body)
	var v Value
	haveKind := false
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		switch f.ID {
		case fieldKind:
			tag, err := codec.NewDecoder(f.Payload).ReadVariant()
			if err != nil {
				return v, err
			}
			v.Kind = Kind(tag)
			haveKind = true
		case fieldBool:
			b, err := codec.NewDecoder(f.Payload).ReadBool()
			if err != nil {
				return v, err
			}
			v.Bool = b
		case fieldNumber:
			n, err := codec.NewDecoder(f.Payload).ReadVarint()
			if err != nil {
				return v, err
			}
			v.Number = float64(n) / 1e9
		case fieldStr:
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return v, err
			}
			v.Str = s
		case fieldBytes:
			b, err := codec.NewDecoder(f.Payload).ReadBytes()
			if err != nil {
				return v, err
			}
			v.Bytes = b
		case fieldPath:
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return v, err
			}
			v.Path = s
		case fieldRef:
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return v, err
			}
			v.ID = i
		default:
			// unknown field: already fully consumed by NextField.
		}
	}
	if !haveKind {
		return v, fmt.Errorf("object: value missing kind tag")
	}
	return v, nil
}
