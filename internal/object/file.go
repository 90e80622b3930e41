package object

import (
	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// File pairs a blob of content with the executable bit and the artifact
// ids it depends on at runtime (spec §3.2's "references" field; checkout
// writes these ids into a side-car beside the checked-out file, and checkin
// reads them back).
type File struct {
	Contents   id.ID
	Executable bool
	References []id.ID
}

const (
	fieldFileContents   = 0
	fieldFileExecutable = 1
	fieldFileReference  = 2
)

func (f *File) Encode() (children []id.ID, body []byte) {
	children = append(children, f.Contents)
	children = append(children, f.References...)

	enc := codec.NewEncoder()
	enc.Field(fieldFileContents, func(p *codec.Encoder) { p.PutID(f.Contents) })
	enc.Field(fieldFileExecutable, func(p *codec.Encoder) { p.PutBool(f.Executable) })
	for _, r := range f.References {
		enc.Field(fieldFileReference, func(p *codec.Encoder) { p.PutID(r) })
	}
	return children, enc.Bytes()
}

func DecodeFile(body []byte) (*File, error) {
	dec := codec.NewDecoder(body)
	out := &File{}
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		switch f.ID {
		case fieldFileContents:
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Contents = i
		case fieldFileExecutable:
			b, err := codec.NewDecoder(f.Payload).ReadBool()
			if err != nil {
				return nil, err
			}
			out.Executable = b
		case fieldFileReference:
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.References = append(out.References, i)
		}
	}
	return out, nil
}
