package object

import (
	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// Symlink is a target path string, stored verbatim (spec §3.2); it carries
// no children of its own since a raw path string resolves at checkout time,
// not at graph-construction time.
type Symlink struct {
	Target string
}

const fieldSymlinkTarget = 0

func (s *Symlink) Encode() (children []id.ID, body []byte) {
	enc := codec.NewEncoder()
	enc.Field(fieldSymlinkTarget, func(p *codec.Encoder) { p.PutString(s.Target) })
	return nil, enc.Bytes()
}

func DecodeSymlink(body []byte) (*Symlink, error) {
	dec := codec.NewDecoder(body)
	out := &Symlink{}
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		if f.ID == fieldSymlinkTarget {
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			out.Target = s
		}
	}
	return out, nil
}
