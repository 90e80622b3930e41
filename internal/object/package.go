package object

import (
	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// Package pairs a package's root directory with its resolved lockfile
// (spec §4.9, grounded on the original lockfile's root+entries shape). Lock
// is the zero id when the package has no dependencies to resolve.
type Package struct {
	Root id.ID
	Lock id.ID
}

const (
	fieldPackageRoot = 0
	fieldPackageLock = 1
)

func (p *Package) Encode() (children []id.ID, body []byte) {
	children = append(children, p.Root)

	enc := codec.NewEncoder()
	enc.Field(fieldPackageRoot, func(e *codec.Encoder) { e.PutID(p.Root) })
	if p.Lock != id.Nil {
		children = append(children, p.Lock)
		enc.Field(fieldPackageLock, func(e *codec.Encoder) { e.PutID(p.Lock) })
	}
	return children, enc.Bytes()
}

func DecodePackage(body []byte) (*Package, error) {
	dec := codec.NewDecoder(body)
	out := &Package{}
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		switch f.ID {
		case fieldPackageRoot:
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Root = i
		case fieldPackageLock:
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Lock = i
		}
	}
	return out, nil
}
