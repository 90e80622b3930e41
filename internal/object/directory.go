package object

import (
	"sort"

	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// Directory is an ordered, deduplicated mapping of names to artifacts
// (spec §3.2). Entries are canonicalized by name on encode so that two
// directories built in different iteration orders hash identically.
type Directory struct {
	Entries map[string]Value
}

const (
	fieldDirEntryName = 0
	fieldDirEntryValue = 1
)

// Encode serializes d as a body plus the child ids every entry references,
// in canonical (sorted-by-name) order.
func (d *Directory) Encode() (children []id.ID, body []byte) {
	names := make([]string, 0, len(d.Entries))
	for name := range d.Entries {
		names = append(names, name)
	}
	sort.Strings(names)

	enc := codec.NewEncoder()
	for _, name := range names {
		enc.Field(fieldDirEntryName, func(p *codec.Encoder) { p.PutString(name) })
		v := d.Entries[name]
		enc.Field(fieldDirEntryValue, func(p *codec.Encoder) { EncodeValue(p, v, &children) })
	}
	return children, enc.Bytes()
}

func DecodeDirectory(body []byte) (*Directory, error) {
	dec := codec.NewDecoder(body)
	d := &Directory{Entries: map[string]Value{}}
	var pendingName string
	haveName := false
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		switch f.ID {
		case fieldDirEntryName:
			name, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			pendingName = name
			haveName = true
		case fieldDirEntryValue:
			if !haveName {
				continue
			}
			v, err := DecodeValue(f.Payload)
			if err != nil {
				return nil, err
			}
			d.Entries[pendingName] = v
			haveName = false
		}
	}
	return d, nil
}
