package object

import (
	"sort"

	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// Array is an ordered list of expression ids (spec §3.2). Each element is
// independently addressable and memoised: the evaluator's array-dispatch
// rule evaluates every distinct id exactly once, however many times it
// appears (§4.6, §8's "memoised array" property).
type Array struct {
	Elements []id.ID
}

const fieldArrayElement = 0

func (a *Array) Encode() (children []id.ID, body []byte) {
	children = append(children, a.Elements...)
	enc := codec.NewEncoder()
	for _, e := range a.Elements {
		enc.Field(fieldArrayElement, func(p *codec.Encoder) { p.PutID(e) })
	}
	return children, enc.Bytes()
}

func DecodeArray(body []byte) (*Array, error) {
	dec := codec.NewDecoder(body)
	out := &Array{}
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		if f.ID == fieldArrayElement {
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Elements = append(out.Elements, i)
		}
	}
	return out, nil
}

// Map is a sorted-by-key mapping of strings to expression ids (spec §3.2).
// Keys are canonicalized by sort order on encode so hash identity does not
// depend on construction order.
type Map struct {
	Entries map[string]id.ID
}

const (
	fieldMapKey   = 0
	fieldMapValue = 1
)

func (m *Map) Encode() (children []id.ID, body []byte) {
	keys := sortedKeys(m.Entries)
	enc := codec.NewEncoder()
	for _, k := range keys {
		enc.Field(fieldMapKey, func(p *codec.Encoder) { p.PutString(k) })
		v := m.Entries[k]
		children = append(children, v)
		enc.Field(fieldMapValue, func(p *codec.Encoder) { p.PutID(v) })
	}
	return children, enc.Bytes()
}

func DecodeMap(body []byte) (*Map, error) {
	dec := codec.NewDecoder(body)
	out := &Map{Entries: map[string]id.ID{}}
	var pendingKey string
	haveKey := false
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		switch f.ID {
		case fieldMapKey:
			k, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			pendingKey = k
			haveKey = true
		case fieldMapValue:
			if !haveKey {
				continue
			}
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Entries[pendingKey] = i
			haveKey = false
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
