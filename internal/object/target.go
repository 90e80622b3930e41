package object

import (
	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// Target is a reference into a package's script runtime: evaluating it
// invokes the named export with args and env (spec §3.2, §4.6, §4.9). Args
// and Env entries are expression ids, each independently evaluated and
// memoised before the script runtime is invoked.
type Target struct {
	Package id.ID
	Path    string
	Name    string
	Args    []id.ID
	Env     map[string]id.ID
}

const (
	fieldTargetPackage = 0
	fieldTargetPath    = 1
	fieldTargetName    = 2
	fieldTargetArg     = 3
	fieldTargetEnvKey  = 4
	fieldTargetEnvVal  = 5
)

func (t *Target) Encode() (children []id.ID, body []byte) {
	children = append(children, t.Package)
	children = append(children, t.Args...)

	enc := codec.NewEncoder()
	enc.Field(fieldTargetPackage, func(p *codec.Encoder) { p.PutID(t.Package) })
	enc.Field(fieldTargetPath, func(p *codec.Encoder) { p.PutString(t.Path) })
	enc.Field(fieldTargetName, func(p *codec.Encoder) { p.PutString(t.Name) })
	for _, a := range t.Args {
		enc.Field(fieldTargetArg, func(p *codec.Encoder) { p.PutID(a) })
	}
	for _, k := range sortedKeys(t.Env) {
		enc.Field(fieldTargetEnvKey, func(p *codec.Encoder) { p.PutString(k) })
		v := t.Env[k]
		children = append(children, v)
		enc.Field(fieldTargetEnvVal, func(p *codec.Encoder) { p.PutID(v) })
	}
	return children, enc.Bytes()
}

func DecodeTarget(body []byte) (*Target, error) {
	dec := codec.NewDecoder(body)
	out := &Target{Env: map[string]id.ID{}}
	var pendingEnvKey string
	haveEnvKey := false
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		switch f.ID {
		case fieldTargetPackage:
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Package = i
		case fieldTargetPath:
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			out.Path = s
		case fieldTargetName:
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			out.Name = s
		case fieldTargetArg:
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, i)
		case fieldTargetEnvKey:
			k, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			pendingEnvKey = k
			haveEnvKey = true
		case fieldTargetEnvVal:
			if !haveEnvKey {
				continue
			}
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Env[pendingEnvKey] = i
			haveEnvKey = false
		}
	}
	return out, nil
}
