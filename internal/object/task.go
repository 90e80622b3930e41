package object

import (
	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// Task describes a sandboxed process invocation (spec §3.2, §4.8): an
// executable template, its arguments and environment, the host platform it
// must run under, and whether it is allowed network access. Executable,
// Args, and Env are expression ids: the evaluator resolves each one through
// Evaluate before handing the Task to the sandbox runner, which then loads
// the resolved value ids directly rather than recursing back through the
// evaluator.
type Task struct {
	Host       string
	Executable id.ID
	Args       []id.ID
	Env        map[string]id.ID
	Network    bool
	Checksum   string
}

const (
	fieldTaskHost       = 0
	fieldTaskExecutable = 1
	fieldTaskArg        = 2
	fieldTaskEnvKey     = 3
	fieldTaskEnvVal     = 4
	fieldTaskNetwork    = 5
	fieldTaskChecksum   = 6
)

func (t *Task) Encode() (children []id.ID, body []byte) {
	children = append(children, t.Executable)
	children = append(children, t.Args...)

	enc := codec.NewEncoder()
	enc.Field(fieldTaskHost, func(p *codec.Encoder) { p.PutString(t.Host) })
	enc.Field(fieldTaskExecutable, func(p *codec.Encoder) { p.PutID(t.Executable) })
	for _, a := range t.Args {
		enc.Field(fieldTaskArg, func(p *codec.Encoder) { p.PutID(a) })
	}
	for _, k := range sortedKeys(t.Env) {
		enc.Field(fieldTaskEnvKey, func(p *codec.Encoder) { p.PutString(k) })
		v := t.Env[k]
		children = append(children, v)
		enc.Field(fieldTaskEnvVal, func(p *codec.Encoder) { p.PutID(v) })
	}
	enc.Field(fieldTaskNetwork, func(p *codec.Encoder) { p.PutBool(t.Network) })
	if t.Checksum != "" {
		enc.Field(fieldTaskChecksum, func(p *codec.Encoder) { p.PutString(t.Checksum) })
	}
	return children, enc.Bytes()
}

func DecodeTask(body []byte) (*Task, error) {
	dec := codec.NewDecoder(body)
	out := &Task{Env: map[string]id.ID{}}
	var pendingEnvKey string
	haveEnvKey := false
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		switch f.ID {
		case fieldTaskHost:
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			out.Host = s
		case fieldTaskExecutable:
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Executable = i
		case fieldTaskArg:
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, i)
		case fieldTaskEnvKey:
			k, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			pendingEnvKey = k
			haveEnvKey = true
		case fieldTaskEnvVal:
			if !haveEnvKey {
				continue
			}
			i, err := codec.NewDecoder(f.Payload).ReadID()
			if err != nil {
				return nil, err
			}
			out.Env[pendingEnvKey] = i
			haveEnvKey = false
		case fieldTaskNetwork:
			b, err := codec.NewDecoder(f.Payload).ReadBool()
			if err != nil {
				return nil, err
			}
			out.Network = b
		case fieldTaskChecksum:
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			out.Checksum = s
		}
	}
	return out, nil
}
