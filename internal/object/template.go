package object

import (
	"fmt"
	"strings"

	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// Template interleaves literal string components with artifact references,
// rendered at checkout/execution time by substituting each artifact
// reference with its materialized path (spec §3.2, §4.7).
type Template struct {
	Components []Value
}

const fieldTemplateComponent = 0

func (t *Template) Encode() (children []id.ID, body []byte) {
	enc := codec.NewEncoder()
	for _, c := range t.Components {
		enc.Field(fieldTemplateComponent, func(p *codec.Encoder) { EncodeValue(p, c, &children) })
	}
	return children, enc.Bytes()
}

func DecodeTemplate(body []byte) (*Template, error) {
	dec := codec.NewDecoder(body)
	out := &Template{}
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		if f.ID == fieldTemplateComponent {
			v, err := DecodeValue(f.Payload)
			if err != nil {
				return nil, err
			}
			out.Components = append(out.Components, v)
		}
	}
	return out, nil
}

// Render renders t by concatenating each literal string component verbatim
// and passing each artifact-reference component through resolve, which
// maps it to a string (a checkout filesystem path, or a sandbox-relative
// path for tasks), per spec §4.3's `render(f)` contract.
func (t *Template) Render(resolve func(Value) (string, error)) (string, error) {
	var b strings.Builder
	for _, c := range t.Components {
		switch c.Kind {
		case KindString:
			b.WriteString(c.Str)
		default:
			s, err := resolve(c)
			if err != nil {
				return "", fmt.Errorf("object: rendering template component: %w", err)
			}
			b.WriteString(s)
		}
	}
	return b.String(), nil
}
