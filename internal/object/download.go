package object

import (
	"github.com/tangramcore/tangram/internal/codec"
	"github.com/tangramcore/tangram/internal/id"
)

// Download fetches a URL and optionally unpacks it (spec §3.2, §4.6).
// Checksum, when non-empty, is an algorithm-prefixed digest ("sha256:...")
// verified against the fetched bytes before the result is cached. Unsafe
// opts out of that requirement; per spec §4.6, a Download with neither a
// Checksum nor Unsafe set must fail upfront.
type Download struct {
	URL      string
	Unpack   string // "" | "tar" | "tar.gz" | "tar.bz2" | "tar.xz" | "tar.zst" | "tar.lz" | "zip"
	Checksum string
	Unsafe   bool
}

const (
	fieldDownloadURL      = 0
	fieldDownloadUnpack   = 1
	fieldDownloadChecksum = 2
	fieldDownloadUnsafe   = 3
)

func (d *Download) Encode() (children []id.ID, body []byte) {
	enc := codec.NewEncoder()
	enc.Field(fieldDownloadURL, func(p *codec.Encoder) { p.PutString(d.URL) })
	if d.Unpack != "" {
		enc.Field(fieldDownloadUnpack, func(p *codec.Encoder) { p.PutString(d.Unpack) })
	}
	if d.Checksum != "" {
		enc.Field(fieldDownloadChecksum, func(p *codec.Encoder) { p.PutString(d.Checksum) })
	}
	if d.Unsafe {
		enc.Field(fieldDownloadUnsafe, func(p *codec.Encoder) { p.PutBool(d.Unsafe) })
	}
	return nil, enc.Bytes()
}

func DecodeDownload(body []byte) (*Download, error) {
	dec := codec.NewDecoder(body)
	out := &Download{}
	for {
		f, err := dec.NextField()
		if err != nil {
			break
		}
		switch f.ID {
		case fieldDownloadURL:
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			out.URL = s
		case fieldDownloadUnpack:
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			out.Unpack = s
		case fieldDownloadChecksum:
			s, err := codec.NewDecoder(f.Payload).ReadString()
			if err != nil {
				return nil, err
			}
			out.Checksum = s
		case fieldDownloadUnsafe:
			b, err := codec.NewDecoder(f.Payload).ReadBool()
			if err != nil {
				return nil, err
			}
			out.Unsafe = b
		}
	}
	return out, nil
}
