package codec

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramcore/tangram/internal/id"
)

func TestFieldRoundTrip(t *testing.T) {
	enc := NewEncoder()
	enc.Field(0, func(p *Encoder) { p.PutString("hello") })
	enc.Field(1, func(p *Encoder) { p.PutUvarint(42) })
	enc.Field(2, func(p *Encoder) { p.PutBool(true) })
	childID := id.Hash([]byte("child"))
	enc.Field(3, func(p *Encoder) { p.PutID(childID) })

	dec := NewDecoder(enc.Bytes())

	f0, err := dec.NextField()
	require.NoError(t, err)
	require.Equal(t, uint8(0), f0.ID)
	s, err := NewDecoder(f0.Payload).ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	f1, err := dec.NextField()
	require.NoError(t, err)
	v, err := NewDecoder(f1.Payload).ReadUvarint()
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)

	f2, err := dec.NextField()
	require.NoError(t, err)
	b, err := NewDecoder(f2.Payload).ReadBool()
	require.NoError(t, err)
	require.True(t, b)

	f3, err := dec.NextField()
	require.NoError(t, err)
	gotID, err := NewDecoder(f3.Payload).ReadID()
	require.NoError(t, err)
	require.Equal(t, childID, gotID)

	_, err = dec.NextField()
	require.ErrorIs(t, err, io.EOF)
}

func TestUnknownFieldsAreSkippable(t *testing.T) {
	enc := NewEncoder()
	enc.Field(99, func(p *Encoder) { p.PutBytes([]byte("from the future")) })
	enc.Field(1, func(p *Encoder) { p.PutUvarint(7) })

	dec := NewDecoder(enc.Bytes())
	var kept uint64
	for {
		f, err := dec.NextField()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if f.ID == 1 {
			v, err := NewDecoder(f.Payload).ReadUvarint()
			require.NoError(t, err)
			kept = v
		}
		// field 99 is simply ignored: its payload was already fully
		// consumed by NextField, so skipping costs nothing extra.
	}
	require.Equal(t, uint64(7), kept)
}
