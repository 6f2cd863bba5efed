package gosftp

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	buf := newMarshalBuffer(0)
	buf.AppendUint8(7)
	buf.AppendUint32(1234)
	buf.AppendUint64(9876543210)
	buf.AppendString("hello")
	buf.AppendBytes([]byte{1, 2, 3})

	r := newBuffer(buf.Bytes())
	u8, err := r.ConsumeUint8()
	require.NoError(t, err)
	require.EqualValues(t, 7, u8)

	u32, err := r.ConsumeUint32()
	require.NoError(t, err)
	require.EqualValues(t, 1234, u32)

	u64, err := r.ConsumeUint64()
	require.NoError(t, err)
	require.EqualValues(t, 9876543210, u64)

	s, err := r.ConsumeString()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	b, err := r.ConsumeBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)

	require.Equal(t, 0, r.remaining())
}

func TestConsumeShortPacket(t *testing.T) {
	r := newBuffer([]byte{0, 1})
	_, err := r.ConsumeUint32()
	require.ErrorIs(t, err, ErrShortPacket)
}

func TestFrameRoundTrip(t *testing.T) {
	var out bytes.Buffer
	fw := newFrameWriter(&out, DefaultMaxEncodedPayload)
	require.NoError(t, fw.flush(fxpOpen, []byte{1, 2, 3}))

	tag, payload, err := readFrame(&out, DefaultMaxPacketLength)
	require.NoError(t, err)
	require.Equal(t, fxpOpen, tag)
	require.Equal(t, []byte{1, 2, 3}, payload)
}

func TestReadFrameGracefulEOF(t *testing.T) {
	_, _, err := readFrame(bytes.NewReader(nil), DefaultMaxPacketLength)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var out bytes.Buffer
	fw := newFrameWriter(&out, 1<<20)
	require.NoError(t, fw.flush(fxpOpen, make([]byte, 100)))

	_, _, err := readFrame(&out, 10) // maxLen smaller than the frame just written
	require.ErrorIs(t, err, ErrLongPacket)
}
