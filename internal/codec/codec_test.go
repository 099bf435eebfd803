package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type frame struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

func TestFrames_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.WriteFrame(frame{ID: "1", Data: []byte{1, 2, 3}}))
	require.NoError(t, w.WriteFrame(frame{ID: "2"}))

	r := NewReader(&buf, nil)
	var f frame
	require.NoError(t, r.ReadFrame(&f))
	require.Equal(t, frame{ID: "1", Data: []byte{1, 2, 3}}, f)

	f = frame{}
	require.NoError(t, r.ReadFrame(&f))
	require.Equal(t, "2", f.ID)

	require.ErrorIs(t, r.ReadFrame(&f), io.EOF)
}

func TestFrames_TooLarge(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	r := NewReader(bytes.NewReader(hdr[:]), nil)
	require.ErrorIs(t, r.ReadFrame(&frame{}), ErrFrameTooLarge)
}

func TestFrames_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf, nil).WriteFrame(frame{ID: "x"}))
	truncated := buf.Bytes()[:buf.Len()-2]

	r := NewReader(bytes.NewReader(truncated), nil)
	require.ErrorIs(t, r.ReadFrame(&frame{}), io.ErrUnexpectedEOF)
}
