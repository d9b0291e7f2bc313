package stream

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriter(t *testing.T) {
	var buf bytes.Buffer
	rw := New(&buf)
	require.NoError(t, rw.WritePacket([]byte{1, 2, 3}))
	require.NoError(t, rw.WritePacket(nil))
	require.Equal(t, []byte{3, 0, 0, 0, 1, 2, 3, 0, 0, 0, 0}, buf.Bytes())

	pkt, err := rw.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, pkt)
	pkt, err = rw.ReadPacket()
	require.NoError(t, err)
	require.Empty(t, pkt)
	_, err = rw.ReadPacket()
	require.Equal(t, io.EOF, err)
	require.NoError(t, rw.Close())
}

func TestReadWriterErrors(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"oversized", func() []byte {
			hdr := make([]byte, 4)
			binary.LittleEndian.PutUint32(hdr, MaxPacketSize+1)
			return hdr
		}()},
		{"truncated header", []byte{1, 0}},
		{"truncated payload", []byte{4, 0, 0, 0, 1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(bytes.NewBuffer(tc.data)).ReadPacket()
			require.Error(t, err)
			require.NotEqual(t, io.EOF, err)
		})
	}
}
