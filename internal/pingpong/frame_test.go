package pingpong

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "sharedstream/internal/core/errors"
)

func TestEncodeFrame(t *testing.T) {
	b, err := EncodeFrame(Frame{Kind: KindPing, Seq: 0x01020304})
	require.NoError(t, err)
	assert.Equal(t, []byte{'P', 'I', 'N', 'G', 1, 2, 3, 4}, b)

	b, err = EncodeFrame(Frame{Kind: KindPong, Seq: 7})
	require.NoError(t, err)
	assert.Equal(t, []byte{'P', 'O', 'N', 'G', 0, 0, 0, 7}, b)

	_, err = EncodeFrame(Frame{Kind: Kind(9)})
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeProtocolError))
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    Frame
		wantErr bool
	}{
		{"ping", []byte("PING\x00\x00\x00\x2a"), Frame{Kind: KindPing, Seq: 42}, false},
		{"pong", []byte("PONG\xff\xff\xff\xff"), Frame{Kind: KindPong, Seq: 0xffffffff}, false},
		{"bad magic", []byte("PANG\x00\x00\x00\x01"), Frame{}, true},
		{"too short", []byte("PING"), Frame{}, true},
		{"too long", []byte("PING\x00\x00\x00\x01\x00"), Frame{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, coreerrors.IsCode(err, coreerrors.CodeProtocolError))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "PING", KindPing.String())
	assert.Equal(t, "PONG", KindPong.String())
	assert.Equal(t, "UNKNOWN", Kind(0).String())
}

// oneByteWriter 每次只写一个字节
type oneByteWriter struct {
	bytes.Buffer
}

func (w *oneByteWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return w.Buffer.Write(p[:1])
}

type zeroWriter struct{}

func (zeroWriter) Write([]byte) (int, error) { return 0, nil }

func TestWriteFrame_ShortWrites(t *testing.T) {
	var w oneByteWriter
	require.NoError(t, WriteFrame(&w, Frame{Kind: KindPing, Seq: 3}))

	f, err := ReadFrame(&w.Buffer)
	require.NoError(t, err)
	assert.Equal(t, Frame{Kind: KindPing, Seq: 3}, f)
}

func TestWriteFrame_ZeroWrite(t *testing.T) {
	err := WriteFrame(zeroWriter{}, Frame{Kind: KindPing, Seq: 1})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestReadFrame_Truncated(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte("PIN")))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}
