package encoding

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/spirit-labs/tekagg/types"
	"github.com/stretchr/testify/require"
)

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteVarUint(0)
	w.WriteVarUint(math.MaxUint64)
	w.WriteVarInt(-12345)
	w.WriteFloat64(3.25)
	w.WriteLenencString("")
	w.WriteLenencString("hello")
	w.WriteBytes([]byte{1, 2, 3})
	vals := []types.Value{types.Null, types.NewInt(-7), types.NewFloat(0.5), types.NewString("x"),
		types.NewBool(true), types.NewTimestamp(99)}
	for _, v := range vals {
		w.WriteValue(v)
	}
	require.NoError(t, w.Err())

	r := NewReader(&buf)
	require.Equal(t, uint64(0), r.ReadVarUint())
	require.Equal(t, uint64(math.MaxUint64), r.ReadVarUint())
	require.Equal(t, int64(-12345), r.ReadVarInt())
	require.Equal(t, 3.25, r.ReadFloat64())
	require.Equal(t, "", r.ReadLenencString())
	require.Equal(t, "hello", r.ReadLenencString())
	require.Equal(t, []byte{1, 2, 3}, r.ReadBytes())
	for _, v := range vals {
		require.Equal(t, v, r.ReadValue())
	}
	require.NoError(t, r.Err())
	require.True(t, r.AtEOF())
}

func TestReaderTruncatedIsSticky(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteLenencString("truncated string")
	data := buf.Bytes()[:5]

	r := NewReader(bytes.NewReader(data))
	require.Equal(t, "", r.ReadLenencString())
	require.ErrorIs(t, r.Err(), io.ErrUnexpectedEOF)
	require.Equal(t, uint64(0), r.ReadVarUint())
	require.False(t, r.AtEOF())
}

func TestReaderRejectsHugeLength(t *testing.T) {
	buf := AppendVarUint(nil, MaxStringLen+1)
	r := NewReader(bytes.NewReader(buf))
	require.Nil(t, r.ReadBytes())
	require.Error(t, r.Err())
}

func TestReaderInvalidKind(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{200}))
	r.ReadValue()
	require.Error(t, r.Err())
}

type failingWriter struct{}

func (f failingWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestWriterErrorIsSticky(t *testing.T) {
	w := NewWriter(failingWriter{})
	w.WriteVarUint(1)
	w.WriteLenencString("abc")
	require.ErrorIs(t, w.Err(), io.ErrClosedPipe)
}

func TestBufferValueRoundTrip(t *testing.T) {
	vals := []types.Value{types.Null, types.NewInt(math.MinInt64), types.NewFloat(-1.5), types.NewString("héllo"),
		types.NewBool(false), types.NewTimestamp(-1)}
	var buff []byte
	for _, v := range vals {
		buff = AppendValue(buff, v)
	}
	offset := 0
	for _, v := range vals {
		var res types.Value
		var err error
		res, offset, err = ReadValue(buff, offset)
		require.NoError(t, err)
		require.Equal(t, v, res)
	}
	_, _, err := ReadValue(buff, offset)
	require.Error(t, err)
}
