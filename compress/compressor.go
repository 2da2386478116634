package compress

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

type CompressionType byte

const (
	CompressionTypeNone    CompressionType = 0
	CompressionTypeGzip    CompressionType = 1
	CompressionTypeSnappy  CompressionType = 2
	CompressionTypeLz4     CompressionType = 3
	CompressionTypeZstd    CompressionType = 4
	CompressionTypeUnknown CompressionType = 255
)

func FromString(str string) CompressionType {
	switch str {
	case "none", "identity", "":
		return CompressionTypeNone
	case "gzip":
		return CompressionTypeGzip
	case "snappy":
		return CompressionTypeSnappy
	case "lz4":
		return CompressionTypeLz4
	case "zstd":
		return CompressionTypeZstd
	default:
		return CompressionTypeUnknown
	}
}

func (t CompressionType) String() string {
	switch t {
	case CompressionTypeNone:
		return "none"
	case CompressionTypeGzip:
		return "gzip"
	case CompressionTypeSnappy:
		return "snappy"
	case CompressionTypeLz4:
		return "lz4"
	case CompressionTypeZstd:
		return "zstd"
	case CompressionTypeUnknown:
		return "unknown"
	default:
		panic("unknown compression type")
	}
}

// ContentEncoding is the value used in the HTTP Content-Encoding header for this compression type.
func (t CompressionType) ContentEncoding() string {
	if t == CompressionTypeNone {
		return "identity"
	}
	return t.String()
}

// Compress appends the compressed form of data to buff.
func Compress(compressionType CompressionType, buff []byte, data []byte) ([]byte, error) {
	switch compressionType {
	case CompressionTypeNone:
		return append(buff, data...), nil
	case CompressionTypeSnappy:
		return append(buff, s2.EncodeSnappy(nil, data)...), nil
	case CompressionTypeZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, buff), nil
	}
	buf := bytes.NewBuffer(buff)
	w, err := NewWriter(compressionType, buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

func Decompress(compressionType CompressionType, data []byte) ([]byte, error) {
	switch compressionType {
	case CompressionTypeNone:
		return data, nil
	case CompressionTypeSnappy:
		res, err := s2.Decode(nil, data)
		return res, errors.WithStack(err)
	case CompressionTypeZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer dec.Close()
		res, err := dec.DecodeAll(data, nil)
		return res, errors.WithStack(err)
	}
	r, err := NewReader(compressionType, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()
	res, err := io.ReadAll(r)
	return res, errors.WithStack(err)
}

// NewWriter wraps w so that everything written is compressed. Close must be called to flush.
func NewWriter(compressionType CompressionType, w io.Writer) (io.WriteCloser, error) {
	switch compressionType {
	case CompressionTypeNone:
		return nopWriteCloser{w}, nil
	case CompressionTypeGzip:
		return gzip.NewWriter(w), nil
	case CompressionTypeSnappy:
		return s2.NewWriter(w, s2.WriterSnappyCompat()), nil
	case CompressionTypeLz4:
		return lz4.NewWriter(w), nil
	case CompressionTypeZstd:
		enc, err := zstd.NewWriter(w)
		return enc, errors.WithStack(err)
	default:
		return nil, errors.Errorf("unexpected compression type: %d", compressionType)
	}
}

func NewReader(compressionType CompressionType, r io.Reader) (io.ReadCloser, error) {
	switch compressionType {
	case CompressionTypeNone:
		return io.NopCloser(r), nil
	case CompressionTypeGzip:
		gr, err := gzip.NewReader(r)
		return gr, errors.WithStack(err)
	case CompressionTypeSnappy:
		return io.NopCloser(s2.NewReader(r)), nil
	case CompressionTypeLz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionTypeZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, errors.Errorf("unexpected compression type: %d", compressionType)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
