package encoding

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/spirit-labs/tekagg/types"
)

// MaxStringLen bounds lenenc strings read from a stream so a corrupt length can't trigger a huge allocation.
const MaxStringLen = 64 * 1024 * 1024

// Writer writes the primitive encodings to a stream. The first error is sticky; later writes are no-ops and
// the error is reported by Err.
type Writer struct {
	w   io.Writer
	buf []byte
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, buf: make([]byte, 0, 64)}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(b); err != nil {
		w.err = errors.WithStack(err)
	}
}

func (w *Writer) WriteVarUint(v uint64) {
	w.buf = AppendVarUint(w.buf[:0], v)
	w.write(w.buf)
}

func (w *Writer) WriteVarInt(v int64) {
	w.buf = AppendVarInt(w.buf[:0], v)
	w.write(w.buf)
}

func (w *Writer) WriteFloat64(f float64) {
	w.buf = AppendFloat64ToBufferLE(w.buf[:0], f)
	w.write(w.buf)
}

func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf[:0], b)
	w.write(w.buf)
	return w.err
}

func (w *Writer) WriteLenencString(s string) {
	w.WriteVarUint(uint64(len(s)))
	if len(s) > 0 {
		w.write([]byte(s))
	}
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteVarUint(uint64(len(b)))
	if len(b) > 0 {
		w.write(b)
	}
}

func (w *Writer) WriteValue(v types.Value) {
	w.buf = AppendValue(w.buf[:0], v)
	w.write(w.buf)
}

func (w *Writer) Err() error {
	return w.err
}

// Reader is the reading counterpart of Writer. Once an error has occurred all reads return zero values.
type Reader struct {
	r   *bufio.Reader
	err error
}

func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br}
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.err = errors.WithStack(err)
	}
}

func (r *Reader) ReadVarUint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.fail(err)
		return 0
	}
	return v
}

func (r *Reader) ReadVarInt() int64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(r.r)
	if err != nil {
		r.fail(err)
		return 0
	}
	return v
}

func (r *Reader) ReadFloat64() float64 {
	if r.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:]))
}

func (r *Reader) ReadByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.fail(err)
		return 0, r.err
	}
	return b, nil
}

func (r *Reader) ReadBytes() []byte {
	l := r.ReadVarUint()
	if r.err != nil {
		return nil
	}
	if l > MaxStringLen {
		r.fail(errors.Errorf("encoded length %d exceeds maximum", l))
		return nil
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
		return nil
	}
	return b
}

func (r *Reader) ReadLenencString() string {
	return string(r.ReadBytes())
}

func (r *Reader) ReadValue() types.Value {
	kb, err := r.ReadByte()
	if err != nil {
		return types.Null
	}
	switch kind := types.Kind(kb); kind {
	case types.KindNull:
		return types.Null
	case types.KindInt:
		return types.NewInt(r.ReadVarInt())
	case types.KindTimestamp:
		return types.NewTimestamp(r.ReadVarInt())
	case types.KindFloat:
		return types.NewFloat(r.ReadFloat64())
	case types.KindString:
		return types.NewString(r.ReadLenencString())
	case types.KindBool:
		b, _ := r.ReadByte()
		return types.NewBool(b == 1)
	default:
		r.fail(errors.Errorf("invalid value kind %d", kind))
		return types.Null
	}
}

// AtEOF returns true if the stream has been fully consumed without error.
func (r *Reader) AtEOF() bool {
	if r.err != nil {
		return false
	}
	_, err := r.r.Peek(1)
	return err == io.EOF
}

func (r *Reader) Err() error {
	return r.err
}
