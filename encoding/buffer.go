package encoding

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

var ErrInsufficientBytes = errors.New("insufficient bytes to decode value")

func AppendUint64ToBufferBE(buffer []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buffer, v)
}

func AppendUint64ToBufferLE(buffer []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buffer, v)
}

func AppendFloat64ToBufferLE(buffer []byte, value float64) []byte {
	return AppendUint64ToBufferLE(buffer, math.Float64bits(value))
}

func AppendBoolToBuffer(buffer []byte, val bool) []byte {
	var b byte
	if val {
		b = 1
	}
	return append(buffer, b)
}

func AppendVarUint(buffer []byte, v uint64) []byte {
	return binary.AppendUvarint(buffer, v)
}

// AppendVarInt zig-zag encodes v so small negative numbers stay small.
func AppendVarInt(buffer []byte, v int64) []byte {
	return binary.AppendVarint(buffer, v)
}

// AppendLenencString writes the length as a varuint followed by the bytes.
func AppendLenencString(buffer []byte, s string) []byte {
	buffer = AppendVarUint(buffer, uint64(len(s)))
	return append(buffer, s...)
}

func ReadUint64FromBufferBE(buffer []byte, offset int) (uint64, int) {
	return binary.BigEndian.Uint64(buffer[offset:]), offset + 8
}

func ReadUint64FromBufferLE(buffer []byte, offset int) (uint64, int) {
	return binary.LittleEndian.Uint64(buffer[offset:]), offset + 8
}

func ReadFloat64FromBufferLE(buffer []byte, offset int) (float64, int) {
	u, offset := ReadUint64FromBufferLE(buffer, offset)
	return math.Float64frombits(u), offset
}

func DecodeBool(buffer []byte, offset int) (bool, int) {
	return buffer[offset] == 1, offset + 1
}

func ReadVarUint(buffer []byte, offset int) (uint64, int, error) {
	v, n := binary.Uvarint(buffer[offset:])
	if n <= 0 {
		return 0, 0, errors.WithStack(ErrInsufficientBytes)
	}
	return v, offset + n, nil
}

func ReadVarInt(buffer []byte, offset int) (int64, int, error) {
	v, n := binary.Varint(buffer[offset:])
	if n <= 0 {
		return 0, 0, errors.WithStack(ErrInsufficientBytes)
	}
	return v, offset + n, nil
}

func ReadLenencString(buffer []byte, offset int) (string, int, error) {
	l, offset, err := ReadVarUint(buffer, offset)
	if err != nil {
		return "", 0, err
	}
	if uint64(len(buffer)-offset) < l {
		return "", 0, errors.WithStack(ErrInsufficientBytes)
	}
	end := offset + int(l)
	return string(buffer[offset:end]), end, nil
}
