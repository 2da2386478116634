package encoding

import (
	"github.com/pkg/errors"
	"github.com/spirit-labs/tekagg/types"
)

// AppendValue writes a kind byte followed by the payload: zig-zag varint for ints and timestamps, LE float64,
// lenenc string, one byte for bool, nothing for null.
func AppendValue(buffer []byte, v types.Value) []byte {
	buffer = append(buffer, byte(v.Kind()))
	switch v.Kind() {
	case types.KindInt:
		buffer = AppendVarInt(buffer, v.Int())
	case types.KindTimestamp:
		buffer = AppendVarInt(buffer, v.TimestampMillis())
	case types.KindFloat:
		buffer = AppendFloat64ToBufferLE(buffer, v.Float())
	case types.KindString:
		buffer = AppendLenencString(buffer, v.Str())
	case types.KindBool:
		buffer = AppendBoolToBuffer(buffer, v.Bool())
	}
	return buffer
}

func ReadValue(buffer []byte, offset int) (types.Value, int, error) {
	if offset >= len(buffer) {
		return types.Null, 0, errors.WithStack(ErrInsufficientBytes)
	}
	kind := types.Kind(buffer[offset])
	offset++
	switch kind {
	case types.KindNull:
		return types.Null, offset, nil
	case types.KindInt, types.KindTimestamp:
		i, off, err := ReadVarInt(buffer, offset)
		if err != nil {
			return types.Null, 0, err
		}
		if kind == types.KindInt {
			return types.NewInt(i), off, nil
		}
		return types.NewTimestamp(i), off, nil
	case types.KindFloat:
		if len(buffer)-offset < 8 {
			return types.Null, 0, errors.WithStack(ErrInsufficientBytes)
		}
		f, off := ReadFloat64FromBufferLE(buffer, offset)
		return types.NewFloat(f), off, nil
	case types.KindString:
		s, off, err := ReadLenencString(buffer, offset)
		if err != nil {
			return types.Null, 0, err
		}
		return types.NewString(s), off, nil
	case types.KindBool:
		if offset >= len(buffer) {
			return types.Null, 0, errors.WithStack(ErrInsufficientBytes)
		}
		b, off := DecodeBool(buffer, offset)
		return types.NewBool(b), off, nil
	default:
		return types.Null, 0, errors.Errorf("invalid value kind %d", kind)
	}
}
