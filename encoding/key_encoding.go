package encoding

import (
	"math"

	"github.com/pkg/errors"
	"github.com/spirit-labs/tekagg/types"
)

const (
	SignBitMask  uint64 = 1 << 63
	encGroupSize        = 8
	encMarker    byte   = 255
	encPad       byte   = 0
)

var stringKeyEncodingPads = make([]byte, encGroupSize)

func KeyEncodeInt(buffer []byte, val int64) []byte {
	uVal := uint64(val) ^ SignBitMask
	return AppendUint64ToBufferBE(buffer, uVal)
}

func KeyDecodeInt(buffer []byte, offset int) (int64, int) {
	u, offset := ReadUint64FromBufferBE(buffer, offset)
	return int64(u ^ SignBitMask), offset
}

func KeyEncodeFloat(buffer []byte, val float64) []byte {
	uVal := math.Float64bits(val)
	if val >= 0 {
		uVal |= SignBitMask
	} else {
		uVal = ^uVal
	}
	return AppendUint64ToBufferBE(buffer, uVal)
}

func KeyDecodeFloat(buffer []byte, offset int) (float64, int) {
	u, offset := ReadUint64FromBufferBE(buffer, offset)
	if u&SignBitMask == SignBitMask {
		u &= ^SignBitMask
	} else {
		u = ^u
	}
	return math.Float64frombits(u), offset
}

/*
KeyEncodeString splits the string into chunks of 8 bytes, and after each chunk appends a marker byte of
255 minus the number of pad bytes in that chunk. The final chunk is right padded with zeros to 8 bytes. The
encoding is self delimiting and byte-wise comparison of encoded strings matches comparison of the originals.
*/
func KeyEncodeString(buff []byte, val string) []byte {
	dLen := len(val)
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			buff = append(buff, val[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			buff = append(buff, val[idx:]...)
			buff = append(buff, stringKeyEncodingPads[:padCount]...)
		}
		buff = append(buff, encMarker-byte(padCount))
	}
	return buff
}

func KeyDecodeString(buffer []byte, offset int) (string, int, error) {
	var res []byte
	for {
		if len(buffer)-offset < encGroupSize+1 {
			return "", 0, errors.WithStack(ErrInsufficientBytes)
		}
		groupBytes := buffer[offset : offset+encGroupSize+1]
		group := groupBytes[:encGroupSize]
		padCount := encMarker - groupBytes[encGroupSize]
		if padCount > encGroupSize {
			return "", 0, errors.Errorf("invalid marker byte, group bytes %q", groupBytes)
		}
		realGroupSize := encGroupSize - padCount
		res = append(res, group[:realGroupSize]...)
		offset += encGroupSize + 1
		if padCount != 0 {
			for _, v := range group[realGroupSize:] {
				if v != encPad {
					return "", 0, errors.Errorf("invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return string(res), offset, nil
}

// KeyEncodeValue writes the kind followed by an order preserving encoding of the payload. The kind is part of
// the key, so values of different kinds never collide.
func KeyEncodeValue(buffer []byte, v types.Value) []byte {
	buffer = append(buffer, byte(v.Kind()))
	switch v.Kind() {
	case types.KindInt:
		buffer = KeyEncodeInt(buffer, v.Int())
	case types.KindTimestamp:
		buffer = KeyEncodeInt(buffer, v.TimestampMillis())
	case types.KindFloat:
		f := v.Float()
		if math.IsNaN(f) {
			// all NaNs are Equal, so they must share one bit pattern
			f = math.NaN()
		}
		buffer = KeyEncodeFloat(buffer, f)
	case types.KindString:
		buffer = KeyEncodeString(buffer, v.Str())
	case types.KindBool:
		buffer = AppendBoolToBuffer(buffer, v.Bool())
	}
	return buffer
}

func KeyDecodeValue(buffer []byte, offset int) (types.Value, int, error) {
	if offset >= len(buffer) {
		return types.Null, 0, errors.WithStack(ErrInsufficientBytes)
	}
	kind := types.Kind(buffer[offset])
	offset++
	fixed := func(n int) error {
		if len(buffer)-offset < n {
			return errors.WithStack(ErrInsufficientBytes)
		}
		return nil
	}
	switch kind {
	case types.KindNull:
		return types.Null, offset, nil
	case types.KindInt, types.KindTimestamp:
		if err := fixed(8); err != nil {
			return types.Null, 0, err
		}
		i, off := KeyDecodeInt(buffer, offset)
		if kind == types.KindInt {
			return types.NewInt(i), off, nil
		}
		return types.NewTimestamp(i), off, nil
	case types.KindFloat:
		if err := fixed(8); err != nil {
			return types.Null, 0, err
		}
		f, off := KeyDecodeFloat(buffer, offset)
		return types.NewFloat(f), off, nil
	case types.KindString:
		s, off, err := KeyDecodeString(buffer, offset)
		if err != nil {
			return types.Null, 0, err
		}
		return types.NewString(s), off, nil
	case types.KindBool:
		if err := fixed(1); err != nil {
			return types.Null, 0, err
		}
		b, off := DecodeBool(buffer, offset)
		return types.NewBool(b), off, nil
	default:
		return types.Null, 0, errors.Errorf("invalid key kind %d", kind)
	}
}

// MakeGroupKey builds the canonical group key for the evaluated group expressions of a row. Rows whose group
// values are pairwise Equal produce identical keys.
func MakeGroupKey(buffer []byte, groupValues []types.Value) []byte {
	for _, v := range groupValues {
		buffer = KeyEncodeValue(buffer, v)
	}
	return buffer
}

func DecodeGroupKey(key []byte) ([]types.Value, error) {
	var vals []types.Value
	offset := 0
	for offset < len(key) {
		var v types.Value
		var err error
		v, offset, err = KeyDecodeValue(key, offset)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}
