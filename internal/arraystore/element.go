package arraystore

import (
	"encoding/binary"
	"math"

	"github.com/me/clusterize/pkg/model"
)

// PutValue stores v as element i of a little-endian buffer of dtype elements.
// Integer types truncate toward zero.
func PutValue(dtype model.DType, buf []byte, i int, v float64) {
	off := i * dtype.ItemSize()
	switch dtype {
	case model.Uint8:
		buf[off] = uint8(v)
	case model.Int8:
		buf[off] = byte(int8(v))
	case model.Uint16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(v))
	case model.Int16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(int16(v)))
	case model.Uint32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	case model.Int32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
	case model.Uint64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(v))
	case model.Int64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(int64(v)))
	case model.Float32:
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
	case model.Float64:
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
	}
}

// Value returns element i of a little-endian buffer of dtype elements.
func Value(dtype model.DType, buf []byte, i int) float64 {
	off := i * dtype.ItemSize()
	switch dtype {
	case model.Uint8:
		return float64(buf[off])
	case model.Int8:
		return float64(int8(buf[off]))
	case model.Uint16:
		return float64(binary.LittleEndian.Uint16(buf[off:]))
	case model.Int16:
		return float64(int16(binary.LittleEndian.Uint16(buf[off:])))
	case model.Uint32:
		return float64(binary.LittleEndian.Uint32(buf[off:]))
	case model.Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[off:])))
	case model.Uint64:
		return float64(binary.LittleEndian.Uint64(buf[off:]))
	case model.Int64:
		return float64(int64(binary.LittleEndian.Uint64(buf[off:])))
	case model.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
	case model.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
	}
	return 0
}
