package modbuscomm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encode converts a float64 into the register's wire bytes
func encode(val float64, register Register) []byte {
	bytes := make([]byte, 2*register.size())
	endian := byteOrder(register.Endianness)
	switch register.DataType {
	case u16, i16:
		endian.PutUint16(bytes, uint16(int64(val)))
	case u32, i32:
		endian.PutUint32(bytes, uint32(int64(val)))
	case f32:
		endian.PutUint32(bytes, math.Float32bits(float32(val)))
	case u64:
		endian.PutUint64(bytes, uint64(val))
	case i64:
		endian.PutUint64(bytes, uint64(int64(val)))
	case f64:
		endian.PutUint64(bytes, math.Float64bits(val))
	default:
		return nil
	}
	return bytes
}

// decode converts the register's wire bytes into a float64
func decode(bytes []byte, register Register) (float64, error) {
	if want := int(2 * register.size()); want == 0 || len(bytes) < want {
		return 0, fmt.Errorf("%w: %v needs %d bytes, got %d", ErrRegister, register.Name, want, len(bytes))
	}
	endian := byteOrder(register.Endianness)
	switch register.DataType {
	case u16:
		return float64(endian.Uint16(bytes)), nil
	case i16:
		return float64(int16(endian.Uint16(bytes))), nil
	case u32:
		return float64(endian.Uint32(bytes)), nil
	case i32:
		return float64(int32(endian.Uint32(bytes))), nil
	case f32:
		return float64(math.Float32frombits(endian.Uint32(bytes))), nil
	case u64:
		return float64(endian.Uint64(bytes)), nil
	case i64:
		return float64(int64(endian.Uint64(bytes))), nil
	}
	return math.Float64frombits(endian.Uint64(bytes)), nil
}

// byteOrder defaults to big endian, the Modbus wire order
func byteOrder(e Endian) binary.ByteOrder {
	if e == littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
