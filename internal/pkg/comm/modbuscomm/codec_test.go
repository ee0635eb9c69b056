package modbuscomm

import (
	"math"
	"testing"

	"gotest.tools/v3/assert"
)

func TestEncode(t *testing.T) {
	tests := map[string]struct {
		reg   Register
		val   float64
		bytes []byte
	}{
		"u16 big":     {Register{DataType: u16, Endianness: bigEndian}, 1234, []byte{4, 210}},
		"u16 little":  {Register{DataType: u16, Endianness: littleEndian}, 1234, []byte{210, 4}},
		"i32 big":     {Register{DataType: i32, Endianness: bigEndian}, -1234, []byte{255, 255, 251, 46}},
		"u32 little":  {Register{DataType: u32, Endianness: littleEndian}, 1234, []byte{210, 4, 0, 0}},
		"u64 big":     {Register{DataType: u64, Endianness: bigEndian}, 1234, []byte{0, 0, 0, 0, 0, 0, 4, 210}},
		"f32 little":  {Register{DataType: f32, Endianness: littleEndian}, -1234, []byte{0, 64, 154, 196}},
		"f64 big":     {Register{DataType: f64, Endianness: bigEndian}, -1234, []byte{192, 147, 72, 0, 0, 0, 0, 0}},
		"default big": {Register{DataType: u16}, 1234, []byte{4, 210}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.DeepEqual(t, encode(tc.val, tc.reg), tc.bytes)
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	values := map[DataType][]float64{
		u16: {0, 1234, math.MaxUint16},
		i16: {-1234, 0, math.MaxInt16},
		u32: {1234, math.MaxUint32},
		i32: {-1234, math.MinInt32},
		f32: {-1234.5, 0.25},
		u64: {1234, 1 << 53},
		i64: {-1234, -(1 << 53)},
		f64: {-1234.125, math.Pi},
	}
	for dt, vals := range values {
		for _, e := range []Endian{bigEndian, littleEndian} {
			reg := Register{Name: "test", DataType: dt, Endianness: e}
			for _, v := range vals {
				got, err := decode(encode(v, reg), reg)
				assert.NilError(t, err)
				assert.Equal(t, got, v, "%v %v", dt, e)
			}
		}
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := decode([]byte{1, 2}, Register{Name: "short", DataType: f32})
	assert.ErrorIs(t, err, ErrRegister)

	_, err = decode([]byte{1, 2}, Register{Name: "unknown", DataType: "u8"})
	assert.ErrorIs(t, err, ErrRegister)
}
