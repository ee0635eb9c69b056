package pu

import (
	"encoding/json"
	"testing"

	"gotest.tools/v3/assert"
)

func TestUnmarshalForms(t *testing.T) {
	var v Vector
	err := json.Unmarshal([]byte(`[[1, 0], -0.5, "4-8j", "-0.5-0.2i"]`), &v)
	assert.NilError(t, err)

	assert.Equal(t, len(v), 4)
	assert.Equal(t, v[0], Complex(1))
	assert.Equal(t, v[1], Complex(-0.5))
	assert.Equal(t, v[2], Complex(4-8i))
	assert.Equal(t, v[3], Complex(-0.5-0.2i))
}

func TestUnmarshalMalformed(t *testing.T) {
	var c Complex
	assert.ErrorIs(t, json.Unmarshal([]byte(`[1, 2, 3]`), &c), ErrFormat)
	assert.ErrorIs(t, json.Unmarshal([]byte(`"four"`), &c), ErrFormat)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"re": 1}`), &c), ErrFormat)
}

func TestMarshal(t *testing.T) {
	b, err := json.Marshal(Vector{1, -4 + 8i})
	assert.NilError(t, err)
	assert.Equal(t, string(b), `[[1,0],[-4,8]]`)
}

func TestParse(t *testing.T) {
	c, err := Parse(" 0.5 - 0.2j ")
	assert.NilError(t, err)
	assert.Equal(t, c, Complex(0.5-0.2i))

	c, err = Parse("1.05")
	assert.NilError(t, err)
	assert.Equal(t, c, Complex(1.05))
}

func TestString(t *testing.T) {
	assert.Equal(t, Complex(4-8i).String(), "4-8j")
	assert.Equal(t, Complex(0.5+0.25i).String(), "0.5+0.25j")
}

func TestDenseRoundTrip(t *testing.T) {
	m := Matrix{{4 - 8i, -4 + 8i}, {-4 + 8i, 4 - 8i}}
	d, err := m.Dense()
	assert.NilError(t, err)

	r, c := d.Dims()
	assert.Assert(t, r == 2 && c == 2)
	assert.Equal(t, d.At(0, 1), complex128(-4+8i))

	back := FromDense(d)
	assert.DeepEqual(t, back, m)
}

func TestDenseRagged(t *testing.T) {
	_, err := Matrix{{1, 2}, {3}}.Dense()
	assert.ErrorIs(t, err, ErrShape)

	_, err = Matrix{}.Dense()
	assert.ErrorIs(t, err, ErrShape)
}

func TestVectorConversions(t *testing.T) {
	var nilVec Vector
	assert.Assert(t, nilVec.Complex128() == nil)
	assert.Assert(t, FromComplex128(nil) == nil)

	v := FromComplex128([]complex128{1, 2i})
	assert.DeepEqual(t, v.Complex128(), []complex128{1, 2i})
}
