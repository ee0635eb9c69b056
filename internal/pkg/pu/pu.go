/*
pu.go Per-unit complex quantities as they travel through case files, the web API and the result stores.
*/

package pu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrFormat is returned when a value cannot be decoded as a complex number.
	ErrFormat = errors.New("pu: malformed complex value")
	// ErrShape is returned for empty or ragged matrices.
	ErrShape = errors.New("pu: matrix is not rectangular")
)

// Complex is a per-unit complex value. It encodes to JSON as [re, im] and decodes
// from [re, im], a bare real number, or a string such as "4-8j".
type Complex complex128

// Vector is a sequence of per-unit values, one per bus.
type Vector []Complex

// Matrix is a row-major per-unit matrix.
type Matrix [][]Complex

// MarshalJSON encodes the value as a two element array.
func (c Complex) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{real(c), imag(c)})
}

// UnmarshalJSON accepts [re, im], a number, or a string.
func (c *Complex) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrFormat
	}

	switch data[0] {
	case '[':
		var parts []float64
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if len(parts) != 2 {
			return fmt.Errorf("%w: expected [re, im], got %d elements", ErrFormat, len(parts))
		}
		*c = Complex(complex(parts[0], parts[1]))
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		v, err := Parse(s)
		if err != nil {
			return err
		}
		*c = v
	default:
		var re float64
		if err := json.Unmarshal(data, &re); err != nil {
			return fmt.Errorf("%w: %v", ErrFormat, err)
		}
		*c = Complex(complex(re, 0))
	}
	return nil
}

// Parse reads engineering notation ("0.5-0.2j", "-4+8i", "1.05") into a Complex.
func Parse(s string) (Complex, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, "j", "i")
	v, err := strconv.ParseComplex(s, 128)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}
	return Complex(v), nil
}

// String formats the value in engineering notation.
func (c Complex) String() string {
	sign := "+"
	im := imag(c)
	if im < 0 {
		sign = "-"
		im = -im
	}
	return fmt.Sprintf("%.6g%s%.6gj", real(c), sign, im)
}

// Complex128 returns the underlying value.
func (c Complex) Complex128() complex128 {
	return complex128(c)
}

// FromComplex128 converts a slice into a Vector.
func FromComplex128(v []complex128) Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = Complex(x)
	}
	return out
}

// Complex128 converts the vector for numeric use. A nil vector stays nil.
func (v Vector) Complex128() []complex128 {
	if v == nil {
		return nil
	}
	out := make([]complex128, len(v))
	for i, x := range v {
		out[i] = complex128(x)
	}
	return out
}

// Dense converts the matrix into a gonum complex matrix.
func (m Matrix) Dense() (*mat.CDense, error) {
	rows := len(m)
	if rows == 0 {
		return nil, ErrShape
	}
	cols := len(m[0])
	if cols == 0 {
		return nil, ErrShape
	}
	data := make([]complex128, 0, rows*cols)
	for i, row := range m {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrShape, i, len(row), cols)
		}
		for _, x := range row {
			data = append(data, complex128(x))
		}
	}
	return mat.NewCDense(rows, cols, data), nil
}

// FromDense copies a gonum complex matrix into a Matrix.
func FromDense(m mat.CMatrix) Matrix {
	r, c := m.Dims()
	out := make(Matrix, r)
	for i := 0; i < r; i++ {
		out[i] = make([]Complex, c)
		for j := 0; j < c; j++ {
			out[i][j] = Complex(m.At(i, j))
		}
	}
	return out
}
