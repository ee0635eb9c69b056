package loss

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

var ErrDimension = errors.New("loss: dimension mismatch")

// Injections returns the complex power injected at every bus, S = V ∘ conj(Ybus·V).
func Injections(ybus mat.CMatrix, v []complex128) ([]complex128, error) {
	r, c := ybus.Dims()
	if r != c || len(v) != r {
		return nil, fmt.Errorf("%w: %dx%d admittance matrix, %d voltages", ErrDimension, r, c, len(v))
	}

	s := make([]complex128, r)
	for i := 0; i < r; i++ {
		var current complex128
		for j := 0; j < r; j++ {
			current += ybus.At(i, j) * v[j]
		}
		s[i] = v[i] * cmplx.Conj(current)
	}
	return s, nil
}

// Total returns the real power lost in the network: the real part of the sum of
// all bus injections.
func Total(ybus mat.CMatrix, v []complex128) (float64, error) {
	s, err := Injections(ybus, v)
	if err != nil {
		return 0, err
	}
	var sum complex128
	for _, x := range s {
		sum += x
	}
	return real(sum), nil
}

// Slack returns the complex power supplied by the slack bus, bus index 0.
func Slack(ybus mat.CMatrix, v []complex128) (complex128, error) {
	s, err := Injections(ybus, v)
	if err != nil {
		return 0, err
	}
	return s[0], nil
}

