/*
fault.go Bolted three-phase fault at a single bus, computed from the bus impedance
matrix and a pre-fault voltage profile.
*/

package fault

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimension = errors.New("fault: dimension mismatch")
	ErrBus       = errors.New("fault: fault bus out of range")
	ErrSingular  = errors.New("fault: matrix is singular")
)

// pivots smaller than this fraction of the largest entry are treated as zero
const singularRatio = 1e-12

// Result holds the post-fault state of the network.
type Result struct {
	Voltages     []complex128 // post-fault bus voltages; zero at the faulted bus
	FaultCurrent complex128   // current flowing into the fault
	Injections   []complex128 // post-fault bus current injections, Ybus·Vpost
}

// Analyze applies a bolted fault at the 0-based index bus. m is a bus impedance
// matrix when isZbus is set, otherwise a bus admittance matrix; the other form is
// obtained by inversion.
func Analyze(m mat.CMatrix, isZbus bool, vPre []complex128, bus int) (Result, error) {
	r, c := m.Dims()
	if r != c {
		return Result{}, fmt.Errorf("%w: bus matrix is %dx%d", ErrDimension, r, c)
	}
	if len(vPre) != r {
		return Result{}, fmt.Errorf("%w: %d pre-fault voltages for %d buses", ErrDimension, len(vPre), r)
	}
	if bus < 0 || bus >= r {
		return Result{}, fmt.Errorf("%w: index %d of %d buses", ErrBus, bus, r)
	}

	inverse, err := Invert(m)
	if err != nil {
		return Result{}, err
	}
	zbus, ybus := mat.CMatrix(inverse), m
	if isZbus {
		zbus, ybus = m, inverse
	}

	zff := zbus.At(bus, bus)
	if zff == 0 {
		return Result{}, fmt.Errorf("%w: Z[%d,%d] is zero", ErrSingular, bus, bus)
	}
	iFault := vPre[bus] / zff

	vPost := make([]complex128, r)
	for k := range vPost {
		vPost[k] = vPre[k] - zbus.At(k, bus)*iFault
	}
	vPost[bus] = 0

	injections := make([]complex128, r)
	for i := 0; i < r; i++ {
		var sum complex128
		for j := 0; j < r; j++ {
			sum += ybus.At(i, j) * vPost[j]
		}
		injections[i] = sum
	}

	return Result{
		Voltages:     vPost,
		FaultCurrent: iFault,
		Injections:   injections,
	}, nil
}

// Invert returns the inverse of a square complex matrix by Gauss-Jordan
// elimination with partial pivoting.
func Invert(m mat.CMatrix) (*mat.CDense, error) {
	n, c := m.Dims()
	if n != c {
		return nil, fmt.Errorf("%w: cannot invert %dx%d matrix", ErrDimension, n, c)
	}

	// augmented [A | I], row major
	w := 2 * n
	a := make([]complex128, n*w)
	scale := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a[i*w+j] = m.At(i, j)
			scale = math.Max(scale, cmplx.Abs(a[i*w+j]))
		}
		a[i*w+n+i] = 1
	}
	floor := scale * singularRatio

	for col := 0; col < n; col++ {
		pivot, best := col, cmplx.Abs(a[col*w+col])
		for row := col + 1; row < n; row++ {
			if v := cmplx.Abs(a[row*w+col]); v > best {
				pivot, best = row, v
			}
		}
		if best <= floor {
			return nil, fmt.Errorf("%w: no pivot in column %d", ErrSingular, col)
		}
		if pivot != col {
			for j := 0; j < w; j++ {
				a[col*w+j], a[pivot*w+j] = a[pivot*w+j], a[col*w+j]
			}
		}

		d := a[col*w+col]
		for j := 0; j < w; j++ {
			a[col*w+j] /= d
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			f := a[row*w+col]
			if f == 0 {
				continue
			}
			for j := 0; j < w; j++ {
				a[row*w+j] -= f * a[col*w+j]
			}
		}
	}

	inv := mat.NewCDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			inv.Set(i, j, a[i*w+n+j])
		}
	}
	return inv, nil
}
