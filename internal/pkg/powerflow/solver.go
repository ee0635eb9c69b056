/*
solver.go Gauss-Seidel power flow over a complex bus admittance matrix.

Bus 0 is the slack bus: its voltage is taken from the initial vector and never
written. Every other bus is treated as a PQ bus with a fixed complex injection.
*/

package powerflow

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmpty            = errors.New("powerflow: system has no buses")
	ErrDimension        = errors.New("powerflow: dimension mismatch")
	ErrSingularDiagonal = errors.New("powerflow: zero diagonal admittance")
	ErrZeroVoltage      = errors.New("powerflow: zero initial voltage")
	ErrConfig           = errors.New("powerflow: invalid configuration")
	ErrNotConverged     = errors.New("powerflow: iteration budget exhausted")
)

// Iteration is handed to observers after every full pass.
type Iteration struct {
	Index    int          `json:"Index"`
	MaxDelta float64      `json:"MaxDelta"`
	Voltages []complex128 `json:"-"`
}

// Result is the outcome of a solve. Voltages holds the converged state, or the
// last iterate when Converged is false.
type Result struct {
	Voltages   []complex128
	Converged  bool
	Iterations int
	MaxDelta   float64
	Deltas     []float64
}

// Finite reports whether every voltage is a finite number.
func (r Result) Finite() bool {
	for _, v := range r.Voltages {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			return false
		}
	}
	return true
}

// Option modifies a Solver.
type Option func(*Solver)

// WithObserver registers a callback invoked after each pass.
func WithObserver(fn func(Iteration)) Option {
	return func(s *Solver) {
		s.observer = fn
	}
}

// Solver holds an immutable configuration and may be shared between goroutines.
type Solver struct {
	config   Config
	observer func(Iteration)
}

// New returns a solver for the given configuration.
func New(cfg Config, opts ...Option) Solver {
	s := Solver{config: cfg}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Config is an accessor for the solver's configuration.
func (s Solver) Config() Config {
	return s.config
}

// Solve runs Gauss-Seidel relaxation. A nil vInit is a flat start.
// Inputs are validated before the first pass and are never modified.
func (s Solver) Solve(ybus mat.CMatrix, p, vInit []complex128) (Result, error) {
	if err := s.config.validate(); err != nil {
		return Result{}, err
	}
	n, err := validate(ybus, p, vInit)
	if err != nil {
		return Result{}, err
	}

	v := initial(n, vInit)
	res := Result{
		Voltages:  v,
		Converged: n == 1,
		Deltas:    make([]float64, 0),
	}
	if n == 1 {
		return res, nil
	}

	prev := make([]complex128, n)
	for k := 1; k <= s.config.MaxIterations; k++ {
		copy(prev, v)
		pass(ybus, p, v)

		delta := maxDelta(v, prev)
		res.Iterations = k
		res.MaxDelta = delta
		res.Deltas = append(res.Deltas, delta)

		if s.observer != nil {
			snapshot := make([]complex128, n)
			copy(snapshot, v)
			s.observer(Iteration{Index: k, MaxDelta: delta, Voltages: snapshot})
		}

		if delta < s.config.Tolerance {
			res.Converged = true
			break
		}
	}

	if !res.Converged && s.config.Strict {
		return res, fmt.Errorf("%w: %d passes, last delta %g", ErrNotConverged, res.Iterations, res.MaxDelta)
	}
	return res, nil
}

// SolveLegacy returns only the final vector and does not report whether the
// iteration converged.
func SolveLegacy(ybus mat.CMatrix, p, vInit []complex128, tol float64, maxIter int) ([]complex128, error) {
	res, err := New(Config{Tolerance: tol, MaxIterations: maxIter}).Solve(ybus, p, vInit)
	if err != nil {
		return nil, err
	}
	return res.Voltages, nil
}

// pass performs one in-place sweep over the non-slack buses. sigma reads
// neighbours already updated in this sweep; the injection term reads the
// previous value of v[i], which has not been overwritten yet.
func pass(ybus mat.CMatrix, p, v []complex128) {
	n := len(v)
	for i := 1; i < n; i++ {
		var sigma complex128
		for j := 0; j < n; j++ {
			if j != i {
				sigma += ybus.At(i, j) * v[j]
			}
		}
		v[i] = (p[i]/cmplx.Conj(v[i]) - sigma) / ybus.At(i, i)
	}
}

// Mismatch is the largest distance between a bus voltage and the value one
// Gauss-Seidel update would assign it. It is zero at an exact fixed point.
func Mismatch(ybus mat.CMatrix, p, v []complex128) (float64, error) {
	n, err := validate(ybus, p, v)
	if err != nil {
		return 0, err
	}
	worst := 0.0
	for i := 1; i < n; i++ {
		var sigma complex128
		for j := 0; j < n; j++ {
			if j != i {
				sigma += ybus.At(i, j) * v[j]
			}
		}
		next := (p[i]/cmplx.Conj(v[i]) - sigma) / ybus.At(i, i)
		worst = math.Max(worst, cmplx.Abs(next-v[i]))
	}
	return worst, nil
}

func validate(ybus mat.CMatrix, p, vInit []complex128) (int, error) {
	if ybus == nil {
		return 0, ErrEmpty
	}
	r, c := ybus.Dims()
	if r == 0 || c == 0 {
		return 0, ErrEmpty
	}
	if r != c {
		return 0, fmt.Errorf("%w: admittance matrix is %dx%d", ErrDimension, r, c)
	}
	if len(p) != r {
		return 0, fmt.Errorf("%w: %d injections for %d buses", ErrDimension, len(p), r)
	}
	if vInit != nil && len(vInit) != r {
		return 0, fmt.Errorf("%w: %d initial voltages for %d buses", ErrDimension, len(vInit), r)
	}
	for i := 0; i < r; i++ {
		if ybus.At(i, i) == 0 {
			return 0, fmt.Errorf("%w: Y[%d,%d]", ErrSingularDiagonal, i, i)
		}
	}
	for i := 1; i < len(vInit); i++ {
		if vInit[i] == 0 {
			return 0, fmt.Errorf("%w: bus index %d", ErrZeroVoltage, i)
		}
	}
	return r, nil
}

func initial(n int, vInit []complex128) []complex128 {
	v := make([]complex128, n)
	if vInit == nil {
		for i := range v {
			v[i] = 1
		}
		return v
	}
	copy(v, vInit)
	return v
}

func maxDelta(a, b []complex128) float64 {
	worst := 0.0
	for i := range a {
		worst = math.Max(worst, cmplx.Abs(a[i]-b[i]))
	}
	return worst
}
