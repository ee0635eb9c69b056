/*
ybus.go Construction of the bus admittance matrix from branch records.

Branch records carry 1-based bus numbers, the way they are written on a one-line
diagram. The matrix, injection and voltage vectors are 0-based. Index and Number
are the only place the two numbering systems meet.
*/

package ybus

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ohowland/cgc_powerflow/internal/pkg/pu"
)

var (
	ErrNoBranches    = errors.New("ybus: no branch records")
	ErrBusNumber     = errors.New("ybus: bus number out of range")
	ErrSelfLoop      = errors.New("ybus: branch connects a bus to itself")
	ErrZeroImpedance = errors.New("ybus: branch impedance is zero")
	ErrRatio         = errors.New("ybus: transformer ratio is negative")
)

// Branch is a single line or transformer between two buses.
// Ratio is the off-nominal tap on the From side; zero is read as 1.
// Shunt is the total shunt admittance of the branch, split evenly between its ends.
type Branch struct {
	From  int        `json:"From"`
	To    int        `json:"To"`
	R     float64    `json:"R"`
	X     float64    `json:"X"`
	Ratio float64    `json:"Ratio"`
	Shunt pu.Complex `json:"Shunt"`
}

// FromRow reads the tabular form [from, to, R, X, a, shunt]. Missing trailing
// columns default to a ratio of 1 and no shunt.
func FromRow(row []float64) (Branch, error) {
	if len(row) < 4 {
		return Branch{}, fmt.Errorf("ybus: branch row needs at least 4 columns, got %d", len(row))
	}
	for k, col := range []string{"from", "to"} {
		if row[k] != math.Trunc(row[k]) || math.IsInf(row[k], 0) {
			return Branch{}, fmt.Errorf("%w: %s bus %v is not a whole number", ErrBusNumber, col, row[k])
		}
	}
	b := Branch{
		From:  int(row[0]),
		To:    int(row[1]),
		R:     row[2],
		X:     row[3],
		Ratio: 1,
	}
	if len(row) > 4 {
		b.Ratio = row[4]
	}
	if len(row) > 5 {
		b.Shunt = pu.Complex(complex(row[5], 0))
	}
	return b, nil
}

// Admittance returns the series admittance 1/(R+jX).
func (b Branch) Admittance() complex128 {
	return 1 / complex(b.R, b.X)
}

func (b Branch) ratio() float64 {
	if b.Ratio == 0 {
		return 1
	}
	return b.Ratio
}

func (b Branch) validate(n int) error {
	if b.From < 1 || b.From > n {
		return fmt.Errorf("%w: from bus %d of %d", ErrBusNumber, b.From, n)
	}
	if b.To < 1 || b.To > n {
		return fmt.Errorf("%w: to bus %d of %d", ErrBusNumber, b.To, n)
	}
	if b.From == b.To {
		return fmt.Errorf("%w: bus %d", ErrSelfLoop, b.From)
	}
	if b.R == 0 && b.X == 0 {
		return fmt.Errorf("%w: branch %d-%d", ErrZeroImpedance, b.From, b.To)
	}
	if b.Ratio < 0 {
		return fmt.Errorf("%w: branch %d-%d ratio %v", ErrRatio, b.From, b.To, b.Ratio)
	}
	return nil
}

// Buses returns the highest bus number referenced by the branches.
func Buses(branches []Branch) int {
	n := 0
	for _, b := range branches {
		if b.From > n {
			n = b.From
		}
		if b.To > n {
			n = b.To
		}
	}
	return n
}

// Build sizes the matrix by the highest bus number in the branch list.
func Build(branches []Branch) (*mat.CDense, error) {
	if len(branches) == 0 {
		return nil, ErrNoBranches
	}
	return BuildN(Buses(branches), branches)
}

// BuildN builds an n×n admittance matrix. Buses with no incident branch keep a
// zero diagonal, which the solver rejects.
func BuildN(n int, branches []Branch) (*mat.CDense, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: system has %d buses", ErrBusNumber, n)
	}
	for _, b := range branches {
		if err := b.validate(n); err != nil {
			return nil, err
		}
	}

	// The tap sits on the From side of the branch: y/a² on the From diagonal,
	// plain y on the To diagonal and -y/a off the diagonal. Scaling both
	// diagonals by 1/a² only agrees with this at a = 1.
	y := mat.NewCDense(n, n, nil)
	for _, b := range branches {
		f, _ := Index(b.From)
		t, _ := Index(b.To)
		a := complex(b.ratio(), 0)
		ys := b.Admittance()
		half := complex128(b.Shunt) / 2

		y.Set(f, t, y.At(f, t)-ys/a)
		y.Set(t, f, y.At(t, f)-ys/a)
		y.Set(f, f, y.At(f, f)+ys/(a*a)+half)
		y.Set(t, t, y.At(t, t)+ys+half)
	}
	return y, nil
}

// Index converts a 1-based bus number into a 0-based matrix index.
func Index(number int) (int, error) {
	if number < 1 {
		return -1, fmt.Errorf("%w: %d", ErrBusNumber, number)
	}
	return number - 1, nil
}

// Number converts a 0-based matrix index into a 1-based bus number.
func Number(index int) int {
	return index + 1
}
