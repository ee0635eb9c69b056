package analysis

import (
	"math"
	"math/cmplx"
	"time"

	"github.com/google/uuid"

	"github.com/ohowland/cgc_powerflow/internal/pkg/powerflow"
	"github.com/ohowland/cgc_powerflow/internal/pkg/pu"
	"github.com/ohowland/cgc_powerflow/internal/pkg/ybus"
)

// BusVoltage is one row of a solved voltage profile. Bus is the 1-based bus number.
type BusVoltage struct {
	Bus       int        `json:"Bus"`
	Voltage   pu.Complex `json:"Voltage"`
	Magnitude float64    `json:"Magnitude"`
	AngleDeg  float64    `json:"AngleDeg"`
}

// Report is the outcome of one power-flow run.
type Report struct {
	RunID      uuid.UUID     `json:"RunID"`
	Session    uuid.UUID     `json:"Session"`
	Name       string        `json:"Name,omitempty"`
	Buses      []BusVoltage  `json:"Buses"`
	Converged  bool          `json:"Converged"`
	Iterations int           `json:"Iterations"`
	MaxDelta   float64       `json:"MaxDelta"`
	Loss       float64       `json:"Loss"`
	SlackPower pu.Complex    `json:"SlackPower"`
	Elapsed    time.Duration `json:"Elapsed"`
	Created    time.Time     `json:"Created"`
}

func newReport(runID, session uuid.UUID, res powerflow.Result, elapsed time.Duration) Report {
	return Report{
		RunID:      runID,
		Session:    session,
		Buses:      busVoltages(res.Voltages),
		Converged:  res.Converged,
		Iterations: res.Iterations,
		MaxDelta:   res.MaxDelta,
		Elapsed:    elapsed,
		Created:    time.Now().UTC(),
	}
}

func busVoltages(v []complex128) []BusVoltage {
	buses := make([]BusVoltage, len(v))
	for i, x := range v {
		buses[i] = BusVoltage{
			Bus:       ybus.Number(i),
			Voltage:   pu.Complex(x),
			Magnitude: magnitude(x),
			AngleDeg:  cmplx.Phase(x) * 180 / math.Pi,
		}
	}
	return buses
}

// Voltages returns the solved profile as a 0-based vector.
func (r Report) Voltages() []complex128 {
	v := make([]complex128, len(r.Buses))
	for i, b := range r.Buses {
		v[i] = complex128(b.Voltage)
	}
	return v
}
