package modbuscomm

import (
	"encoding/json"
	"fmt"
	"math"
	"math/cmplx"
	"os"

	"github.com/ohowland/cgc_powerflow/internal/pkg/ybus"
)

// Telemetry is a metering device and the register map of its bus injections.
type Telemetry struct {
	Poller    PollerConfig `json:"Poller"`
	Registers []Register   `json:"Registers"`
}

// LoadTelemetry reads and validates a telemetry configuration file.
func LoadTelemetry(configPath string) (Telemetry, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Telemetry{}, err
	}
	t := Telemetry{}
	if err := json.Unmarshal(jsonConfig, &t); err != nil {
		return Telemetry{}, err
	}
	for _, r := range t.Registers {
		if err := r.validate(); err != nil {
			return Telemetry{}, err
		}
	}
	return t, nil
}

// Injections builds the 0-based complex injection vector of an n bus network
// from register readings. Buses without registers inject nothing; readings for
// the same bus and quantity add up.
func Injections(values map[string]float64, registers []Register, n int) ([]complex128, error) {
	p := make([]complex128, n)
	for _, r := range registers {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if !r.Quantity.metered() {
			return nil, fmt.Errorf("%w: %v carries %q, not an injection", ErrRegister, r.Name, r.Quantity)
		}
		i, err := ybus.Index(r.Bus)
		if err != nil {
			return nil, fmt.Errorf("%w: %v: %v", ErrBus, r.Name, err)
		}
		if i == 0 || i >= n {
			return nil, fmt.Errorf("%w: %v on bus %d of a %d bus network", ErrBus, r.Name, r.Bus, n)
		}
		raw, ok := values[r.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrMissing, r.Name)
		}

		x := raw * r.scale()
		if r.Load {
			x = -x
		}
		if r.Quantity == Reactive {
			p[i] += complex(0, x)
		} else {
			p[i] += complex(x, 0)
		}
	}
	return p, nil
}

// meters are the readable registers that measure an injection.
func (t Telemetry) meters() []Register {
	out := make([]Register, 0)
	for _, r := range FilterRegisters(t.Registers, ro) {
		if r.Quantity.metered() {
			out = append(out, r)
		}
	}
	return out
}

// setpoints are the writable registers that take a solved voltage.
func (t Telemetry) setpoints() []Register {
	out := make([]Register, 0)
	for _, r := range FilterRegisters(t.Registers, wo) {
		if !r.Quantity.metered() {
			out = append(out, r)
		}
	}
	return out
}

// Poll reads the telemetry registers and returns the injection vector.
func Poll(reader Reader, t Telemetry, n int) ([]complex128, error) {
	meters := t.meters()
	values, err := reader.Read(meters)
	if err != nil {
		return nil, err
	}
	return Injections(values, meters, n)
}

// Setpoints converts solved 0-based bus voltages into raw register values: |V|
// for Magnitude registers and the angle in degrees for Angle registers, both
// divided by the register scale.
func Setpoints(v []complex128, registers []Register) (map[string]float64, error) {
	values := make(map[string]float64, len(registers))
	for _, r := range registers {
		if err := r.validate(); err != nil {
			return nil, err
		}
		i, err := ybus.Index(r.Bus)
		if err != nil {
			return nil, fmt.Errorf("%w: %v: %v", ErrBus, r.Name, err)
		}
		if i >= len(v) {
			return nil, fmt.Errorf("%w: %v on bus %d of a %d bus network", ErrBus, r.Name, r.Bus, len(v))
		}
		var x float64
		switch r.Quantity {
		case Magnitude:
			x = cmplx.Abs(v[i])
		case Angle:
			x = cmplx.Phase(v[i]) * 180 / math.Pi
		default:
			return nil, fmt.Errorf("%w: %v carries %q, not a voltage", ErrRegister, r.Name, r.Quantity)
		}
		values[r.Name] = x / r.scale()
	}
	return values, nil
}

// Publish writes solved voltages to the telemetry's setpoint registers. It is a
// no-op when none are configured.
func Publish(writer Writer, t Telemetry, v []complex128) error {
	setpoints := t.setpoints()
	if len(setpoints) == 0 {
		return nil
	}
	values, err := Setpoints(v, setpoints)
	if err != nil {
		return err
	}
	return writer.Write(setpoints, values)
}
