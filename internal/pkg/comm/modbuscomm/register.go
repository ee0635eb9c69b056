package modbuscomm

import (
	"errors"
	"fmt"
)

var (
	ErrRegister = errors.New("modbuscomm: malformed register")
	ErrMissing  = errors.New("modbuscomm: no reading for register")
	ErrBus      = errors.New("modbuscomm: register mapped outside the network")
)

// DataType defines the type of Modbus register for encoding/decoding
type DataType string

// Constants of DataType
const (
	u16 DataType = "u16"
	u32 DataType = "u32"
	u64 DataType = "u64"
	i16 DataType = "i16"
	i32 DataType = "i32"
	i64 DataType = "i64"
	f32 DataType = "f32"
	f64 DataType = "f64"
)

// words is the number of 16 bit registers each data type spans
var words = map[DataType]uint16{
	u16: 1, i16: 1,
	u32: 2, i32: 2, f32: 2,
	u64: 4, i64: 4, f64: 4,
}

// Access is the register read/write type
type Access string

const (
	ro Access = "read-only"
	wo Access = "write-only"
	rw Access = "read-write"
)

// Endian byte order of Modbus register for encoding/decoding
type Endian string

// Constants of Endian
const (
	littleEndian Endian = "little"
	bigEndian    Endian = "big"
)

// Quantity is the part of a bus injection a register measures.
type Quantity string

const (
	Active    Quantity = "P"
	Reactive  Quantity = "Q"
	Magnitude Quantity = "V"
	Angle     Quantity = "A"
)

// metered reports whether q is part of a bus injection.
func (q Quantity) metered() bool {
	return q == Active || q == Reactive
}

const (
	holdingRegisters = 3
	inputRegisters   = 4
)

// Register describes one metered value and the bus it belongs to. Bus is the
// 1-based bus number; Scale converts the raw reading to per unit and defaults
// to 1. A Load register measures consumption and is negated into an injection.
type Register struct {
	Name         string   `json:"Name"`
	Address      uint16   `json:"Address"`
	DataType     DataType `json:"DataType"`
	FunctionCode int      `json:"FunctionCode"`
	AccessType   Access   `json:"Access"`
	Endianness   Endian   `json:"Endianness"`
	Bus          int      `json:"Bus"`
	Quantity     Quantity `json:"Quantity"`
	Scale        float64  `json:"Scale"`
	Load         bool     `json:"Load"`
}

// FilterRegisters returns registers from array with matching access type
func FilterRegisters(r []Register, a Access) []Register {
	filtered := make([]Register, 0)
	for _, reg := range r {
		if reg.AccessType == a || reg.AccessType == rw {
			filtered = append(filtered, reg)
		}
	}
	return filtered
}

func (r Register) size() uint16 {
	return words[r.DataType]
}

func (r Register) validate() error {
	if r.size() == 0 {
		return fmt.Errorf("%w: %v has data type %q", ErrRegister, r.Name, r.DataType)
	}
	switch r.FunctionCode {
	case 0, holdingRegisters, inputRegisters:
	default:
		return fmt.Errorf("%w: %v has function code %d", ErrRegister, r.Name, r.FunctionCode)
	}
	switch r.Quantity {
	case Active, Reactive:
	case Magnitude, Angle:
		if r.FunctionCode == inputRegisters {
			return fmt.Errorf("%w: %v is an input register and cannot hold a setpoint", ErrRegister, r.Name)
		}
	default:
		return fmt.Errorf("%w: %v carries %q, not P, Q, V or A", ErrRegister, r.Name, r.Quantity)
	}
	return nil
}

func (r Register) scale() float64 {
	if r.Scale == 0 {
		return 1
	}
	return r.Scale
}
