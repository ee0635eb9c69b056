package modbuscomm

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/goburrow/modbus"
)

// Reader reads a set of registers by name.
type Reader interface {
	Read([]Register) (map[string]float64, error)
}

// Writer writes raw values, keyed by register name, to a set of registers.
type Writer interface {
	Write([]Register, map[string]float64) error
}

// Poller reads metered values from, and writes setpoints to, a Modbus TCP device
type Poller struct {
	handler *modbus.TCPClientHandler
}

// PollerConfig is the configuration format for Poller
type PollerConfig struct {
	IPAddr       string `json:"IPAddr"`
	Port         string `json:"Port"`
	SlaveID      byte   `json:"SlaveID"`
	Timeout      int    `json:"Timeout"`
	EnableLogger bool   `json:"EnableLogger"`
}

// NewPoller is a factory for the Poller struct
func NewPoller(cfg PollerConfig) Poller {
	handler := modbus.NewTCPClientHandler(cfg.IPAddr + ":" + cfg.Port)
	handler.Timeout = time.Millisecond * time.Duration(cfg.Timeout)
	handler.SlaveId = cfg.SlaveID

	if cfg.EnableLogger {
		handler.Logger = log.New(os.Stdout, "modbus: ", log.LstdFlags)
	}

	return Poller{handler: handler}
}

// Read fetches every register over one connection. Registers that fail to read
// are left out of the result and their errors are joined.
func (m Poller) Read(registers []Register) (map[string]float64, error) {
	if err := m.handler.Connect(); err != nil {
		return nil, err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	readValues := make(map[string]float64)
	var errs []error
	for _, register := range registers {
		resp, err := read(client, register)
		if err != nil {
			errs = append(errs, fmt.Errorf("%v: %w", register.Name, err))
			continue
		}
		val, err := decode(resp, register)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		readValues[register.Name] = val
	}
	return readValues, errors.Join(errs...)
}

func read(client modbus.Client, register Register) ([]byte, error) {
	if register.FunctionCode == inputRegisters {
		return client.ReadInputRegisters(register.Address, register.size())
	}
	return client.ReadHoldingRegisters(register.Address, register.size())
}

// Write stores each register's value over one connection. Registers that fail
// to write are skipped and their errors are joined.
func (m Poller) Write(registers []Register, values map[string]float64) error {
	if err := m.handler.Connect(); err != nil {
		return err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	var errs []error
	for _, register := range registers {
		val, ok := values[register.Name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %v", ErrMissing, register.Name))
			continue
		}
		payload := encode(val, register)
		if payload == nil {
			errs = append(errs, fmt.Errorf("%w: %v has data type %q", ErrRegister, register.Name, register.DataType))
			continue
		}
		if _, err := client.WriteMultipleRegisters(register.Address, register.size(), payload); err != nil {
			errs = append(errs, fmt.Errorf("%v: %w", register.Name, err))
		}
	}
	return errors.Join(errs...)
}
