package powerflow

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	DefaultTolerance     = 1e-4
	DefaultMaxIterations = 100
)

// Config represents the static properties of a solver.
// A Tolerance at or below zero is legal and runs the full MaxIterations budget.
// Strict turns an exhausted budget into ErrNotConverged.
type Config struct {
	Tolerance     float64 `json:"Tolerance"`
	MaxIterations int     `json:"MaxIterations"`
	Strict        bool    `json:"Strict"`
}

// DefaultConfig returns a tolerance of 1e-4 and a budget of 100 passes.
func DefaultConfig() Config {
	return Config{
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
	}
}

// ParseConfig overlays jsonConfig on the defaults. Fields absent from the
// document keep their default value.
func ParseConfig(jsonConfig []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(jsonConfig) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

// ReadConfig loads a solver configuration file.
func ReadConfig(configPath string) (Config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(jsonConfig)
}

func (c Config) validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: MaxIterations must be positive, got %d", ErrConfig, c.MaxIterations)
	}
	return nil
}

// Override is a partial Config as found in case files and requests. Absent
// fields keep the value of the config it is applied to.
type Override struct {
	Tolerance     *float64 `json:"Tolerance,omitempty"`
	MaxIterations *int     `json:"MaxIterations,omitempty"`
	Strict        *bool    `json:"Strict,omitempty"`
}

// Apply returns base with the fields set in o replaced. A nil Override
// returns base unchanged.
func (o *Override) Apply(base Config) Config {
	if o == nil {
		return base
	}
	if o.Tolerance != nil {
		base.Tolerance = *o.Tolerance
	}
	if o.MaxIterations != nil {
		base.MaxIterations = *o.MaxIterations
	}
	if o.Strict != nil {
		base.Strict = *o.Strict
	}
	return base
}
