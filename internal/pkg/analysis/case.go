package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ohowland/cgc_powerflow/internal/pkg/powerflow"
	"github.com/ohowland/cgc_powerflow/internal/pkg/pu"
	"github.com/ohowland/cgc_powerflow/internal/pkg/topology"
	"github.com/ohowland/cgc_powerflow/internal/pkg/ybus"
)

// Case describes a network and its operating point. Bus numbers are 1-based and
// bus 1 is the slack. Loads maps a bus number to its complex power injection;
// consumption is negative.
type Case struct {
	Name     string              `json:"Name"`
	Buses    int                 `json:"Buses"`
	Branches []ybus.Branch       `json:"Branches"`
	Loads    map[int]pu.Complex  `json:"Loads"`
	Slack    *pu.Complex         `json:"Slack,omitempty"`
	Initial  pu.Vector           `json:"Initial,omitempty"`
	Solver   *powerflow.Override `json:"Solver,omitempty"`
}

// LoadCase reads a case file.
func LoadCase(path string) (Case, error) {
	jsonCase, err := os.ReadFile(path)
	if err != nil {
		return Case{}, err
	}
	c := Case{}
	if err := json.Unmarshal(jsonCase, &c); err != nil {
		return Case{}, fmt.Errorf("%w: %s: %v", ErrCase, path, err)
	}
	return c, nil
}

// Size returns the number of buses in the case.
func (c Case) Size() int {
	if c.Buses > 0 {
		return c.Buses
	}
	return ybus.Buses(c.Branches)
}

// Injections returns the 0-based injection vector of an n bus case.
func (c Case) Injections(n int) ([]complex128, error) {
	p := make([]complex128, n)
	for number, s := range c.Loads {
		i, err := ybus.Index(number)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			return nil, fmt.Errorf("%w: load given for bus %d", ErrSlackBus, number)
		}
		if i >= n {
			return nil, fmt.Errorf("%w: load bus %d outside a %d bus system", ErrCase, number, n)
		}
		p[i] = complex128(s)
	}
	return p, nil
}

// InitialVoltages returns the starting vector, or nil for a flat start at 1+0j.
func (c Case) InitialVoltages(n int) []complex128 {
	if len(c.Initial) == 0 && c.Slack == nil {
		return nil
	}
	var v []complex128
	if len(c.Initial) > 0 {
		v = c.Initial.Complex128()
	} else {
		v = make([]complex128, n)
		for i := range v {
			v[i] = 1
		}
	}
	if c.Slack != nil && len(v) > 0 {
		v[0] = complex128(*c.Slack)
	}
	return v
}

// Case builds the admittance matrix of c, checks every bus is reachable from
// the slack, and solves the power flow.
func (s *Session) Case(c Case) (Report, error) {
	if err := s.check(); err != nil {
		return Report{}, err
	}

	n := c.Size()
	y, err := ybus.BuildN(n, c.Branches)
	if err != nil {
		return Report{}, err
	}

	g, err := topology.FromBranches(n, c.Branches)
	if err != nil {
		return Report{}, err
	}
	islanded, err := g.Islanded(0)
	if err != nil {
		return Report{}, err
	}
	if len(islanded) > 0 {
		numbers := make([]int, len(islanded))
		for i, idx := range islanded {
			numbers[i] = ybus.Number(idx)
		}
		sort.Ints(numbers)
		return Report{}, fmt.Errorf("%w: %v", ErrIslanded, numbers)
	}

	p, err := c.Injections(n)
	if err != nil {
		return Report{}, err
	}

	report, err := s.powerFlow(c.Solver.Apply(s.config.Solver), y, p, c.InitialVoltages(n))
	report.Name = c.Name
	return report, err
}
