package webservice

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gonum.org/v1/gonum/mat"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
	"github.com/ohowland/cgc_powerflow/internal/pkg/loss"
	"github.com/ohowland/cgc_powerflow/internal/pkg/powerflow"
	"github.com/ohowland/cgc_powerflow/internal/pkg/pu"
	"github.com/ohowland/cgc_powerflow/internal/pkg/ybus"
)

type YbusRequest struct {
	Branches []ybus.Branch `json:"Branches"`
}

type YbusResponse struct {
	Ybus pu.Matrix `json:"Ybus"`
}

// PowerFlowRequest carries either a ready Ybus or the branches to build one.
type PowerFlowRequest struct {
	Ybus       pu.Matrix           `json:"Ybus,omitempty"`
	Branches   []ybus.Branch       `json:"Branches,omitempty"`
	Injections pu.Vector           `json:"Injections"`
	Initial    pu.Vector           `json:"Initial,omitempty"`
	Solver     *powerflow.Override `json:"Solver,omitempty"`
}

type BatchRequest struct {
	Cases []analysis.Case `json:"Cases"`
	Limit int             `json:"Limit"`
}

type BatchResponse struct {
	Reports []analysis.Report `json:"Reports"`
}

type LossRequest struct {
	Ybus     pu.Matrix `json:"Ybus"`
	Voltages pu.Vector `json:"Voltages"`
}

type LossResponse struct {
	Loss       float64    `json:"Loss"`
	SlackPower pu.Complex `json:"SlackPower"`
	Injections pu.Vector  `json:"Injections"`
}

// FaultRequest names the faulted bus by its 1-based bus number.
type FaultRequest struct {
	Matrix   pu.Matrix `json:"Matrix"`
	IsZbus   bool      `json:"IsZbus"`
	Prefault pu.Vector `json:"Prefault"`
	FaultBus int       `json:"FaultBus"`
}

type FaultResponse struct {
	FaultBus     int        `json:"FaultBus"`
	FaultCurrent pu.Complex `json:"FaultCurrent"`
	Voltages     pu.Vector  `json:"Voltages"`
	Injections   pu.Vector  `json:"Injections"`
}

// YbusHandler builds the admittance matrix of a branch list.
func (s *Server) YbusHandler(w http.ResponseWriter, r *http.Request) {
	req := YbusRequest{}
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	var y *mat.CDense
	err := s.session(s.config.Session, func(sess *analysis.Session) error {
		var err error
		y, err = sess.BuildYbus(req.Branches)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, YbusResponse{Ybus: pu.FromDense(y)})
}

func (req PowerFlowRequest) ybus() (mat.CMatrix, error) {
	if len(req.Ybus) > 0 {
		return req.Ybus.Dense()
	}
	if len(req.Branches) > 0 {
		return ybus.Build(req.Branches)
	}
	return nil, fmt.Errorf("%w: one of Ybus or Branches is required", errBadRequest)
}

// PowerFlowHandler solves one operating point. An unconverged solve is still
// answered with 200 and Converged set to false unless the solver is strict.
func (s *Server) PowerFlowHandler(w http.ResponseWriter, r *http.Request) {
	req := PowerFlowRequest{}
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	y, err := req.ybus()
	if err != nil {
		writeError(w, err)
		return
	}

	cfg := s.config.Session
	cfg.Solver = req.Solver.Apply(cfg.Solver)

	var report analysis.Report
	err = s.session(cfg, func(sess *analysis.Session) error {
		var err error
		report, err = sess.PowerFlow(y, req.Injections.Complex128(), req.Initial.Complex128())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CaseHandler solves a case description.
func (s *Server) CaseHandler(w http.ResponseWriter, r *http.Request) {
	c := analysis.Case{}
	if err := s.decode(w, r, &c); err != nil {
		writeError(w, err)
		return
	}
	var report analysis.Report
	err := s.session(s.config.Session, func(sess *analysis.Session) error {
		var err error
		report, err = sess.Case(c)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// BatchHandler solves independent cases concurrently.
func (s *Server) BatchHandler(w http.ResponseWriter, r *http.Request) {
	req := BatchRequest{}
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	limit := s.config.BatchLimit
	if req.Limit > 0 && (limit <= 0 || req.Limit < limit) {
		limit = req.Limit
	}
	reports, err := analysis.SolveBatch(r.Context(), s.config.Session, s.pub, req.Cases, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{Reports: reports})
}

// LossHandler evaluates the losses of a voltage profile.
func (s *Server) LossHandler(w http.ResponseWriter, r *http.Request) {
	req := LossRequest{}
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	y, err := req.Ybus.Dense()
	if err != nil {
		writeError(w, err)
		return
	}
	v := req.Voltages.Complex128()

	resp := LossResponse{}
	err = s.session(s.config.Session, func(sess *analysis.Session) error {
		total, err := sess.Loss(y, v)
		if err != nil {
			return err
		}
		injections, err := loss.Injections(y, v)
		if err != nil {
			return err
		}
		resp.Loss = total
		resp.SlackPower = pu.Complex(injections[0])
		resp.Injections = pu.FromComplex128(injections)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// FaultHandler applies a bolted fault.
func (s *Server) FaultHandler(w http.ResponseWriter, r *http.Request) {
	req := FaultRequest{}
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := req.Matrix.Dense()
	if err != nil {
		writeError(w, err)
		return
	}
	bus, err := ybus.Index(req.FaultBus)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := FaultResponse{FaultBus: req.FaultBus}
	err = s.session(s.config.Session, func(sess *analysis.Session) error {
		res, err := sess.Fault(m, req.IsZbus, req.Prefault.Complex128(), bus)
		if err != nil {
			return err
		}
		resp.FaultCurrent = pu.Complex(res.FaultCurrent)
		resp.Voltages = pu.FromComplex128(res.Voltages)
		resp.Injections = pu.FromComplex128(res.Injections)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunsHandler lists recent stored runs. ?limit=N bounds the list.
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, errNoStore)
		return
	}
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, fmt.Errorf("%w: limit %q", errBadRequest, q))
			return
		}
		limit = n
	}
	runs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// RunHandler returns one stored report.
func (s *Server) RunHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if s.store == nil {
		writeError(w, errNoStore)
		return
	}
	pid, err := uuid.Parse(vars["pid"])
	if err != nil {
		writeError(w, fmt.Errorf("%w: malformed UUID: %v", errBadRequest, err))
		return
	}
	report, err := s.store.Report(r.Context(), pid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
