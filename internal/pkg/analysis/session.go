/*
session.go An analysis session is the scoped context in which admittance matrices
are built, power flows solved and faults applied. Sessions are acquired with Open
and must be released with Close; Run does both and guarantees the release on every
exit path.
*/

package analysis

import (
	"errors"
	"fmt"
	"log"
	"math/cmplx"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/ohowland/cgc_powerflow/internal/pkg/fault"
	"github.com/ohowland/cgc_powerflow/internal/pkg/loss"
	"github.com/ohowland/cgc_powerflow/internal/pkg/metrics"
	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
	"github.com/ohowland/cgc_powerflow/internal/pkg/powerflow"
	"github.com/ohowland/cgc_powerflow/internal/pkg/pu"
	"github.com/ohowland/cgc_powerflow/internal/pkg/ybus"
)

var (
	ErrClosed    = errors.New("analysis: session is closed")
	ErrPanic     = errors.New("analysis: session aborted by panic")
	ErrNonFinite = errors.New("analysis: solution contains NaN or Inf")
	ErrSlackBus  = errors.New("analysis: operation not valid on the slack bus")
	ErrIslanded  = errors.New("analysis: buses unreachable from the slack")
	ErrCase      = errors.New("analysis: invalid case")
)

// Config represents the static properties of a session.
type Config struct {
	Solver           powerflow.Config `json:"Solver"`
	StreamIterations bool             `json:"StreamIterations"`
}

// DefaultConfig returns the default solver settings with iteration streaming off.
func DefaultConfig() Config {
	return Config{Solver: powerflow.DefaultConfig()}
}

// State is a session lifecycle state.
type State string

const (
	Opened State = "open"
	Closed State = "closed"
)

// Event is published on msg.Session when a session opens or closes.
type Event struct {
	PID     uuid.UUID     `json:"PID"`
	State   State         `json:"State"`
	Elapsed time.Duration `json:"Elapsed"`
}

// Progress is published on msg.Iteration after every solver pass when
// StreamIterations is set.
type Progress struct {
	Session  uuid.UUID `json:"Session"`
	RunID    uuid.UUID `json:"RunID"`
	Index    int       `json:"Index"`
	MaxDelta float64   `json:"MaxDelta"`
	Voltages pu.Vector `json:"Voltages"`
}

// Session is a single analysis context.
type Session struct {
	mux       *sync.Mutex
	pid       uuid.UUID
	publisher *msg.PubSub
	config    Config
	opened    time.Time
	closed    bool
	watch     func(Progress)
}

// Open acquires a session. pub may be nil, in which case nothing is published.
func Open(cfg Config, pub *msg.PubSub) (*Session, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	s := &Session{
		mux:       &sync.Mutex{},
		pid:       pid,
		publisher: pub,
		config:    cfg,
		opened:    time.Now(),
	}
	metrics.SessionsOpen.Inc()
	s.publish(msg.Session, Event{PID: pid, State: Opened})
	return s, nil
}

// Run opens a session, hands it to fn and closes it however fn returns.
func Run(cfg Config, pub *msg.PubSub, fn func(*Session) error) (err error) {
	s, err := Open(cfg, pub)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Analysis] session %v recovered: %v\n", s.PID(), r)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

// PID is an accessor for the session's process id.
func (s *Session) PID() uuid.UUID {
	return s.pid
}

// Config is an accessor for the session configuration.
func (s *Session) Config() Config {
	return s.config
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.closed
}

// Close releases the session. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return nil
	}
	s.closed = true
	s.mux.Unlock()

	metrics.SessionsOpen.Dec()
	s.publish(msg.Session, Event{PID: s.pid, State: Closed, Elapsed: time.Since(s.opened)})
	return nil
}

// Watch registers fn to be called synchronously after every solver pass of
// this session, whether or not StreamIterations is set. A nil fn removes it.
func (s *Session) Watch(fn func(Progress)) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.watch = fn
}

func (s *Session) check() error {
	if s.Closed() {
		return fmt.Errorf("%w: %v", ErrClosed, s.pid)
	}
	return nil
}

func (s *Session) publish(topic msg.Topic, payload interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.Forward(msg.New(s.pid, topic, payload))
}

// BuildYbus builds the admittance matrix of a branch list.
func (s *Session) BuildYbus(branches []ybus.Branch) (*mat.CDense, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return ybus.Build(branches)
}

// PowerFlow solves the network with the session's solver settings and
// publishes the report on msg.Result.
func (s *Session) PowerFlow(y mat.CMatrix, p, vInit []complex128) (Report, error) {
	return s.powerFlow(s.config.Solver, y, p, vInit)
}

func (s *Session) powerFlow(cfg powerflow.Config, y mat.CMatrix, p, vInit []complex128) (Report, error) {
	if err := s.check(); err != nil {
		return Report{}, err
	}

	runID := uuid.New()
	s.mux.Lock()
	watch := s.watch
	s.mux.Unlock()
	stream := s.config.StreamIterations && s.publisher != nil

	opts := make([]powerflow.Option, 0, 1)
	if watch != nil || stream {
		opts = append(opts, powerflow.WithObserver(func(it powerflow.Iteration) {
			p := Progress{
				Session:  s.pid,
				RunID:    runID,
				Index:    it.Index,
				MaxDelta: it.MaxDelta,
				Voltages: pu.FromComplex128(it.Voltages),
			}
			if watch != nil {
				watch(p)
			}
			if stream {
				s.publish(msg.Iteration, p)
			}
		}))
	}

	start := time.Now()
	res, solveErr := powerflow.New(cfg, opts...).Solve(y, p, vInit)
	elapsed := time.Since(start)
	if solveErr != nil && !errors.Is(solveErr, powerflow.ErrNotConverged) {
		return Report{}, solveErr
	}
	metrics.Observe(res.Converged, res.Iterations, elapsed)

	if !res.Finite() {
		return Report{}, fmt.Errorf("%w: after %d passes", ErrNonFinite, res.Iterations)
	}

	report := newReport(runID, s.pid, res, elapsed)
	ploss, err := loss.Total(y, res.Voltages)
	if err != nil {
		return Report{}, err
	}
	slack, err := loss.Slack(y, res.Voltages)
	if err != nil {
		return Report{}, err
	}
	report.Loss = ploss
	report.SlackPower = pu.Complex(slack)

	if !res.Converged {
		log.Printf("[Analysis] run %v did not converge in %d passes (delta %g)\n", runID, res.Iterations, res.MaxDelta)
	}
	s.publish(msg.Result, report)
	return report, solveErr
}

// Loss returns the total real power loss for a voltage profile.
func (s *Session) Loss(y mat.CMatrix, v []complex128) (float64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return loss.Total(y, v)
}

// LossAfterLoad adds load (consumed power, positive for a load) at the 0-based
// bus index, re-solves and returns the new operating point. The loss is in
// Report.Loss.
func (s *Session) LossAfterLoad(y mat.CMatrix, p, vInit []complex128, bus int, load complex128) (Report, error) {
	if err := s.check(); err != nil {
		return Report{}, err
	}
	if bus == 0 {
		return Report{}, ErrSlackBus
	}
	if bus < 0 || bus >= len(p) {
		return Report{}, fmt.Errorf("%w: bus index %d of %d", ErrCase, bus, len(p))
	}
	loaded := make([]complex128, len(p))
	copy(loaded, p)
	loaded[bus] -= load
	return s.PowerFlow(y, loaded, vInit)
}

// Fault applies a bolted fault at the 0-based bus index.
func (s *Session) Fault(m mat.CMatrix, isZbus bool, vPre []complex128, bus int) (fault.Result, error) {
	if err := s.check(); err != nil {
		return fault.Result{}, err
	}
	return fault.Analyze(m, isZbus, vPre, bus)
}

func magnitude(v complex128) float64 {
	return cmplx.Abs(v)
}
