package analysis

import (
	"errors"
	"math/cmplx"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gonum.org/v1/gonum/mat"
	"gotest.tools/v3/assert"

	"github.com/ohowland/cgc_powerflow/internal/pkg/metrics"
	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
	"github.com/ohowland/cgc_powerflow/internal/pkg/powerflow"
)

func twoBus() (*mat.CDense, []complex128) {
	y := mat.NewCDense(2, 2, []complex128{
		4 - 8i, -4 + 8i,
		-4 + 8i, 4 - 8i,
	})
	return y, []complex128{0, -(0.5 + 0.2i)}
}

func receive(t *testing.T, ch <-chan msg.Msg) msg.Msg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return msg.Msg{}
}

func TestSessionLifecycleEvents(t *testing.T) {
	pub := msg.NewPublisher(uuid.New())
	ch, err := pub.Subscribe(uuid.New(), msg.Session)
	assert.NilError(t, err)

	s, err := Open(DefaultConfig(), pub)
	assert.NilError(t, err)

	opened := receive(t, ch)
	assert.Equal(t, opened.PID(), s.PID())
	assert.Equal(t, opened.Payload().(Event).State, Opened)

	assert.NilError(t, s.Close())
	closed := receive(t, ch)
	assert.Equal(t, closed.Payload().(Event).State, Closed)

	// second close is silent
	assert.NilError(t, s.Close())
	assert.Equal(t, len(ch), 0)
}

func TestClosedSessionRejectsWork(t *testing.T) {
	s, err := Open(DefaultConfig(), nil)
	assert.NilError(t, err)
	assert.NilError(t, s.Close())

	y, p := twoBus()
	_, err = s.PowerFlow(y, p, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Loss(y, []complex128{1, 1})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Fault(y, false, []complex128{1, 1}, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.BuildYbus(threeBusCase().Branches)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Case(threeBusCase())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRunAlwaysCloses(t *testing.T) {
	before := testutil.ToFloat64(metrics.SessionsOpen)
	boom := errors.New("boom")

	var kept *Session
	err := Run(DefaultConfig(), nil, func(s *Session) error {
		kept = s
		return nil
	})
	assert.NilError(t, err)
	assert.Assert(t, kept.Closed())

	err = Run(DefaultConfig(), nil, func(s *Session) error {
		kept = s
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Assert(t, kept.Closed())

	err = Run(DefaultConfig(), nil, func(s *Session) error {
		kept = s
		panic("solver exploded")
	})
	assert.ErrorIs(t, err, ErrPanic)
	assert.Assert(t, kept.Closed())

	assert.Equal(t, testutil.ToFloat64(metrics.SessionsOpen), before)
}

func TestPowerFlowPublishesReport(t *testing.T) {
	pub := msg.NewPublisher(uuid.New())
	results, err := pub.Subscribe(uuid.New(), msg.Result)
	assert.NilError(t, err)
	iterations, err := pub.Subscribe(uuid.New(), msg.Iteration)
	assert.NilError(t, err)

	cfg := DefaultConfig()
	cfg.StreamIterations = true
	y, p := twoBus()

	err = Run(cfg, pub, func(s *Session) error {
		report, err := s.PowerFlow(y, p, nil)
		assert.NilError(t, err)
		assert.Assert(t, report.Converged)
		assert.Equal(t, report.Iterations, 4)
		assert.Equal(t, report.Session, s.PID())
		assert.Equal(t, len(report.Buses), 2)
		assert.Equal(t, report.Buses[0].Bus, 1)
		assert.Equal(t, report.Buses[1].Bus, 2)
		assert.Assert(t, cmplx.Abs(complex128(report.Buses[1].Voltage)-(0.9913249086229535-0.05999918442285801i)) < 1e-12)
		assert.Assert(t, report.Buses[1].Magnitude < 1)
		assert.Assert(t, report.Buses[1].AngleDeg < 0)
		assert.Assert(t, report.Loss > 0)

		published := receive(t, results)
		assert.Equal(t, published.Payload().(Report).RunID, report.RunID)
		assert.Equal(t, len(iterations), report.Iterations)

		first := receive(t, iterations).Payload().(Progress)
		assert.Equal(t, first.Index, 1)
		assert.Equal(t, first.RunID, report.RunID)
		return nil
	})
	assert.NilError(t, err)
}

func TestWatchSeesEveryPass(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Solver = powerflow.Config{Tolerance: -1, MaxIterations: 300}
	y, p := twoBus()

	err := Run(cfg, msg.NewPublisher(uuid.New()), func(s *Session) error {
		seen := make([]int, 0)
		s.Watch(func(pr Progress) {
			seen = append(seen, pr.Index)
		})
		report, err := s.PowerFlow(y, p, nil)
		assert.NilError(t, err)
		assert.Equal(t, report.Iterations, 300)
		assert.Equal(t, len(seen), 300)
		assert.Equal(t, seen[299], 300)
		return nil
	})
	assert.NilError(t, err)
}

func TestPowerFlowStrict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Solver = powerflow.Config{Tolerance: powerflow.DefaultTolerance, MaxIterations: 2, Strict: true}
	y, p := twoBus()

	err := Run(cfg, nil, func(s *Session) error {
		report, err := s.PowerFlow(y, p, nil)
		assert.ErrorIs(t, err, powerflow.ErrNotConverged)
		assert.Assert(t, !report.Converged)
		assert.Equal(t, report.Iterations, 2)
		return nil
	})
	assert.NilError(t, err)
}

func TestPowerFlowValidation(t *testing.T) {
	y, _ := twoBus()
	err := Run(DefaultConfig(), nil, func(s *Session) error {
		_, err := s.PowerFlow(y, []complex128{0}, nil)
		return err
	})
	assert.ErrorIs(t, err, powerflow.ErrDimension)
}

func TestLossAfterLoad(t *testing.T) {
	y, p := twoBus()
	err := Run(DefaultConfig(), nil, func(s *Session) error {
		base, err := s.PowerFlow(y, p, nil)
		assert.NilError(t, err)

		loaded, err := s.LossAfterLoad(y, p, nil, 1, 0.2+0.1i)
		assert.NilError(t, err)
		assert.Assert(t, loaded.Loss > base.Loss)
		assert.Assert(t, loaded.Buses[1].Magnitude < base.Buses[1].Magnitude)

		_, err = s.LossAfterLoad(y, p, nil, 0, 1)
		assert.ErrorIs(t, err, ErrSlackBus)
		_, err = s.LossAfterLoad(y, p, nil, 2, 1)
		assert.ErrorIs(t, err, ErrCase)
		return nil
	})
	assert.NilError(t, err)
}

func TestSessionFault(t *testing.T) {
	z := mat.NewCDense(2, 2, []complex128{0.2i, 0.1i, 0.1i, 0.3i})
	err := Run(DefaultConfig(), nil, func(s *Session) error {
		res, err := s.Fault(z, true, []complex128{1, 1}, 1)
		assert.NilError(t, err)
		assert.Assert(t, cmplx.Abs(res.FaultCurrent-(-1i/0.3)) < 1e-9)
		assert.Assert(t, cmplx.Abs(res.Voltages[0]-2.0/3) < 1e-9)
		assert.Equal(t, res.Voltages[1], complex128(0))
		return nil
	})
	assert.NilError(t, err)
}
