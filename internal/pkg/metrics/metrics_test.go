package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
)

func TestObserve(t *testing.T) {
	before := testutil.ToFloat64(SolvesTotal.WithLabelValues("false"))

	Observe(false, 100, time.Millisecond)
	Observe(true, 4, time.Microsecond)

	assert.Equal(t, testutil.ToFloat64(SolvesTotal.WithLabelValues("false")), before+1)
	assert.Assert(t, testutil.ToFloat64(SolvesTotal.WithLabelValues("true")) >= 1)
	assert.Assert(t, testutil.CollectAndCount(SolveIterations) == 1)
}

func TestSessionsGauge(t *testing.T) {
	before := testutil.ToFloat64(SessionsOpen)
	SessionsOpen.Inc()
	assert.Equal(t, testutil.ToFloat64(SessionsOpen), before+1)
	SessionsOpen.Dec()
	assert.Equal(t, testutil.ToFloat64(SessionsOpen), before)
}
