package webservice

import (
	"bytes"
	"context"
	"encoding/json"
	"math/cmplx"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"gotest.tools/v3/assert"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
	"github.com/ohowland/cgc_powerflow/internal/pkg/database/sqldb"
	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
	"github.com/ohowland/cgc_powerflow/internal/pkg/powerflow"
	"github.com/ohowland/cgc_powerflow/internal/pkg/pu"
	"github.com/ohowland/cgc_powerflow/internal/pkg/ybus"
)

func makeRouter(store *sqldb.Store) *mux.Router {
	return NewServer(DefaultConfig(), msg.NewPublisher(uuid.New()), store).Router()
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		assert.NilError(t, err)
		reader = bytes.NewReader(data)
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, "http://example.com"+path, reader)
	router.ServeHTTP(w, r)
	return w
}

func twoBusYbus() pu.Matrix {
	return pu.Matrix{
		{4 - 8i, -4 + 8i},
		{-4 + 8i, 4 - 8i},
	}
}

func threeBusCase() analysis.Case {
	return analysis.Case{
		Name: "three bus",
		Branches: []ybus.Branch{
			{From: 1, To: 2, R: 0.03, X: 0.08, Ratio: 1, Shunt: 0.04},
			{From: 1, To: 3, R: 0.02, X: 0.05, Ratio: 1, Shunt: 0.02},
			{From: 2, To: 3, R: 0.01, X: 0.03, Ratio: 1, Shunt: 0.03},
		},
		Loads: map[int]pu.Complex{2: -0.5, 3: -0.3},
	}
}

func TestReadConfig(t *testing.T) {
	cfg, err := ReadConfig("./webservice_test_config.json")
	assert.NilError(t, err)
	assert.Equal(t, cfg.Addr, ":9090")
	assert.Equal(t, cfg.BatchLimit, 2)
	assert.Equal(t, cfg.MaxBody, int64(8<<20))
	assert.Equal(t, cfg.Session.Solver.Tolerance, 1e-6)
	assert.Equal(t, cfg.Session.Solver.MaxIterations, powerflow.DefaultMaxIterations)
}

func TestBase(t *testing.T) {
	w := do(t, makeRouter(nil), "GET", "/", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Header().Get("Content-Type"), "application/json; charset=UTF-8")
}

func TestYbus(t *testing.T) {
	w := do(t, makeRouter(nil), "POST", "/ybus", YbusRequest{Branches: []ybus.Branch{{From: 1, To: 2, R: 0.05, X: 0.1}}})
	assert.Equal(t, w.Code, http.StatusOK)

	resp := YbusResponse{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, len(resp.Ybus), 2)
	assert.Assert(t, cmplx.Abs(complex128(resp.Ybus[0][0])-(4-8i)) < 1e-9)
	assert.Assert(t, cmplx.Abs(complex128(resp.Ybus[0][1])-(-4+8i)) < 1e-9)

	w = do(t, makeRouter(nil), "POST", "/ybus", YbusRequest{Branches: []ybus.Branch{{From: 1, To: 1, R: 0.05}}})
	assert.Equal(t, w.Code, http.StatusUnprocessableEntity)
}

func TestPowerFlow(t *testing.T) {
	router := makeRouter(nil)
	req := PowerFlowRequest{Ybus: twoBusYbus(), Injections: pu.Vector{0, -(0.5 + 0.2i)}}

	w := do(t, router, "POST", "/powerflow", req)
	assert.Equal(t, w.Code, http.StatusOK)
	report := analysis.Report{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Assert(t, report.Converged)
	assert.Equal(t, report.Iterations, 4)
	assert.Assert(t, cmplx.Abs(report.Voltages()[1]-(0.9913249086229535-0.05999918442285801i)) < 1e-12)

	// the same network given as branches
	req = PowerFlowRequest{Branches: []ybus.Branch{{From: 1, To: 2, R: 0.05, X: 0.1}}, Injections: pu.Vector{0, -(0.5 + 0.2i)}}
	w = do(t, router, "POST", "/powerflow", req)
	assert.Equal(t, w.Code, http.StatusOK)
}

func TestPowerFlowUnconverged(t *testing.T) {
	router := makeRouter(nil)
	budget := 2
	req := PowerFlowRequest{
		Ybus:       twoBusYbus(),
		Injections: pu.Vector{0, -(0.5 + 0.2i)},
		Solver:     &powerflow.Override{MaxIterations: &budget},
	}
	w := do(t, router, "POST", "/powerflow", req)
	assert.Equal(t, w.Code, http.StatusOK)
	report := analysis.Report{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Assert(t, !report.Converged)
	assert.Equal(t, report.Iterations, 2)

	strict := true
	req.Solver.Strict = &strict
	w = do(t, router, "POST", "/powerflow", req)
	assert.Equal(t, w.Code, http.StatusUnprocessableEntity)
}

func TestPowerFlowPartialSolver(t *testing.T) {
	router := makeRouter(nil)
	body := `{"Ybus": [["4-8j", "-4+8j"], ["-4+8j", "4-8j"]], "Injections": [0, "-0.5-0.2j"], "Solver": {"MaxIterations": 50}}`
	w := do(t, router, "POST", "/powerflow", body)
	assert.Equal(t, w.Code, http.StatusOK)

	report := analysis.Report{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Assert(t, report.Converged)
	assert.Equal(t, report.Iterations, 4)
}

func TestPowerFlowRejectsBadInput(t *testing.T) {
	router := makeRouter(nil)

	w := do(t, router, "POST", "/powerflow", PowerFlowRequest{Ybus: twoBusYbus(), Injections: pu.Vector{0}})
	assert.Equal(t, w.Code, http.StatusUnprocessableEntity)
	resp := ErrorResponse{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Assert(t, strings.Contains(resp.Error, "dimension"))

	w = do(t, router, "POST", "/powerflow", PowerFlowRequest{Ybus: pu.Matrix{{0, 1}, {1, 1}}, Injections: pu.Vector{0, 0}})
	assert.Equal(t, w.Code, http.StatusUnprocessableEntity)

	w = do(t, router, "POST", "/powerflow", `{"Ybus": [[1, 2], [3]], "Injections": [0, 0]}`)
	assert.Equal(t, w.Code, http.StatusUnprocessableEntity)

	w = do(t, router, "POST", "/powerflow", `{"Injections": [0, 0]}`)
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = do(t, router, "POST", "/powerflow", `{"Ybus": `)
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = do(t, router, "GET", "/powerflow", nil)
	assert.Equal(t, w.Code, http.StatusMethodNotAllowed)
}

func TestCase(t *testing.T) {
	router := makeRouter(nil)
	w := do(t, router, "POST", "/case", threeBusCase())
	assert.Equal(t, w.Code, http.StatusOK)

	report := analysis.Report{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, report.Name, "three bus")
	assert.Equal(t, len(report.Buses), 3)
	assert.Assert(t, report.Loss > 0)

	islanded := threeBusCase()
	islanded.Buses = 4
	w = do(t, router, "POST", "/case", islanded)
	assert.Equal(t, w.Code, http.StatusUnprocessableEntity)
}

func TestBatch(t *testing.T) {
	light := threeBusCase()
	light.Name = "light"
	light.Loads = map[int]pu.Complex{2: -0.1}
	heavy := threeBusCase()
	heavy.Name = "heavy"

	w := do(t, makeRouter(nil), "POST", "/batch", BatchRequest{Cases: []analysis.Case{light, heavy}, Limit: 1})
	assert.Equal(t, w.Code, http.StatusOK)

	resp := BatchResponse{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, len(resp.Reports), 2)
	assert.Equal(t, resp.Reports[0].Name, "light")
	assert.Equal(t, resp.Reports[1].Name, "heavy")
	assert.Assert(t, resp.Reports[0].Loss < resp.Reports[1].Loss)
}

func TestLoss(t *testing.T) {
	router := makeRouter(nil)
	w := do(t, router, "POST", "/loss", LossRequest{Ybus: twoBusYbus(), Voltages: pu.Vector{1, 0.9464 - 0.0828i}})
	assert.Equal(t, w.Code, http.StatusOK)

	resp := LossResponse{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Assert(t, resp.Loss > 0.038915 && resp.Loss < 0.038916, "loss %v", resp.Loss)
	assert.Assert(t, cmplx.Abs(complex128(resp.SlackPower)-(0.8768+0.0976i)) < 1e-9)
	assert.Equal(t, len(resp.Injections), 2)

	w = do(t, router, "POST", "/loss", LossRequest{Ybus: twoBusYbus(), Voltages: pu.Vector{1}})
	assert.Equal(t, w.Code, http.StatusUnprocessableEntity)
}

func TestFault(t *testing.T) {
	router := makeRouter(nil)
	req := FaultRequest{
		Matrix:   pu.Matrix{{0.2i, 0.1i}, {0.1i, 0.3i}},
		IsZbus:   true,
		Prefault: pu.Vector{1, 1},
		FaultBus: 2,
	}
	w := do(t, router, "POST", "/fault", req)
	assert.Equal(t, w.Code, http.StatusOK)

	resp := FaultResponse{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, resp.FaultBus, 2)
	assert.Assert(t, cmplx.Abs(complex128(resp.FaultCurrent)-(-1i/0.3)) < 1e-9)
	assert.Assert(t, cmplx.Abs(complex128(resp.Voltages[0])-2.0/3) < 1e-9)
	assert.Equal(t, resp.Voltages[1], pu.Complex(0))

	for _, bus := range []int{0, 3} {
		req.FaultBus = bus
		w = do(t, router, "POST", "/fault", req)
		assert.Equal(t, w.Code, http.StatusUnprocessableEntity, "fault bus %d", bus)
	}
}

func TestRunsWithoutStore(t *testing.T) {
	router := makeRouter(nil)
	assert.Equal(t, do(t, router, "GET", "/runs", nil).Code, http.StatusNotFound)
	assert.Equal(t, do(t, router, "GET", "/runs/"+uuid.New().String(), nil).Code, http.StatusNotFound)
}

func TestRunsWithStore(t *testing.T) {
	store, err := sqldb.Open(sqldb.SQLite, ":memory:")
	assert.NilError(t, err)
	defer store.Close()

	var report analysis.Report
	err = analysis.Run(analysis.DefaultConfig(), nil, func(s *analysis.Session) error {
		report, err = s.Case(threeBusCase())
		return err
	})
	assert.NilError(t, err)
	assert.NilError(t, store.SaveReport(context.Background(), report))

	router := makeRouter(store)
	w := do(t, router, "GET", "/runs/"+report.RunID.String(), nil)
	assert.Equal(t, w.Code, http.StatusOK)
	got := analysis.Report{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, got.RunID, report.RunID)
	assert.DeepEqual(t, got.Voltages(), report.Voltages())

	w = do(t, router, "GET", "/runs?limit=5", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	runs := []sqldb.Run{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Equal(t, len(runs), 1)

	assert.Equal(t, do(t, router, "GET", "/runs/"+uuid.New().String(), nil).Code, http.StatusNotFound)
	assert.Equal(t, do(t, router, "GET", "/runs/not-a-uuid", nil).Code, http.StatusBadRequest)
	assert.Equal(t, do(t, router, "GET", "/runs?limit=many", nil).Code, http.StatusBadRequest)
}

func TestMetrics(t *testing.T) {
	router := makeRouter(nil)
	do(t, router, "POST", "/powerflow", PowerFlowRequest{Ybus: twoBusYbus(), Injections: pu.Vector{0, -0.5}})

	w := do(t, router, "GET", "/metrics", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Assert(t, strings.Contains(w.Body.String(), "powerflow_solves_total"))
	assert.Assert(t, strings.Contains(w.Body.String(), "analysis_sessions_open"))
}

func streamCase(t *testing.T, c analysis.Case) []Frame {
	t.Helper()
	srv := httptest.NewServer(makeRouter(nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/powerflow/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	assert.NilError(t, conn.WriteJSON(c))

	frames := make([]Frame, 0)
	for {
		f := Frame{}
		assert.NilError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type != FrameIteration {
			return frames
		}
	}
}

func TestStream(t *testing.T) {
	frames := streamCase(t, threeBusCase())

	last := frames[len(frames)-1]
	assert.Equal(t, last.Type, FrameReport)
	assert.Assert(t, last.Report.Converged)
	assert.Equal(t, len(frames)-1, last.Report.Iterations)
	for k, f := range frames[:len(frames)-1] {
		assert.Equal(t, f.Iteration.Index, k+1)
		assert.Equal(t, f.Iteration.RunID, last.Report.RunID)
	}
}

func TestStreamLongSolveSendsEveryPass(t *testing.T) {
	tol, budget := -1.0, 500
	c := threeBusCase()
	c.Solver = &powerflow.Override{Tolerance: &tol, MaxIterations: &budget}

	frames := streamCase(t, c)
	last := frames[len(frames)-1]
	assert.Equal(t, last.Type, FrameReport)
	assert.Assert(t, !last.Report.Converged)
	assert.Equal(t, last.Report.Iterations, budget)
	assert.Equal(t, len(frames)-1, budget)
	assert.Equal(t, frames[budget-1].Iteration.Index, budget)
}

func TestStreamError(t *testing.T) {
	srv := httptest.NewServer(makeRouter(nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/powerflow/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	bad := threeBusCase()
	bad.Loads = map[int]pu.Complex{1: -1}
	assert.NilError(t, conn.WriteJSON(bad))

	f := Frame{}
	assert.NilError(t, conn.ReadJSON(&f))
	assert.Equal(t, f.Type, FrameError)
	assert.Assert(t, strings.Contains(f.Error, "slack"))
}
