package webservice

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
	"github.com/ohowland/cgc_powerflow/internal/pkg/database/sqldb"
	"github.com/ohowland/cgc_powerflow/internal/pkg/fault"
	"github.com/ohowland/cgc_powerflow/internal/pkg/loss"
	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
	"github.com/ohowland/cgc_powerflow/internal/pkg/powerflow"
	"github.com/ohowland/cgc_powerflow/internal/pkg/pu"
	"github.com/ohowland/cgc_powerflow/internal/pkg/ybus"
)

const contentType = "application/json; charset=UTF-8"

// Config represents the static properties of the HTTP service.
type Config struct {
	Addr       string          `json:"Addr"`
	BatchLimit int             `json:"BatchLimit"`
	MaxBody    int64           `json:"MaxBody"`
	Session    analysis.Config `json:"Session"`
}

// DefaultConfig listens on :8080 with the default solver settings.
func DefaultConfig() Config {
	return Config{
		Addr:       ":8080",
		BatchLimit: 4,
		MaxBody:    8 << 20,
		Session:    analysis.DefaultConfig(),
	}
}

// ReadConfig overlays a configuration file on the defaults.
func ReadConfig(configPath string) (Config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Server exposes analysis sessions over HTTP. The store is optional.
type Server struct {
	config   Config
	pub      *msg.PubSub
	store    *sqldb.Store
	upgrader websocket.Upgrader
}

// NewServer returns a server publishing on pub. store may be nil, in which case
// the /runs endpoints answer 404.
func NewServer(cfg Config, pub *msg.PubSub, store *sqldb.Store) *Server {
	return &Server{
		config: cfg,
		pub:    pub,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router returns the route table of the service.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(wrapHandler)
	r.HandleFunc("/", BaseHandler).Methods("GET")
	r.HandleFunc("/ybus", s.YbusHandler).Methods("POST")
	r.HandleFunc("/powerflow", s.PowerFlowHandler).Methods("POST")
	r.HandleFunc("/powerflow/stream", s.StreamHandler).Methods("GET")
	r.HandleFunc("/case", s.CaseHandler).Methods("POST")
	r.HandleFunc("/batch", s.BatchHandler).Methods("POST")
	r.HandleFunc("/loss", s.LossHandler).Methods("POST")
	r.HandleFunc("/fault", s.FaultHandler).Methods("POST")
	r.HandleFunc("/runs", s.RunsHandler).Methods("GET")
	r.HandleFunc("/runs/{pid}", s.RunHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return r
}

// statusRecorder remembers the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("webservice: response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func wrapHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[Webservice] %v %v %d %v\n", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"Error"`
}

var errNoStore = errors.New("webservice: no run store configured")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Println("[Webservice] malformed JSON:", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{Error: err.Error()})
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Println("[Webservice]", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), ErrorResponse{Error: err.Error()})
}

// errorStatus maps a domain error to its HTTP status: input the analysis
// rejects is 422, a missing run is 404, anything else is 500.
func errorStatus(err error) int {
	var syntax *json.SyntaxError
	var unmarshal *json.UnmarshalTypeError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &syntax), errors.As(err, &unmarshal), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, sqldb.ErrNotFound), errors.Is(err, errNoStore):
		return http.StatusNotFound
	}
	for _, target := range unprocessable {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("webservice: bad request")

var unprocessable = []error{
	pu.ErrFormat, pu.ErrShape,
	ybus.ErrNoBranches, ybus.ErrBusNumber, ybus.ErrSelfLoop, ybus.ErrZeroImpedance, ybus.ErrRatio,
	powerflow.ErrEmpty, powerflow.ErrDimension, powerflow.ErrSingularDiagonal, powerflow.ErrZeroVoltage,
	powerflow.ErrConfig, powerflow.ErrNotConverged,
	analysis.ErrCase, analysis.ErrIslanded, analysis.ErrSlackBus, analysis.ErrNonFinite,
	fault.ErrDimension, fault.ErrBus, fault.ErrSingular,
	loss.ErrDimension,
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// session runs fn in a fresh analysis session.
func (s *Server) session(cfg analysis.Config, fn func(*analysis.Session) error) error {
	return analysis.Run(cfg, s.pub, fn)
}

// BaseHandler answers health checks.
func BaseHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"Status"`
	}{"ok"})
}
