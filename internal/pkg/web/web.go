package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
)

// Handler posts every published report to a remote HTTP endpoint.
type Handler struct {
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	client *http.Client
	system msg.Publisher
	once   *sync.Once
}

type config struct {
	URL     string `json:"URL"`
	Timeout int    `json:"Timeout"`
}

// New subscribes a handler to results.
func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{Timeout: 5000}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}
	inbox, err := system.Subscribe(pid, msg.Result)
	if err != nil {
		return Handler{}, err
	}

	return Handler{
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Millisecond},
		system: system,
		once:   &sync.Once{},
	}, nil
}

// PID is an accessor for the handler's process id.
func (h Handler) PID() uuid.UUID {
	return h.pid
}

// PostReport sends one report to <URL>/runs/<runID>.
func (h Handler) PostReport(r analysis.Report) error {
	jsonData, err := json.Marshal(r)
	if err != nil {
		return err
	}
	targetURL := strings.TrimRight(h.config.URL, "/") + "/runs/" + r.RunID.String()
	resp, err := h.client.Post(targetURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %v: %v", targetURL, resp.Status)
	}
	return nil
}

// Stop unsubscribes the handler. Reports already queued are still posted
// before Process returns. It is safe to call more than once.
func (h Handler) Stop() {
	h.once.Do(func() { h.system.Unsubscribe(h.pid) })
}

// Process posts reports until the subscription is closed by Stop.
func (h Handler) Process() {
	log.Println("[Web Handler] Process Start")
	for m := range h.inbox {
		report, ok := m.Payload().(analysis.Report)
		if !ok {
			continue
		}
		if err := h.PostReport(report); err != nil {
			log.Println("[Web Handler]", err)
		}
	}
	log.Println("[Web Handler] Process Shutdown")
}
