package natshandler

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
)

// Handler republishes power-flow reports, and optionally solver progress, to NATS.
type Handler struct {
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	system msg.Publisher
	once   *sync.Once
}

type config struct {
	Server     string `json:"Server"`
	Subject    string `json:"Subject"`
	Iterations bool   `json:"Iterations"`
}

// publisher is the subset of *nats.Conn used by the handler.
type publisher interface {
	Publish(subject string, data []byte) error
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg, wg *sync.WaitGroup) {
	defer wg.Done()
	for m := range chIn {
		chOut <- m
	}
}

func readConfig(configPath string) (config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return config{}, err
	}
	cfg := config{Server: nats.DefaultURL, Subject: "powerflow"}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return config{}, err
	}
	if server, ok := os.LookupEnv("CGCPF_NATS_URL"); ok {
		cfg.Server = server
	}
	return cfg, nil
}

// New subscribes a handler to results, and to iterations when configured.
func New(configPath string, system msg.Publisher) (Handler, error) {
	cfg, err := readConfig(configPath)
	if err != nil {
		return Handler{}, err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	inbox := make(chan msg.Msg, 50)
	redirects := &sync.WaitGroup{}

	chResult, err := system.Subscribe(pid, msg.Result)
	if err != nil {
		return Handler{}, err
	}
	redirects.Add(1)
	go redirectMsg(chResult, inbox, redirects)

	if cfg.Iterations {
		chIteration, err := system.Subscribe(pid, msg.Iteration)
		if err != nil {
			system.Unsubscribe(pid)
			return Handler{}, err
		}
		redirects.Add(1)
		go redirectMsg(chIteration, inbox, redirects)
	}

	// the inbox closes once every subscription has been released and drained
	go func() {
		redirects.Wait()
		close(inbox)
	}()

	return Handler{
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		system: system,
		once:   &sync.Once{},
	}, nil
}

// subjectFor returns the subject a message is published on: <Subject>.<runID>
// for reports, <Subject>.<runID>.iteration for solver progress.
func (h Handler) subjectFor(m msg.Msg) (string, bool) {
	switch payload := m.Payload().(type) {
	case analysis.Report:
		return fmt.Sprintf("%v.%v", h.config.Subject, payload.RunID), true
	case analysis.Progress:
		return fmt.Sprintf("%v.%v.iteration", h.config.Subject, payload.RunID), true
	}
	return "", false
}

func (h Handler) forward(nc publisher, m msg.Msg) error {
	subject, ok := h.subjectFor(m)
	if !ok {
		return fmt.Errorf("no subject for %v payload %T", m.Topic(), m.Payload())
	}
	data, err := json.Marshal(m.Payload())
	if err != nil {
		return err
	}
	return nc.Publish(subject, data)
}

// Stop unsubscribes the handler. Messages already queued are still delivered
// before Process returns. It is safe to call more than once.
func (h Handler) Stop() {
	h.once.Do(func() { h.system.Unsubscribe(h.pid) })
}

// discard releases the subscription when there is nowhere to deliver to.
func (h Handler) discard() {
	h.Stop()
	for range h.inbox {
	}
}

// Process connects and forwards incoming messages until Stop is called.
// Messages queued before Stop are still published.
func (h Handler) Process() {
	log.Println("[NATS client] Process Started")
	nc, err := nats.Connect(h.config.Server, nats.Name("cgcpf-"+h.pid.String()))
	if err != nil {
		log.Printf("[NATS client] unable to connect to %v: %v\n", h.config.Server, err)
		h.discard()
		return
	}
	defer nc.Close()

	for m := range h.inbox {
		if err := h.forward(nc, m); err != nil {
			log.Printf("[NATS client] unable to publish to nats server: %v\n", err)
		}
	}
	if err := nc.Flush(); err != nil {
		log.Printf("[NATS client] flush: %v\n", err)
	}
	log.Println("[NATS client] Process Shutdown")
}
