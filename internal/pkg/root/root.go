package root

import (
	"log"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/ohowland/cgc_powerflow/internal/pkg/database/mongodb"
	"github.com/ohowland/cgc_powerflow/internal/pkg/database/sqldb"
	"github.com/ohowland/cgc_powerflow/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
	"github.com/ohowland/cgc_powerflow/internal/pkg/web"
)

// Environment variables naming the configuration file of each result sink.
const (
	MongoConfigEnv = "CGCPF_MONGO_CONFIG"
	SQLConfigEnv   = "CGCPF_SQL_CONFIG"
	NATSConfigEnv  = "CGCPF_NATS_CONFIG"
	WebConfigEnv   = "CGCPF_WEB_CONFIG"
)

// Handler is a long running subscriber of the system publisher.
type Handler interface {
	PID() uuid.UUID
	Process()
	Stop()
}

// System is the root node of the analysis service: it owns the publisher that
// sessions report to and the handlers subscribed to it.
type System struct {
	publisher *msg.PubSub
	handlers  []Handler
	store     *sqldb.Store
	wg        *sync.WaitGroup
}

// NewSystem returns a system with no handlers attached.
func NewSystem() System {
	return System{
		publisher: msg.NewPublisher(uuid.New()),
		handlers:  make([]Handler, 0),
		wg:        &sync.WaitGroup{},
	}
}

// Publisher is an accessor for the system publisher.
func (s *System) Publisher() *msg.PubSub {
	return s.publisher
}

// Store returns the SQL run store, or nil when no SQL sink is attached.
func (s *System) Store() *sqldb.Store {
	return s.store
}

// Attach adds a handler. It starts with the next call to Start.
func (s *System) Attach(h Handler) {
	s.handlers = append(s.handlers, h)
}

// Handlers returns the number of attached handlers.
func (s *System) Handlers() int {
	return len(s.handlers)
}

// AttachFromEnv builds every sink whose configuration file is named in the
// environment. Unset variables are skipped.
func (s *System) AttachFromEnv() error {
	if path, ok := os.LookupEnv(MongoConfigEnv); ok {
		h, err := mongodb.New(path, s.publisher)
		if err != nil {
			return err
		}
		log.Println("[Root] Attached MongoDB sink")
		s.Attach(h)
	}
	if path, ok := os.LookupEnv(SQLConfigEnv); ok {
		h, err := sqldb.New(path, s.publisher)
		if err != nil {
			return err
		}
		log.Printf("[Root] Attached SQL sink (%v)\n", h.Store().Driver())
		s.store = h.Store()
		s.Attach(h)
	}
	if path, ok := os.LookupEnv(NATSConfigEnv); ok {
		h, err := natshandler.New(path, s.publisher)
		if err != nil {
			return err
		}
		log.Println("[Root] Attached NATS sink")
		s.Attach(h)
	}
	if path, ok := os.LookupEnv(WebConfigEnv); ok {
		h, err := web.New(path, s.publisher)
		if err != nil {
			return err
		}
		log.Println("[Root] Attached web sink")
		s.Attach(h)
	}
	return nil
}

// Start launches every attached handler.
func (s *System) Start() {
	for _, h := range s.handlers {
		s.wg.Add(1)
		go func(h Handler) {
			defer s.wg.Done()
			h.Process()
		}(h)
	}
}

// Stop signals every handler and waits for them to return.
func (s *System) Stop() {
	for _, h := range s.handlers {
		h.Stop()
	}
	s.wg.Wait()
	log.Println("[Root] System Shutdown")
}
