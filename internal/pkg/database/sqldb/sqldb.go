package sqldb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
)

// Handler persists every report published on msg.Result.
type Handler struct {
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config Config
	store  *Store
	system msg.Publisher
	once   *sync.Once
}

// Config names the database. DSN, when set, is passed to the driver as is;
// otherwise one is assembled from the remaining fields.
type Config struct {
	Driver   string `json:"Driver"`
	DSN      string `json:"DSN"`
	Server   string `json:"Server"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Database string `json:"Database"`
}

// ReadConfig loads a handler configuration file. CGCPF_SQL_DSN overrides the DSN.
func ReadConfig(configPath string) (Config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	if dsn, ok := os.LookupEnv("CGCPF_SQL_DSN"); ok {
		cfg.DSN = dsn
	}
	return cfg, nil
}

// Source returns the data source name for the configured driver.
func (c Config) Source() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	switch c.Driver {
	case MySQL:
		return fmt.Sprintf("%v:%v@tcp(%v:%v)/%v", c.Username, c.Password, c.Server, c.Port, c.Database), nil
	case Postgres:
		return fmt.Sprintf("host=%v port=%v user=%v password=%v dbname=%v sslmode=disable",
			c.Server, c.Port, c.Username, c.Password, c.Database), nil
	case SQLite:
		return c.Database, nil
	}
	return "", fmt.Errorf("%w: %q", ErrDriver, c.Driver)
}

// New opens the configured database and subscribes to results.
func New(configPath string, system msg.Publisher) (Handler, error) {
	cfg, err := ReadConfig(configPath)
	if err != nil {
		return Handler{}, err
	}
	dsn, err := cfg.Source()
	if err != nil {
		return Handler{}, err
	}
	store, err := Open(cfg.Driver, dsn)
	if err != nil {
		return Handler{}, err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		store.Close()
		return Handler{}, err
	}
	inbox, err := system.Subscribe(pid, msg.Result)
	if err != nil {
		store.Close()
		return Handler{}, err
	}

	return Handler{
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		store:  store,
		system: system,
		once:   &sync.Once{},
	}, nil
}

// PID is an accessor for the handler's process id.
func (h Handler) PID() uuid.UUID {
	return h.pid
}

// Store exposes the underlying store for queries.
func (h Handler) Store() *Store {
	return h.store
}

// Stop unsubscribes the handler. Reports already queued are still written
// before Process returns. It is safe to call more than once.
func (h Handler) Stop() {
	h.once.Do(func() { h.system.Unsubscribe(h.pid) })
}

// Process writes incoming reports until the subscription is closed by Stop.
// The store is closed on return.
func (h Handler) Process() {
	defer h.store.Close()
	log.Printf("[SQL] Process Start (%v)\n", h.config.Driver)
	for m := range h.inbox {
		h.save(m)
	}
	log.Println("[SQL] Process Shutdown")
}

func (h Handler) save(m msg.Msg) {
	report, ok := m.Payload().(analysis.Report)
	if !ok {
		log.Printf("[SQL] unexpected payload %T from %v\n", m.Payload(), m.PID())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.SaveReport(ctx, report); err != nil {
		log.Printf("[SQL] error %s saving run %v\n", err, report.RunID)
	}
}
