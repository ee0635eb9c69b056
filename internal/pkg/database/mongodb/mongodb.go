package mongodb

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
	"github.com/ohowland/cgc_powerflow/internal/pkg/msg"
)

// Handler mirrors reports and session events into MongoDB.
type Handler struct {
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	system msg.Publisher
	once   *sync.Once
}

type config struct {
	URI        string `json:"URI"`
	Database   string `json:"Database"`
	Port       string `json:"Port"`
	Collection string `json:"Collection"`
}

const sessionCollection = "sessions"

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
	cfg := config{Collection: "runs"}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return config{}, err
	}
	if uri, ok := os.LookupEnv("CGCPF_MONGO_URI"); ok {
		cfg.URI = uri
	}
	return cfg, nil
}

func (c config) address() string {
	if c.Port == "" {
		return c.URI
	}
	return c.URI + ":" + c.Port
}

// New subscribes a handler to results and session events.
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

	chSession, err := system.Subscribe(pid, msg.Session)
	if err != nil {
		system.Unsubscribe(pid)
		return Handler{}, err
	}
	redirects.Add(1)
	go redirectMsg(chSession, inbox, redirects)

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

// PID is an accessor for the handler's process id.
func (h Handler) PID() uuid.UUID {
	return h.pid
}

func reportToBSON(r analysis.Report) bson.D {
	buses := bson.A{}
	for _, b := range r.Buses {
		v := complex128(b.Voltage)
		buses = append(buses, bson.M{
			"bus":       b.Bus,
			"re":        real(v),
			"im":        imag(v),
			"magnitude": b.Magnitude,
			"angle_deg": b.AngleDeg,
		})
	}
	slack := complex128(r.SlackPower)
	//TODO: pid and session should be written as a binary of subtype 0x04 (UUID standard).
	// currently written as a string.
	return bson.D{
		{Key: "$set", Value: bson.M{
			"pid":        r.RunID.String(),
			"session":    r.Session.String(),
			"name":       r.Name,
			"converged":  r.Converged,
			"iterations": r.Iterations,
			"max_delta":  r.MaxDelta,
			"loss":       r.Loss,
			"slack":      bson.M{"re": real(slack), "im": imag(slack)},
			"elapsed_ns": int64(r.Elapsed),
			"created":    r.Created,
			"buses":      buses,
		}},
	}
}

func eventToBSON(e analysis.Event) bson.D {
	fields := bson.M{
		"pid":   e.PID.String(),
		"state": string(e.State),
	}
	if e.State == analysis.Closed {
		fields["elapsed_ns"] = int64(e.Elapsed)
	}
	return bson.D{{Key: "$set", Value: fields}}
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

func (h Handler) upsert(ctx context.Context, coll *mongo.Collection, pid string, update bson.D) {
	opts := options.Update().SetUpsert(true)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := coll.UpdateOne(ctx, bson.M{"pid": pid}, update, opts); err != nil {
		log.Println("[Mongo]", err)
	}
}

// Process connects and writes incoming messages until Stop is called. Messages
// queued before Stop are still written.
func (h Handler) Process() {
	//TODO: Handle reconnection to the MongoDB resource
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(h.config.address()))
	if err != nil {
		log.Println("[Mongo]", err)
		h.discard()
		return
	}
	defer client.Disconnect(ctx)

	db := client.Database(h.config.Database)
	runs := db.Collection(h.config.Collection)
	sessions := db.Collection(sessionCollection)
	log.Println("[Mongo] Process Start")
	for m := range h.inbox {
		switch payload := m.Payload().(type) {
		case analysis.Report:
			h.upsert(ctx, runs, payload.RunID.String(), reportToBSON(payload))
		case analysis.Event:
			h.upsert(ctx, sessions, payload.PID.String(), eventToBSON(payload))
		default:
			log.Printf("[Mongo] unexpected %v payload %T\n", m.Topic(), payload)
		}
	}
	log.Println("[Mongo] Process Shutdown")
}
