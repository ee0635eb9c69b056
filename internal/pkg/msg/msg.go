package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic is the category of a published message.
type Topic int

const (
	// Session carries analysis session lifecycle events.
	Session Topic = iota
	// Result carries finished power-flow reports.
	Result
	// Iteration carries per-pass solver progress.
	Iteration
)

func (t Topic) String() string {
	switch t {
	case Session:
		return "session"
	case Result:
		return "result"
	case Iteration:
		return "iteration"
	}
	return "unknown"
}

// ErrSubscribed is returned when a pid subscribes twice to the same topic.
var ErrSubscribed = errors.New("msg: already subscribed to topic")

// Publisher is an interface for objects that allow subscribtion to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is the unit of exchange between a session and its subscribers.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the message category
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

const subscriberBuffer = 64

// PubSub fans messages out to subscribers by topic. Delivery never blocks the
// publisher: a subscriber whose buffer is full misses the message.
type PubSub struct {
	mux    *sync.Mutex
	pid    uuid.UUID
	topics map[Topic]map[uuid.UUID]chan Msg
}

// NewPublisher returns a PubSub that signs its messages with pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		mux:    &sync.Mutex{},
		pid:    pid,
		topics: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID is an accessor for the publisher's process id.
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns a channel on which the specified topic is broadcast
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	subs, ok := p.topics[topic]
	if !ok {
		subs = make(map[uuid.UUID]chan Msg)
		p.topics[topic] = subs
	}
	if _, exists := subs[pid]; exists {
		return nil, ErrSubscribed
	}
	ch := make(chan Msg, subscriberBuffer)
	subs[pid] = ch
	return ch, nil
}

// Unsubscribe pid from all topic broadcasts. Its channels are closed.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.topics {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			close(ch)
		}
	}
}

// Publish broadcasts payload on topic, signed by the publisher.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.Forward(New(p.pid, topic, payload))
}

// Forward broadcasts a message without re-signing it.
func (p *PubSub) Forward(m Msg) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, ch := range p.topics[m.Topic()] {
		select {
		case ch <- m:
		default:
		}
	}
}

// Subscribers returns the number of subscribers on topic.
func (p *PubSub) Subscribers(topic Topic) int {
	p.mux.Lock()
	defer p.mux.Unlock()
	return len(p.topics[topic])
}
