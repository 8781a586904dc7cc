package events

import (
	"sync"
	"time"
)

// Event is a single occurrence emitted during a run. Payload is left as
// free-form data so callers can attach whatever detail the event kind
// implies (task name, exit code, output chunk, ...).
type Event struct {
	ID        ULID                   `json:"id"`
	RunID     string                 `json:"run_id"`
	Kind      string                 `json:"kind"`
	Node      string                 `json:"node"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

const allTopic = "all"

// Bus is a process-local publish/subscribe hub. Every event is published
// to two topics: the run it belongs to, and the aggregate "all" topic, so
// a subscriber can either watch one run or everything flowing through the
// process.
type Bus struct {
	src *Source

	mu   sync.RWMutex
	subs map[string][]chan Event
}

func NewBus() *Bus {
	return &Bus{src: NewSource(), subs: make(map[string][]chan Event)}
}

// Emit stamps a monotonic ID and timestamp on ev and delivers it to every
// subscriber of ev.RunID and of the aggregate topic. Delivery is
// non-blocking: a subscriber whose channel is full misses the event rather
// than stalling the emitter.
func (b *Bus) Emit(ev Event) (Event, error) {
	id, err := b.src.New()
	if err != nil {
		return Event{}, err
	}
	ev.ID = id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
		}
	}
	if ev.RunID != allTopic {
		for _, ch := range b.subs[allTopic] {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return ev, nil
}

// Subscribe returns a channel receiving every event published to topic
// (a run ID, or the literal "all"). The returned func unsubscribes and
// closes the channel.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 256)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		peers := b.subs[topic]
		for i, c := range peers {
			if c == ch {
				b.subs[topic] = append(peers[:i], peers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}
