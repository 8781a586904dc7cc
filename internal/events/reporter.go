package events

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	reporterBufferCap = 1000
	reportSubject     = "sykli.events"
)

// Reporter subscribes to a Bus's aggregate topic and forwards every event
// to the coordinator node over NATS. While disconnected, events are held
// in a fixed-size ring buffer (oldest dropped on overflow) and flushed in
// order once the connection comes back. High-volume task_output events
// skip the buffer entirely: they are only forwarded while connected.
type Reporter struct {
	log  *logrus.Logger
	node string

	mu     sync.Mutex
	nc     *nats.Conn
	buffer []Event
}

func NewReporter(node string, log *logrus.Logger) *Reporter {
	if log == nil {
		log = logrus.New()
	}
	return &Reporter{log: log, node: node}
}

// Connect dials the coordinator at url and flushes any buffered events.
// It is safe to call again after a disconnect to reconnect.
func (r *Reporter) Connect(url string) error {
	nc, err := nats.Connect(url,
		nats.ReconnectHandler(func(*nats.Conn) { r.onReconnect() }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				r.log.WithError(err).Warn("events: coordinator connection lost")
			}
		}),
	)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.nc = nc
	r.mu.Unlock()
	r.onReconnect()
	return nil
}

func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nc != nil {
		r.nc.Close()
		r.nc = nil
	}
}

// Watch drains ch (typically a Bus's "all" subscription) until it closes,
// forwarding every event.
func (r *Reporter) Watch(ch <-chan Event) {
	for ev := range ch {
		r.Report(ev)
	}
}

// Report forwards ev if connected, otherwise buffers it (unless it's a
// task_output event, which is dropped while disconnected).
func (r *Reporter) Report(ev Event) {
	if ev.Node == "" {
		ev.Node = r.node
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nc != nil && r.nc.IsConnected() {
		if err := r.publish(ev); err == nil {
			return
		}
	}
	if ev.Kind == "task_output" {
		return
	}
	r.buffer = append(r.buffer, ev)
	if len(r.buffer) > reporterBufferCap {
		r.buffer = r.buffer[len(r.buffer)-reporterBufferCap:]
	}
}

func (r *Reporter) publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.nc.Publish(reportSubject, data)
}

func (r *Reporter) onReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nc == nil || !r.nc.IsConnected() {
		return
	}
	pending := r.buffer
	r.buffer = nil
	for _, ev := range pending {
		if err := r.publish(ev); err != nil {
			r.log.WithError(err).Warn("events: failed flushing buffered event, re-queuing remainder")
			r.buffer = append(r.buffer, ev)
		}
	}
}
