package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Listen subscribes the coordinator to the shared NATS subject and folds
// every inbound event into it. The returned subscription should be
// unsubscribed by the caller when the coordinator shuts down.
func (c *Coordinator) Listen(nc *nats.Conn, log *logrus.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = logrus.New()
	}
	return nc.Subscribe(reportSubject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.WithError(err).Warn("events: dropping malformed coordinator message")
			return
		}
		if err := c.Observe(ev); err != nil {
			log.WithError(err).Warn("events: failed to record reported event")
		}
	})
}
