// Package natsnotify forwards manager notifications to NATS.
//
// Every start and stop notification of an attached manager is published as
// a JSON Message on <prefix>.<manager>.<stream>, where stream is "start" or
// "stop":
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	n := natsnotify.New(nc, natsnotify.WithPrefix("plant"))
//	detach := n.Attach(pump)
//	defer detach()
package natsnotify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bft-labs/mgrkit/pkg/log"
	"github.com/bft-labs/mgrkit/pkg/manager"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "mgrkit"

// Publisher publishes raw payloads. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Message is the published payload.
type Message struct {
	Manager string    `json:"manager"`
	ID      string    `json:"id"`
	Stream  string    `json:"stream"`
	Phase   string    `json:"phase"`
	State   string    `json:"state"`
	Reason  string    `json:"reason,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Decode parses a published payload.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("natsnotify: decode: %w", err)
	}
	return m, nil
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPrefix sets the subject prefix. Default: DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(n *Notifier) {
		if prefix != "" {
			n.prefix = strings.TrimSuffix(prefix, ".")
		}
	}
}

// WithLogger sets the logger. If not provided, a no-op logger is used.
func WithLogger(l log.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// Notifier publishes manager notifications.
type Notifier struct {
	pub    Publisher
	prefix string
	logger log.Logger
}

// New creates a Notifier publishing through pub.
func New(pub Publisher, opts ...Option) *Notifier {
	n := &Notifier{
		pub:    pub,
		prefix: DefaultPrefix,
		logger: log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subject returns the subject name notifications of stream are published
// on for the named manager.
func (n *Notifier) Subject(name, stream string) string {
	return n.prefix + "." + token(name) + "." + stream
}

// Attach subscribes to m's start and stop notifications. The returned
// function detaches again.
func (n *Notifier) Attach(m manager.Manager) (detach func()) {
	start := m.EventStart().Subscribe(n.forward("start"))
	stop := m.EventStop().Subscribe(n.forward("stop"))
	return func() {
		m.EventStart().Unsubscribe(start)
		m.EventStop().Unsubscribe(stop)
	}
}

func (n *Notifier) forward(stream string) manager.Listener {
	return func(sender manager.Manager, e manager.EventArgs) {
		msg := Message{
			Manager: sender.Name(),
			ID:      sender.ID(),
			Stream:  stream,
			Phase:   e.Phase().String(),
			State:   e.State().String(),
			Reason:  e.Reason(),
			Time:    e.Time().UTC(),
		}
		if err := e.Err(); err != nil {
			msg.Error = err.Error()
		}

		data, err := json.Marshal(msg)
		if err != nil {
			n.logger.Error("encode notification", log.Err(err))
			return
		}
		subject := n.Subject(msg.Manager, stream)
		if err := n.pub.Publish(subject, data); err != nil {
			n.logger.Warn("publish notification",
				log.String("subject", subject),
				log.Err(err),
			)
		}
	}
}

// token makes name usable as a single subject token.
func token(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, name)
}

// Connect dials url with a client name and a bounded connect timeout, and
// logs connection state changes.
func Connect(url, name string, logger log.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", log.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", log.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsnotify: connect %s: %w", url, err)
	}
	return nc, nil
}
