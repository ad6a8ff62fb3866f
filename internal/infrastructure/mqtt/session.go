package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tvcwb/boardbridge/internal/infrastructure/config"
)

// maxPayloadSize caps outbound payloads (1MB).
const maxPayloadSize = 1 << 20

// EventKind identifies what happened on a session.
type EventKind int

const (
	// EventMessage carries an inbound message.
	EventMessage EventKind = iota + 1
	// EventConnectionLost reports that the broker dropped the session.
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Event is a broker callback turned into a value. Events from every
// session go to one channel, which the owner drains from a single goroutine.
type Event struct {
	Kind EventKind
	// SessionID tells events of a replaced session apart from current ones.
	SessionID uint64
	Topic     string
	Payload   []byte
	Err       error
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Dialer opens broker sessions. Each Dial is one connect attempt.
type Dialer struct {
	cfg    config.MQTTConfig
	logger Logger
	nextID atomic.Uint64
}

// NewDialer creates a Dialer using the auth, TLS and QoS settings of cfg.
// logger may be nil.
func NewDialer(cfg config.MQTTConfig, logger Logger) *Dialer {
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial connects to ep and returns the session. Messages received on later
// subscriptions and the loss of the connection are sent to events until
// the session is closed.
//
// Dial returns ErrConnectionFailed if the broker refuses, the endpoint's
// connect timeout passes, or ctx is cancelled first.
func (d *Dialer) Dial(ctx context.Context, ep Endpoint, events chan<- Event) (*Session, error) {
	s := &Session{
		id:     d.nextID.Add(1),
		qos:    byte(d.cfg.QoS),
		events: events,
		done:   make(chan struct{}),
		logger: d.logger,
	}

	opts := buildClientOptions(d.cfg, ep)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.emit(Event{Kind: EventConnectionLost, SessionID: s.id, Err: err})
	})
	s.client = pahomqtt.NewClient(opts)

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		s.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, ep.URL(d.cfg.Broker.TLS), err)
	}
	return s, nil
}

// Session is one live broker connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Session struct {
	id     uint64
	client pahomqtt.Client
	qos    byte
	events chan<- Event
	logger Logger

	done      chan struct{}
	closeOnce sync.Once
}

// ID returns the session's identifier, unique per Dialer.
func (s *Session) ID() uint64 {
	return s.id
}

// Subscribe subscribes to topic; every matching message becomes an
// EventMessage.
func (s *Session) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Subscribe(topic, qos, s.messageHandler())
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Publish sends a non-retained message at the configured QoS and waits for
// the broker to acknowledge it.
func (s *Session) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected reports whether the session is open and paho still holds
// the connection.
func (s *Session) IsConnected() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	return s.client != nil && s.client.IsConnectionOpen()
}

// Close disconnects and stops event delivery. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		// Unblock handlers first so Disconnect does not wait on them.
		close(s.done)
		if s.client != nil {
			s.client.Disconnect(defaultDisconnectQuiesce)
		}
	})
}

// emit delivers ev unless the session has been closed.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// messageHandler converts paho messages into events, recovering from
// panics so one bad message cannot take down paho's router.
func (s *Session) messageHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil && s.logger != nil {
				s.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())
		s.emit(Event{
			Kind:      EventMessage,
			SessionID: s.id,
			Topic:     msg.Topic(),
			Payload:   payload,
		})
	}
}
