package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tvcwb/boardbridge/internal/infrastructure/mqtt"
	"github.com/tvcwb/boardbridge/internal/metrics"
	"github.com/tvcwb/boardbridge/internal/registry"
)

// State is the broker connection state of a Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	defaultRetryDelay  = 5 * time.Second
	defaultOutageGrace = 120 * time.Second

	// eventBufferSize is the capacity of the channel sessions deliver into.
	eventBufferSize = 256

	// notifyTimeout bounds one outage notification, including the
	// recipient lookup.
	notifyTimeout = 30 * time.Second
)

// Session is an established broker session. *mqtt.Session implements it.
type Session interface {
	ID() uint64
	Subscribe(topic string, qos byte) error
	Publish(topic string, payload []byte) error
	Close()
}

// DialFunc makes one connect attempt to ep. Events for the returned
// session must carry its ID.
type DialFunc func(ctx context.Context, ep registry.BrokerEndpoint, events chan<- mqtt.Event) (Session, error)

// PahoDialer adapts an mqtt.Dialer to DialFunc.
func PahoDialer(d *mqtt.Dialer) DialFunc {
	return func(ctx context.Context, ep registry.BrokerEndpoint, events chan<- mqtt.Event) (Session, error) {
		sess, err := d.Dial(ctx, mqtt.Endpoint{
			Host:           ep.Hostname,
			Port:           ep.Port,
			ClientID:       ep.ClientID,
			ConnectTimeout: ep.ConnectTimeout,
		}, events)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// ManagerConfig configures the connection supervisor.
type ManagerConfig struct {
	// StatusWildcard is the subscription covering every board status topic.
	StatusWildcard string
	QoS            byte

	// RetryDelay is the fixed pause between failed connect attempts.
	RetryDelay time.Duration
	// OutageGrace is how long a lost session may stay down before
	// operators are notified.
	OutageGrace time.Duration

	// Recipients always receive outage notifications, in addition to
	// registry users who opted in.
	Recipients    []string
	SubjectPrefix string
	SiteID        string
}

// connectError tags a failed attempt with the error report type to file.
type connectError struct {
	kind registry.ErrorType
	err  error
}

func (e *connectError) Error() string { return e.err.Error() }
func (e *connectError) Unwrap() error { return e.err }

// Manager owns the broker session. It connects, subscribes to the status
// wildcard, feeds inbound messages one at a time to a MessageHandler, and
// reconnects after failures with a fixed delay, forever.
//
// Every failed attempt and every lost session appends Disconnected to the
// endpoint's connection history; every successful connect appends
// Connected. At most one outage notification is sent per episode between
// two successful connects: immediately when an attempt fails while no
// session has been lost, or after OutageGrace when an established session
// is lost and does not come back in time.
//
// Thread Safety:
//   - Publish, State and IsConnected are safe for concurrent use.
//   - Setters must be called before Start.
type Manager struct {
	cfg       ManagerConfig
	registry  Registry
	dial      DialFunc
	notifier  Notifier
	logger    Logger
	metrics   *metrics.Metrics
	observers observers
	now       func() time.Time

	events chan mqtt.Event

	// mu guards the session against publishes during reconnects.
	mu          sync.RWMutex
	state       State
	session     Session
	endpoint    registry.BrokerEndpoint
	downSince   time.Time
	lastConnErr error

	// notifyMu guards outage notification state shared with the grace timer.
	notifyMu   sync.Mutex
	notified   bool
	graceTimer *time.Timer
	episode    uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager that reads its endpoint from reg and opens
// sessions with dial.
func NewManager(cfg ManagerConfig, reg Registry, dial DialFunc) *Manager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.OutageGrace <= 0 {
		cfg.OutageGrace = defaultOutageGrace
	}
	return &Manager{
		cfg:      cfg,
		registry: reg,
		dial:     dial,
		logger:   noopLogger{},
		now:      time.Now,
		events:   make(chan mqtt.Event, eventBufferSize),
		state:    StateDisconnected,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetNotifier sets where outage notifications go. Without one, outages
// are only logged.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// SetMetrics sets the metrics collectors.
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// AddObserver registers an observer for connection records.
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Start runs the supervisor in the background until ctx is cancelled or
// Stop is called.
func (m *Manager) Start(ctx context.Context, handler MessageHandler) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.done != nil {
		select {
		case <-m.done:
		default:
			return ErrAlreadyRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, handler, m.done)
	return nil
}

// Stop closes the session, cancels a pending outage notification and waits
// for the supervisor to exit.
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the supervisor has exited.
func (m *Manager) Done() <-chan struct{} {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.done
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether a session is established.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Publish sends payload on topic through the current session. It fails
// fast with ErrNotConnected while no session is established and never
// runs concurrently with a reconnect.
func (m *Manager) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateConnected || m.session == nil {
		return ErrNotConnected
	}
	if err := m.session.Publish(topic, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, handler MessageHandler, done chan struct{}) {
	defer close(done)
	defer m.shutdown()

	m.logger.Info("connection manager started",
		"wildcard", m.cfg.StatusWildcard,
		"retry_delay", m.cfg.RetryDelay,
		"outage_grace", m.cfg.OutageGrace,
	)

	for {
		if err := m.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.connectFailed(ctx, err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.RetryDelay):
			}
			continue
		}

		if !m.serve(ctx, handler) {
			return
		}
	}
}

// connect makes one attempt: read the endpoint, dial, subscribe.
func (m *Manager) connect(ctx context.Context) error {
	m.setState(StateConnecting)

	ep, err := m.registry.LoadBrokerEndpoint(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return &connectError{
			kind: registry.ErrorDatabaseConnection,
			err:  fmt.Errorf("loading broker endpoint: %w", err),
		}
	}

	m.mu.Lock()
	m.endpoint = *ep
	m.mu.Unlock()

	sess, err := m.dial(ctx, *ep, m.events)
	if err != nil {
		m.setState(StateDisconnected)
		return &connectError{
			kind: registry.ErrorMQTTConnection,
			err:  fmt.Errorf("connecting to %s: %w", ep.Address(), err),
		}
	}

	if err := sess.Subscribe(m.cfg.StatusWildcard, m.cfg.QoS); err != nil {
		sess.Close()
		m.setState(StateDisconnected)
		return &connectError{
			kind: registry.ErrorMQTTConnection,
			err:  fmt.Errorf("subscribing to %s on %s: %w", m.cfg.StatusWildcard, ep.Address(), err),
		}
	}

	now := m.now()
	m.mu.Lock()
	m.session = sess
	m.state = StateConnected
	m.downSince = time.Time{}
	m.lastConnErr = nil
	m.mu.Unlock()

	m.cancelOutageTimer()
	m.metrics.ConnectAttempt(true)
	m.metrics.SetBrokerConnected(true)
	m.appendStatus(ctx, registry.StatusConnected, now, *ep)

	m.logger.Info("connected to broker",
		"broker", ep.Address(),
		"session", sess.ID(),
		"wildcard", m.cfg.StatusWildcard,
	)
	return nil
}

// connectFailed records a failed attempt and sends the immediate outage
// notification when no grace period is running.
func (m *Manager) connectFailed(ctx context.Context, err error) {
	now := m.now()

	m.mu.Lock()
	if m.downSince.IsZero() {
		m.downSince = now
	}
	m.lastConnErr = err
	ep := m.endpoint
	m.mu.Unlock()

	m.logger.Warn("broker connect failed",
		"broker", describeEndpoint(ep),
		"retry_in", m.cfg.RetryDelay,
		"error", err,
	)
	m.metrics.ConnectAttempt(false)
	m.appendStatus(ctx, registry.StatusDisconnected, now, ep)

	kind := registry.ErrorMQTTConnection
	var ce *connectError
	if errors.As(err, &ce) {
		kind = ce.kind
	}
	report := registry.ErrorReport{Timestamp: now, Type: kind, Details: err.Error()}
	if rerr := m.registry.CreateErrorReport(ctx, report); rerr != nil {
		m.logger.Error("failed to store error report", "error", rerr)
	}

	m.notifyMu.Lock()
	if m.notified || m.graceTimer != nil {
		m.notifyMu.Unlock()
		return
	}
	m.notified = true
	m.notifyMu.Unlock()

	m.sendOutageNotification(ctx, m.recipients(ctx))
}

// serve consumes events of the current session until it is lost (true) or
// ctx is cancelled (false).
func (m *Manager) serve(ctx context.Context, handler MessageHandler) bool {
	current := m.sessionID()

	for {
		select {
		case <-ctx.Done():
			return false

		case ev := <-m.events:
			if ev.SessionID != current {
				// Left over from a session that has already been replaced.
				continue
			}

			switch ev.Kind {
			case mqtt.EventMessage:
				m.metrics.MessageReceived()
				msg := Message{Topic: ev.Topic, Payload: ev.Payload, ReceivedAt: m.now()}
				if err := handler.HandleMessage(ctx, msg); err != nil {
					m.logger.Debug("message dropped", "topic", ev.Topic, "error", err)
				}

			case mqtt.EventConnectionLost:
				m.connectionLost(ctx, ev.Err)
				return true
			}
		}
	}
}

func (m *Manager) connectionLost(ctx context.Context, cause error) {
	now := m.now()

	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.state = StateDisconnected
	m.downSince = now
	m.lastConnErr = cause
	ep := m.endpoint
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}

	m.logger.Warn("broker connection lost",
		"broker", ep.Address(),
		"error", cause,
		"notify_after", m.cfg.OutageGrace,
	)
	m.metrics.SetBrokerConnected(false)
	m.appendStatus(ctx, registry.StatusDisconnected, now, ep)
	m.armOutageTimer(m.recipients(ctx))
}

// armOutageTimer starts the grace period for a lost session. The timer
// mails recipients, which are resolved here so that it never touches the
// registry.
func (m *Manager) armOutageTimer(recipients []string) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if m.notified || m.graceTimer != nil {
		return
	}
	episode := m.episode
	m.graceTimer = time.AfterFunc(m.cfg.OutageGrace, func() {
		m.graceExpired(episode, recipients)
	})
}

func (m *Manager) graceExpired(episode uint64, recipients []string) {
	m.notifyMu.Lock()
	if episode != m.episode || m.notified {
		m.notifyMu.Unlock()
		return
	}
	m.notified = true
	m.graceTimer = nil
	m.notifyMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	m.sendOutageNotification(ctx, recipients)
}

// cancelOutageTimer stops a pending grace timer and re-arms notification
// for the next episode.
func (m *Manager) cancelOutageTimer() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	m.episode++
	m.notified = false
}

func (m *Manager) sendOutageNotification(ctx context.Context, recipients []string) {
	m.mu.RLock()
	ep := m.endpoint
	since := m.downSince
	cause := m.lastConnErr
	m.mu.RUnlock()

	if m.notifier == nil {
		m.logger.Warn("broker outage, no notifier configured",
			"broker", describeEndpoint(ep),
			"since", since,
		)
		return
	}

	if len(recipients) == 0 {
		m.logger.Warn("broker outage, no notification recipients",
			"broker", describeEndpoint(ep),
		)
		return
	}

	subject := strings.TrimSpace(fmt.Sprintf("%s MQTT broker %s unreachable", m.cfg.SubjectPrefix, describeEndpoint(ep)))
	body := outageBody(m.cfg.SiteID, ep, since, cause, m.cfg.RetryDelay)

	if err := m.notifier.Notify(ctx, subject, body, recipients); err != nil {
		m.logger.Error("failed to send outage notification",
			"recipients", len(recipients),
			"error", err,
		)
		return
	}
	m.metrics.NotificationSent()
	m.logger.Info("outage notification sent",
		"broker", describeEndpoint(ep),
		"recipients", len(recipients),
	)
}

// recipients merges configured addresses with registry users who opted in,
// dropping duplicates regardless of case.
func (m *Manager) recipients(ctx context.Context) []string {
	fromRegistry, err := m.registry.ListNotificationRecipients(ctx)
	if err != nil {
		m.logger.Error("failed to load notification recipients, using configured list",
			"error", err,
		)
	}
	return mergeRecipients(m.cfg.Recipients, fromRegistry)
}

func mergeRecipients(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, addr := range list {
			addr = strings.TrimSpace(addr)
			key := strings.ToLower(addr)
			if addr == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

func outageBody(site string, ep registry.BrokerEndpoint, since time.Time, cause error, retry time.Duration) string {
	var b strings.Builder
	if site != "" {
		fmt.Fprintf(&b, "Site: %s\n", site)
	}
	fmt.Fprintf(&b, "Broker: %s\n", describeEndpoint(ep))
	if !since.IsZero() {
		fmt.Fprintf(&b, "Disconnected since: %s\n", since.Format(time.RFC3339))
	}
	if cause != nil {
		fmt.Fprintf(&b, "Last error: %v\n", cause)
	}
	fmt.Fprintf(&b, "\nThe bridge keeps retrying every %s. Board messages are not received until the broker is reachable again.\n", retry)
	return b.String()
}

func describeEndpoint(ep registry.BrokerEndpoint) string {
	if ep.Hostname == "" {
		return "(endpoint not loaded)"
	}
	return ep.Address()
}

func (m *Manager) appendStatus(ctx context.Context, status registry.ConnectionState, ts time.Time, ep registry.BrokerEndpoint) {
	endpointID := ep.ID
	if endpointID == 0 {
		endpointID = registry.BrokerEndpointID
	}
	if err := m.registry.AppendConnectionStatus(ctx, endpointID, status, ts); err != nil {
		m.logger.Error("failed to record connection status",
			"status", status,
			"error", err,
		)
	}

	m.observers.Observe(ctx, Record{
		Kind:      KindConnection,
		Timestamp: ts,
		Status:    string(status),
		Endpoint:  describeEndpoint(ep),
	})
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) sessionID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return 0
	}
	return m.session.ID()
}

// shutdown closes the session and stops a pending grace timer.
func (m *Manager) shutdown() {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}

	m.notifyMu.Lock()
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	m.episode++
	m.notifyMu.Unlock()

	m.metrics.SetBrokerConnected(false)
	m.logger.Info("connection manager stopped")
}
