package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tvcwb/boardbridge/internal/infrastructure/mqtt"
	"github.com/tvcwb/boardbridge/internal/registry"
)

// mockRegistry is an in-memory Registry.
type mockRegistry struct {
	mu sync.Mutex

	boards     []registry.Board
	sensors    []registry.Sensor
	endpoint   *registry.BrokerEndpoint
	recipients []string

	readings    []registry.SensorReadEvent
	boardEvents []registry.BoardEvent
	statuses    []registry.ConnectionStatus
	reports     []registry.ErrorReport

	endpointErr   error
	writeErr      error
	recipientsErr error

	recipientLookups int
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		endpoint: &registry.BrokerEndpoint{
			ID:             registry.BrokerEndpointID,
			Hostname:       "broker.local",
			Port:           1883,
			ConnectTimeout: time.Second,
			ClientID:       "boardbridge-test",
		},
	}
}

func (r *mockRegistry) addBoard(id int64, mac, nickname string) registry.Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := registry.Board{ID: id, MAC: mac, Nickname: nickname}
	r.boards = append(r.boards, b)
	return b
}

func (r *mockRegistry) addSensor(id, boardID int64, sensorID string, precision int) registry.Sensor {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := registry.Sensor{ID: id, BoardID: boardID, SensorID: sensorID, Precision: precision}
	r.sensors = append(r.sensors, s)
	return s
}

func (r *mockRegistry) FindBoardByAddressSuffix(_ context.Context, suffix string) (*registry.Board, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.boards {
		if strings.HasSuffix(b.MAC, strings.ToUpper(suffix)) {
			return &b, nil
		}
	}
	return nil, registry.ErrBoardNotFound
}

func (r *mockRegistry) FindSensor(_ context.Context, boardID int64, sensorID string) (*registry.Sensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sensors {
		if s.BoardID == boardID && s.SensorID == sensorID {
			return &s, nil
		}
	}
	return nil, registry.ErrSensorNotFound
}

func (r *mockRegistry) CreateSensorReadEvent(_ context.Context, sensorID int64, ts time.Time, value float64) (*registry.SensorReadEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return nil, r.writeErr
	}
	ev := registry.SensorReadEvent{ID: int64(len(r.readings) + 1), SensorID: sensorID, Timestamp: ts, Value: value}
	r.readings = append(r.readings, ev)
	return &ev, nil
}

func (r *mockRegistry) CreateBoardEvent(_ context.Context, boardID int64, ts time.Time, status string) (*registry.BoardEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return nil, r.writeErr
	}
	ev := registry.BoardEvent{ID: int64(len(r.boardEvents) + 1), BoardID: boardID, Timestamp: ts, Status: status}
	r.boardEvents = append(r.boardEvents, ev)
	return &ev, nil
}

func (r *mockRegistry) AppendConnectionStatus(_ context.Context, endpointID int64, status registry.ConnectionState, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, registry.ConnectionStatus{
		ID:         int64(len(r.statuses) + 1),
		EndpointID: endpointID,
		Timestamp:  ts,
		Status:     status,
	})
	return nil
}

func (r *mockRegistry) LoadBrokerEndpoint(context.Context) (*registry.BrokerEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endpointErr != nil {
		return nil, r.endpointErr
	}
	ep := *r.endpoint
	return &ep, nil
}

func (r *mockRegistry) setRecipients(addrs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipients = addrs
}

func (r *mockRegistry) lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recipientLookups
}

func (r *mockRegistry) ListNotificationRecipients(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipientLookups++
	if r.recipientsErr != nil {
		return nil, r.recipientsErr
	}
	return append([]string(nil), r.recipients...), nil
}

func (r *mockRegistry) CreateErrorReport(_ context.Context, report registry.ErrorReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *mockRegistry) statusHistory() []registry.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registry.ConnectionState, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.Status
	}
	return out
}

func (r *mockRegistry) errorReports() []registry.ErrorReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.ErrorReport(nil), r.reports...)
}

func (r *mockRegistry) storedReadings() []registry.SensorReadEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.SensorReadEvent(nil), r.readings...)
}

func (r *mockRegistry) storedBoardEvents() []registry.BoardEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.BoardEvent(nil), r.boardEvents...)
}

// published is one message sent through a fake session or publisher.
type published struct {
	topic   string
	payload string
}

// fakeSession records subscriptions and publishes.
type fakeSession struct {
	id uint64

	mu         sync.Mutex
	subscribed []string
	sent       []published
	closed     bool
	publishErr error
}

func (s *fakeSession) ID() uint64 { return s.id }

func (s *fakeSession) Subscribe(topic string, _ byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, topic)
	return nil
}

func (s *fakeSession) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.sent = append(s.sent, published{topic: topic, payload: string(payload)})
	return nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) published() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]published(nil), s.sent...)
}

var errDialRefused = errors.New("connection refused")

// fakeDialer returns scripted results: each Dial consumes the next entry of
// results, then falls back to fallback once they run out.
type fakeDialer struct {
	mu        sync.Mutex
	results   []error
	fallback  error
	sessions  []*fakeSession
	endpoints []registry.BrokerEndpoint
	events    chan<- mqtt.Event
}

func (d *fakeDialer) Dial(_ context.Context, ep registry.BrokerEndpoint, events chan<- mqtt.Event) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.endpoints = append(d.endpoints, ep)
	d.events = events

	err := d.fallback
	if len(d.results) > 0 {
		err, d.results = d.results[0], d.results[1:]
	}
	if err != nil {
		return nil, err
	}

	s := &fakeSession{id: uint64(len(d.sessions) + 1)}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) setResults(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = errs
}

func (d *fakeDialer) setFallback(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = err
}

func (d *fakeDialer) sessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

func (d *fakeDialer) lastSession() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// deliver pushes an event as the transport would.
func (d *fakeDialer) deliver(ev mqtt.Event) {
	d.mu.Lock()
	ch := d.events
	d.mu.Unlock()
	ch <- ev
}

// dropSession simulates the broker closing the current session.
func (d *fakeDialer) dropSession() {
	s := d.lastSession()
	d.deliver(mqtt.Event{Kind: mqtt.EventConnectionLost, SessionID: s.id, Err: errors.New("EOF")})
}

func (d *fakeDialer) sendMessage(topic, payload string) {
	s := d.lastSession()
	d.deliver(mqtt.Event{Kind: mqtt.EventMessage, SessionID: s.id, Topic: topic, Payload: []byte(payload)})
}

// mockNotifier records notifications.
type mockNotifier struct {
	mu    sync.Mutex
	calls []notification
	err   error
}

type notification struct {
	subject    string
	body       string
	recipients []string
}

func (n *mockNotifier) Notify(_ context.Context, subject, body string, recipients []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{subject: subject, body: body, recipients: recipients})
	return n.err
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *mockNotifier) last() notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[len(n.calls)-1]
}

// mockPublisher records publishes for dispatcher tests.
type mockPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *mockPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, payload: string(payload)})
	return nil
}

func (p *mockPublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.sent...)
}

// recordingHandler keeps every message it is given.
type recordingHandler struct {
	mu   sync.Mutex
	msgs []Message
}

func (h *recordingHandler) HandleMessage(_ context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	return nil
}

func (h *recordingHandler) topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Topic
	}
	return out
}

// recordingObserver keeps every observed record.
type recordingObserver struct {
	mu   sync.Mutex
	recs []Record
}

func (o *recordingObserver) Observe(_ context.Context, rec Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recs = append(o.recs, rec)
}

func (o *recordingObserver) records() []Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Record(nil), o.recs...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ptr[T any](v T) *T { return &v }
