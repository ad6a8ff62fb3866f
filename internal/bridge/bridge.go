package bridge

import (
	"context"
	"time"

	"github.com/tvcwb/boardbridge/internal/registry"
)

// Registry is the part of the device registry the bridge uses.
// registry.Repository satisfies it.
//
// All calls from the bridge are made from the supervising goroutine.
type Registry interface {
	FindBoardByAddressSuffix(ctx context.Context, suffix string) (*registry.Board, error)
	FindSensor(ctx context.Context, boardID int64, sensorID string) (*registry.Sensor, error)
	CreateSensorReadEvent(ctx context.Context, sensorID int64, ts time.Time, value float64) (*registry.SensorReadEvent, error)
	CreateBoardEvent(ctx context.Context, boardID int64, ts time.Time, status string) (*registry.BoardEvent, error)
	AppendConnectionStatus(ctx context.Context, endpointID int64, status registry.ConnectionState, ts time.Time) error
	LoadBrokerEndpoint(ctx context.Context) (*registry.BrokerEndpoint, error)
	ListNotificationRecipients(ctx context.Context) ([]string, error)
	CreateErrorReport(ctx context.Context, report registry.ErrorReport) error
}

var _ Registry = (registry.Repository)(nil)

// Logger defines the logging interface for bridge components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Notifier sends operator notifications.
type Notifier interface {
	Notify(ctx context.Context, subject, body string, recipients []string) error
}

// RecordKind identifies what an observed Record describes.
type RecordKind string

const (
	KindReading    RecordKind = "reading"
	KindBoardEvent RecordKind = "board_event"
	KindConnection RecordKind = "connection"
)

// Record is a stored event, handed to observers after the registry write.
type Record struct {
	Kind      RecordKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`

	// Board fields are empty for connection records.
	BoardMAC      string `json:"board_mac,omitempty"`
	BoardNickname string `json:"board_nickname,omitempty"`

	// SensorID and Value are set for readings only. Value is a pointer so
	// a reading of 0 is still sent.
	SensorID string   `json:"sensor_id,omitempty"`
	Value    *float64 `json:"value,omitempty"`

	// Status is the board status code or the connection state.
	Status string `json:"status,omitempty"`

	// Endpoint is host:port for connection records.
	Endpoint string `json:"endpoint,omitempty"`
}

// Observer receives every record the bridge stores. Observe is called from
// the bridge's processing goroutine and must not block for long; failures
// are the observer's to log.
type Observer interface {
	Observe(ctx context.Context, rec Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec Record)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, rec Record) {
	f(ctx, rec)
}

// observers fans a record out to several observers.
type observers []Observer

func (o observers) Observe(ctx context.Context, rec Record) {
	for _, obs := range o {
		obs.Observe(ctx, rec)
	}
}
