package registry

import (
	"context"
	"time"
)

// Repository is the registry accessor used by the bridge and the operator
// API. Implementations exist for SQLite and PostgreSQL.
//
// Writes from the bridge are serialised by its single consumer loop; the
// API only reads, apart from provisioning calls made by tooling and tests.
type Repository interface {
	// FindBoardByAddressSuffix returns the board whose MAC ends with suffix
	// ("EE:FF", any case). Returns ErrBoardNotFound when none does.
	FindBoardByAddressSuffix(ctx context.Context, suffix string) (*Board, error)

	// FindBoardByMAC returns the board with the given MAC in any accepted
	// notation. Returns ErrBoardNotFound when none does.
	FindBoardByMAC(ctx context.Context, mac string) (*Board, error)

	// FindSensor returns the sensor with the given id on a board.
	// Returns ErrSensorNotFound when the board has no such sensor.
	FindSensor(ctx context.Context, boardID int64, sensorID string) (*Sensor, error)

	// ListSensors returns a board's sensors ordered by sensor id.
	ListSensors(ctx context.Context, boardID int64) ([]Sensor, error)

	// CreateSensorReadEvent appends a reading.
	CreateSensorReadEvent(ctx context.Context, sensorID int64, ts time.Time, value float64) (*SensorReadEvent, error)

	// CreateBoardEvent appends a board status code of at most 10 characters.
	CreateBoardEvent(ctx context.Context, boardID int64, ts time.Time, status string) (*BoardEvent, error)

	// ListBoardEvents returns up to limit events for a board, newest first.
	ListBoardEvents(ctx context.Context, boardID int64, limit int) ([]BoardEvent, error)

	// AppendConnectionStatus appends to an endpoint's connection history.
	AppendConnectionStatus(ctx context.Context, endpointID int64, status ConnectionState, ts time.Time) error

	// LatestConnectionStatus returns the newest history entry, which is the
	// current status. Returns ErrNoConnectionStatus on an empty history.
	LatestConnectionStatus(ctx context.Context, endpointID int64) (*ConnectionStatus, error)

	// ListConnectionStatus returns up to limit entries, newest first.
	ListConnectionStatus(ctx context.Context, endpointID int64, limit int) ([]ConnectionStatus, error)

	// LoadBrokerEndpoint reads the broker endpoint record.
	// Returns ErrEndpointNotFound when it has not been seeded.
	LoadBrokerEndpoint(ctx context.Context) (*BrokerEndpoint, error)

	// SeedBrokerEndpoint stores e as the endpoint record unless one exists.
	// It reports whether a row was written.
	SeedBrokerEndpoint(ctx context.Context, e BrokerEndpoint) (bool, error)

	// ListNotificationRecipients returns the e-mail addresses of users who
	// opted into error notifications.
	ListNotificationRecipients(ctx context.Context) ([]string, error)

	// CreateErrorReport appends an error report.
	CreateErrorReport(ctx context.Context, report ErrorReport) error

	// CreateBoard registers a board. Returns ErrBoardExists, ErrSuffixTaken
	// or ErrNicknameTaken on conflicts.
	CreateBoard(ctx context.Context, mac, nickname string) (*Board, error)

	// CreateSensor registers a sensor on a board.
	CreateSensor(ctx context.Context, s Sensor) (*Sensor, error)

	// CreateNotificationUser registers an operator.
	CreateNotificationUser(ctx context.Context, u NotificationUser) (*NotificationUser, error)
}

// defaultListLimit applies when callers pass a non-positive limit.
const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
