package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}

var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// FindBoardByAddressSuffix implements Repository.
func (r *SQLiteRepository) FindBoardByAddressSuffix(ctx context.Context, suffix string) (*Board, error) {
	suffix, err := NormalizeSuffix(suffix)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT id, mac, nickname, created_at FROM control_boards WHERE mac_suffix = ?`, suffix)
	return scanSQLiteBoard(row)
}

// FindBoardByMAC implements Repository.
func (r *SQLiteRepository) FindBoardByMAC(ctx context.Context, mac string) (*Board, error) {
	mac, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT id, mac, nickname, created_at FROM control_boards WHERE mac = ?`, mac)
	return scanSQLiteBoard(row)
}

func scanSQLiteBoard(row *sql.Row) (*Board, error) {
	var b Board
	var created string
	if err := row.Scan(&b.ID, &b.MAC, &b.Nickname, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBoardNotFound
		}
		return nil, fmt.Errorf("querying board: %w", err)
	}
	var err error
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &b, nil
}

// FindSensor implements Repository.
func (r *SQLiteRepository) FindSensor(ctx context.Context, boardID int64, sensorID string) (*Sensor, error) {
	var s Sensor
	err := r.db.QueryRowContext(ctx, `
		SELECT id, board_id, sensor_id, description, decimals
		FROM sensors
		WHERE board_id = ? AND sensor_id = ?`, boardID, sensorID,
	).Scan(&s.ID, &s.BoardID, &s.SensorID, &s.Description, &s.Precision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSensorNotFound
		}
		return nil, fmt.Errorf("querying sensor: %w", err)
	}
	return &s, nil
}

// ListSensors implements Repository.
func (r *SQLiteRepository) ListSensors(ctx context.Context, boardID int64) ([]Sensor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, board_id, sensor_id, description, decimals
		FROM sensors
		WHERE board_id = ?
		ORDER BY sensor_id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	defer rows.Close()

	var sensors []Sensor
	for rows.Next() {
		var s Sensor
		if err := rows.Scan(&s.ID, &s.BoardID, &s.SensorID, &s.Description, &s.Precision); err != nil {
			return nil, fmt.Errorf("scanning sensor: %w", err)
		}
		sensors = append(sensors, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensors: %w", err)
	}
	return sensors, nil
}

// CreateSensorReadEvent implements Repository.
func (r *SQLiteRepository) CreateSensorReadEvent(ctx context.Context, sensorID int64, ts time.Time, value float64) (*SensorReadEvent, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sensor_read_events (sensor_id, timestamp, value) VALUES (?, ?, ?)`,
		sensorID, formatTime(ts), value)
	if err != nil {
		return nil, fmt.Errorf("inserting sensor read event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading sensor read event id: %w", err)
	}
	return &SensorReadEvent{ID: id, SensorID: sensorID, Timestamp: ts, Value: value}, nil
}

// CreateBoardEvent implements Repository.
func (r *SQLiteRepository) CreateBoardEvent(ctx context.Context, boardID int64, ts time.Time, status string) (*BoardEvent, error) {
	if err := validateStatusCode(status); err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO board_events (board_id, timestamp, status) VALUES (?, ?, ?)`,
		boardID, formatTime(ts), status)
	if err != nil {
		return nil, fmt.Errorf("inserting board event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading board event id: %w", err)
	}
	return &BoardEvent{ID: id, BoardID: boardID, Timestamp: ts, Status: status}, nil
}

// ListBoardEvents implements Repository.
func (r *SQLiteRepository) ListBoardEvents(ctx context.Context, boardID int64, limit int) ([]BoardEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, board_id, timestamp, status
		FROM board_events
		WHERE board_id = ?
		ORDER BY id DESC
		LIMIT ?`, boardID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying board events: %w", err)
	}
	defer rows.Close()

	var events []BoardEvent
	for rows.Next() {
		var e BoardEvent
		var ts string
		if err := rows.Scan(&e.ID, &e.BoardID, &ts, &e.Status); err != nil {
			return nil, fmt.Errorf("scanning board event: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating board events: %w", err)
	}
	return events, nil
}

// AppendConnectionStatus implements Repository.
func (r *SQLiteRepository) AppendConnectionStatus(ctx context.Context, endpointID int64, status ConnectionState, ts time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: connection state %q", ErrInvalidStatus, status)
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_status (endpoint_id, timestamp, status) VALUES (?, ?, ?)`,
		endpointID, formatTime(ts), string(status),
	); err != nil {
		return fmt.Errorf("inserting connection status: %w", err)
	}
	return nil
}

// LatestConnectionStatus implements Repository.
func (r *SQLiteRepository) LatestConnectionStatus(ctx context.Context, endpointID int64) (*ConnectionStatus, error) {
	history, err := r.ListConnectionStatus(ctx, endpointID, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrNoConnectionStatus
	}
	return &history[0], nil
}

// ListConnectionStatus implements Repository.
func (r *SQLiteRepository) ListConnectionStatus(ctx context.Context, endpointID int64, limit int) ([]ConnectionStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, endpoint_id, timestamp, status
		FROM connection_status
		WHERE endpoint_id = ?
		ORDER BY id DESC
		LIMIT ?`, endpointID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying connection status: %w", err)
	}
	defer rows.Close()

	var history []ConnectionStatus
	for rows.Next() {
		var cs ConnectionStatus
		var ts, status string
		if err := rows.Scan(&cs.ID, &cs.EndpointID, &ts, &status); err != nil {
			return nil, fmt.Errorf("scanning connection status: %w", err)
		}
		if cs.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		cs.Status = ConnectionState(status)
		history = append(history, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection status: %w", err)
	}
	return history, nil
}

// LoadBrokerEndpoint implements Repository.
func (r *SQLiteRepository) LoadBrokerEndpoint(ctx context.Context) (*BrokerEndpoint, error) {
	var e BrokerEndpoint
	var timeoutSec int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, hostname, port, connect_timeout, client_id
		FROM broker_endpoints
		WHERE id = ?`, BrokerEndpointID,
	).Scan(&e.ID, &e.Hostname, &e.Port, &timeoutSec, &e.ClientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("querying broker endpoint: %w", err)
	}
	e.ConnectTimeout = time.Duration(timeoutSec) * time.Second
	return &e, nil
}

// SeedBrokerEndpoint implements Repository.
func (r *SQLiteRepository) SeedBrokerEndpoint(ctx context.Context, e BrokerEndpoint) (bool, error) {
	if err := validateEndpoint(e); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO broker_endpoints (id, hostname, port, connect_timeout, client_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		BrokerEndpointID, e.Hostname, e.Port, timeoutSeconds(e.ConnectTimeout), e.ClientID)
	if err != nil {
		return false, fmt.Errorf("seeding broker endpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seeding broker endpoint: %w", err)
	}
	return n == 1, nil
}

// ListNotificationRecipients implements Repository.
func (r *SQLiteRepository) ListNotificationRecipients(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT email FROM notification_users WHERE notify_errors = 1 ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("querying notification users: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scanning notification user: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification users: %w", err)
	}
	return emails, nil
}

// CreateErrorReport implements Repository.
func (r *SQLiteRepository) CreateErrorReport(ctx context.Context, report ErrorReport) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO error_reports (timestamp, error_type, details) VALUES (?, ?, ?)`,
		formatTime(report.Timestamp), string(report.Type), report.Details,
	); err != nil {
		return fmt.Errorf("inserting error report: %w", err)
	}
	return nil
}

// CreateBoard implements Repository.
func (r *SQLiteRepository) CreateBoard(ctx context.Context, mac, nickname string) (*Board, error) {
	b, err := newBoard(mac, nickname)
	if err != nil {
		return nil, err
	}
	// Same MAC implies same suffix; report the stronger conflict.
	if _, err := r.FindBoardByMAC(ctx, b.MAC); err == nil {
		return nil, ErrBoardExists
	} else if !errors.Is(err, ErrBoardNotFound) {
		return nil, err
	}
	b.CreatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO control_boards (mac, mac_suffix, nickname, created_at)
		VALUES (?, ?, ?, ?)`,
		b.MAC, b.Suffix(), b.Nickname, formatTime(b.CreatedAt))
	if err != nil {
		return nil, classifyBoardConflict(err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading board id: %w", err)
	}
	return &b, nil
}

// CreateSensor implements Repository.
func (r *SQLiteRepository) CreateSensor(ctx context.Context, s Sensor) (*Sensor, error) {
	if err := validateSensor(s); err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sensors (board_id, sensor_id, description, decimals)
		VALUES (?, ?, ?, ?)`,
		s.BoardID, s.SensorID, s.Description, s.Precision)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrSensorExists
		}
		if isForeignKeyError(err) {
			return nil, ErrBoardNotFound
		}
		return nil, fmt.Errorf("inserting sensor: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading sensor id: %w", err)
	}
	return &s, nil
}

// CreateNotificationUser implements Repository.
func (r *SQLiteRepository) CreateNotificationUser(ctx context.Context, u NotificationUser) (*NotificationUser, error) {
	if err := validateUser(u); err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_users (name, email, notify_errors) VALUES (?, ?, ?)`,
		u.Name, u.Email, u.NotifyErrors)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: %s already registered", ErrInvalidUser, u.Email)
		}
		return nil, fmt.Errorf("inserting notification user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading notification user id: %w", err)
	}
	return &u, nil
}

func timeoutSeconds(d time.Duration) int {
	if d <= 0 {
		return 10
	}
	sec := int(d / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

// classifyBoardConflict maps a unique violation on control_boards to the
// matching sentinel. The suffix column is checked before mac because its
// name contains mac as a prefix.
func classifyBoardConflict(err error) error {
	if !isUniqueConstraintError(err) {
		return fmt.Errorf("inserting board: %w", err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "mac_suffix"):
		return ErrSuffixTaken
	case strings.Contains(msg, "nickname"):
		return ErrNicknameTaken
	default:
		return ErrBoardExists
	}
}

// isUniqueConstraintError checks for a unique violation from either backend.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
