package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var _ Repository = (*PostgresRepository)(nil)

// PostgresRepository implements Repository using a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over an open, migrated pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// FindBoardByAddressSuffix implements Repository.
func (r *PostgresRepository) FindBoardByAddressSuffix(ctx context.Context, suffix string) (*Board, error) {
	suffix, err := NormalizeSuffix(suffix)
	if err != nil {
		return nil, err
	}
	return r.findBoard(ctx, `SELECT id, mac, nickname, created_at FROM control_boards WHERE mac_suffix = $1`, suffix)
}

// FindBoardByMAC implements Repository.
func (r *PostgresRepository) FindBoardByMAC(ctx context.Context, mac string) (*Board, error) {
	mac, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	return r.findBoard(ctx, `SELECT id, mac, nickname, created_at FROM control_boards WHERE mac = $1`, mac)
}

func (r *PostgresRepository) findBoard(ctx context.Context, query string, arg string) (*Board, error) {
	var b Board
	if err := r.pool.QueryRow(ctx, query, arg).Scan(&b.ID, &b.MAC, &b.Nickname, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBoardNotFound
		}
		return nil, fmt.Errorf("querying board: %w", err)
	}
	return &b, nil
}

// FindSensor implements Repository.
func (r *PostgresRepository) FindSensor(ctx context.Context, boardID int64, sensorID string) (*Sensor, error) {
	var s Sensor
	err := r.pool.QueryRow(ctx, `
		SELECT id, board_id, sensor_id, description, decimals
		FROM sensors
		WHERE board_id = $1 AND sensor_id = $2`, boardID, sensorID,
	).Scan(&s.ID, &s.BoardID, &s.SensorID, &s.Description, &s.Precision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSensorNotFound
		}
		return nil, fmt.Errorf("querying sensor: %w", err)
	}
	return &s, nil
}

// ListSensors implements Repository.
func (r *PostgresRepository) ListSensors(ctx context.Context, boardID int64) ([]Sensor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, board_id, sensor_id, description, decimals
		FROM sensors
		WHERE board_id = $1
		ORDER BY sensor_id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	sensors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Sensor, error) {
		var s Sensor
		err := row.Scan(&s.ID, &s.BoardID, &s.SensorID, &s.Description, &s.Precision)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning sensors: %w", err)
	}
	return sensors, nil
}

// CreateSensorReadEvent implements Repository.
func (r *PostgresRepository) CreateSensorReadEvent(ctx context.Context, sensorID int64, ts time.Time, value float64) (*SensorReadEvent, error) {
	e := SensorReadEvent{SensorID: sensorID, Timestamp: ts, Value: value}
	if err := r.pool.QueryRow(ctx,
		`INSERT INTO sensor_read_events (sensor_id, timestamp, value) VALUES ($1, $2, $3) RETURNING id`,
		sensorID, ts.UTC(), value,
	).Scan(&e.ID); err != nil {
		return nil, fmt.Errorf("inserting sensor read event: %w", err)
	}
	return &e, nil
}

// CreateBoardEvent implements Repository.
func (r *PostgresRepository) CreateBoardEvent(ctx context.Context, boardID int64, ts time.Time, status string) (*BoardEvent, error) {
	if err := validateStatusCode(status); err != nil {
		return nil, err
	}
	e := BoardEvent{BoardID: boardID, Timestamp: ts, Status: status}
	if err := r.pool.QueryRow(ctx,
		`INSERT INTO board_events (board_id, timestamp, status) VALUES ($1, $2, $3) RETURNING id`,
		boardID, ts.UTC(), status,
	).Scan(&e.ID); err != nil {
		return nil, fmt.Errorf("inserting board event: %w", err)
	}
	return &e, nil
}

// ListBoardEvents implements Repository.
func (r *PostgresRepository) ListBoardEvents(ctx context.Context, boardID int64, limit int) ([]BoardEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, board_id, timestamp, status
		FROM board_events
		WHERE board_id = $1
		ORDER BY id DESC
		LIMIT $2`, boardID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying board events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (BoardEvent, error) {
		var e BoardEvent
		err := row.Scan(&e.ID, &e.BoardID, &e.Timestamp, &e.Status)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning board events: %w", err)
	}
	return events, nil
}

// AppendConnectionStatus implements Repository.
func (r *PostgresRepository) AppendConnectionStatus(ctx context.Context, endpointID int64, status ConnectionState, ts time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: connection state %q", ErrInvalidStatus, status)
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO connection_status (endpoint_id, timestamp, status) VALUES ($1, $2, $3)`,
		endpointID, ts.UTC(), string(status),
	); err != nil {
		return fmt.Errorf("inserting connection status: %w", err)
	}
	return nil
}

// LatestConnectionStatus implements Repository.
func (r *PostgresRepository) LatestConnectionStatus(ctx context.Context, endpointID int64) (*ConnectionStatus, error) {
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
func (r *PostgresRepository) ListConnectionStatus(ctx context.Context, endpointID int64, limit int) ([]ConnectionStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, endpoint_id, timestamp, status
		FROM connection_status
		WHERE endpoint_id = $1
		ORDER BY id DESC
		LIMIT $2`, endpointID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying connection status: %w", err)
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ConnectionStatus, error) {
		var cs ConnectionStatus
		var status string
		err := row.Scan(&cs.ID, &cs.EndpointID, &cs.Timestamp, &status)
		cs.Status = ConnectionState(status)
		return cs, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning connection status: %w", err)
	}
	return history, nil
}

// LoadBrokerEndpoint implements Repository.
func (r *PostgresRepository) LoadBrokerEndpoint(ctx context.Context) (*BrokerEndpoint, error) {
	var e BrokerEndpoint
	var timeoutSec int
	err := r.pool.QueryRow(ctx, `
		SELECT id, hostname, port, connect_timeout, client_id
		FROM broker_endpoints
		WHERE id = $1`, BrokerEndpointID,
	).Scan(&e.ID, &e.Hostname, &e.Port, &timeoutSec, &e.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("querying broker endpoint: %w", err)
	}
	e.ConnectTimeout = time.Duration(timeoutSec) * time.Second
	return &e, nil
}

// SeedBrokerEndpoint implements Repository.
func (r *PostgresRepository) SeedBrokerEndpoint(ctx context.Context, e BrokerEndpoint) (bool, error) {
	if err := validateEndpoint(e); err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO broker_endpoints (id, hostname, port, connect_timeout, client_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		BrokerEndpointID, e.Hostname, e.Port, timeoutSeconds(e.ConnectTimeout), e.ClientID)
	if err != nil {
		return false, fmt.Errorf("seeding broker endpoint: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListNotificationRecipients implements Repository.
func (r *PostgresRepository) ListNotificationRecipients(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT email FROM notification_users WHERE notify_errors ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("querying notification users: %w", err)
	}
	emails, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning notification users: %w", err)
	}
	return emails, nil
}

// CreateErrorReport implements Repository.
func (r *PostgresRepository) CreateErrorReport(ctx context.Context, report ErrorReport) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO error_reports (timestamp, error_type, details) VALUES ($1, $2, $3)`,
		report.Timestamp.UTC(), string(report.Type), report.Details,
	); err != nil {
		return fmt.Errorf("inserting error report: %w", err)
	}
	return nil
}

// CreateBoard implements Repository.
func (r *PostgresRepository) CreateBoard(ctx context.Context, mac, nickname string) (*Board, error) {
	b, err := newBoard(mac, nickname)
	if err != nil {
		return nil, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO control_boards (mac, mac_suffix, nickname)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		b.MAC, b.Suffix(), b.Nickname,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// Postgres names the violated constraint, so no pre-check is needed.
			switch {
			case strings.HasSuffix(pgErr.ConstraintName, "mac_suffix_key"):
				return nil, ErrSuffixTaken
			case strings.HasSuffix(pgErr.ConstraintName, "nickname_key"):
				return nil, ErrNicknameTaken
			default:
				return nil, ErrBoardExists
			}
		}
		return nil, fmt.Errorf("inserting board: %w", err)
	}
	return &b, nil
}

// CreateSensor implements Repository.
func (r *PostgresRepository) CreateSensor(ctx context.Context, s Sensor) (*Sensor, error) {
	if err := validateSensor(s); err != nil {
		return nil, err
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sensors (board_id, sensor_id, description, decimals)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		s.BoardID, s.SensorID, s.Description, s.Precision,
	).Scan(&s.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return nil, ErrSensorExists
			case pgForeignKeyViolation:
				return nil, ErrBoardNotFound
			}
		}
		return nil, fmt.Errorf("inserting sensor: %w", err)
	}
	return &s, nil
}

// CreateNotificationUser implements Repository.
func (r *PostgresRepository) CreateNotificationUser(ctx context.Context, u NotificationUser) (*NotificationUser, error) {
	if err := validateUser(u); err != nil {
		return nil, err
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO notification_users (name, email, notify_errors) VALUES ($1, $2, $3) RETURNING id`,
		u.Name, u.Email, u.NotifyErrors,
	).Scan(&u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("%w: %s already registered", ErrInvalidUser, u.Email)
		}
		return nil, fmt.Errorf("inserting notification user: %w", err)
	}
	return &u, nil
}
