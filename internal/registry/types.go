package registry

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Field limits.
const (
	MaxNicknameLength   = 50
	MaxSensorIDLength   = 10
	MaxStatusCodeLength = 10
)

// BrokerEndpointID is the id of the singleton broker endpoint row.
const BrokerEndpointID int64 = 1

// BrokerEndpoint is where the bridge connects. Operators edit it in the
// registry; the bridge reads it before every connect attempt.
type BrokerEndpoint struct {
	ID             int64         `json:"id"`
	Hostname       string        `json:"hostname"`
	Port           int           `json:"port"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ClientID       string        `json:"client_id"`
}

// Address returns host:port.
func (e BrokerEndpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Hostname, e.Port)
}

// Board is a registered control board.
type Board struct {
	ID int64 `json:"id"`
	// MAC is stored in canonical form: upper-case, colon separated.
	MAC       string    `json:"mac"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"created_at"`
}

// Suffix returns the trailing two octets of the board's MAC, e.g. "EE:FF".
func (b Board) Suffix() string {
	return MACSuffix(b.MAC)
}

// Sensor is a measuring channel on a board.
type Sensor struct {
	ID      int64 `json:"id"`
	BoardID int64 `json:"board_id"`
	// SensorID is the short id boards put at the end of long topics.
	SensorID    string `json:"sensor_id"`
	Description string `json:"description"`
	// Precision is the number of implied decimal places in raw readings.
	Precision int `json:"precision"`
}

// SensorReadEvent is one stored reading.
type SensorReadEvent struct {
	ID        int64     `json:"id"`
	SensorID  int64     `json:"sensor_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// BoardEvent is one stored board-level status code.
type BoardEvent struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"board_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// ConnectionState is the broker connection state recorded in history.
type ConnectionState string

const (
	StatusConnected    ConnectionState = "Connected"
	StatusDisconnected ConnectionState = "Disconnected"
)

// Valid reports whether s is a recordable state.
func (s ConnectionState) Valid() bool {
	return s == StatusConnected || s == StatusDisconnected
}

// ConnectionStatus is one entry of the append-only connection history. The
// newest entry is the current status.
type ConnectionStatus struct {
	ID         int64           `json:"id"`
	EndpointID int64           `json:"endpoint_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Status     ConnectionState `json:"status"`
}

// NotificationUser is an operator who may receive outage e-mails.
type NotificationUser struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	NotifyErrors bool   `json:"notify_errors"`
}

// ErrorType classifies an error report.
type ErrorType string

const (
	ErrorMQTTConnection     ErrorType = "mqtt_connection"
	ErrorDatabaseConnection ErrorType = "database_connection"
)

// ErrorReport records an infrastructure failure for later review.
type ErrorReport struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      ErrorType `json:"type"`
	Details   string    `json:"details"`
}

// Accepts aa:bb:cc:dd:ee:ff, aa-bb-cc-dd-ee-ff and aabbccddeeff in either case.
// The separator must be consistent.
var macRegex = regexp.MustCompile(
	`^(?i:[0-9a-f]{2}(?::[0-9a-f]{2}){5}|[0-9a-f]{2}(?:-[0-9a-f]{2}){5}|[0-9a-f]{12})$`,
)

var suffixRegex = regexp.MustCompile(`^(?i:[0-9a-f]{2}:[0-9a-f]{2})$`)

// NormalizeMAC validates a hardware address and returns its canonical form.
func NormalizeMAC(mac string) (string, error) {
	mac = strings.TrimSpace(mac)
	if !macRegex.MatchString(mac) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}

	hex := strings.ToUpper(strings.NewReplacer(":", "", "-", "").Replace(mac))
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < len(hex); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex[i : i+2])
	}
	return b.String(), nil
}

// MACSuffix returns the last two octets of a canonical MAC.
func MACSuffix(mac string) string {
	if len(mac) < 5 {
		return mac
	}
	return mac[len(mac)-5:]
}

// NormalizeSuffix validates a two-octet suffix such as "ee:ff" and returns
// it upper-cased.
func NormalizeSuffix(suffix string) (string, error) {
	if !suffixRegex.MatchString(suffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSuffix, suffix)
	}
	return strings.ToUpper(suffix), nil
}
