package bridge

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tvcwb/boardbridge/internal/registry"
)

// Reserved board status tokens.
const (
	// StatusStartup is sent by a board when it boots.
	StatusStartup = "STT"
	// StatusTimeUpdateRequest asks the bridge for the current time.
	StatusTimeUpdateRequest = "TUR"
)

const (
	// timestampMarker separates a value from a device epoch timestamp.
	timestampMarker = "T"

	// minTimestampedLength is the shortest payload that may carry a timestamp.
	minTimestampedLength = 12
)

// Decoded is a well-formed payload split into value and time.
type Decoded struct {
	// ValuePart is the payload text before the timestamp marker, or the
	// whole payload when it carries no usable timestamp.
	ValuePart string
	// Timestamp is the device time when present, otherwise the receipt time.
	Timestamp time.Time
	// DeviceTime reports whether Timestamp came from the payload.
	DeviceTime bool
}

// IsWellFormed reports whether a payload is a reserved status token, or is
// ASCII, long enough to carry a timestamp and contains the marker.
func IsWellFormed(payload string) bool {
	if IsTimeSyncTrigger(payload) {
		return true
	}
	return len(payload) >= minTimestampedLength &&
		isASCII(payload) &&
		strings.Contains(payload, timestampMarker)
}

// isASCII reports whether s holds only 7-bit characters. Status codes are
// cut by byte, which is only safe for ASCII.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// IsTimeSyncTrigger reports whether a board status asks for the current time.
func IsTimeSyncTrigger(status string) bool {
	return status == StatusStartup || status == StatusTimeUpdateRequest
}

// Decode splits a payload on the first timestamp marker. If what follows
// parses as epoch seconds, the value part is the text before the marker and
// the timestamp is the device time in the local zone. Otherwise the whole
// payload is the value and receivedAt is the timestamp.
func Decode(payload string, receivedAt time.Time) (Decoded, error) {
	if !IsWellFormed(payload) {
		return Decoded{}, fmt.Errorf("%w: %q", ErrMalformedPayload, payload)
	}

	if before, after, found := strings.Cut(payload, timestampMarker); found {
		if epoch, err := strconv.ParseInt(after, 10, 64); err == nil {
			return Decoded{
				ValuePart:  before,
				Timestamp:  time.Unix(epoch, 0).Local(),
				DeviceTime: true,
			}, nil
		}
	}

	return Decoded{ValuePart: payload, Timestamp: receivedAt}, nil
}

// Reading parses the value part as a number and applies the sensor's
// decimal precision: a raw 4567 with precision 2 is 45.67.
func (d Decoded) Reading(precision int) (float64, error) {
	raw, err := strconv.ParseFloat(strings.TrimSpace(d.ValuePart), 64)
	if err != nil || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, d.ValuePart)
	}
	return Scale(raw, precision), nil
}

// Scale divides raw by 10^precision. Precision 0 or below leaves raw as is.
func Scale(raw float64, precision int) float64 {
	if precision <= 0 {
		return raw
	}
	return raw / math.Pow10(precision)
}

// StatusCode returns the value part truncated to the stored status length.
func (d Decoded) StatusCode() string {
	if len(d.ValuePart) > registry.MaxStatusCodeLength {
		return d.ValuePart[:registry.MaxStatusCodeLength]
	}
	return d.ValuePart
}
