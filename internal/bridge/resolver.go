package bridge

import (
	"context"
	"fmt"

	"github.com/tvcwb/boardbridge/internal/infrastructure/config"
	"github.com/tvcwb/boardbridge/internal/registry"
)

// suffixHexLen is the number of hex characters carrying two MAC octets.
const suffixHexLen = 4

// TopicLayout locates a board address inside status topics and inside the
// canonical MAC used to build command topics.
//
// Status topics come in two shapes. A long topic ends with
// "<EEFF>/<sensor id>" and a short topic ends with "<EEFF>". Offsets count
// back from the end of the topic.
type TopicLayout struct {
	// LongFormMinLength is the shortest topic treated as long form.
	LongFormMinLength int
	// LongSuffixOffset is where the 4 hex characters start in a long topic,
	// counted from the end.
	LongSuffixOffset int
	// SensorIDLength is the number of trailing characters holding the sensor id.
	SensorIDLength int
	// ShortSuffixOffset is where the 4 hex characters start in a short topic,
	// counted from the end.
	ShortSuffixOffset int
	// CommandMACHigh and CommandMACLow index the two octets of a canonical
	// MAC that go into the command topic.
	CommandMACHigh int
	CommandMACLow  int
}

// DefaultTopicLayout matches the board firmware topics
// "/tvcwb1299/mmm/sta/%02X%02X/%s" and "/tvcwb1299/mmm/sta/%02X%02X".
func DefaultTopicLayout() TopicLayout {
	return TopicLayout{
		LongFormMinLength: 25,
		LongSuffixOffset:  8,
		SensorIDLength:    3,
		ShortSuffixOffset: 4,
		CommandMACHigh:    12,
		CommandMACLow:     15,
	}
}

// LayoutFromConfig converts the configured offsets.
func LayoutFromConfig(c config.LayoutConfig) TopicLayout {
	return TopicLayout{
		LongFormMinLength: c.LongFormMinLength,
		LongSuffixOffset:  c.LongSuffixOffset,
		SensorIDLength:    c.SensorIDLength,
		ShortSuffixOffset: c.ShortSuffixOffset,
		CommandMACHigh:    c.CommandMACHigh,
		CommandMACLow:     c.CommandMACLow,
	}
}

// Address is what a topic says about its sender.
type Address struct {
	// Suffix is the board's trailing two octets, e.g. "EE:FF".
	Suffix string
	// SensorID is empty for short (board-level) topics.
	SensorID string
}

// IsBoardLevel reports whether the topic carried no sensor id.
func (a Address) IsBoardLevel() bool {
	return a.SensorID == ""
}

// ParseTopic extracts the board suffix, and for long topics the sensor id.
func (l TopicLayout) ParseTopic(topic string) (Address, error) {
	n := len(topic)

	if n >= l.LongFormMinLength {
		if n < l.LongSuffixOffset || n < l.SensorIDLength {
			return Address{}, fmt.Errorf("%w: %q", ErrTopicTooShort, topic)
		}
		suffix, err := suffixAt(topic, n-l.LongSuffixOffset)
		if err != nil {
			return Address{}, err
		}
		return Address{Suffix: suffix, SensorID: topic[n-l.SensorIDLength:]}, nil
	}

	if n < l.ShortSuffixOffset {
		return Address{}, fmt.Errorf("%w: %q", ErrTopicTooShort, topic)
	}
	suffix, err := suffixAt(topic, n-l.ShortSuffixOffset)
	if err != nil {
		return Address{}, err
	}
	return Address{Suffix: suffix}, nil
}

// suffixAt reads 4 hex characters at start and returns them as "XX:YY".
func suffixAt(topic string, start int) (string, error) {
	if start < 0 || start+suffixHexLen > len(topic) {
		return "", fmt.Errorf("%w: %q", ErrTopicTooShort, topic)
	}
	raw := topic[start:start+2] + ":" + topic[start+2:start+suffixHexLen]
	return registry.NormalizeSuffix(raw)
}

// CommandAddress returns the 4 hex characters of a canonical MAC that
// identify the board on its command topic.
func (l TopicLayout) CommandAddress(mac string) (string, error) {
	hi, lo := l.CommandMACHigh, l.CommandMACLow
	if hi < 0 || lo < 0 || hi+2 > len(mac) || lo+2 > len(mac) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, mac)
	}
	return mac[hi:hi+2] + mac[lo:lo+2], nil
}

// Target is a resolved message destination. Sensor is nil for board-level
// messages.
type Target struct {
	Board  *registry.Board
	Sensor *registry.Sensor
}

// Resolver maps topics to registered boards and sensors.
//
// Matching uses only the trailing two octets of the MAC. The registry keeps
// those unique (see registry.ErrSuffixTaken), so a suffix names at most one
// board.
type Resolver struct {
	layout   TopicLayout
	registry Registry
}

// NewResolver creates a Resolver.
func NewResolver(layout TopicLayout, reg Registry) *Resolver {
	return &Resolver{layout: layout, registry: reg}
}

// Resolve finds the board, and for long topics the sensor, a topic refers
// to. It returns ErrTopicTooShort, registry.ErrInvalidSuffix,
// registry.ErrBoardNotFound or registry.ErrSensorNotFound when the message
// cannot be attributed.
func (r *Resolver) Resolve(ctx context.Context, topic string) (*Target, Address, error) {
	addr, err := r.layout.ParseTopic(topic)
	if err != nil {
		return nil, addr, err
	}

	board, err := r.registry.FindBoardByAddressSuffix(ctx, addr.Suffix)
	if err != nil {
		return nil, addr, fmt.Errorf("resolving suffix %s: %w", addr.Suffix, err)
	}
	if addr.IsBoardLevel() {
		return &Target{Board: board}, addr, nil
	}

	sensor, err := r.registry.FindSensor(ctx, board.ID, addr.SensorID)
	if err != nil {
		return nil, addr, fmt.Errorf("resolving sensor %s on %s: %w", addr.SensorID, board.MAC, err)
	}
	return &Target{Board: board, Sensor: sensor}, addr, nil
}
