package bridge

import "errors"

// Message handling errors. Addressing and payload errors mean the message
// was dropped with a warning; nothing was stored.
var (
	// ErrTopicTooShort is returned when a topic is too short for the
	// configured address layout.
	ErrTopicTooShort = errors.New("bridge: topic too short for address layout")

	// ErrMalformedPayload is returned when a payload is neither a reserved
	// status token nor a timestamped message.
	ErrMalformedPayload = errors.New("bridge: malformed payload")

	// ErrInvalidValue is returned when a sensor reading is not a number.
	ErrInvalidValue = errors.New("bridge: reading is not a number")

	// ErrInvalidAddress is returned when a board MAC cannot be mapped onto a
	// command topic.
	ErrInvalidAddress = errors.New("bridge: board address does not fit command layout")

	// ErrNotConnected is returned by Manager.Publish while no broker session
	// is established.
	ErrNotConnected = errors.New("bridge: broker not connected")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("bridge: manager already running")
)
