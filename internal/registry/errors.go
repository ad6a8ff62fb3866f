package registry

import "errors"

// Domain errors for the registry package.
//
//	if errors.Is(err, registry.ErrBoardNotFound) {
//	    // warn and drop
//	}
var (
	// ErrBoardNotFound is returned when no board matches a MAC or address suffix.
	ErrBoardNotFound = errors.New("registry: board not found")

	// ErrSensorNotFound is returned when a board has no sensor with the given id.
	ErrSensorNotFound = errors.New("registry: sensor not found")

	// ErrBoardExists is returned when a MAC address is already registered.
	ErrBoardExists = errors.New("registry: board already exists")

	// ErrSuffixTaken is returned when another board already ends with the
	// same two octets. Topics carry only those octets, so they must be unique.
	ErrSuffixTaken = errors.New("registry: address suffix already in use")

	// ErrNicknameTaken is returned when a board nickname is already in use.
	ErrNicknameTaken = errors.New("registry: nickname already in use")

	// ErrSensorExists is returned when a board already has a sensor with the same id.
	ErrSensorExists = errors.New("registry: sensor already exists")

	// ErrInvalidMAC is returned when a hardware address cannot be parsed.
	ErrInvalidMAC = errors.New("registry: invalid MAC address")

	// ErrInvalidSuffix is returned when an address suffix is not two hex octets.
	ErrInvalidSuffix = errors.New("registry: invalid address suffix")

	// ErrInvalidBoard is returned when board fields fail validation.
	ErrInvalidBoard = errors.New("registry: invalid board")

	// ErrInvalidSensor is returned when sensor fields fail validation.
	ErrInvalidSensor = errors.New("registry: invalid sensor")

	// ErrInvalidStatus is returned for status codes longer than allowed or
	// connection states other than Connected and Disconnected.
	ErrInvalidStatus = errors.New("registry: invalid status")

	// ErrInvalidUser is returned when a notification user fails validation.
	ErrInvalidUser = errors.New("registry: invalid notification user")

	// ErrInvalidEndpoint is returned when a broker endpoint fails validation.
	ErrInvalidEndpoint = errors.New("registry: invalid broker endpoint")

	// ErrEndpointNotFound is returned when the broker endpoint record is missing.
	ErrEndpointNotFound = errors.New("registry: broker endpoint not found")

	// ErrNoConnectionStatus is returned when no connection status has been recorded yet.
	ErrNoConnectionStatus = errors.New("registry: no connection status recorded")
)
