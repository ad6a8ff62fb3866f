package registry

import (
	"fmt"
	"net/mail"
	"strings"
)

// newBoard validates input and builds a board in canonical form.
func newBoard(mac, nickname string) (Board, error) {
	canonical, err := NormalizeMAC(mac)
	if err != nil {
		return Board{}, err
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || len(nickname) > MaxNicknameLength {
		return Board{}, fmt.Errorf("%w: nickname must be 1-%d characters", ErrInvalidBoard, MaxNicknameLength)
	}
	return Board{MAC: canonical, Nickname: nickname}, nil
}

func validateSensor(s Sensor) error {
	if s.BoardID <= 0 {
		return fmt.Errorf("%w: board id is required", ErrInvalidSensor)
	}
	if s.SensorID == "" || len(s.SensorID) > MaxSensorIDLength {
		return fmt.Errorf("%w: sensor id must be 1-%d characters", ErrInvalidSensor, MaxSensorIDLength)
	}
	if s.Precision < 0 {
		return fmt.Errorf("%w: precision must not be negative", ErrInvalidSensor)
	}
	return nil
}

func validateStatusCode(status string) error {
	if len(status) > MaxStatusCodeLength {
		return fmt.Errorf("%w: status code %q exceeds %d characters", ErrInvalidStatus, status, MaxStatusCodeLength)
	}
	return nil
}

func validateUser(u NotificationUser) error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidUser)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	return nil
}

func validateEndpoint(e BrokerEndpoint) error {
	if e.Hostname == "" {
		return fmt.Errorf("%w: hostname is required", ErrInvalidEndpoint)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}
