package bridge

import (
	"strconv"
	"time"

	"github.com/tvcwb/boardbridge/internal/metrics"
	"github.com/tvcwb/boardbridge/internal/registry"
)

// Publisher sends a payload on a topic. Manager implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Command names used in logs and metrics.
const (
	CommandTimeSync  = "timesync"
	CommandActuation = "actuation"
)

// DispatcherConfig configures outbound commands.
type DispatcherConfig struct {
	// CommandPrefix is prepended to the board's 4 hex address characters.
	CommandPrefix string
	// TimeSyncCode prefixes the epoch seconds in a time-sync command.
	TimeSyncCode string
	Layout       TopicLayout
}

// Dispatcher publishes commands to individual boards.
//
// Failures are logged and reported as false, never retried; the caller
// decides whether to try again.
type Dispatcher struct {
	cfg       DispatcherConfig
	publisher Publisher
	logger    Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher publishing through p.
func NewDispatcher(cfg DispatcherConfig, p Publisher, logger Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		cfg:       cfg,
		publisher: p,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// CommandTopic returns the topic a board listens on for commands.
func (d *Dispatcher) CommandTopic(board registry.Board) (string, error) {
	addr, err := d.cfg.Layout.CommandAddress(board.MAC)
	if err != nil {
		return "", err
	}
	return d.cfg.CommandPrefix + addr, nil
}

// SendTimeSync sends the current epoch seconds to a board.
func (d *Dispatcher) SendTimeSync(board registry.Board) bool {
	payload := d.cfg.TimeSyncCode + strconv.FormatInt(d.now().Unix(), 10)
	return d.send(CommandTimeSync, board, payload)
}

// SendActuation sends a bare integer value to a board.
func (d *Dispatcher) SendActuation(board registry.Board, value int) bool {
	return d.send(CommandActuation, board, strconv.Itoa(value))
}

func (d *Dispatcher) send(command string, board registry.Board, payload string) bool {
	topic, err := d.CommandTopic(board)
	if err != nil {
		d.logger.Error("cannot build command topic",
			"command", command,
			"mac", board.MAC,
			"error", err,
		)
		d.metrics.CommandSent(command, false)
		return false
	}

	if err := d.publisher.Publish(topic, []byte(payload)); err != nil {
		d.logger.Error("cannot publish command",
			"command", command,
			"topic", topic,
			"mac", board.MAC,
			"error", err,
		)
		d.metrics.CommandSent(command, false)
		return false
	}

	d.logger.Debug("command sent",
		"command", command,
		"topic", topic,
		"payload", payload,
	)
	d.metrics.CommandSent(command, true)
	return true
}
