package bridge

import (
	"context"
	"fmt"

	"github.com/tvcwb/boardbridge/internal/metrics"
	"github.com/tvcwb/boardbridge/internal/registry"
)

// TimeSyncer answers boards that ask for the time. Dispatcher implements it.
type TimeSyncer interface {
	SendTimeSync(board registry.Board) bool
}

// Recorder stores decoded messages in the registry.
//
// There are no retries: if the registry write fails the message is lost.
// Duplicate broker deliveries are stored twice.
type Recorder struct {
	registry  Registry
	syncer    TimeSyncer
	observers observers
	logger    Logger
	metrics   *metrics.Metrics
}

// NewRecorder creates a Recorder. syncer may be nil to disable the
// time-sync reply.
func NewRecorder(reg Registry, syncer TimeSyncer, logger Logger, m *metrics.Metrics) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		registry: reg,
		syncer:   syncer,
		logger:   logger,
		metrics:  m,
	}
}

// AddObserver registers an observer for stored records. Not safe to call
// once messages are flowing.
func (r *Recorder) AddObserver(o Observer) {
	r.observers = append(r.observers, o)
}

// Record stores a decoded message for its target.
func (r *Recorder) Record(ctx context.Context, target *Target, d Decoded) error {
	if target.Sensor != nil {
		return r.recordReading(ctx, target, d)
	}
	return r.recordBoardEvent(ctx, target, d)
}

func (r *Recorder) recordReading(ctx context.Context, target *Target, d Decoded) error {
	value, err := d.Reading(target.Sensor.Precision)
	if err != nil {
		return err
	}

	ev, err := r.registry.CreateSensorReadEvent(ctx, target.Sensor.ID, d.Timestamp, value)
	if err != nil {
		return fmt.Errorf("storing reading for %s/%s: %w", target.Board.MAC, target.Sensor.SensorID, err)
	}
	r.metrics.EventRecorded(string(KindReading))

	r.observers.Observe(ctx, Record{
		Kind:          KindReading,
		Timestamp:     ev.Timestamp,
		BoardMAC:      target.Board.MAC,
		BoardNickname: target.Board.Nickname,
		SensorID:      target.Sensor.SensorID,
		Value:         &ev.Value,
	})
	return nil
}

func (r *Recorder) recordBoardEvent(ctx context.Context, target *Target, d Decoded) error {
	status := d.StatusCode()

	ev, err := r.registry.CreateBoardEvent(ctx, target.Board.ID, d.Timestamp, status)
	if err != nil {
		return fmt.Errorf("storing board event for %s: %w", target.Board.MAC, err)
	}
	r.metrics.EventRecorded(string(KindBoardEvent))

	r.observers.Observe(ctx, Record{
		Kind:          KindBoardEvent,
		Timestamp:     ev.Timestamp,
		BoardMAC:      target.Board.MAC,
		BoardNickname: target.Board.Nickname,
		Status:        ev.Status,
	})

	if IsTimeSyncTrigger(status) && r.syncer != nil {
		// The dispatcher logs failures; the event is already stored.
		r.syncer.SendTimeSync(*target.Board)
	}
	return nil
}
