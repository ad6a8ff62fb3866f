package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/tvcwb/boardbridge/internal/metrics"
	"github.com/tvcwb/boardbridge/internal/registry"
)

// Message is one inbound status message.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// MessageHandler processes one inbound message to completion.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// Pipeline resolves, decodes and records inbound messages.
//
// Every failure is logged here and the message dropped; the returned error
// only tells the caller what happened.
type Pipeline struct {
	resolver *Resolver
	recorder *Recorder
	logger   Logger
	metrics  *metrics.Metrics
}

// NewPipeline creates a Pipeline.
func NewPipeline(resolver *Resolver, recorder *Recorder, logger Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Pipeline{
		resolver: resolver,
		recorder: recorder,
		logger:   logger,
		metrics:  m,
	}
}

// HandleMessage implements MessageHandler.
func (p *Pipeline) HandleMessage(ctx context.Context, msg Message) error {
	start := time.Now()
	defer func() {
		p.metrics.ObserveProcessing(time.Since(start).Seconds())
	}()

	payload := string(msg.Payload)

	target, addr, err := p.resolver.Resolve(ctx, msg.Topic)
	if err != nil {
		if isAddressingError(err) {
			p.logger.Warn("dropping message for unknown address",
				"topic", msg.Topic,
				"suffix", addr.Suffix,
				"sensor_id", addr.SensorID,
				"error", err,
			)
			p.metrics.MessageDropped(metrics.ReasonAddress)
		} else {
			p.logger.Error("registry lookup failed, dropping message",
				"topic", msg.Topic,
				"error", err,
			)
			p.metrics.MessageDropped(metrics.ReasonStorage)
		}
		return err
	}

	decoded, err := Decode(payload, msg.ReceivedAt)
	if err != nil {
		p.logger.Warn("dropping malformed payload",
			"topic", msg.Topic,
			"payload", payload,
		)
		p.metrics.MessageDropped(metrics.ReasonPayload)
		return err
	}

	if err := p.recorder.Record(ctx, target, decoded); err != nil {
		if errors.Is(err, ErrInvalidValue) {
			p.logger.Warn("dropping non-numeric reading",
				"topic", msg.Topic,
				"payload", payload,
			)
			p.metrics.MessageDropped(metrics.ReasonPayload)
		} else {
			p.logger.Error("failed to store event, dropping message",
				"topic", msg.Topic,
				"mac", target.Board.MAC,
				"error", err,
			)
			p.metrics.MessageDropped(metrics.ReasonStorage)
		}
		return err
	}
	return nil
}

func isAddressingError(err error) bool {
	return errors.Is(err, ErrTopicTooShort) ||
		errors.Is(err, registry.ErrInvalidSuffix) ||
		errors.Is(err, registry.ErrBoardNotFound) ||
		errors.Is(err, registry.ErrSensorNotFound)
}
