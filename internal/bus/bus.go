// Package bus sends envelopes to the partitioned transport. The bus performs
// no implicit retry: a failed or partially delivered batch is surfaced to
// the caller, who owns retry and compensation (see the retry package).
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"conveyor/internal/envelope"
	"conveyor/internal/logger"
	"conveyor/internal/metrics"
)

// Bus errors
var (
	ErrBusClosed       = errors.New("bus is closed")
	ErrNilEnvelope     = errors.New("envelope cannot be nil")
	ErrEmptyBatch      = errors.New("batch cannot be empty")
	ErrNilBatchElement = errors.New("batch cannot contain a nil envelope")
)

// Marshaler frames an envelope for the wire.
type Marshaler interface {
	Marshal(e *envelope.Envelope) ([]byte, error)
}

// writerClient is the slice of *kafka.Writer the bus relies on.
type writerClient interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config controls the underlying writer pool.
type Config struct {
	PoolSize     int
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
}

// Bus publishes envelopes to one topic through a pool of writers, steering
// each record by the payload's partition key when the message exposes one.
type Bus struct {
	topic   string
	codec   Marshaler
	writers []writerClient
	pool    chan writerClient
	closed  atomic.Bool

	sent         atomic.Uint64
	failed       atomic.Uint64
	bytesWritten atomic.Uint64
}

// New creates a bus for the given brokers and topic.
func New(brokers []string, topic string, codec Marshaler, cfg Config) (*Bus, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if codec == nil {
		return nil, errors.New("codec is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	b := &Bus{
		topic:   topic,
		codec:   codec,
		writers: make([]writerClient, cfg.PoolSize),
		pool:    make(chan writerClient, cfg.PoolSize),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		writer := &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // same key, same partition
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			MaxAttempts:  1, // retry belongs to the caller
			Async:        false,
		}
		b.writers[i] = writer
		b.pool <- writer
	}

	return b, nil
}

// newWithWriters backs the bus with pre-built writers. Used by tests.
func newWithWriters(topic string, codec Marshaler, writers []writerClient) *Bus {
	b := &Bus{
		topic:   topic,
		codec:   codec,
		writers: writers,
		pool:    make(chan writerClient, len(writers)),
	}
	for _, w := range writers {
		b.pool <- w
	}
	return b
}

// Send serializes env and transmits exactly one record.
func (b *Bus) Send(ctx context.Context, env *envelope.Envelope) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if env == nil {
		return ErrNilEnvelope
	}

	msg, err := b.buildMessage(env)
	if err != nil {
		b.failed.Add(1)
		metrics.BusSendTotal.WithLabelValues("failed").Inc()
		return err
	}

	return b.write(ctx, msg)
}

// SendBatch sends a non-empty ordered sequence of envelopes. Every element
// is validated and serialized before anything is transmitted, so a malformed
// batch fails fast without partial delivery. A transport-level failure may
// still leave part of the batch delivered; that is surfaced as an error and
// recovery is the caller's responsibility.
func (b *Bus) SendBatch(ctx context.Context, envs []*envelope.Envelope) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if len(envs) == 0 {
		return ErrEmptyBatch
	}
	for i, env := range envs {
		if env == nil {
			return fmt.Errorf("%w: index %d", ErrNilBatchElement, i)
		}
	}

	msgs := make([]kafka.Message, len(envs))
	for i, env := range envs {
		msg, err := b.buildMessage(env)
		if err != nil {
			b.failed.Add(uint64(len(envs)))
			metrics.BusSendTotal.WithLabelValues("failed").Add(float64(len(envs)))
			return fmt.Errorf("envelope %d: %w", i, err)
		}
		msgs[i] = msg
	}

	return b.write(ctx, msgs...)
}

// buildMessage frames one envelope as a transport record.
func (b *Bus) buildMessage(env *envelope.Envelope) (kafka.Message, error) {
	data, err := b.codec.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serialize envelope %s: %w", env.MessageID, err)
	}

	msg := kafka.Message{
		Key:   []byte(envelope.Key(env.Message)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(env.MessageID)},
		},
	}
	if env.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation_id", Value: []byte(env.CorrelationID)})
	}
	if env.Contributor != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "contributor", Value: []byte(env.Contributor)})
	}
	return msg, nil
}

func (b *Bus) write(ctx context.Context, msgs ...kafka.Message) error {
	log := logger.WithComponent("bus")
	start := time.Now()

	var writer writerClient
	select {
	case writer = <-b.pool:
		defer func() { b.pool <- writer }()
	case <-ctx.Done():
		b.failed.Add(uint64(len(msgs)))
		return ctx.Err()
	}

	err := writer.WriteMessages(ctx, msgs...)
	duration := time.Since(start)
	metrics.BusSendDuration.Observe(duration.Seconds())

	if err != nil {
		log.Error().
			Err(err).
			Int("batch_size", len(msgs)).
			Dur("duration", duration).
			Msg("failed to send to transport")
		b.failed.Add(uint64(len(msgs)))
		metrics.BusSendTotal.WithLabelValues("failed").Add(float64(len(msgs)))
		return err
	}

	bytesTotal := uint64(0)
	for _, msg := range msgs {
		bytesTotal += uint64(len(msg.Value))
	}

	b.sent.Add(uint64(len(msgs)))
	b.bytesWritten.Add(bytesTotal)
	metrics.BusSendTotal.WithLabelValues("success").Add(float64(len(msgs)))
	metrics.BusBytesWritten.Add(float64(bytesTotal))

	log.Debug().
		Int("batch_size", len(msgs)).
		Dur("duration", duration).
		Msg("sent to transport")
	return nil
}

// Close closes all writers in the pool
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil // Already closed
	}

	var errs []error
	for _, writer := range b.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing writers: %v", errs)
	}
	return nil
}

// Stats returns bus statistics
func (b *Bus) Stats() Stats {
	return Stats{
		Sent:         b.sent.Load(),
		Failed:       b.failed.Load(),
		BytesWritten: b.bytesWritten.Load(),
	}
}

// Stats holds bus metrics
type Stats struct {
	Sent         uint64
	Failed       uint64
	BytesWritten uint64
}
