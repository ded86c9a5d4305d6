// Package engine drives the at-least-once, per-partition checkpointing loop
// over the partitioned event log. Partition ownership (leases) and
// checkpoint durability come from the consumer group protocol: a generation
// is one lease epoch, and committing an offset persists the partition's
// resume point. One loop runs per assigned partition; within a partition
// records are processed strictly in delivery order.
package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"conveyor/internal/logger"
	"conveyor/internal/metrics"
	"conveyor/internal/retry"
)

// Config wires the engine's collaborators.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	Deserializer Deserializer
	Handler      EnvelopeHandler
	Exceptions   ExceptionHandler
	Dedup        Deduplicator // optional duplicate suppression

	// CheckpointRetry bounds retries of transient checkpoint failures.
	// The zero value checkpoints with a single attempt.
	CheckpointRetry retry.Policy

	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// Engine consumes a topic as a member of a consumer group and runs one
// processing loop per owned partition.
type Engine struct {
	cfg   Config
	group *kafka.ConsumerGroup
}

// New validates cfg and joins the consumer group.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group id is required")
	}
	if cfg.Deserializer == nil {
		return nil, errors.New("deserializer is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6 // 10MB
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}

	group, err := kafka.NewConsumerGroup(kafka.ConsumerGroupConfig{
		ID:      cfg.GroupID,
		Brokers: cfg.Brokers,
		Topics:  []string{cfg.Topic},
	})
	if err != nil {
		return nil, err
	}

	return &Engine{cfg: cfg, group: group}, nil
}

// Run blocks, joining consumer group generations and processing assigned
// partitions until ctx is cancelled. Each rebalance ends the running
// partition loops and starts fresh ones from the committed positions.
func (e *Engine) Run(ctx context.Context) error {
	log := logger.WithComponent("engine")
	defer e.group.Close()

	for {
		gen, err := e.group.Next(ctx)
		if err != nil {
			if errors.Is(err, kafka.ErrGroupClosed) || ctx.Err() != nil {
				log.Info().Msg("engine stopped")
				return nil
			}
			return err
		}

		metrics.EngineRebalances.Inc()

		assigned := 0
		for topic, assignments := range gen.Assignments {
			for _, assignment := range assignments {
				topic, partition, offset := topic, assignment.ID, assignment.Offset
				assigned++
				gen.Start(func(ctx context.Context) {
					e.consumePartition(ctx, gen, topic, partition, offset)
				})
			}
		}
		metrics.EnginePartitionsAssigned.Set(float64(assigned))

		log.Info().
			Int("partitions", assigned).
			Msg("generation joined")
	}
}

// consumePartition owns one partition for the lifetime of a generation:
// read records in order, run each through the worker, stop on cancellation,
// generation end, or checkpoint failure. No partial-record state survives a
// close; an uncheckpointed record is redelivered after reassignment.
func (e *Engine) consumePartition(ctx context.Context, gen *kafka.Generation, topic string, partition int, offset int64) {
	log := logger.WithPartition(topic, partition).With().Str("component", "engine").Logger()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   e.cfg.Brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  e.cfg.MinBytes,
		MaxBytes:  e.cfg.MaxBytes,
		MaxWait:   e.cfg.MaxWait,
	})
	defer reader.Close()

	if err := reader.SetOffset(offset); err != nil {
		log.Error().Err(err).Int64("offset", offset).Msg("failed to seek partition")
		return
	}

	worker := &partitionWorker{
		info:            PartitionInfo{Topic: topic, Partition: partition},
		deserializer:    e.cfg.Deserializer,
		handler:         e.cfg.Handler,
		exceptions:      e.cfg.Exceptions,
		checkpointRetry: e.cfg.CheckpointRetry,
		dedup:           e.cfg.Dedup,
		log:             log,
		checkpoint: func(ctx context.Context, rec Record) error {
			return gen.CommitOffsets(map[string]map[int]int64{
				rec.Topic: {rec.Partition: rec.Offset + 1},
			})
		},
	}

	log.Info().Int64("offset", offset).Msg("partition opened")
	defer log.Info().Msg("partition closed")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, kafka.ErrGenerationEnded) || ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read record")
			return
		}

		rec := Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Time:      msg.Time,
		}
		if !worker.processRecord(ctx, rec) {
			return
		}
	}
}
