package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"conveyor/internal/envelope"
	"conveyor/internal/metrics"
	"conveyor/internal/retry"
)

// Record is one raw transport record with its position in the partition.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// PartitionInfo identifies which partition produced a record.
type PartitionInfo struct {
	Topic     string
	Partition int
}

// ExceptionContext carries everything an exception handler needs about one
// failed record. Envelope is nil when deserialization failed before an
// envelope could be produced; the raw record is always present.
type ExceptionContext struct {
	Record    Record
	Envelope  *envelope.Envelope
	Err       error
	Partition PartitionInfo
}

// ExceptionHandler observes failed records. It is best-effort: its own
// failure is counted and logged but never blocks checkpointing.
type ExceptionHandler interface {
	HandleException(ctx context.Context, ec *ExceptionContext) error
}

// ExceptionHandlerFunc adapts a function to ExceptionHandler.
type ExceptionHandlerFunc func(ctx context.Context, ec *ExceptionContext) error

// HandleException implements ExceptionHandler.
func (fn ExceptionHandlerFunc) HandleException(ctx context.Context, ec *ExceptionContext) error {
	return fn(ctx, ec)
}

// Deserializer decodes raw record bytes into an envelope.
type Deserializer interface {
	Unmarshal(data []byte) (*envelope.Envelope, error)
}

// EnvelopeHandler routes a decoded envelope to application code.
type EnvelopeHandler interface {
	Dispatch(ctx context.Context, e *envelope.Envelope) error
}

// Deduplicator suppresses duplicate deliveries under at-least-once
// semantics. Seen must not mark: a message ID becomes seen only through
// Mark, which the engine calls after handling finishes. A record abandoned
// mid-handling therefore stays unseen and its redelivery is dispatched.
type Deduplicator interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Mark(ctx context.Context, messageID string) error
}

// CheckpointFunc persists a record's position as the partition's new resume
// point.
type CheckpointFunc func(ctx context.Context, rec Record) error

// partitionWorker drives the per-record sequence for one partition:
// deserialize, dispatch, checkpoint. Records are strictly sequential; the
// resume point always reflects the last fully attempted record.
type partitionWorker struct {
	info            PartitionInfo
	deserializer    Deserializer
	handler         EnvelopeHandler
	exceptions      ExceptionHandler
	checkpoint      CheckpointFunc
	checkpointRetry retry.Policy
	dedup           Deduplicator
	log             zerolog.Logger
}

// processRecord runs one record through the cycle. It returns false when the
// partition loop must stop: either cancellation was observed during handling
// (the record is deliberately not checkpointed so it is redelivered after
// reassignment) or the checkpoint itself could not be persisted.
func (w *partitionWorker) processRecord(ctx context.Context, rec Record) bool {
	env, err := w.deserializer.Unmarshal(rec.Value)
	if err != nil {
		// Poison message: report it and checkpoint past it so it cannot
		// block the partition forever.
		metrics.EngineRecordsTotal.WithLabelValues("deserialize_error").Inc()
		w.log.Warn().
			Err(err).
			Int64("offset", rec.Offset).
			Msg("record failed to deserialize")
		w.reportException(ctx, rec, nil, err)
		return w.commit(ctx, rec)
	}

	if w.dedup != nil {
		seen, derr := w.dedup.Seen(ctx, env.MessageID)
		if derr != nil {
			// Fail open: delivery is at-least-once with or without the guard.
			w.log.Warn().
				Err(derr).
				Str("message_id", env.MessageID).
				Msg("duplicate check failed, processing anyway")
		} else if seen {
			metrics.EngineRecordsTotal.WithLabelValues("duplicate").Inc()
			w.log.Debug().
				Str("message_id", env.MessageID).
				Int64("offset", rec.Offset).
				Msg("duplicate message skipped")
			return w.commit(ctx, rec)
		}
	}

	start := time.Now()
	err = w.handler.Dispatch(ctx, env)
	metrics.EngineDispatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil && retry.IsCancellation(err) {
			// Shutdown, not an application failure. Leave the record
			// uncheckpointed and stop the partition. A handler error that
			// merely wraps a deadline from its own sub-context does not
			// qualify: unless the partition context itself is cancelled,
			// the failure is handled like any other.
			w.log.Info().
				Str("message_id", env.MessageID).
				Int64("offset", rec.Offset).
				Msg("cancellation observed during handling")
			return false
		}

		metrics.EngineRecordsTotal.WithLabelValues("handler_error").Inc()
		w.log.Error().
			Err(err).
			Str("message_id", env.MessageID).
			Int64("offset", rec.Offset).
			Msg("handler failed")
		w.reportException(ctx, rec, env, err)
		return w.commit(ctx, rec)
	}

	metrics.EngineRecordsTotal.WithLabelValues("handled").Inc()
	w.markSeen(ctx, env.MessageID)
	return w.commit(ctx, rec)
}

// markSeen records a handled message ID with the duplicate guard. Failure
// is logged and ignored: a missed mark means at worst one extra delivery,
// which handlers already tolerate.
func (w *partitionWorker) markSeen(ctx context.Context, messageID string) {
	if w.dedup == nil {
		return
	}
	if err := w.dedup.Mark(ctx, messageID); err != nil {
		w.log.Warn().
			Err(err).
			Str("message_id", messageID).
			Msg("failed to mark message as seen")
	}
}

// reportException invokes the exception handler once for a failed record.
// The handler's own failure is swallowed: checkpoint progress must not
// depend on it succeeding.
func (w *partitionWorker) reportException(ctx context.Context, rec Record, env *envelope.Envelope, cause error) {
	if w.exceptions == nil {
		return
	}

	ec := &ExceptionContext{
		Record:    rec,
		Envelope:  env,
		Err:       cause,
		Partition: w.info,
	}
	if err := w.exceptions.HandleException(ctx, ec); err != nil {
		metrics.EngineExceptionHandlerFailures.Inc()
		w.log.Warn().
			Err(err).
			Int64("offset", rec.Offset).
			Msg("exception handler failed")
	}
}

// commit persists rec's position, retrying transient failures per the
// configured policy. Returns false when the position could not be persisted
// and the partition loop should stop rather than advance past an
// uncheckpointed record.
func (w *partitionWorker) commit(ctx context.Context, rec Record) bool {
	err := w.checkpointRetry.Run(ctx, func(ctx context.Context) error {
		return w.checkpoint(ctx, rec)
	})
	if err != nil {
		metrics.EngineCheckpointFailures.Inc()
		if !retry.IsCancellation(err) {
			w.log.Error().
				Err(err).
				Int64("offset", rec.Offset).
				Msg("checkpoint failed")
		}
		return false
	}

	metrics.EngineCheckpointsTotal.Inc()
	return true
}
