// Package deadletter gives the engine's exception handler a production
// default: failed records are republished to a dead-letter topic, carrying
// the raw record and the failure reason, so poisoned or unprocessable
// messages stay inspectable after the partition has checkpointed past them.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"conveyor/internal/engine"
	"conveyor/internal/envelope"
	"conveyor/internal/metrics"
	"conveyor/internal/retry"
)

// Notice is the message published to the dead-letter topic for one failed
// record. Payload holds the original raw record bytes, undecoded, since the
// failure may have been the decoding itself.
type Notice struct {
	MessageID     string    `json:"originalMessageId,omitempty"`
	Topic         string    `json:"topic"`
	Partition     int       `json:"partition"`
	Offset        int64     `json:"offset"`
	Reason        string    `json:"reason"`
	Payload       []byte    `json:"payload"`
	FailedAt      time.Time `json:"failedAt"`
}

// PartitionKey orders dead letters from one source partition relative to
// one another.
func (n Notice) PartitionKey() string {
	return fmt.Sprintf("%s-%d", n.Topic, n.Partition)
}

// Sender sends one envelope; satisfied by the bus.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

// Publisher republishes failed records as Notice envelopes under a retry
// policy. It implements engine.ExceptionHandler.
type Publisher struct {
	sender      Sender
	policy      retry.Policy
	contributor string
}

// NewPublisher creates a dead-letter publisher. contributor tags the
// republished envelopes with this process's name.
func NewPublisher(sender Sender, policy retry.Policy, contributor string) *Publisher {
	return &Publisher{
		sender:      sender,
		policy:      policy,
		contributor: contributor,
	}
}

// HandleException publishes one Notice for the failed record. The engine
// checkpoints regardless of the outcome here; an error only surfaces in
// logs and metrics.
func (p *Publisher) HandleException(ctx context.Context, ec *engine.ExceptionContext) error {
	notice := Notice{
		Topic:     ec.Partition.Topic,
		Partition: ec.Partition.Partition,
		Offset:    ec.Record.Offset,
		Reason:    ec.Err.Error(),
		Payload:   ec.Record.Value,
		FailedAt:  time.Now().UTC(),
	}

	opts := []envelope.Option{envelope.WithContributor(p.contributor)}
	if ec.Envelope != nil {
		notice.MessageID = ec.Envelope.MessageID
		// Link the notice to the message that caused it.
		opts = append(opts, envelope.WithCorrelationID(ec.Envelope.MessageID))
	}

	env, err := envelope.New(notice, opts...)
	if err != nil {
		metrics.DeadLettersPublished.WithLabelValues("failed").Inc()
		return err
	}

	err = p.policy.Run(ctx, func(ctx context.Context) error {
		return p.sender.Send(ctx, env)
	})
	if err != nil {
		metrics.DeadLettersPublished.WithLabelValues("failed").Inc()
		return err
	}

	metrics.DeadLettersPublished.WithLabelValues("success").Inc()
	return nil
}
