package envelope

import (
	"errors"

	"github.com/google/uuid"
)

// Construction errors
var (
	ErrNilMessage         = errors.New("envelope message cannot be nil")
	ErrEmptyMessageID     = errors.New("messageId cannot be empty")
	ErrEmptyOperationID   = errors.New("operationId cannot be empty")
	ErrEmptyCorrelationID = errors.New("correlationId cannot be empty")
)

// Envelope wraps a single application message with identity metadata for
// transport. OperationID groups every envelope belonging to one logical
// operation; CorrelationID links a message to the message that caused it.
// Both are optional and represented as the empty string when absent.
//
// An Envelope is treated as read-only after construction: the bus serializes
// it and the processing engine routes it, neither mutates it.
type Envelope struct {
	MessageID     string
	OperationID   string
	CorrelationID string
	Contributor   string
	Message       any
}

// Option customizes an Envelope during construction.
type Option func(*Envelope) error

// WithMessageID overrides the generated message ID.
func WithMessageID(id string) Option {
	return func(e *Envelope) error {
		if id == "" {
			return ErrEmptyMessageID
		}
		e.MessageID = id
		return nil
	}
}

// WithOperationID attaches the logical operation this message belongs to.
func WithOperationID(id string) Option {
	return func(e *Envelope) error {
		if id == "" {
			return ErrEmptyOperationID
		}
		e.OperationID = id
		return nil
	}
}

// WithCorrelationID links this message to the message that caused it.
func WithCorrelationID(id string) Option {
	return func(e *Envelope) error {
		if id == "" {
			return ErrEmptyCorrelationID
		}
		e.CorrelationID = id
		return nil
	}
}

// WithContributor tags the producing process.
func WithContributor(name string) Option {
	return func(e *Envelope) error {
		e.Contributor = name
		return nil
	}
}

// New wraps message in an Envelope with a freshly generated message ID.
// OperationID and CorrelationID stay absent unless supplied via options.
func New(message any, opts ...Option) (*Envelope, error) {
	if message == nil {
		return nil, ErrNilMessage
	}

	e := &Envelope{
		MessageID: uuid.New().String(),
		Message:   message,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Partitioned is implemented by messages that pin all envelopes sharing a
// key to one partition, so they are delivered in send order relative to
// one another. Messages without the capability are partitioned by broker
// policy with no cross-message ordering.
type Partitioned interface {
	PartitionKey() string
}

// Key returns the message's partition key, or "" when the message does not
// expose one.
func Key(message any) string {
	if p, ok := message.(Partitioned); ok {
		return p.PartitionKey()
	}
	return ""
}
