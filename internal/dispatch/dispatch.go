// Package dispatch routes deserialized envelopes to the one handler
// registered for their payload's concrete runtime type, without the engine
// knowing the message-type set ahead of time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"conveyor/internal/envelope"
)

var (
	ErrNilEnvelope            = errors.New("cannot dispatch a nil envelope")
	ErrNilHandler             = errors.New("handler cannot be nil")
	ErrDuplicateHandler       = errors.New("handler already registered for message type")
	ErrUnsupportedMessageType = errors.New("no handler registered for message type")
)

// Typed is the strongly typed view of an envelope handed to a handler: same
// identity metadata, payload narrowed to T.
type Typed[T any] struct {
	MessageID     string
	OperationID   string
	CorrelationID string
	Contributor   string
	Message       T
}

// HandlerFunc handles every message of type T.
type HandlerFunc[T any] func(ctx context.Context, env Typed[T]) error

// Dispatcher maps concrete message types to their handlers. The route table
// is built at registration time, so the hot path is a single map lookup on
// the payload's runtime type. Read-mostly and safe for concurrent dispatch
// from multiple partition loops.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[reflect.Type]func(ctx context.Context, e *envelope.Envelope) error
}

// New returns an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		routes: make(map[reflect.Type]func(ctx context.Context, e *envelope.Envelope) error),
	}
}

// Register declares that h handles every message whose runtime type is
// exactly T. A second registration for the same type fails: a message type
// has exactly one handler.
func Register[T any](d *Dispatcher, h HandlerFunc[T]) error {
	if h == nil {
		return ErrNilHandler
	}

	rt := reflect.TypeOf((*T)(nil)).Elem()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.routes[rt]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, rt)
	}

	d.routes[rt] = func(ctx context.Context, e *envelope.Envelope) error {
		return h(ctx, Typed[T]{
			MessageID:     e.MessageID,
			OperationID:   e.OperationID,
			CorrelationID: e.CorrelationID,
			Contributor:   e.Contributor,
			Message:       e.Message.(T),
		})
	}
	return nil
}

// Dispatch invokes the single handler registered for the envelope payload's
// runtime type, forwarding ctx for cancellation. An unroutable message is a
// consumer configuration error and fails with ErrUnsupportedMessageType.
func (d *Dispatcher) Dispatch(ctx context.Context, e *envelope.Envelope) error {
	if e == nil {
		return ErrNilEnvelope
	}

	d.mu.RLock()
	route, ok := d.routes[reflect.TypeOf(e.Message)]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedMessageType, e.Message)
	}

	return route(ctx, e)
}

// Len reports how many message types have handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.routes)
}
