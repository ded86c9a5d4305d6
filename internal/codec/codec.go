// Package codec frames envelopes for the wire. The format is a JSON object
// carrying the identity metadata, a registered message-type name, and the
// payload as raw JSON, so that identity and payload type round-trip between
// producer and consumer.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"conveyor/internal/envelope"
)

var (
	ErrNilEnvelope      = errors.New("cannot marshal a nil envelope")
	ErrEmptyTypeName    = errors.New("message type name cannot be empty")
	ErrDuplicateType    = errors.New("message type already registered")
	ErrUnregisteredType = errors.New("message type is not registered")
	ErrMissingMessageID = errors.New("wire envelope is missing messageId")
	ErrMissingType      = errors.New("wire envelope is missing messageType")
)

// wireEnvelope is the on-the-wire shape of an Envelope.
type wireEnvelope struct {
	MessageID     string          `json:"messageId"`
	OperationID   string          `json:"operationId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Contributor   string          `json:"contributor,omitempty"`
	MessageType   string          `json:"messageType"`
	Message       json.RawMessage `json:"message"`
}

// JSON serializes envelopes to JSON using a registry of named message types.
// The registry is populated at startup and read-mostly afterwards, safe for
// concurrent use by every partition loop.
type JSON struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewJSON returns a codec with an empty type registry.
func NewJSON() *JSON {
	return &JSON{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register binds a wire name to the concrete message type T. Both directions
// must be unique; registering the same name or type twice fails.
func Register[T any](c *JSON, name string) error {
	if name == "" {
		return ErrEmptyTypeName
	}

	rt := reflect.TypeOf((*T)(nil)).Elem()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byName[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, name)
	}
	if existing, ok := c.byType[rt]; ok {
		return fmt.Errorf("%w: %s as %q", ErrDuplicateType, rt, existing)
	}

	c.byName[name] = rt
	c.byType[rt] = name
	return nil
}

// Marshal encodes e into the wire format. The payload's type must have been
// registered.
func (c *JSON) Marshal(e *envelope.Envelope) ([]byte, error) {
	if e == nil {
		return nil, ErrNilEnvelope
	}

	name, err := c.nameFor(e.Message)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(e.Message)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}

	return json.Marshal(wireEnvelope{
		MessageID:     e.MessageID,
		OperationID:   e.OperationID,
		CorrelationID: e.CorrelationID,
		Contributor:   e.Contributor,
		MessageType:   name,
		Message:       payload,
	})
}

// Unmarshal decodes wire bytes back into an Envelope whose Message has the
// concrete registered type.
func (c *JSON) Unmarshal(data []byte) (*envelope.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode wire envelope: %w", err)
	}
	if w.MessageID == "" {
		return nil, ErrMissingMessageID
	}
	if w.MessageType == "" {
		return nil, ErrMissingType
	}

	msg, err := c.DecodeMessage(w.MessageType, w.Message)
	if err != nil {
		return nil, err
	}

	return &envelope.Envelope{
		MessageID:     w.MessageID,
		OperationID:   w.OperationID,
		CorrelationID: w.CorrelationID,
		Contributor:   w.Contributor,
		Message:       msg,
	}, nil
}

// DecodeMessage builds a message of the registered type name from raw JSON.
func (c *JSON) DecodeMessage(name string, data []byte) (any, error) {
	c.mu.RLock()
	rt, ok := c.byName[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredType, name)
	}

	ptr := reflect.New(rt)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return ptr.Elem().Interface(), nil
}

func (c *JSON) nameFor(message any) (string, error) {
	c.mu.RLock()
	name, ok := c.byType[reflect.TypeOf(message)]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnregisteredType, message)
	}
	return name, nil
}
