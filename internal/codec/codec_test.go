package codec_test

import (
	"errors"
	"strings"
	"testing"

	"conveyor/internal/codec"
	"conveyor/internal/envelope"
)

type orderPlaced struct {
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
}

type orderShipped struct {
	OrderID string `json:"orderId"`
}

func newCodec(t *testing.T) *codec.JSON {
	t.Helper()
	c := codec.NewJSON()
	if err := codec.Register[orderPlaced](c, "order.placed"); err != nil {
		t.Fatalf("register order.placed: %v", err)
	}
	if err := codec.Register[orderShipped](c, "order.shipped"); err != nil {
		t.Fatalf("register order.shipped: %v", err)
	}
	return c
}

func TestJSON_RoundTrip(t *testing.T) {
	c := newCodec(t)

	env, err := envelope.New(orderPlaced{OrderID: "ord-1", Amount: 499},
		envelope.WithMessageID("msg-1"),
		envelope.WithCorrelationID("corr-1"),
		envelope.WithContributor("billing"),
	)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}

	data, err := c.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := c.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.MessageID != "msg-1" || got.CorrelationID != "corr-1" || got.Contributor != "billing" {
		t.Errorf("metadata not preserved: %+v", got)
	}
	if got.OperationID != "" {
		t.Errorf("OperationID = %q, want empty", got.OperationID)
	}
	msg, ok := got.Message.(orderPlaced)
	if !ok {
		t.Fatalf("message type = %T, want orderPlaced", got.Message)
	}
	if msg.OrderID != "ord-1" || msg.Amount != 499 {
		t.Errorf("payload not preserved: %+v", msg)
	}
}

func TestJSON_MarshalUnregisteredType(t *testing.T) {
	c := newCodec(t)

	env, _ := envelope.New(struct{ X int }{X: 1})
	if _, err := c.Marshal(env); !errors.Is(err, codec.ErrUnregisteredType) {
		t.Errorf("expected ErrUnregisteredType, got %v", err)
	}
}

func TestJSON_MarshalNilEnvelope(t *testing.T) {
	c := newCodec(t)
	if _, err := c.Marshal(nil); !errors.Is(err, codec.ErrNilEnvelope) {
		t.Errorf("expected ErrNilEnvelope, got %v", err)
	}
}

func TestJSON_UnmarshalUnknownType(t *testing.T) {
	c := newCodec(t)

	data := []byte(`{"messageId":"msg-1","messageType":"order.cancelled","message":{}}`)
	_, err := c.Unmarshal(data)
	if !errors.Is(err, codec.ErrUnregisteredType) {
		t.Errorf("expected ErrUnregisteredType, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "order.cancelled") {
		t.Errorf("error %q should name the unknown type", err)
	}
}

func TestJSON_UnmarshalMalformed(t *testing.T) {
	c := newCodec(t)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not json", []byte("not json at all"), nil},
		{"missing message id", []byte(`{"messageType":"order.placed","message":{}}`), codec.ErrMissingMessageID},
		{"missing type", []byte(`{"messageId":"msg-1","message":{}}`), codec.ErrMissingType},
		{"bad payload", []byte(`{"messageId":"m","messageType":"order.placed","message":{"amount":"not-a-number"}}`), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Unmarshal(tt.data)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	c := codec.NewJSON()
	if err := codec.Register[orderPlaced](c, "order.placed"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := codec.Register[orderPlaced](c, "order.placed"); !errors.Is(err, codec.ErrDuplicateType) {
		t.Errorf("expected ErrDuplicateType, got %v", err)
	}
	if err := codec.Register[orderShipped](c, "order.placed"); !errors.Is(err, codec.ErrDuplicateType) {
		t.Errorf("expected ErrDuplicateType on reused name, got %v", err)
	}
}

func TestRegister_EmptyName(t *testing.T) {
	c := codec.NewJSON()
	if err := codec.Register[orderPlaced](c, ""); !errors.Is(err, codec.ErrEmptyTypeName) {
		t.Errorf("expected ErrEmptyTypeName, got %v", err)
	}
}

func TestJSON_DecodeMessage(t *testing.T) {
	c := newCodec(t)

	msg, err := c.DecodeMessage("order.placed", []byte(`{"orderId":"ord-9","amount":12}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	placed, ok := msg.(orderPlaced)
	if !ok {
		t.Fatalf("decoded type = %T, want orderPlaced", msg)
	}
	if placed.OrderID != "ord-9" || placed.Amount != 12 {
		t.Errorf("decoded payload = %+v", placed)
	}

	if _, err := c.DecodeMessage("order.unknown", []byte(`{}`)); !errors.Is(err, codec.ErrUnregisteredType) {
		t.Errorf("expected ErrUnregisteredType, got %v", err)
	}
}
