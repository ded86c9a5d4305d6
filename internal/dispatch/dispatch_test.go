package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"conveyor/internal/dispatch"
	"conveyor/internal/envelope"
)

type eventA struct {
	ID string
}

type eventB struct {
	ID string
}

func TestDispatch_RoutesByConcreteType(t *testing.T) {
	d := dispatch.New()

	var gotA, gotB int32
	err := dispatch.Register(d, func(ctx context.Context, m dispatch.Typed[eventA]) error {
		atomic.AddInt32(&gotA, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("register A: %v", err)
	}
	err = dispatch.Register(d, func(ctx context.Context, m dispatch.Typed[eventB]) error {
		atomic.AddInt32(&gotB, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("register B: %v", err)
	}

	env, _ := envelope.New(eventA{ID: "a-1"})
	if err := d.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if gotA != 1 {
		t.Errorf("A handler invoked %d times, want 1", gotA)
	}
	if gotB != 0 {
		t.Errorf("B handler invoked %d times, want 0", gotB)
	}
}

func TestDispatch_TypedViewPreservesMetadata(t *testing.T) {
	d := dispatch.New()

	var got dispatch.Typed[eventA]
	err := dispatch.Register(d, func(ctx context.Context, m dispatch.Typed[eventA]) error {
		got = m
		return nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	env, _ := envelope.New(eventA{ID: "a-2"},
		envelope.WithMessageID("msg-1"),
		envelope.WithOperationID("op-1"),
		envelope.WithCorrelationID("corr-1"),
		envelope.WithContributor("ingest"),
	)
	if err := d.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got.MessageID != "msg-1" || got.OperationID != "op-1" || got.CorrelationID != "corr-1" || got.Contributor != "ingest" {
		t.Errorf("metadata not preserved: %+v", got)
	}
	if got.Message.ID != "a-2" {
		t.Errorf("Message.ID = %q, want a-2", got.Message.ID)
	}
}

func TestDispatch_HandlerErrorPropagates(t *testing.T) {
	d := dispatch.New()

	boom := errors.New("handler failed")
	_ = dispatch.Register(d, func(ctx context.Context, m dispatch.Typed[eventA]) error {
		return boom
	})

	env, _ := envelope.New(eventA{})
	if err := d.Dispatch(context.Background(), env); !errors.Is(err, boom) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestDispatch_UnsupportedType(t *testing.T) {
	d := dispatch.New()

	var invoked int32
	_ = dispatch.Register(d, func(ctx context.Context, m dispatch.Typed[eventA]) error {
		atomic.AddInt32(&invoked, 1)
		return nil
	})

	env, _ := envelope.New(eventB{ID: "b-1"})
	err := d.Dispatch(context.Background(), env)
	if !errors.Is(err, dispatch.ErrUnsupportedMessageType) {
		t.Fatalf("expected ErrUnsupportedMessageType, got %v", err)
	}
	if !strings.Contains(err.Error(), "eventB") {
		t.Errorf("error %q should name the message type", err)
	}
	if invoked != 0 {
		t.Errorf("handler invoked %d times for unsupported type, want 0", invoked)
	}
}

func TestDispatch_NilEnvelope(t *testing.T) {
	d := dispatch.New()
	if err := d.Dispatch(context.Background(), nil); err == nil {
		t.Error("expected error for nil envelope")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	d := dispatch.New()

	h := func(ctx context.Context, m dispatch.Typed[eventA]) error { return nil }
	if err := dispatch.Register(d, h); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := dispatch.Register(d, h); !errors.Is(err, dispatch.ErrDuplicateHandler) {
		t.Errorf("expected ErrDuplicateHandler, got %v", err)
	}
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
}

func TestRegister_NilHandler(t *testing.T) {
	d := dispatch.New()
	if err := dispatch.Register[eventA](d, nil); !errors.Is(err, dispatch.ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
}

func TestDispatch_Concurrent(t *testing.T) {
	d := dispatch.New()

	var count int32
	_ = dispatch.Register(d, func(ctx context.Context, m dispatch.Typed[eventA]) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, _ := envelope.New(eventA{})
			_ = d.Dispatch(context.Background(), env)
		}()
	}
	wg.Wait()

	if count != 20 {
		t.Errorf("handler invoked %d times, want 20", count)
	}
}
