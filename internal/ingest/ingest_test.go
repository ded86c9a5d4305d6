package ingest_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conveyor/internal/codec"
	"conveyor/internal/envelope"
	"conveyor/internal/ingest"
	"conveyor/internal/messages"
)

func newHandler(t *testing.T, queueSize int) (*ingest.Handler, chan *envelope.Envelope) {
	t.Helper()

	c := codec.NewJSON()
	if err := messages.RegisterAll(c); err != nil {
		t.Fatalf("register messages: %v", err)
	}

	ch := make(chan *envelope.Envelope, queueSize)
	h := ingest.NewHandler(ingest.Config{
		EnvelopeChan: ch,
		Codec:        c,
		Contributor:  "ingest-test",
	})
	return h, ch
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) ingest.Response {
	t.Helper()
	var resp ingest.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestServeHTTP_SingleMessage(t *testing.T) {
	h, ch := newHandler(t, 10)

	rec := post(h, `{
		"message": {
			"type": "task.submitted",
			"messageId": "msg-1",
			"correlationId": "corr-1",
			"payload": {"taskId": "task-1", "queue": "default"}
		}
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.Accepted != 1 || resp.Rejected != 0 {
		t.Errorf("response = %+v, want 1 accepted", resp)
	}

	select {
	case env := <-ch:
		if env.MessageID != "msg-1" || env.CorrelationID != "corr-1" {
			t.Errorf("envelope metadata = %+v", env)
		}
		if env.Contributor != "ingest-test" {
			t.Errorf("Contributor = %q, want ingest-test", env.Contributor)
		}
		msg, ok := env.Message.(messages.TaskSubmitted)
		if !ok {
			t.Fatalf("message type = %T, want TaskSubmitted", env.Message)
		}
		if msg.TaskID != "task-1" || msg.Queue != "default" {
			t.Errorf("payload = %+v", msg)
		}
	default:
		t.Fatal("no envelope queued")
	}
}

func TestServeHTTP_Batch(t *testing.T) {
	h, ch := newHandler(t, 10)

	rec := post(h, `{
		"messages": [
			{"type": "task.submitted", "payload": {"taskId": "task-1"}},
			{"type": "task.completed", "payload": {"taskId": "task-1", "result": "ok"}}
		]
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decodeResponse(t, rec)
	if resp.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", resp.Accepted)
	}
	if len(ch) != 2 {
		t.Errorf("queued = %d, want 2", len(ch))
	}

	first := <-ch
	if first.MessageID == "" {
		t.Error("expected a generated message ID")
	}
	if _, ok := first.Message.(messages.TaskSubmitted); !ok {
		t.Errorf("first message type = %T", first.Message)
	}
}

func TestServeHTTP_UnknownType(t *testing.T) {
	h, ch := newHandler(t, 10)

	rec := post(h, `{"message": {"type": "task.exploded", "payload": {}}}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Rejected != 1 || resp.Accepted != 0 {
		t.Errorf("response = %+v, want 1 rejected", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Type != "task.exploded" {
		t.Errorf("errors = %+v", resp.Errors)
	}
	if len(ch) != 0 {
		t.Error("rejected message must not be queued")
	}
}

func TestServeHTTP_PartialBatch(t *testing.T) {
	h, _ := newHandler(t, 10)

	rec := post(h, `{
		"messages": [
			{"type": "task.submitted", "payload": {"taskId": "task-1"}},
			{"type": "bogus", "payload": {}}
		]
	}`)

	// Partial acceptance still returns 200; the per-index errors tell the
	// caller which messages to resubmit.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Errorf("response = %+v, want 1 accepted, 1 rejected", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Index != 1 {
		t.Errorf("errors = %+v, want index 1 flagged", resp.Errors)
	}
}

func TestServeHTTP_QueueFull(t *testing.T) {
	h, ch := newHandler(t, 1)
	ch <- func() *envelope.Envelope { e, _ := envelope.New(messages.TaskSubmitted{TaskID: "x"}); return e }()

	rec := post(h, `{"message": {"type": "task.submitted", "payload": {"taskId": "task-2"}}}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 when queue is full", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Rejected != 1 {
		t.Errorf("response = %+v, want 1 rejected", resp)
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	h, _ := newHandler(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestServeHTTP_BadContentType(t *testing.T) {
	h, _ := newHandler(t, 10)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("<xml/>"))
	req.Header.Set("Content-Type", "text/xml")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}

func TestServeHTTP_InvalidBody(t *testing.T) {
	h, _ := newHandler(t, 10)

	rec := post(h, `{"nothing": "useful"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
