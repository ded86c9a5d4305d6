// Package ingest accepts messages over HTTP, wraps each in an envelope, and
// queues them for the worker pool to send through the bus.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"conveyor/internal/codec"
	"conveyor/internal/envelope"
	"conveyor/internal/metrics"
)

// Handler handles message ingestion via HTTP
type Handler struct {
	// Channel feeding the worker pool
	envelopeChan chan<- *envelope.Envelope

	// Registry used to decode payloads into their concrete types
	codec *codec.JSON

	// Contributor tag stamped on produced envelopes
	contributor string

	// Max body size (default 10MB)
	maxBodySize int64
}

// Config holds configuration for the ingest handler
type Config struct {
	EnvelopeChan chan<- *envelope.Envelope
	Codec        *codec.JSON
	Contributor  string
	MaxBodySize  int64
}

// NewHandler creates a new ingest handler
func NewHandler(cfg Config) *Handler {
	contributor := cfg.Contributor
	if contributor == "" {
		contributor, _ = os.Hostname()
		if contributor == "" {
			contributor = "unknown"
		}
	}

	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 10 * 1024 * 1024 // 10MB default
	}

	return &Handler{
		envelopeChan: cfg.EnvelopeChan,
		codec:        cfg.Codec,
		contributor:  contributor,
		maxBodySize:  maxBodySize,
	}
}

// MessageInput is the input format for one message
type MessageInput struct {
	Type          string          `json:"type"`
	MessageID     string          `json:"messageId,omitempty"`
	OperationID   string          `json:"operationId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Request represents the incoming JSON payload (single or batch)
type Request struct {
	// Single message (if Messages is empty)
	Message *MessageInput `json:"message,omitempty"`

	// Batch of messages
	Messages []MessageInput `json:"messages,omitempty"`
}

// Response is the response returned to clients
type Response struct {
	Success  bool    `json:"success"`
	Accepted int     `json:"accepted"`
	Rejected int     `json:"rejected"`
	Errors   []Error `json:"errors,omitempty"`
}

// Error describes a validation error for a specific message
type Error struct {
	Index int    `json:"index"`
	Type  string `json:"type,omitempty"`
	Error string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only accept POST
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Check content type
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		h.writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	// Limit body size
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	// Read body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	// Parse JSON
	inputs, err := h.parseBody(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(inputs) == 0 {
		h.writeError(w, http.StatusBadRequest, "no messages provided")
		return
	}

	metrics.IngestBatchSize.Observe(float64(len(inputs)))

	// Process messages
	response := h.processMessages(inputs)

	// Return response
	w.Header().Set("Content-Type", "application/json")
	if response.Rejected > 0 && response.Accepted == 0 {
		w.WriteHeader(http.StatusBadRequest)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// parseBody parses the JSON body into a slice of MessageInput
func (h *Handler) parseBody(body []byte) ([]MessageInput, error) {
	// Try parsing as Request first
	var req Request
	if err := json.Unmarshal(body, &req); err == nil {
		if len(req.Messages) > 0 {
			return req.Messages, nil
		}
		if req.Message != nil {
			return []MessageInput{*req.Message}, nil
		}
	}

	// Try parsing as array of messages
	var inputs []MessageInput
	if err := json.Unmarshal(body, &inputs); err == nil && len(inputs) > 0 {
		return inputs, nil
	}

	// Try parsing as single message
	var single MessageInput
	if err := json.Unmarshal(body, &single); err == nil && single.Type != "" {
		return []MessageInput{single}, nil
	}

	return nil, fmt.Errorf("invalid JSON format: expected message object or array of messages")
}

// processMessages decodes, wraps, and pushes messages to the channel
func (h *Handler) processMessages(inputs []MessageInput) Response {
	response := Response{
		Success: true,
		Errors:  make([]Error, 0),
	}

	for i, input := range inputs {
		env, err := h.buildEnvelope(input)
		if err != nil {
			response.Errors = append(response.Errors, Error{
				Index: i,
				Type:  input.Type,
				Error: err.Error(),
			})
			response.Rejected++
			metrics.IngestMessagesTotal.WithLabelValues("rejected").Inc()
			continue
		}

		// Non-blocking send: reject when the queue is full
		select {
		case h.envelopeChan <- env:
			response.Accepted++
			metrics.IngestMessagesTotal.WithLabelValues("accepted").Inc()
		default:
			response.Errors = append(response.Errors, Error{
				Index: i,
				Type:  input.Type,
				Error: "internal queue full, try again later",
			})
			response.Rejected++
			metrics.IngestMessagesTotal.WithLabelValues("rejected").Inc()
		}
	}

	response.Success = response.Rejected == 0
	return response
}

// buildEnvelope decodes one input into a typed message and wraps it
func (h *Handler) buildEnvelope(input MessageInput) (*envelope.Envelope, error) {
	if input.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}

	msg, err := h.codec.DecodeMessage(input.Type, input.Payload)
	if err != nil {
		return nil, err
	}

	opts := []envelope.Option{envelope.WithContributor(h.contributor)}
	if input.MessageID != "" {
		opts = append(opts, envelope.WithMessageID(input.MessageID))
	}
	if input.OperationID != "" {
		opts = append(opts, envelope.WithOperationID(input.OperationID))
	}
	if input.CorrelationID != "" {
		opts = append(opts, envelope.WithCorrelationID(input.CorrelationID))
	}

	return envelope.New(msg, opts...)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
