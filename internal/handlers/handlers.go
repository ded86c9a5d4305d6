// Package handlers contains this service's message handlers, one method per
// task event type. Handlers are idempotent: replaying a delivery logs and
// counts again but changes no state, which is what at-least-once delivery
// expects of them.
package handlers

import (
	"context"
	"sync/atomic"

	"conveyor/internal/dispatch"
	"conveyor/internal/logger"
	"conveyor/internal/messages"
)

// TaskHandlers tracks the task lifecycle events flowing through the stream.
type TaskHandlers struct {
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewTaskHandlers creates the handler set.
func NewTaskHandlers() *TaskHandlers {
	return &TaskHandlers{}
}

// Register attaches one handler per task event type to d.
func (h *TaskHandlers) Register(d *dispatch.Dispatcher) error {
	if err := dispatch.Register(d, h.onSubmitted); err != nil {
		return err
	}
	if err := dispatch.Register(d, h.onCompleted); err != nil {
		return err
	}
	return dispatch.Register(d, h.onFailed)
}

func (h *TaskHandlers) onSubmitted(ctx context.Context, env dispatch.Typed[messages.TaskSubmitted]) error {
	h.submitted.Add(1)
	log := logger.WithComponent("task_handlers")
	log.Info().
		Str("message_id", env.MessageID).
		Str("task_id", env.Message.TaskID).
		Str("queue", env.Message.Queue).
		Msg("task submitted")
	return nil
}

func (h *TaskHandlers) onCompleted(ctx context.Context, env dispatch.Typed[messages.TaskCompleted]) error {
	h.completed.Add(1)
	log := logger.WithComponent("task_handlers")
	log.Info().
		Str("message_id", env.MessageID).
		Str("task_id", env.Message.TaskID).
		Msg("task completed")
	return nil
}

func (h *TaskHandlers) onFailed(ctx context.Context, env dispatch.Typed[messages.TaskFailed]) error {
	h.failed.Add(1)
	log := logger.WithComponent("task_handlers")
	log.Warn().
		Str("message_id", env.MessageID).
		Str("task_id", env.Message.TaskID).
		Str("reason", env.Message.Reason).
		Msg("task failed")
	return nil
}

// Stats returns how many events of each kind were handled.
func (h *TaskHandlers) Stats() Stats {
	return Stats{
		Submitted: h.submitted.Load(),
		Completed: h.completed.Load(),
		Failed:    h.failed.Load(),
	}
}

// Stats holds handler counters.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
}
