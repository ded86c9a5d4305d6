// Package messages defines the task lifecycle events this service consumes.
// All events for one task share the task ID as partition key, so a task's
// history is strictly ordered on the log.
package messages

import (
	"encoding/json"
	"time"

	"conveyor/internal/codec"
)

// TaskSubmitted announces a new unit of work.
type TaskSubmitted struct {
	TaskID      string          `json:"taskId"`
	Queue       string          `json:"queue"`
	Spec        json.RawMessage `json:"spec,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

func (t TaskSubmitted) PartitionKey() string { return t.TaskID }

// TaskCompleted reports a task that finished successfully.
type TaskCompleted struct {
	TaskID      string    `json:"taskId"`
	Result      string    `json:"result,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

func (t TaskCompleted) PartitionKey() string { return t.TaskID }

// TaskFailed reports a task that terminally failed.
type TaskFailed struct {
	TaskID   string    `json:"taskId"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

func (t TaskFailed) PartitionKey() string { return t.TaskID }

// RegisterAll binds every task event to its wire name.
func RegisterAll(c *codec.JSON) error {
	if err := codec.Register[TaskSubmitted](c, "task.submitted"); err != nil {
		return err
	}
	if err := codec.Register[TaskCompleted](c, "task.completed"); err != nil {
		return err
	}
	return codec.Register[TaskFailed](c, "task.failed")
}
