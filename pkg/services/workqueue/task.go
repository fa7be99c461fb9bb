package workqueue

import (
	"context"
	"time"
)

// TaskStatus is the terminal state of a task after a batch run.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// Task is one unit of work in a batch.
type Task interface {
	// ID returns a unique identifier for this task.
	ID() string

	// Name returns a human-readable name for logs.
	Name() string

	// Execute runs the task. ctx is cancelled when the batch is cancelled
	// or the task exceeds the pool's per-task timeout.
	Execute(ctx context.Context) error
}

// Result records how a single task ended.
type Result struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   TaskStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// FuncTask adapts a function to the Task interface.
type FuncTask struct {
	id   string
	name string
	fn   func(ctx context.Context) error
}

// NewFuncTask creates a task running fn.
func NewFuncTask(id, name string, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{id: id, name: name, fn: fn}
}

func (t *FuncTask) ID() string {
	return t.id
}

func (t *FuncTask) Name() string {
	return t.name
}

func (t *FuncTask) Execute(ctx context.Context) error {
	return t.fn(ctx)
}
