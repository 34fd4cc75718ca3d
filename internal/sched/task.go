package sched

import (
	"context"

	"github.com/google/uuid"
)

// Executor is the work a Task performs when dispatched.
type Executor func(ctx context.Context) error

// CompleteFunc is invoked exactly once per dispatched task, after
// OnError (if any), regardless of the outcome of Executor.
type CompleteFunc func(TaskStats)

// ErrorFunc is invoked at most once per task, only if Executor returns
// a non-nil error or panics, before CompleteFunc.
type ErrorFunc func(stats TaskStats, message string)

// Task is a schedulable unit of work: an executor plus optional
// completion and error callbacks, and the TaskStats recorded across its
// lifetime.
//
// A Task moves from producer ownership, to TaskQueue ownership on a
// successful push, to worker ownership on pop; it is never referenced
// from two places at once.
type Task struct {
	// ID identifies the task for logging, tracing, and metrics. It plays
	// no role in scheduling order.
	ID string

	OnExecute  Executor
	OnComplete CompleteFunc
	OnError    ErrorFunc

	stats TaskStats
}

// NewTask creates a Task with the given executor and optional complete/
// error callbacks. Any of the three may be nil.
func NewTask(onExecute Executor, onComplete CompleteFunc, onError ErrorFunc) *Task {
	return &Task{
		ID:         uuid.NewString(),
		OnExecute:  onExecute,
		OnComplete: onComplete,
		OnError:    onError,
	}
}

// WithOnExecute sets the executor and returns the Task for chaining.
func (t *Task) WithOnExecute(fn Executor) *Task {
	t.OnExecute = fn
	return t
}

// WithOnComplete sets the completion callback and returns the Task for
// chaining.
func (t *Task) WithOnComplete(fn CompleteFunc) *Task {
	t.OnComplete = fn
	return t
}

// WithOnError sets the error callback and returns the Task for chaining.
func (t *Task) WithOnError(fn ErrorFunc) *Task {
	t.OnError = fn
	return t
}

// Stats returns a snapshot of the task's recorded timestamps.
func (t *Task) Stats() TaskStats { return t.stats }

// stampArrival records the arrival timestamp. It is unexported and
// called by TaskQueue under the queue's own lock, exactly once, the
// moment a task first becomes visible to consumers. This replaces the
// friend-class access the source grants TaskQueue over Task's private
// arrival field.
func (t *Task) stampArrival(clock Clock) {
	t.stats.Arrival = clock.Now()
}
