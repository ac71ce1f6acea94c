// Package task provides the Task aggregate and a bounded-concurrency manager
// that runs long operations as pollable, cancellable tasks.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maauso/audiosync/internal/progress"
	"github.com/maauso/audiosync/internal/task/id"
)

// Status represents the current state of a Task.
type Status string

const (
	// StatusQueued indicates the task is waiting for a free worker.
	StatusQueued Status = "queued"
	// StatusRunning indicates the task's worker is executing.
	StatusRunning Status = "running"
	// StatusCompleted indicates the worker returned a result.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the worker returned an error.
	StatusFailed Status = "failed"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CancelFunc is cleanup registered by a successful worker.
type CancelFunc func(ctx context.Context) error

// Task is a unit of background work with progress and a terminal result or error.
type Task struct {
	mu sync.RWMutex

	// ID is the unique identifier for this task.
	ID string
	// Name describes the operation, e.g. "probe".
	Name string
	// Status is the current task state.
	Status Status
	// Completed is the number of finished steps, fractional within a step.
	Completed float64
	// Total is the number of steps.
	Total int
	// CurrentStep is the name of the running step.
	CurrentStep string
	// Result is set once the task completes.
	Result any
	// Error contains the error message if the task failed.
	Error string
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time
	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time
	// StartedAt is when a worker picked the task up.
	StartedAt time.Time
	// CompletedAt is when the task reached a terminal state.
	CompletedAt time.Time

	onCancel  CancelFunc
	cancelled bool
}

// New creates a queued Task with a generated ID.
func New(name string) *Task {
	return NewWithID(id.Generate(), name)
}

// NewWithID creates a queued Task with the specified ID.
func NewWithID(taskID, name string) *Task {
	now := time.Now()
	return &Task{
		ID:        taskID,
		Name:      name,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo changes the task status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (t *Task) TransitionTo(status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(status)
}

func (t *Task) transitionLocked(status Status) error {
	if !canTransition(t.Status, status) {
		return ErrInvalidTransition
	}

	t.Status = status
	t.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		t.StartedAt = t.UpdatedAt
	case StatusCompleted, StatusFailed:
		t.CompletedAt = t.UpdatedAt
	}
	return nil
}

// Start transitions the task from queued to running.
func (t *Task) Start() error {
	return t.TransitionTo(StatusRunning)
}

// Complete stores the result and cleanup hook and marks the task completed.
// It reports whether the task was cancelled while running, in which case
// the caller owns running the hook.
func (t *Task) Complete(result any, onCancel CancelFunc) (cancelled bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(StatusCompleted); err != nil {
		return false, err
	}
	t.Result = result
	t.onCancel = onCancel
	if t.Total > 0 {
		t.Completed = float64(t.Total)
	}
	return t.cancelled, nil
}

// Fail marks the task failed with an error message.
func (t *Task) Fail(errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(StatusFailed); err != nil {
		return err
	}
	t.Error = errMsg
	return nil
}

// markCancelled flags the task and returns the cleanup hook when the task has
// already completed. A running task runs its hook when it completes.
func (t *Task) markCancelled() CancelFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	if t.Status == StatusCompleted {
		return t.onCancel
	}
	return nil
}

// UpdateProgress stores a progress snapshot. Ignored once the task is terminal.
func (t *Task) UpdateProgress(u progress.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status == StatusCompleted || t.Status == StatusFailed {
		return
	}
	t.Completed = u.Completed
	t.Total = u.Total
	t.CurrentStep = u.CurrentStep
	t.UpdatedAt = time.Now()
}

// GetStatus returns the current task status (thread-safe).
func (t *Task) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// IsTerminal returns true if the task is completed or failed.
func (t *Task) IsTerminal() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Clone creates a copy of the task for safe reads. The result value is
// shared, workers must not mutate it after returning.
func (t *Task) Clone() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return &Task{
		ID:          t.ID,
		Name:        t.Name,
		Status:      t.Status,
		Completed:   t.Completed,
		Total:       t.Total,
		CurrentStep: t.CurrentStep,
		Result:      t.Result,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}
