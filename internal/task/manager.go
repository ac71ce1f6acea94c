package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/maauso/audiosync/internal/progress"
)

// DefaultWorkers is the default number of tasks running at once.
const DefaultWorkers = 2

const defaultQueueSize = 256

var (
	// ErrNoSuchTask is returned when a task cannot be found by ID.
	ErrNoSuchTask = errors.New("no such task")
	// ErrQueueFull is returned by Submit when the queue has no room.
	ErrQueueFull = errors.New("task queue is full")
	// ErrStopped is returned by Submit after Shutdown.
	ErrStopped = errors.New("task manager is stopped")
)

// Outcome is what a worker returns on success.
type Outcome struct {
	Result any
	// OnCancel, when set, runs if the task is cancelled after completing.
	OnCancel CancelFunc
}

// Worker is the operation run by a task. report updates the task's progress.
type Worker func(ctx context.Context, report progress.Func) (Outcome, error)

type entry struct {
	task   *Task
	worker Worker
}

// Manager runs submitted workers on a fixed number of goroutines.
// Tasks are kept in memory until cancelled.
type Manager struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	queue   chan entry
	workers int
	logger  *slog.Logger

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithQueueSize sets how many tasks may wait for a worker.
func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.queue = make(chan entry, n)
		}
	}
}

// NewManager creates a Manager with the given number of workers.
// Call Start before submitting work.
func NewManager(workers int, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		tasks:   make(map[string]*Task),
		queue:   make(chan entry, defaultQueueSize),
		workers: workers,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the workers. Workers stop when ctx is done or on Shutdown.
func (m *Manager) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true

	ctx, m.stop = context.WithCancel(ctx)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.workerLoop(ctx)
	}
	m.logger.Info("task manager started", slog.Int("workers", m.workers))
}

// Shutdown stops the workers and waits for running tasks to return, or for
// ctx to be done. Queued tasks are not run.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifecycle.Lock()
	m.stopped = true
	stop := m.stop
	m.lifecycle.Unlock()

	if stop != nil {
		stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("task manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown task manager: %w", ctx.Err())
	}
}

// Submit queues worker under a new task and returns a snapshot of it.
// The task is visible to Get immediately.
func (m *Manager) Submit(name string, worker Worker) (*Task, error) {
	m.lifecycle.Lock()
	stopped := m.stopped
	m.lifecycle.Unlock()
	if stopped {
		return nil, ErrStopped
	}

	t := New(name)

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	select {
	case m.queue <- entry{task: t, worker: worker}:
	default:
		m.mu.Lock()
		delete(m.tasks, t.ID)
		m.mu.Unlock()
		return nil, ErrQueueFull
	}

	m.logger.Info("task submitted", slog.String("task_id", t.ID), slog.String("name", name))
	return t.Clone(), nil
}

// Get returns a snapshot of a task.
func (m *Manager) Get(taskID string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTask, taskID)
	}
	return t.Clone(), nil
}

// List returns snapshots of all tasks, oldest first.
func (m *Manager) List() []*Task {
	m.mu.RLock()
	result := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		result = append(result, t.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Cancel removes a task. A queued task never runs. A completed task's cleanup
// hook runs now; a running task's hook runs once its worker returns.
// Cancelling an unknown task is a no-op.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	delete(m.tasks, taskID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	m.logger.Info("task cancelled", slog.String("task_id", taskID))
	if hook := t.markCancelled(); hook != nil {
		return m.runHook(ctx, taskID, hook)
	}
	return nil
}

func (m *Manager) workerLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-m.queue:
			m.process(ctx, e)
		}
	}
}

// process runs one queued task unless it was cancelled while queued.
func (m *Manager) process(ctx context.Context, e entry) {
	t := e.task
	m.mu.RLock()
	_, alive := m.tasks[t.ID]
	m.mu.RUnlock()
	if !alive {
		m.logger.Debug("skipping cancelled task", slog.String("task_id", t.ID))
		return
	}

	if err := t.Start(); err != nil {
		m.logger.Error("failed to start task", slog.String("task_id", t.ID), slog.String("error", err.Error()))
		return
	}
	log := m.logger.With(slog.String("task_id", t.ID), slog.String("name", t.Name))
	log.Info("task running")

	out, err := m.call(ctx, e.worker, t.UpdateProgress)
	if err != nil {
		log.Error("task failed", slog.String("error", err.Error()))
		_ = t.Fail(err.Error())
		return
	}

	cancelled, err := t.Complete(out.Result, out.OnCancel)
	if err != nil {
		log.Error("failed to complete task", slog.String("error", err.Error()))
		return
	}
	log.Info("task completed")

	if cancelled && out.OnCancel != nil {
		_ = m.runHook(context.WithoutCancel(ctx), t.ID, out.OnCancel)
	}
}

func (m *Manager) call(ctx context.Context, w Worker, report progress.Func) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return w(ctx, report)
}

func (m *Manager) runHook(ctx context.Context, taskID string, hook CancelFunc) error {
	if err := hook(ctx); err != nil {
		m.logger.Warn("task cleanup failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return fmt.Errorf("cleanup task %s: %w", taskID, err)
	}
	return nil
}
