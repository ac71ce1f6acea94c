package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiosync/internal/progress"
)

func startManager(t *testing.T, workers int, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(workers, nil, opts...)
	m.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitStatus(t *testing.T, m *Manager, id string, want Status) *Task {
	t.Helper()
	var got *Task
	require.Eventually(t, func() bool {
		task, err := m.Get(id)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 2*time.Second, time.Millisecond)
	return got
}

func TestManager_SubmitAndComplete(t *testing.T) {
	m := startManager(t, 2)

	task, err := m.Submit("probe", func(_ context.Context, report progress.Func) (Outcome, error) {
		report(progress.Update{Completed: 0.5, Total: 1, CurrentStep: "probe"})
		return Outcome{Result: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, task.Status)

	// visible immediately
	_, err = m.Get(task.ID)
	require.NoError(t, err)

	done := waitStatus(t, m, task.ID, StatusCompleted)
	assert.Equal(t, "ok", done.Result)
	assert.Equal(t, 1.0, done.Completed)
	assert.Equal(t, "probe", done.CurrentStep)
	assert.Empty(t, done.Error)
}

func TestManager_WorkerErrorIsStored(t *testing.T) {
	m := startManager(t, 1)

	failing, err := m.Submit("encode", func(context.Context, progress.Func) (Outcome, error) {
		return Outcome{}, errors.New("encode failed: exit 1")
	})
	require.NoError(t, err)
	panicking, err := m.Submit("encode", func(context.Context, progress.Func) (Outcome, error) {
		panic("boom")
	})
	require.NoError(t, err)
	after, err := m.Submit("probe", func(context.Context, progress.Func) (Outcome, error) {
		return Outcome{Result: 1}, nil
	})
	require.NoError(t, err)

	f := waitStatus(t, m, failing.ID, StatusFailed)
	assert.Equal(t, "encode failed: exit 1", f.Error)
	assert.Nil(t, f.Result)

	p := waitStatus(t, m, panicking.ID, StatusFailed)
	assert.Contains(t, p.Error, "boom")

	// later tasks still run
	waitStatus(t, m, after.ID, StatusCompleted)
}

func TestManager_CancelQueuedNeverRuns(t *testing.T) {
	m := startManager(t, 1)

	release := make(chan struct{})
	blocker, err := m.Submit("block", func(context.Context, progress.Func) (Outcome, error) {
		<-release
		return Outcome{}, nil
	})
	require.NoError(t, err)
	waitStatus(t, m, blocker.ID, StatusRunning)

	var ran atomic.Bool
	victim, err := m.Submit("victim", func(context.Context, progress.Func) (Outcome, error) {
		ran.Store(true)
		return Outcome{}, nil
	})
	require.NoError(t, err)
	marker, err := m.Submit("marker", func(context.Context, progress.Func) (Outcome, error) {
		return Outcome{}, nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), victim.ID))
	close(release)

	// single worker, FIFO: the marker finishing means the victim was dequeued
	waitStatus(t, m, marker.ID, StatusCompleted)
	assert.False(t, ran.Load())

	_, err = m.Get(victim.ID)
	assert.ErrorIs(t, err, ErrNoSuchTask)
}

func TestManager_CancelCompletedRunsHook(t *testing.T) {
	m := startManager(t, 1)

	var hookCalls atomic.Int32
	task, err := m.Submit("publish", func(context.Context, progress.Func) (Outcome, error) {
		return Outcome{
			Result: "bundle",
			OnCancel: func(context.Context) error {
				hookCalls.Add(1)
				return nil
			},
		}, nil
	})
	require.NoError(t, err)
	waitStatus(t, m, task.ID, StatusCompleted)

	require.NoError(t, m.Cancel(context.Background(), task.ID))
	assert.Equal(t, int32(1), hookCalls.Load())

	// second cancel is a no-op
	require.NoError(t, m.Cancel(context.Background(), task.ID))
	assert.Equal(t, int32(1), hookCalls.Load())
}

func TestManager_CancelRunningRunsHookWhenDone(t *testing.T) {
	m := startManager(t, 1)

	release := make(chan struct{})
	hookDone := make(chan struct{})
	task, err := m.Submit("publish", func(context.Context, progress.Func) (Outcome, error) {
		<-release
		return Outcome{OnCancel: func(context.Context) error {
			close(hookDone)
			return nil
		}}, nil
	})
	require.NoError(t, err)
	waitStatus(t, m, task.ID, StatusRunning)

	require.NoError(t, m.Cancel(context.Background(), task.ID))
	_, err = m.Get(task.ID)
	assert.ErrorIs(t, err, ErrNoSuchTask)

	close(release)
	select {
	case <-hookDone:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup hook did not run")
	}
}

func TestManager_CancelHookError(t *testing.T) {
	m := startManager(t, 1)

	task, err := m.Submit("publish", func(context.Context, progress.Func) (Outcome, error) {
		return Outcome{OnCancel: func(context.Context) error { return errors.New("rm failed") }}, nil
	})
	require.NoError(t, err)
	waitStatus(t, m, task.ID, StatusCompleted)

	err = m.Cancel(context.Background(), task.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rm failed")
}

func TestManager_ConcurrencyBound(t *testing.T) {
	m := startManager(t, 2)

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	ids := make([]string, 6)
	for i := range ids {
		task, err := m.Submit("work", func(context.Context, progress.Func) (Outcome, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return Outcome{}, nil
		})
		require.NoError(t, err)
		ids[i] = task.ID
	}
	for _, id := range ids {
		waitStatus(t, m, id, StatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
	assert.Positive(t, peak)
}

func TestManager_GetUnknown(t *testing.T) {
	m := NewManager(1, nil)
	_, err := m.Get("task-missing")
	assert.ErrorIs(t, err, ErrNoSuchTask)
}

func TestManager_List(t *testing.T) {
	m := NewManager(1, nil)

	a, err := m.Submit("a", func(context.Context, progress.Func) (Outcome, error) { return Outcome{}, nil })
	require.NoError(t, err)
	b, err := m.Submit("b", func(context.Context, progress.Func) (Outcome, error) { return Outcome{}, nil })
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	for _, task := range list {
		assert.Equal(t, StatusQueued, task.Status)
	}
}

func TestManager_QueueFullAndStopped(t *testing.T) {
	m := NewManager(1, nil, WithQueueSize(1))
	noop := func(context.Context, progress.Func) (Outcome, error) { return Outcome{}, nil }

	_, err := m.Submit("a", noop)
	require.NoError(t, err)
	_, err = m.Submit("b", noop)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Len(t, m.List(), 1)

	require.NoError(t, m.Shutdown(context.Background()))
	_, err = m.Submit("c", noop)
	assert.ErrorIs(t, err, ErrStopped)
}
