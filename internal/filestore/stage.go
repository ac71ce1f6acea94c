package filestore

import (
	"context"
	"fmt"
	"sync"
)

// StageState is the state of one memoized pipeline stage.
type StageState string

const (
	StageIdle    StageState = "idle"
	StagePending StageState = "pending"
	StageDone    StageState = "done"
	StageFailed  StageState = "failed"
)

// run is one execution of a stage. value and err are written before done is
// closed and never after.
type run[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func (r *run[T]) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// stage memoizes a single result. At most one run is in flight; concurrent
// callers join it. A failed run is replaced by the next caller.
type stage[T any] struct {
	mu  sync.Mutex
	cur *run[T]
}

// get returns the cached value, joins the in-flight run, or starts fn.
// fn runs detached from ctx cancellation so that a caller giving up does not
// fail the other joiners.
func (s *stage[T]) get(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	s.mu.Lock()
	r := s.cur
	if r == nil || (r.finished() && r.err != nil) {
		r = &run[T]{done: make(chan struct{})}
		s.cur = r
		go r.exec(context.WithoutCancel(ctx), fn)
	}
	s.mu.Unlock()

	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (r *run[T]) exec(ctx context.Context, fn func(context.Context) (T, error)) {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("stage panicked: %v", p)
		}
	}()
	r.value, r.err = fn(ctx)
}

// seed stores v unless a run is in flight or already succeeded.
func (s *stage[T]) seed(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil && (!s.cur.finished() || s.cur.err == nil) {
		return
	}
	r := &run[T]{done: make(chan struct{}), value: v}
	close(r.done)
	s.cur = r
}

// peek returns the cached value if the stage has succeeded.
func (s *stage[T]) peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil && s.cur.finished() && s.cur.err == nil {
		return s.cur.value, true
	}
	var zero T
	return zero, false
}

// invalidate clears a successful result for which stale reports true.
func (s *stage[T]) invalidate(stale func(T) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || !s.cur.finished() || s.cur.err != nil {
		return false
	}
	if !stale(s.cur.value) {
		return false
	}
	s.cur = nil
	return true
}

func (s *stage[T]) state() StageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.cur == nil:
		return StageIdle
	case !s.cur.finished():
		return StagePending
	case s.cur.err != nil:
		return StageFailed
	default:
		return StageDone
	}
}
