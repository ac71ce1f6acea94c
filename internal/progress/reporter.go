// Package progress combines a fixed sequence of named steps into a single
// completion value.
package progress

import "sync"

// Update is a progress snapshot. Completed may be fractional while a step
// reports sub-progress.
type Update struct {
	Completed   float64 `json:"completed"`
	Total       int     `json:"total"`
	CurrentStep string  `json:"currentStep"`
}

// Func receives progress updates.
type Func func(Update)

// SubProgress reports progress of a nested operation within a step.
type SubProgress func(completed, total int, currentStep string)

// Reporter reports progress over a fixed number of steps.
type Reporter struct {
	mu     sync.Mutex
	total  int
	step   int
	name   string
	last   float64
	report Func
}

// New creates a Reporter for total steps. A nil report discards updates.
func New(total int, report Func) *Reporter {
	if report == nil {
		report = func(Update) {}
	}
	return &Reporter{total: total, report: report}
}

// Advance starts the next step and returns a callback for its sub-progress.
// The callback is ignored once a later step has started.
func (r *Reporter) Advance(name string) SubProgress {
	r.mu.Lock()
	r.step++
	r.name = name
	step := r.step
	u := r.emitLocked(float64(step - 1))
	r.mu.Unlock()
	r.report(u)

	return func(completed, total int, currentStep string) {
		if total <= 0 {
			return
		}
		frac := float64(completed) / float64(total)
		if frac > 1 {
			frac = 1
		}
		if frac < 0 {
			frac = 0
		}

		r.mu.Lock()
		if r.step != step {
			r.mu.Unlock()
			return
		}
		if currentStep == "" {
			currentStep = name
		}
		r.name = currentStep
		u := r.emitLocked(float64(step-1) + frac)
		r.mu.Unlock()
		r.report(u)
	}
}

// Complete reports Completed == Total.
func (r *Reporter) Complete() {
	r.mu.Lock()
	r.step = r.total + 1
	u := r.emitLocked(float64(r.total))
	r.mu.Unlock()
	r.report(u)
}

// emitLocked clamps completed so reported values never go backwards.
func (r *Reporter) emitLocked(completed float64) Update {
	if completed < r.last {
		completed = r.last
	}
	if completed > float64(r.total) {
		completed = float64(r.total)
	}
	r.last = completed
	return Update{Completed: completed, Total: r.total, CurrentStep: r.name}
}
