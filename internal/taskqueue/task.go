// Package taskqueue provides the bounded FIFO of deferred work drained by the
// control loop.
package taskqueue

import (
	"time"

	"github.com/google/uuid"
)

// Task is a deferred unit of work gated by a due time and a readiness check.
type Task struct {
	// ID is a unique identifier used in logs.
	ID string
	// Name is a diagnostic label, e.g. "Enable" or "API Disable".
	Name string
	// DueAt is the earliest time the task may run.
	DueAt time.Time
	// Ready is evaluated at drain time. Nil means always ready.
	Ready func() bool
	// Job performs the deferred action.
	Job func()
}

// New creates a task with a fresh ID.
func New(name string, dueAt time.Time, ready func() bool, job func()) Task {
	return Task{
		ID:    uuid.NewString(),
		Name:  name,
		DueAt: dueAt,
		Ready: ready,
		Job:   job,
	}
}

// eligible reports whether the task may run at now.
func (t Task) eligible(now time.Time) bool {
	if now.Before(t.DueAt) {
		return false
	}
	if t.Ready != nil && !t.Ready() {
		return false
	}
	return true
}

// Summary is a read-only view of a queued task.
type Summary struct {
	ID    string
	Name  string
	DueAt time.Time
}
