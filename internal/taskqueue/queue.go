package taskqueue

import (
	"errors"
	"sync"
	"time"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 20

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
// Pending tasks are never evicted to make room.
var ErrQueueFull = errors.New("task queue full")

// Queue is a fixed-capacity FIFO ring of tasks.
//
// Enqueue may be called from any goroutine. Drain must only be called from
// the single consumer (the control loop): the head is read under the lock,
// then the predicate and job run unlocked, so a job may itself enqueue.
type Queue struct {
	mu       sync.Mutex
	buf      []Task
	capacity int
	head     int // oldest task
	count    int
}

// NewQueue creates a queue with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:      make([]Task, capacity),
		capacity: capacity,
	}
}

// Enqueue appends a task at the tail.
func (q *Queue) Enqueue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == q.capacity {
		return ErrQueueFull
	}
	q.buf[(q.head+q.count)%q.capacity] = t
	q.count++
	return nil
}

// Drain runs ready tasks from the head in order and returns how many ran.
// It stops at the first task that is not yet due or whose Ready check fails;
// tasks behind it wait even if they are ready themselves.
func (q *Queue) Drain(now time.Time) int {
	executed := 0
	for {
		t, ok := q.peek()
		if !ok || !t.eligible(now) {
			return executed
		}
		if t.Job != nil {
			t.Job()
		}
		q.pop()
		executed++
	}
}

func (q *Queue) peek() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return Task{}, false
	}
	return q.buf[q.head], true
}

func (q *Queue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return
	}
	q.buf[q.head] = Task{}
	q.head = (q.head + 1) % q.capacity
	q.count--
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Pending returns summaries of queued tasks, oldest first.
func (q *Queue) Pending() []Summary {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	out := make([]Summary, q.count)
	for i := 0; i < q.count; i++ {
		t := q.buf[(q.head+i)%q.capacity]
		out[i] = Summary{ID: t.ID, Name: t.Name, DueAt: t.DueAt}
	}
	return out
}
