package queue

import (
	"sync"

	"github.com/mameuix/mameuix/internal/job"
)

// Queue is a FIFO of jobs guarded by an in-flight set. A (kind, key) pair
// stays in the set from TryEnqueue until Done, so a second submission is
// rejected while the first one is queued, executing, or waiting in the result
// channel.
//
// Pop blocks until a job is available or the queue is closed.
type Queue struct {
	mx       sync.Mutex
	cond     *sync.Cond
	items    []job.Job
	head     int
	inflight map[job.Ident]struct{}
	closed   bool
}

func New() *Queue {
	q := &Queue{
		inflight: make(map[job.Ident]struct{}),
	}
	q.cond = sync.NewCond(&q.mx)
	return q
}

// TryEnqueue adds j unless its identity is already in flight. It returns false
// without any effect on duplicates or on a closed queue.
func (q *Queue) TryEnqueue(j job.Job) bool {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.closed {
		return false
	}
	id := j.Ident()
	if _, ok := q.inflight[id]; ok {
		return false
	}
	q.inflight[id] = struct{}{}
	q.items = append(q.items, j)
	q.cond.Signal()
	return true
}

// Pop removes the head job. The job stays in flight. The second return value
// is false once the queue has been closed.
func (q *Queue) Pop() (job.Job, bool) {
	q.mx.Lock()
	defer q.mx.Unlock()
	for !q.closed && q.head == len(q.items) {
		q.cond.Wait()
	}
	if q.closed {
		return job.Job{}, false
	}
	j := q.items[q.head]
	q.items[q.head] = job.Job{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return j, true
}

// Done releases an identity from the in-flight set. It is called by the
// consumer after the job's result has been drained.
func (q *Queue) Done(id job.Ident) {
	q.mx.Lock()
	delete(q.inflight, id)
	q.mx.Unlock()
}

// Contains reports whether id is queued or executing.
func (q *Queue) Contains(id job.Ident) bool {
	q.mx.Lock()
	defer q.mx.Unlock()
	_, ok := q.inflight[id]
	return ok
}

// Len returns the number of jobs waiting for a worker.
func (q *Queue) Len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.items) - q.head
}

// InFlight returns the number of identities queued or executing.
func (q *Queue) InFlight() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.inflight)
}

// Close wakes all blocked Pop callers. Jobs still queued are abandoned.
func (q *Queue) Close() {
	q.mx.Lock()
	q.closed = true
	q.mx.Unlock()
	q.cond.Broadcast()
}
