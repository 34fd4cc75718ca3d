package sched

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
)

// TaskQueue is a single-priority ready queue: a bounded or unbounded
// FIFO guarded by a mutex, with no internal waiting. All blocking is
// the Scheduler's responsibility; every operation here is non-blocking
// try-lock, so a contended queue simply reports failure for the caller
// to retry.
type TaskQueue struct {
	mu       sync.Mutex
	list     *doublylinkedlist.List
	capacity int // 0 = unbounded
	discard  DiscardPolicy
	clock    Clock
	done     bool
}

func newTaskQueue(capacity int, discard DiscardPolicy, clock Clock) *TaskQueue {
	return &TaskQueue{
		list:     doublylinkedlist.New(),
		capacity: capacity,
		discard:  discard,
		clock:    clock,
	}
}

// tryPush attempts a non-blocking push of task onto the tail, stamping
// its arrival time under the queue's lock. It reports whether the push
// happened, and the task evicted to maintain a bounded capacity, if
// any (nil if none was evicted). Callers must retry on a false result;
// a false result never means the queue is full — it means the lock was
// contended.
func (q *TaskQueue) tryPush(t *Task) (pushed bool, evicted *Task) {
	return q.push(t, true)
}

// tryRequeue is tryPush without re-stamping arrival, used only by the
// aging pass: a promoted task keeps the arrival time it had at its
// original priority level and is placed ahead of every queued task that
// arrived after it, so the head stays the earliest arrival.
func (q *TaskQueue) tryRequeue(t *Task) (pushed bool, evicted *Task) {
	return q.push(t, false)
}

func (q *TaskQueue) push(t *Task, stamp bool) (pushed bool, evicted *Task) {
	if !q.mu.TryLock() {
		return false, nil
	}
	defer q.mu.Unlock()

	idx := q.list.Size()
	if stamp {
		t.stampArrival(q.clock)
	} else {
		for i, v := range q.list.Values() {
			if v.(*Task).stats.Arrival.After(t.stats.Arrival) {
				idx = i
				break
			}
		}
	}
	if idx == q.list.Size() {
		q.list.Add(t)
	} else {
		q.list.Insert(idx, t)
	}

	if q.capacity > 0 {
		for q.list.Size() > q.capacity {
			var v interface{}
			if q.discard == DiscardNewest {
				v, _ = q.list.Get(q.list.Size() - 1)
				q.list.Remove(q.list.Size() - 1)
			} else {
				v, _ = q.list.Get(0)
				q.list.Remove(0)
			}
			evicted = v.(*Task)
		}
	}
	return true, evicted
}

// tryPop attempts a non-blocking pop of the head task. It reports false
// if the lock is contended or the queue is empty.
func (q *TaskQueue) tryPop() (*Task, bool) {
	if !q.mu.TryLock() {
		return nil, false
	}
	defer q.mu.Unlock()

	if q.list.Empty() {
		return nil, false
	}
	v, _ := q.list.Get(0)
	q.list.Remove(0)
	return v.(*Task), true
}

// tryPopIfStarved inspects the head without removing it; if it has
// waited longer than threshold, it is removed and returned. Used only
// by the aging pass.
func (q *TaskQueue) tryPopIfStarved(threshold time.Duration) (*Task, bool) {
	if !q.mu.TryLock() {
		return nil, false
	}
	defer q.mu.Unlock()

	if q.list.Empty() {
		return nil, false
	}
	v, _ := q.list.Get(0)
	head := v.(*Task)
	if q.clock.Now().Sub(head.stats.Arrival) > threshold {
		q.list.Remove(0)
		return head, true
	}
	return nil, false
}

// markDone marks the queue as drained. It is idempotent; in this design
// the queue never blocks a waiter itself, so markDone is advisory
// bookkeeping for callers that want to observe scheduler shutdown, not
// a synchronization primitive.
func (q *TaskQueue) markDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = true
}

// Size reports the current queue length. Unlike the try-* operations it
// blocks briefly to acquire the lock; it is meant for infrequent
// observability reads (metrics), not the dispatch hot path.
func (q *TaskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Size()
}
