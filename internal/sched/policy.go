package sched

import (
	"fmt"
	"time"
)

// DiscardPolicy selects which task a bounded TaskQueue evicts once it
// grows past its capacity.
type DiscardPolicy int

const (
	// DiscardOldest evicts the head of the queue (the longest-waiting
	// task) to make room.
	DiscardOldest DiscardPolicy = iota
	// DiscardNewest evicts the tail of the queue. If capacity is already
	// saturated, this evicts the task that was just pushed.
	DiscardNewest
)

func (d DiscardPolicy) String() string {
	switch d {
	case DiscardOldest:
		return "oldest"
	case DiscardNewest:
		return "newest"
	default:
		return "unknown"
	}
}

// Policy is the immutable configuration of a Scheduler: worker count,
// priority level count, per-queue bound and its discard rule, and the
// aging rule that promotes starved low-priority tasks. All fields are
// fixed at construction time and never change afterward.
type Policy struct {
	// Workers is the number of goroutines dispatching tasks.
	Workers int

	// Priorities is the number of priority levels, P. Valid priorities
	// passed to Schedule are in [0, Priorities). Priorities-1 is highest.
	Priorities int

	// QueueCapacity bounds each priority queue. Zero means unbounded.
	QueueCapacity int

	// Discard selects the eviction rule used once a bounded queue grows
	// past QueueCapacity. Ignored when QueueCapacity is zero.
	Discard DiscardPolicy

	// StarvationThreshold is how long a task may wait at a given
	// priority before it becomes eligible for promotion. Zero makes
	// every non-empty low-priority queue's head eligible on every
	// aging sweep.
	StarvationThreshold time.Duration

	// PromotionStep is how many priority levels a starved task is
	// promoted by. Must be at least 1.
	PromotionStep int
}

// DefaultPolicy returns reasonable defaults: a single worker, three
// priority levels, unbounded queues, a 100ms starvation threshold, and a
// promotion step of one level.
func DefaultPolicy() Policy {
	return Policy{
		Workers:             1,
		Priorities:          3,
		QueueCapacity:       0,
		Discard:             DiscardOldest,
		StarvationThreshold: 100 * time.Millisecond,
		PromotionStep:       1,
	}
}

// Validate reports whether the policy is usable by New.
func (p Policy) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("psched: workers must be >= 1, got %d", p.Workers)
	}
	if p.Priorities < 1 {
		return fmt.Errorf("psched: priorities must be >= 1, got %d", p.Priorities)
	}
	if p.QueueCapacity < 0 {
		return fmt.Errorf("psched: queue capacity must be >= 0, got %d", p.QueueCapacity)
	}
	if p.PromotionStep < 1 {
		return fmt.Errorf("psched: promotion step must be >= 1, got %d", p.PromotionStep)
	}
	return nil
}
