package sched

import "time"

// TaskStats carries the timestamps captured over a Task's lifetime:
// arrival (enqueue), start (dequeue/dispatch), and end (completion).
//
// arrival <= start <= end holds for any Task whose End is set, since all
// three are stamped from the same monotonic clock in that order.
type TaskStats struct {
	Arrival time.Time
	Start   time.Time
	End     time.Time
}

// WaitTime returns the time a task spent queued: start - arrival.
func (s TaskStats) WaitTime() time.Duration {
	if s.Start.IsZero() || s.Arrival.IsZero() {
		return 0
	}
	return s.Start.Sub(s.Arrival)
}

// BurstTime returns the time a task spent executing: end - start.
func (s TaskStats) BurstTime() time.Duration {
	if s.End.IsZero() || s.Start.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// TurnaroundTime returns the total time a task spent in the system:
// end - arrival.
func (s TaskStats) TurnaroundTime() time.Duration {
	if s.End.IsZero() || s.Arrival.IsZero() {
		return 0
	}
	return s.End.Sub(s.Arrival)
}
