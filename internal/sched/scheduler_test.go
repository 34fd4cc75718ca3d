package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(workers, priorities int) Policy {
	p := DefaultPolicy()
	p.Workers = workers
	p.Priorities = priorities
	p.StarvationThreshold = time.Hour // effectively disabled unless a test overrides it
	return p
}

func TestScheduler_SingleTaskTimingInvariant(t *testing.T) {
	s, err := New(testPolicy(1, 3))
	require.NoError(t, err)
	defer s.Stop()

	done := make(chan TaskStats, 1)
	task := NewTask(
		func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
		func(stats TaskStats) { done <- stats },
		nil,
	)

	require.NoError(t, s.Schedule(task, 1))

	select {
	case stats := <-done:
		assert.False(t, stats.Arrival.IsZero())
		assert.False(t, stats.Start.IsZero())
		assert.False(t, stats.End.IsZero())
		assert.True(t, !stats.Start.Before(stats.Arrival))
		assert.True(t, !stats.End.Before(stats.Start))
		assert.GreaterOrEqual(t, stats.BurstTime(), 10*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("task did not complete in time")
	}
}

func TestScheduler_StrictPriorityOrderingNoAging(t *testing.T) {
	s, err := New(testPolicy(1, 3))
	require.NoError(t, err)
	defer s.Stop()

	var mu sync.Mutex
	var order []int

	record := func(p int) CompleteFunc {
		return func(TaskStats) {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
		}
	}

	// Block the single worker briefly so all three submissions queue up
	// before any dispatch happens.
	gate := make(chan struct{})
	started := make(chan struct{})
	blocker := NewTask(func(ctx context.Context) error {
		close(started)
		<-gate
		return nil
	}, func(TaskStats) {}, nil)
	require.NoError(t, s.Schedule(blocker, 0))
	<-started

	low := NewTask(func(ctx context.Context) error { return nil }, record(0), nil)
	mid := NewTask(func(ctx context.Context) error { return nil }, record(1), nil)
	high := NewTask(func(ctx context.Context) error { return nil }, record(2), nil)

	require.NoError(t, s.Schedule(low, 0))
	require.NoError(t, s.Schedule(mid, 1))
	require.NoError(t, s.Schedule(high, 2))

	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestScheduler_AgingPromotesStarvedTask(t *testing.T) {
	policy := testPolicy(1, 2)
	policy.StarvationThreshold = 20 * time.Millisecond
	policy.PromotionStep = 1

	s, err := New(policy, WithEventBuffer(64))
	require.NoError(t, err)
	defer s.Stop()

	gate := make(chan struct{})
	blocker := NewTask(func(ctx context.Context) error {
		<-gate
		return nil
	}, func(TaskStats) {}, nil)
	require.NoError(t, s.Schedule(blocker, 0))

	lowDone := make(chan struct{})
	low := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) { close(lowDone) }, nil)
	require.NoError(t, s.Schedule(low, 0))

	// Let the low task age past the starvation threshold, then submit
	// high-priority work; the aging pass must move the low task up to the
	// high queue before it is dispatched.
	time.Sleep(30 * time.Millisecond)
	close(gate)

	for i := 0; i < 5; i++ {
		filler := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {}, nil)
		require.NoError(t, s.Schedule(filler, 1))
	}

	select {
	case <-lowDone:
	case <-time.After(time.Second):
		t.Fatal("starved low-priority task was never promoted and dispatched")
	}

	promoted := false
	for len(s.Events()) > 0 {
		ev := <-s.Events()
		if ev.Kind == EventPromote && ev.TaskID == low.ID {
			assert.Equal(t, 1, ev.Priority)
			promoted = true
		}
	}
	assert.True(t, promoted, "low task was dispatched without an aging promotion")
}

func TestScheduler_BoundedQueueDiscardOldest(t *testing.T) {
	policy := testPolicy(1, 1)
	policy.QueueCapacity = 2
	policy.Discard = DiscardOldest

	s, err := New(policy, WithEventBuffer(16))
	require.NoError(t, err)
	defer s.Stop()

	// Wait until the single worker is parked in the blocker, so the queue
	// holds only a, b and c.
	gate := make(chan struct{})
	started := make(chan struct{})
	blocker := NewTask(func(ctx context.Context) error {
		close(started)
		<-gate
		return nil
	}, func(TaskStats) {}, nil)
	require.NoError(t, s.Schedule(blocker, 0))
	<-started

	a := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {}, nil)
	b := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {}, nil)
	c := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {}, nil)

	require.NoError(t, s.Schedule(a, 0))
	require.NoError(t, s.Schedule(b, 0))
	require.NoError(t, s.Schedule(c, 0)) // should discard a

	var discarded string
	require.Eventually(t, func() bool {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventDiscard {
				discarded = ev.TaskID
				return true
			}
			return false
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.Equal(t, a.ID, discarded)
	close(gate)
}

func TestScheduler_BoundedQueueDiscardNewest(t *testing.T) {
	policy := testPolicy(1, 1)
	policy.QueueCapacity = 2
	policy.Discard = DiscardNewest

	s, err := New(policy, WithEventBuffer(16))
	require.NoError(t, err)
	defer s.Stop()

	// Wait until the single worker is parked in the blocker, so the queue
	// holds only a, b and c.
	gate := make(chan struct{})
	started := make(chan struct{})
	blocker := NewTask(func(ctx context.Context) error {
		close(started)
		<-gate
		return nil
	}, func(TaskStats) {}, nil)
	require.NoError(t, s.Schedule(blocker, 0))
	<-started

	a := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {}, nil)
	b := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {}, nil)
	c := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {}, nil)

	require.NoError(t, s.Schedule(a, 0))
	require.NoError(t, s.Schedule(b, 0))
	require.NoError(t, s.Schedule(c, 0)) // c should discard itself

	var discarded string
	require.Eventually(t, func() bool {
		select {
		case ev := <-s.Events():
			if ev.Kind == EventDiscard {
				discarded = ev.TaskID
				return true
			}
			return false
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.Equal(t, c.ID, discarded)
	close(gate)
}

func TestScheduler_StopDropsQueuedButDrainsInFlight(t *testing.T) {
	s, err := New(testPolicy(1, 2))
	require.NoError(t, err)

	inFlightStarted := make(chan struct{})
	inFlightDone := make(chan struct{})
	inFlight := NewTask(func(ctx context.Context) error {
		close(inFlightStarted)
		time.Sleep(30 * time.Millisecond)
		return nil
	}, func(TaskStats) { close(inFlightDone) }, nil)
	require.NoError(t, s.Schedule(inFlight, 0))

	<-inFlightStarted

	var queuedCompleted int32
	queued := NewTask(func(ctx context.Context) error { return nil },
		func(TaskStats) { atomic.AddInt32(&queuedCompleted, 1) }, nil)
	require.NoError(t, s.Schedule(queued, 0))

	s.Stop()

	select {
	case <-inFlightDone:
	default:
		t.Fatal("in-flight task did not run to completion before Stop returned")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&queuedCompleted), "queued-but-undispatched task must be dropped, not run")
}

func TestScheduler_SinglePriorityIsFIFO(t *testing.T) {
	s, err := New(testPolicy(1, 1))
	require.NoError(t, err)
	defer s.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		task := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, nil)
		require.NoError(t, s.Schedule(task, 0))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestScheduler_OnCompleteAndOnErrorCounts(t *testing.T) {
	s, err := New(testPolicy(2, 1))
	require.NoError(t, err)
	defer s.Stop()

	var completed, errored int32
	const total = 10
	var wg sync.WaitGroup
	wg.Add(total)

	for i := 0; i < total; i++ {
		fail := i%3 == 0
		task := NewTask(
			func(ctx context.Context) error {
				if fail {
					return errors.New("boom")
				}
				return nil
			},
			func(TaskStats) {
				atomic.AddInt32(&completed, 1)
				wg.Done()
			},
			func(TaskStats, string) {
				atomic.AddInt32(&errored, 1)
			},
		)
		require.NoError(t, s.Schedule(task, 0))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all tasks completed")
	}

	assert.Equal(t, int32(total), atomic.LoadInt32(&completed))
	assert.Equal(t, int32(4), atomic.LoadInt32(&errored)) // i = 0, 3, 6, 9
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s, err := New(testPolicy(1, 1))
	require.NoError(t, err)

	s.Stop()
	assert.NotPanics(t, func() { s.Stop() })
}

func TestScheduler_ScheduleAfterStopIsRejected(t *testing.T) {
	s, err := New(testPolicy(1, 1))
	require.NoError(t, err)
	s.Stop()

	task := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {}, nil)
	err = s.Schedule(task, 0)
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}

func TestScheduler_ScheduleRejectsInvalidPriority(t *testing.T) {
	s, err := New(testPolicy(1, 2))
	require.NoError(t, err)
	defer s.Stop()

	task := NewTask(func(ctx context.Context) error { return nil }, func(TaskStats) {}, nil)
	assert.ErrorIs(t, s.Schedule(task, -1), ErrInvalidPriority)
	assert.ErrorIs(t, s.Schedule(task, 2), ErrInvalidPriority)
}
