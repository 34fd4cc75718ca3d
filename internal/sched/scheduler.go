// internal/sched/scheduler.go

package sched

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrInvalidPriority is returned by Schedule when the requested priority
// is outside [0, Policy.Priorities).
var ErrInvalidPriority = errors.New("psched: priority out of range")

// ErrSchedulerStopped is returned by Schedule once Stop has been called.
// No task state is created for a rejected submission.
var ErrSchedulerStopped = errors.New("psched: scheduler stopped")

// Scheduler is a fixed-size worker pool dispatching from P per-priority
// TaskQueues. Workers wake on an enqueue signal, run a best-effort aging
// pass over the lower priorities, then dispatch the highest-priority
// ready task. Priority Policy.Priorities-1 is highest; 0 is lowest.
type Scheduler struct {
	policy Policy
	clock  Clock

	queues []*TaskQueue

	mu       sync.Mutex // guards enqueued, paired with cond
	cond     *sync.Cond
	enqueued int

	running atomic.Bool
	wg      sync.WaitGroup

	metrics *Metrics
	tracer  trace.Tracer
	logger  *zap.Logger

	events chan Event

	csvFile   *os.File
	csvWriter *csv.Writer
}

// Option configures optional Scheduler behavior at construction time.
type Option func(*Scheduler)

// WithClock overrides the steady clock used for arrival/start/end
// stamping. Intended for tests.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithMetrics attaches a Metrics collector. Every observation call is
// nil-checked, so this is entirely optional.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer attaches an OpenTelemetry tracer; each dispatched task
// opens a span covering start to end.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = tracer }
}

// WithLogger attaches a zap logger for scheduler lifecycle events. The
// default is a no-op logger, so the library stays silent unless a
// caller opts in.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBuffer enables the optional Event stream with the given
// buffer size. Sends are non-blocking: if the buffer is full, the event
// is dropped rather than stalling a worker.
func WithEventBuffer(n int) Option {
	return func(s *Scheduler) { s.events = make(chan Event, n) }
}

// New creates a Scheduler from policy and starts its worker pool.
func New(policy Policy, opts ...Option) (*Scheduler, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		policy: policy,
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	s.cond = sync.NewCond(&s.mu)

	for _, opt := range opts {
		opt(s)
	}

	s.queues = make([]*TaskQueue, policy.Priorities)
	for i := range s.queues {
		s.queues[i] = newTaskQueue(policy.QueueCapacity, policy.Discard, s.clock)
	}

	s.running.Store(true)
	s.wg.Add(policy.Workers)
	for i := 0; i < policy.Workers; i++ {
		go s.workerLoop(i)
	}

	s.logger.Info("scheduler started",
		zap.Int("workers", policy.Workers),
		zap.Int("priorities", policy.Priorities),
		zap.Int("queue_capacity", policy.QueueCapacity),
		zap.String("discard", policy.Discard.String()),
		zap.Duration("starvation_threshold", policy.StarvationThreshold),
		zap.Int("promotion_step", policy.PromotionStep),
	)
	return s, nil
}

// EnableCSVLogging opens path for CSV logging of finished tasks: one row
// per dispatched task once its callbacks have run (end timestamp,
// priority, task ID, and wait/burst/turnaround in milliseconds). Only
// tasks that finish after this call are written.
func (s *Scheduler) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write([]string{"timestamp", "priority", "task_id", "wait_ms", "burst_ms", "turnaround_ms"})
	w.Flush()

	s.mu.Lock()
	s.csvFile = f
	s.csvWriter = w
	s.mu.Unlock()
	return nil
}

// Events exposes the optional event stream configured via
// WithEventBuffer. It is nil unless that option was used.
func (s *Scheduler) Events() <-chan Event { return s.events }

// Schedule submits task at the given priority. Priority must be in
// [0, Policy.Priorities); an out-of-range priority is rejected
// synchronously and no task state is created. Once Stop has been
// called, Schedule returns ErrSchedulerStopped without enqueueing.
func (s *Scheduler) Schedule(t *Task, priority int) error {
	if !s.running.Load() {
		return ErrSchedulerStopped
	}
	if priority < 0 || priority >= len(s.queues) {
		return ErrInvalidPriority
	}

	for {
		pushed, evicted := s.queues[priority].tryPush(t)
		if pushed {
			if evicted != nil {
				s.onDiscard(evicted, priority)
			}
			break
		}
		if !s.running.Load() {
			return ErrSchedulerStopped
		}
		runtime.Gosched()
	}

	s.signal()
	s.emit(Event{Time: s.clock.Now(), Kind: EventEnqueue, TaskID: t.ID, Priority: priority})
	if s.metrics != nil {
		s.metrics.observeQueueDepth(priority, s.queues[priority].Size())
	}
	return nil
}

func (s *Scheduler) signal() {
	s.mu.Lock()
	s.enqueued++
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Scheduler) onDiscard(t *Task, priority int) {
	s.emit(Event{Time: s.clock.Now(), Kind: EventDiscard, TaskID: t.ID, Priority: priority})
	if s.metrics != nil {
		s.metrics.observeDiscard(priority)
	}
	s.logger.Debug("task discarded", zap.String("task_id", t.ID), zap.Int("priority", priority))
}

// Stop clears the running flag, wakes every worker, marks every queue
// done, and waits for in-flight tasks to finish before returning. It is
// idempotent: a second call is a no-op. Tasks that had not yet been
// dispatched when Stop was called are dropped without invoking any
// callback.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, q := range s.queues {
		q.markDone()
	}

	s.wg.Wait()

	if s.events != nil {
		close(s.events)
	}
	if s.csvWriter != nil {
		s.csvWriter.Flush()
		s.csvFile.Close()
	}
	s.logger.Info("scheduler stopped")
}

// workerLoop is one dispatch worker. It waits for the enqueued signal,
// runs a best-effort aging sweep over the lower priorities, then
// dispatches the highest-priority ready task. It exits as soon as it
// observes that the scheduler has been stopped, leaving any still-queued
// work undispatched — see DESIGN.md's Open Question resolution for why
// the outer loop, not the inner dispatch retry, is what exits promptly on
// shutdown.
func (s *Scheduler) workerLoop(id int) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for s.enqueued == 0 && s.running.Load() {
			s.cond.Wait()
		}
		stopped := !s.running.Load()
		s.mu.Unlock()

		if stopped {
			return
		}

		s.agingPass()

		t, priority, ok := s.dispatchOnce()
		if !ok {
			// Contended away by another worker, or shutdown requested
			// mid-scan; re-evaluate the outer loop condition.
			continue
		}
		if s.metrics != nil {
			s.metrics.observeQueueDepth(priority, s.queues[priority].Size())
		}
		s.emit(Event{Time: s.clock.Now(), Kind: EventDispatch, TaskID: t.ID, Priority: priority})
		s.invoke(t, priority)
	}
}

// agingPass sweeps priorities from lowest to second-highest. For each,
// it pops the head task if it has waited longer than the starvation
// threshold and re-enqueues it at min(i+step, highest). The promoted
// task keeps its original arrival timestamp, so it will typically be
// the oldest task at its new level and get selected on the very next
// dispatch scan. At most one promotion happens per level per wake.
func (s *Scheduler) agingPass() {
	top := len(s.queues) - 1
	for i := 0; i < top; i++ {
		t, ok := s.queues[i].tryPopIfStarved(s.policy.StarvationThreshold)
		if !ok {
			continue
		}
		if s.metrics != nil {
			s.metrics.observeQueueDepth(i, s.queues[i].Size())
		}

		target := i + s.policy.PromotionStep
		if target > top {
			target = top
		}

		for s.running.Load() {
			if pushed, evicted := s.queues[target].tryRequeue(t); pushed {
				if evicted != nil {
					s.onDiscard(evicted, target)
				}
				break
			}
			runtime.Gosched()
		}

		if s.metrics != nil {
			s.metrics.observePromotion()
			s.metrics.observeQueueDepth(target, s.queues[target].Size())
		}
		s.emit(Event{Time: s.clock.Now(), Kind: EventPromote, TaskID: t.ID, Priority: target})
	}
}

// dispatchOnce scans priorities from highest to lowest looking for a
// ready task, decrementing the enqueued counter (floored at zero) the
// moment one is found. If none is found it keeps scanning unless
// shutdown has been requested, matching the source's do-while retry.
func (s *Scheduler) dispatchOnce() (*Task, int, bool) {
	for {
		for i := len(s.queues) - 1; i >= 0; i-- {
			if t, ok := s.queues[i].tryPop(); ok {
				s.mu.Lock()
				if s.enqueued > 0 {
					s.enqueued--
				}
				s.mu.Unlock()
				return t, i, true
			}
		}
		if !s.running.Load() {
			return nil, 0, false
		}
		runtime.Gosched()
	}
}

// invoke runs a dispatched task's executor, trapping panics, then fires
// its error and complete callbacks in order. on_complete always runs
// exactly once for a dispatched task; on_error runs at most once, only
// on failure, before on_complete.
func (s *Scheduler) invoke(t *Task, priority int) {
	ctx, finishSpan := startTaskSpan(context.Background(), s.tracer, t, priority)

	t.stats.Start = s.clock.Now()
	failure := s.runExecutor(ctx, t)
	t.stats.End = s.clock.Now()

	finishSpan(failure)

	if failure != nil {
		s.safeCallError(t, failure)
	}
	s.safeCallComplete(t)

	if s.metrics != nil {
		s.metrics.observeDispatch(t.stats, failure != nil)
	}
	s.writeCSVRow(t, priority)

	kind := EventComplete
	if failure != nil {
		kind = EventError
	}
	s.emit(Event{Time: s.clock.Now(), Kind: kind, TaskID: t.ID, Priority: priority, Stats: t.stats})
}

func (s *Scheduler) runExecutor(ctx context.Context, t *Task) (failure error) {
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Errorf("panic: %v", r)
		}
	}()
	if t.OnExecute != nil {
		failure = t.OnExecute(ctx)
	}
	return failure
}

func (s *Scheduler) safeCallError(t *Task, failure error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("on_error callback panicked", zap.String("task_id", t.ID), zap.Any("recover", r))
		}
	}()
	if t.OnError != nil {
		t.OnError(t.stats, failure.Error())
	}
}

func (s *Scheduler) safeCallComplete(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("on_complete callback panicked", zap.String("task_id", t.ID), zap.Any("recover", r))
		}
	}()
	if t.OnComplete != nil {
		t.OnComplete(t.stats)
	}
}

func (s *Scheduler) emit(ev Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Scheduler) writeCSVRow(t *Task, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.csvWriter == nil {
		return
	}

	rec := []string{
		t.stats.End.Format("2006-01-02T15:04:05.000000000Z07:00"),
		strconv.Itoa(priority),
		t.ID,
		strconv.FormatInt(t.stats.WaitTime().Milliseconds(), 10),
		strconv.FormatInt(t.stats.BurstTime().Milliseconds(), 10),
		strconv.FormatInt(t.stats.TurnaroundTime().Milliseconds(), 10),
	}
	s.csvWriter.Write(rec)
	s.csvWriter.Flush()
}
