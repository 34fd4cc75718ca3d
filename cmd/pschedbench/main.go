// Command pschedbench is a runnable demonstration of the priority
// scheduler: it loads a policy, submits a mix of sporadic and
// periodic-looking tasks across all priority levels (including a
// deliberately failing one), gives the work a fixed 150ms to run, stops
// the scheduler (dropping anything still queued), and prints aggregate
// stats. There is no flag parsing or subcommand tree here —
// the library itself has no CLI surface, so neither does its demo.
package main

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/knightchaser/psched/internal/job"
	"github.com/knightchaser/psched/internal/sched"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	policy := sched.LoadPolicy("policy.yaml")

	registry := prometheus.NewRegistry()
	metrics := sched.NewMetrics(registry)

	tracerProvider := trace.NewTracerProvider()
	defer tracerProvider.Shutdown(context.Background())
	tracer := tracerProvider.Tracer("pschedbench")

	s, err := sched.New(policy,
		sched.WithLogger(logger),
		sched.WithMetrics(metrics),
		sched.WithTracer(tracer),
		sched.WithEventBuffer(64),
	)
	if err != nil {
		log.Fatalf("new scheduler: %v", err)
	}

	if err := s.EnableCSVLogging("pschedbench.csv"); err != nil {
		logger.Warn("csv logging disabled", zap.Error(err))
	}

	var dispatched, failed int64
	go func() {
		for ev := range s.Events() {
			if ev.Kind == sched.EventComplete || ev.Kind == sched.EventError {
				atomic.AddInt64(&dispatched, 1)
			}
			if ev.Kind == sched.EventError {
				atomic.AddInt64(&failed, 1)
			}
		}
	}()

	top := policy.Priorities - 1

	// One urgent, short task at the highest priority.
	urgent := sched.NewTask(
		job.SleepWork(10),
		func(stats sched.TaskStats) {
			fmt.Printf("urgent task done: waited %v, ran %v\n", stats.WaitTime(), stats.BurstTime())
		},
		nil,
	)
	if err := s.Schedule(urgent, top); err != nil {
		logger.Warn("schedule urgent failed", zap.Error(err))
	}

	// A handful of mid/low priority tasks, mimicking a periodic producer
	// that fires a batch every tick.
	for round := 0; round < 3; round++ {
		for p := 0; p < top; p++ {
			t := sched.NewTask(
				job.SleepWork(5),
				func(stats sched.TaskStats) {},
				nil,
			)
			if err := s.Schedule(t, p); err != nil {
				logger.Warn("schedule failed", zap.Error(err), zap.Int("priority", p))
			}
		}
		time.Sleep(2 * time.Millisecond)
	}

	// A task that always fails, to exercise on_error.
	broken := sched.NewTask(
		job.FailingWork(5, "simulated failure"),
		func(stats sched.TaskStats) {},
		func(stats sched.TaskStats, message string) {
			fmt.Printf("task failed: %s (burst %v)\n", message, stats.BurstTime())
		},
	)
	if err := s.Schedule(broken, 0); err != nil {
		logger.Warn("schedule broken failed", zap.Error(err))
	}

	// Give the lowest-priority work a chance to age and promote before
	// shutting down.
	time.Sleep(150 * time.Millisecond)

	s.Stop()

	fmt.Printf("dispatched=%d failed=%d\n", atomic.LoadInt64(&dispatched), atomic.LoadInt64(&failed))
}
