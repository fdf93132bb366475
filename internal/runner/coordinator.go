package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/torosent/walletload/internal/logging"
	"github.com/torosent/walletload/internal/metrics"
	"github.com/torosent/walletload/internal/retry"
	"github.com/torosent/walletload/internal/schedule"
	"github.com/torosent/walletload/internal/wallet"
)

const (
	MetricSchedulerDelayed   = "scheduler.delayed"
	MetricSchedulerQueueWait = "scheduler.queue_wait"
)

// RunFunc executes one wallet run to completion. It must return once ctx is done.
type RunFunc func(ctx context.Context, id wallet.ID) wallet.Record

// CoordinatorOptions configure a Coordinator.
type CoordinatorOptions struct {
	Concurrency int // ceiling on simultaneously running wallets
	RunID       string
	Execute     RunFunc
	Sink        metrics.Sink
	Logger      *logrus.Entry
}

// Stats is a point-in-time view of admission state.
type Stats struct {
	Dispatched int64
	Completed  int64
	Failed     int64
	Unfinished int64
	InFlight   int64
	Peak       int64
	Delayed    int64
}

// Coordinator admits scheduled starts under a concurrency ceiling and runs
// each one on its own goroutine.
type Coordinator struct {
	sem     *semaphore.Weighted
	runID   string
	execute RunFunc
	sink    metrics.Sink
	log     *logrus.Entry
	warn    rate.Sometimes

	wg         sync.WaitGroup
	inFlight   atomic.Int64
	peak       atomic.Int64
	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	unfinished atomic.Int64
	delayed    atomic.Int64
}

// NewCoordinator returns a Coordinator. A ceiling below one is treated as one.
func NewCoordinator(opt CoordinatorOptions) *Coordinator {
	if opt.Concurrency < 1 {
		opt.Concurrency = 1
	}
	if opt.Sink == nil {
		opt.Sink = metrics.Discard
	}
	return &Coordinator{
		sem:     semaphore.NewWeighted(int64(opt.Concurrency)),
		runID:   opt.RunID,
		execute: opt.Execute,
		sink:    opt.Sink,
		log:     logging.OrNull(opt.Logger),
		warn:    rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Handle tracks one admitted wallet run.
type Handle struct {
	id   wallet.ID
	done chan struct{}
	rec  wallet.Record
}

func (h *Handle) ID() wallet.ID { return h.id }

// Done is closed once the run, teardown included, has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (wallet.Record, error) {
	select {
	case <-h.done:
		return h.rec, nil
	case <-ctx.Done():
		return wallet.Record{}, ctx.Err()
	}
}

// Record returns the finished record, or false while the run is in flight.
func (h *Handle) Record() (wallet.Record, bool) {
	select {
	case <-h.done:
		return h.rec, true
	default:
		return wallet.Record{}, false
	}
}

// Admit starts a run for start as soon as a slot is free. When the ceiling
// is reached the start is delayed, never dropped; the wait is recorded as
// scheduler.queue_wait. Admit fails only when ctx is done first.
func (c *Coordinator) Admit(ctx context.Context, start schedule.ScheduledStart) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.sem.TryAcquire(1) {
		c.delayed.Add(1)
		c.sink.Emit(metrics.Count(MetricSchedulerDelayed))
		c.warn.Do(func() {
			c.log.WithFields(logrus.Fields{
				"seq":        start.Seq,
				"in_flight":  c.inFlight.Load(),
				"error_kind": wallet.SchedulingOverload,
			}).Warn("concurrency ceiling reached, delaying wallet starts")
		})
		queued := time.Now()
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		c.sink.Emit(metrics.Duration(MetricSchedulerQueueWait, time.Since(queued)))
	}

	c.notePeak(c.inFlight.Add(1))
	c.dispatched.Add(1)

	h := &Handle{
		id:   wallet.ID{Run: c.runID, Seq: start.Seq, CreatedAt: time.Now()},
		done: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run(ctx, h)
	return h, nil
}

// Dispatch walks it and admits every start no earlier than begin+Offset.
// It returns nil once the schedule is exhausted, or the context error.
func (c *Coordinator) Dispatch(ctx context.Context, it *schedule.Iterator, begin time.Time) error {
	for {
		next, ok := it.Next()
		if !ok {
			return nil
		}
		if err := retry.Sleep(ctx, time.Until(begin.Add(next.Offset))); err != nil {
			return err
		}
		if _, err := c.Admit(ctx, next); err != nil {
			return err
		}
	}
}

// Wait blocks until every admitted run has finished. A positive grace bounds
// the wait; false means runs were still in flight when it elapsed.
func (c *Coordinator) Wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	if grace <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// WaitContext blocks until every admitted run has finished or ctx is done.
func (c *Coordinator) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) InFlight() int64     { return c.inFlight.Load() }
func (c *Coordinator) PeakInFlight() int64 { return c.peak.Load() }

func (c *Coordinator) Stats() Stats {
	return Stats{
		Dispatched: c.dispatched.Load(),
		Completed:  c.completed.Load(),
		Failed:     c.failed.Load(),
		Unfinished: c.unfinished.Load(),
		InFlight:   c.inFlight.Load(),
		Peak:       c.peak.Load(),
		Delayed:    c.delayed.Load(),
	}
}

func (c *Coordinator) run(ctx context.Context, h *Handle) {
	defer c.wg.Done()
	defer c.sem.Release(1)
	defer c.settle(h)
	defer c.recoverPanic(h)
	h.rec = c.execute(ctx, h.id)
}

func (c *Coordinator) settle(h *Handle) {
	c.tally(h.rec)
	c.inFlight.Add(-1)
	close(h.done)
}

// recoverPanic turns a panic inside a run into a failed record.
func (c *Coordinator) recoverPanic(h *Handle) {
	r := recover()
	if r == nil {
		return
	}
	c.log.WithFields(logrus.Fields{
		"wallet": h.id.String(),
		"stack":  string(debug.Stack()),
	}).Errorf("wallet run panicked: %v", r)
	c.sink.Emit(metrics.Count(wallet.MetricTestFailed))
	h.rec = wallet.Record{
		ID:      h.id,
		State:   wallet.Failed,
		Err:     fmt.Sprintf("panic: %v", r),
		EndedAt: time.Now(),
	}
}

func (c *Coordinator) tally(rec wallet.Record) {
	switch rec.State {
	case wallet.Completed:
		c.completed.Add(1)
	case wallet.Failed:
		c.failed.Add(1)
	default:
		c.unfinished.Add(1)
	}
}

func (c *Coordinator) notePeak(n int64) {
	for {
		cur := c.peak.Load()
		if n <= cur || c.peak.CompareAndSwap(cur, n) {
			return
		}
	}
}
