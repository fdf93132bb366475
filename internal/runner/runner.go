package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/walletload/internal/logging"
	"github.com/torosent/walletload/internal/metrics"
	"github.com/torosent/walletload/internal/schedule"
	"github.com/torosent/walletload/internal/wallet"
)

var errMaxDuration = errors.New("max duration reached")

// haltWait bounds how long Run waits for wallets to return once their
// teardowns have been cut short.
const haltWait = time.Second

// Result summarises one finished run.
type Result struct {
	RunID           string
	StartedAt       time.Time
	EndedAt         time.Time
	TotalScheduled  int64
	TotalDispatched int64
	TotalCompleted  int64
	TotalFailed     int64
	TotalUnfinished int64 // dispatched runs cancelled before reaching a terminal state
	PeakInFlight    int64
	TimedOut        bool
	Stopped         bool
	Snapshot        metrics.Snapshot
}

func (r Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Incomplete reports whether the run was cut short with scheduled wallets
// that never reached a terminal state.
func (r Result) Incomplete() bool {
	return (r.TimedOut || r.Stopped) && r.TotalCompleted+r.TotalFailed < r.TotalScheduled
}

// Runner executes one test run: it paces the phase schedule into a
// Coordinator and collects the aggregated metrics.
type Runner struct {
	opt Options
	log *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{
		opt: opt,
		log: logging.Component(opt.Logger, "runner"),
	}
}

// Stop cancels a run in progress. In-flight wallets are cancelled and torn down.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel(ErrStopped)
	}
}

// Run blocks until every scheduled wallet has finished, the max duration
// elapses, or ctx is cancelled. It returns an error only for invalid options;
// wallet failures are reported through the Result.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if err := r.opt.validate(); err != nil {
		return Result{}, err
	}
	plan, err := schedule.Compile(r.opt.Phases)
	if err != nil {
		return Result{}, &ConfigurationError{issues: []string{err.Error()}}
	}

	runID := r.opt.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}
	log := r.log.WithField("run_id", runID)
	agg := r.opt.Aggregator
	if agg == nil {
		agg = metrics.NewAggregator()
	}
	sink := metrics.Tee(agg, r.opt.Sink)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()
	if r.opt.MaxDuration > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, r.opt.MaxDuration, errMaxDuration)
		defer cancelTimeout()
	}

	walletCfg := r.opt.Wallet
	walletCfg.Sink = sink
	haltCtx, halt := context.WithCancel(context.WithoutCancel(ctx))
	defer halt()
	walletCfg.Halt = haltCtx
	walletCfg.Logger = logging.Component(r.opt.Logger, "wallet").WithField("run_id", runID)
	coord := NewCoordinator(CoordinatorOptions{
		Concurrency: r.opt.Concurrency,
		RunID:       runID,
		Execute:     r.execute(walletCfg, sink),
		Sink:        sink,
		Logger:      logging.Component(r.opt.Logger, "coordinator").WithField("run_id", runID),
	})

	started := time.Now()
	res := Result{
		RunID:          runID,
		TotalScheduled: plan.Count(),
		StartedAt:      started,
	}
	log.WithFields(logrus.Fields{
		"phases":      plan.Phases(),
		"duration":    plan.Duration(),
		"scheduled":   res.TotalScheduled,
		"concurrency": r.opt.Concurrency,
	}).Info("run started")

	progressCtx, stopProgress := context.WithCancel(runCtx)
	defer stopProgress()

	var g errgroup.Group
	g.Go(func() error {
		r.logProgress(progressCtx, log, agg, coord, plan, started)
		return nil
	})
	g.Go(func() error {
		defer stopProgress()
		if err := coord.Dispatch(runCtx, plan.Starts(), started); err != nil {
			return err
		}
		return coord.WaitContext(runCtx)
	})

	if err := g.Wait(); err != nil {
		cause := context.Cause(runCtx)
		if errors.Is(cause, errMaxDuration) {
			res.TimedOut = true
		} else {
			res.Stopped = true
		}
		log.WithField("cause", cause).Warn("run cancelled, waiting for in-flight wallets")
		if !coord.Wait(r.opt.GracePeriod) {
			log.WithField("in_flight", coord.InFlight()).Warn("grace period elapsed, abandoning wallet teardowns")
			halt()
			if !coord.Wait(haltWait) {
				log.WithField("in_flight", coord.InFlight()).Error("wallets still running after teardowns were abandoned")
			}
		}
	}

	stats := coord.Stats()
	res.EndedAt = time.Now()
	res.TotalDispatched = stats.Dispatched
	res.TotalCompleted = stats.Completed
	res.TotalFailed = stats.Failed
	// Wallets that never settled are unfinished too.
	res.TotalUnfinished = stats.Dispatched - stats.Completed - stats.Failed
	res.PeakInFlight = stats.Peak
	res.Snapshot = agg.Snapshot()

	log.WithFields(logrus.Fields{
		"elapsed":    res.Duration().Round(time.Millisecond),
		"dispatched": res.TotalDispatched,
		"completed":  res.TotalCompleted,
		"failed":     res.TotalFailed,
		"unfinished": res.TotalUnfinished,
		"timed_out":  res.TimedOut,
	}).Info("run finished")
	return res, nil
}

// execute builds a fresh agent for each wallet. An agent that cannot be
// created counts as a failed connection.
func (r *Runner) execute(cfg wallet.Config, sink metrics.Sink) RunFunc {
	return func(ctx context.Context, id wallet.ID) wallet.Record {
		a, err := r.opt.Agents(ctx, id.String())
		if err != nil {
			sink.Emit(metrics.Count(wallet.StageConnection.Metric("failed")))
			sink.Emit(metrics.Count(wallet.ConnectionError.Metric()))
			sink.Emit(metrics.Count(wallet.MetricTestFailed))
			now := time.Now()
			return wallet.Record{
				ID:        id,
				State:     wallet.Failed,
				ErrorKind: wallet.ConnectionError,
				Err:       fmt.Sprintf("create agent: %v", err),
				StartedAt: now,
				EndedAt:   now,
			}
		}
		return wallet.New(id, a, cfg).Run(ctx)
	}
}

// logProgress periodically logs scheduling progress and headline metrics.
func (r *Runner) logProgress(ctx context.Context, log *logrus.Entry, agg *metrics.Aggregator, coord *Coordinator, plan *schedule.Plan, started time.Time) {
	if r.opt.ProgressInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.opt.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(started)
			stats := coord.Stats()
			_, phase, _ := plan.PhaseAt(elapsed)
			arrival, _ := plan.RateAt(elapsed)
			snap := agg.Snapshot()
			conn, _ := snap.Histogram(wallet.StageConnection.Metric("duration"))

			log.WithFields(logrus.Fields{
				"elapsed":         elapsed.Round(time.Second),
				"phase":           phase,
				"arrival_rate":    fmt.Sprintf("%.2f", arrival),
				"dispatched":      stats.Dispatched,
				"in_flight":       stats.InFlight,
				"completed":       stats.Completed,
				"failed":          stats.Failed,
				"delayed":         stats.Delayed,
				"p95_connect_ms":  fmt.Sprintf("%.1f", conn.P95),
				"pickup_failures": snap.Counter(wallet.StagePickup.Metric("failed")),
			}).Info("progress")
		}
	}
}
