package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/walletload/internal/agent"
	"github.com/torosent/walletload/internal/logging"
	"github.com/torosent/walletload/internal/metrics"
	"github.com/torosent/walletload/internal/retry"
	"github.com/torosent/walletload/internal/tracing"
)

const (
	DefaultConnectTimeout   = 15 * time.Second
	DefaultMediationTimeout = 10 * time.Second
	DefaultPickupTimeout    = 5 * time.Second
	DefaultTeardownTimeout  = 5 * time.Second
)

// Run-level metric names.
const (
	MetricTestSuccess    = "test.success"
	MetricTestFailed     = "test.failed"
	MetricTestAborted    = "test.aborted"
	MetricTestDuration   = "test.duration"
	MetricTeardownFailed = "teardown.failed"
)

// Timeouts bound a single attempt of each stage, and the teardown.
type Timeouts struct {
	Connect   time.Duration
	Mediation time.Duration
	Pickup    time.Duration
	Teardown  time.Duration
}

// DefaultTimeouts returns 15s connect, 10s mediation, 5s pickup and 5s teardown.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:   DefaultConnectTimeout,
		Mediation: DefaultMediationTimeout,
		Pickup:    DefaultPickupTimeout,
		Teardown:  DefaultTeardownTimeout,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Mediation <= 0 {
		t.Mediation = d.Mediation
	}
	if t.Pickup <= 0 {
		t.Pickup = d.Pickup
	}
	if t.Teardown <= 0 {
		t.Teardown = d.Teardown
	}
	return t
}

// For returns the per-attempt timeout of stage s.
func (t Timeouts) For(s Stage) time.Duration {
	switch s {
	case StageConnection:
		return t.Connect
	case StageMediation:
		return t.Mediation
	default:
		return t.Pickup
	}
}

// Config is shared, read-only input for every Machine of a run.
type Config struct {
	Invitation string
	Connect    agent.ConnectOptions
	Timeouts   Timeouts
	Retry      retry.Policy // zero value means retry.DefaultPolicy()
	Sink       metrics.Sink
	Tracer     trace.Tracer
	Logger     *logrus.Entry
	// Halt, when cancelled, cuts any teardown in progress short. The runner
	// cancels it once the grace period after a stopped run has elapsed.
	Halt       context.Context
}

// TransitionFunc observes state changes of a single run.
type TransitionFunc func(id ID, from, to State)

// Machine drives one virtual user through connect, mediate and pickup.
// A Machine runs once and is not safe for concurrent use.
type Machine struct {
	cfg      Config
	agent    agent.Agent
	log      *logrus.Entry
	rec      Record
	listener TransitionFunc
}

// New prepares a Machine for the wallet id using a dedicated agent.
func New(id ID, a agent.Agent, cfg Config) *Machine {
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy()
	} else {
		cfg.Retry = cfg.Retry.Normalize()
	}
	if cfg.Sink == nil {
		cfg.Sink = metrics.Discard
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Noop()
	}
	return &Machine{
		cfg:   cfg,
		agent: a,
		log:   logging.OrNull(cfg.Logger).WithField("wallet", id.String()),
		rec: Record{
			ID:     id,
			State:  Created,
			Stages: make(map[Stage]StageOutcome, len(Stages)),
		},
	}
}

// OnTransition registers fn to be called on every state change of this run.
// It must be set before Run.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.listener = fn
}

// Run executes the protocol and returns the finished record. Stage failures
// are contained in the record; Run itself never fails. When ctx is cancelled
// the run stops at its current stage and the record stays non-terminal.
// Teardown always runs, detached from ctx cancellation.
func (m *Machine) Run(ctx context.Context) Record {
	m.rec.StartedAt = time.Now()
	m.execute(ctx)
	m.finish()
	m.teardown(ctx)
	m.rec.EndedAt = time.Now()
	return m.rec
}

type stageStatus int

const (
	stageSucceeded stageStatus = iota
	stageFailed
	stageAborted
)

func (m *Machine) execute(ctx context.Context) {
	m.transition(Connecting)
	conn, status := runStage(ctx, m, StageConnection, m.connect)
	if !m.advance(status, Connected) {
		return
	}

	m.transition(RequestingMediation)
	grant, status := runStage(ctx, m, StageMediation, func(ctx context.Context) (agent.MediationGrant, error) {
		return m.agent.RequestMediation(ctx, conn)
	})
	if !m.advance(status, Mediated) {
		return
	}

	m.transition(PickingUp)
	_, status = runStage(ctx, m, StagePickup, func(ctx context.Context) (agent.PickupResult, error) {
		return m.agent.InitiatePickup(ctx, grant)
	})
	if status == stageAborted {
		return
	}
	// Pickup failures are recorded on the stage but never fail the run.
	m.transition(Completed)
}

func (m *Machine) advance(status stageStatus, next State) bool {
	switch status {
	case stageSucceeded:
		m.transition(next)
		return true
	case stageFailed:
		m.transition(Failed)
	}
	return false
}

func (m *Machine) connect(ctx context.Context) (agent.Connection, error) {
	handle, err := m.agent.Connect(ctx, m.cfg.Invitation, m.cfg.Connect)
	if err != nil {
		return agent.Connection{}, err
	}
	wait := m.cfg.Timeouts.Connect
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	return m.agent.WaitForConnectionCompleted(ctx, handle, wait)
}

// runStage calls the stage under a per-attempt timeout, retrying per policy.
// The stage duration spans every attempt and backoff.
func runStage[T any](ctx context.Context, m *Machine, stage Stage, call func(context.Context) (T, error)) (T, stageStatus) {
	var zero T
	timeout := m.cfg.Timeouts.For(stage)
	started := time.Now()
	out := StageOutcome{}

	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		spanCtx, span := tracing.StartStageSpan(attemptCtx, m.cfg.Tracer, string(stage), m.rec.ID.String(), attempt)
		v, err := invoke(spanCtx, call)
		cancel()
		tracing.EndSpan(span, err)

		if err == nil {
			out.Success = true
			out.Duration = time.Since(started)
			m.rec.Stages[stage] = out
			m.emit(metrics.Duration(stage.Metric("duration"), out.Duration))
			m.emit(metrics.Count(stage.Metric("success")))
			return v, stageSucceeded
		}
		if ctx.Err() != nil {
			return zero, m.abort(ctx, stage, out, started)
		}

		log := m.log.WithFields(logrus.Fields{"stage": stage, "attempt": attempt}).WithError(err)
		delay, again := m.cfg.Retry.Next(attempt)
		if !again {
			kind := stage.errorKind(isTimeout(err))
			out.ErrorKind = kind
			out.Duration = time.Since(started)
			m.rec.Stages[stage] = out
			if stage.Fatal() {
				m.rec.ErrorKind = kind
				m.rec.Err = err.Error()
			}
			m.emit(metrics.Count(stage.Metric("failed")))
			m.emit(metrics.Count(kind.Metric()))
			log.WithField("error_kind", kind).Debug("stage failed")
			return zero, stageFailed
		}

		m.emit(metrics.Count(stage.Metric("retry")))
		log.WithField("backoff", delay).Debug("retrying stage")
		if retry.Sleep(ctx, delay) != nil {
			return zero, m.abort(ctx, stage, out, started)
		}
	}
}

func (m *Machine) abort(ctx context.Context, stage Stage, out StageOutcome, started time.Time) stageStatus {
	out.Duration = time.Since(started)
	m.rec.Stages[stage] = out
	m.rec.Err = context.Cause(ctx).Error()
	m.log.WithField("stage", stage).Debug("run cancelled")
	return stageAborted
}

func (m *Machine) finish() {
	elapsed := time.Since(m.rec.StartedAt)
	switch m.rec.State {
	case Completed:
		m.rec.Success = true
		m.emit(metrics.Count(MetricTestSuccess))
		m.emit(metrics.Duration(MetricTestDuration, elapsed))
	case Failed:
		m.emit(metrics.Count(MetricTestFailed))
		m.emit(metrics.Duration(MetricTestDuration, elapsed))
	default:
		m.emit(metrics.Count(MetricTestAborted))
	}
}

func (m *Machine) teardown(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Timeouts.Teardown)
	defer cancel()
	if m.cfg.Halt != nil {
		stop := context.AfterFunc(m.cfg.Halt, cancel)
		defer stop()
	}
	_, err := invoke(tctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.agent.Shutdown(ctx)
	})
	if err != nil {
		m.emit(metrics.Count(MetricTeardownFailed))
		m.log.WithError(err).Warn("wallet teardown failed")
	}
}

func (m *Machine) transition(to State) {
	from := m.rec.State
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("wallet: illegal transition %s -> %s", from, to))
	}
	m.rec.State = to
	m.log.WithFields(logrus.Fields{"from": from, "to": to}).Trace("transition")
	if m.listener != nil {
		m.listener(m.rec.ID, from, to)
	}
}

func (m *Machine) emit(e metrics.Event) {
	m.cfg.Sink.Emit(e)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, agent.ErrTimeout)
}

// invoke runs call on its own goroutine and stops waiting once ctx is done,
// abandoning agent calls that ignore cancellation.
func invoke[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("agent panic: %v", r)}
			}
		}()
		v, err := call(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.v, r.err
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}
